package tcp

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/rinzlermodbus/gomodbus/frame"
	"github.com/rinzlermodbus/gomodbus/mblog"
	"github.com/rinzlermodbus/gomodbus/transport"
)

// ServerConfig configures a TCP server transport.
type ServerConfig struct {
	Address string
	// MaxClients caps concurrent connections; 0 means unbounded.
	MaxClients uint
	Timeout    time.Duration
	Logger     mblog.Logger
	// CatchAll accepts any unit id on inbound requests and echoes it back
	// verbatim, rather than filtering by a fixed slave id.
	CatchAll bool
	// Listen defaults to net.Listen("tcp", address).
	Listen func(address string) (net.Listener, error)
}

// Server is the server-role TCP transport: an accept loop that serves each
// connection from its own goroutine, fanning received requests out to the
// dispatcher via RX callbacks and routing each response back to the
// connection that originated its transaction id.
type Server struct {
	cfg ServerConfig

	rx rxFanout

	mu          sync.Mutex
	listener    net.Listener
	conns       map[net.Conn]struct{}
	pendingConn map[uint16]net.Conn
	closed      bool
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = mblog.Nop()
	}
	if cfg.Listen == nil {
		cfg.Listen = func(address string) (net.Listener, error) {
			return net.Listen("tcp", address)
		}
	}
	return &Server{
		cfg:         cfg,
		conns:       make(map[net.Conn]struct{}),
		pendingConn: make(map[uint16]net.Conn),
	}
}

func (s *Server) Role() transport.Role     { return transport.Server }
func (s *Server) CatchesAllSlaveIDs() bool { return s.cfg.CatchAll }

func (s *Server) Begin() error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return nil
	}
	l, err := s.cfg.Listen(s.cfg.Address)
	if err != nil {
		s.mu.Unlock()
		return transport.ErrConnectionFailed
	}
	s.listener = l
	s.mu.Unlock()

	go s.acceptLoop()
	return nil
}

func (s *Server) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil && !s.closed
}

func (s *Server) RegisterRxCallback(fn transport.RxCallback) error {
	return s.rx.register(fn)
}

func (s *Server) AbortCurrent() {}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for conn := range s.conns {
		conn.Close()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// acceptLoop mirrors the teacher's connection-limited accept pattern: each
// accepted socket gets its own goroutine, and connections past MaxClients
// are rejected outright rather than queued.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.closed
			s.mu.Unlock()
			if stopped {
				return
			}
			s.cfg.Logger.Warningf("failed to accept client connection: %v", err)
			continue
		}

		s.mu.Lock()
		accepted := s.cfg.MaxClients == 0 || uint(len(s.conns)) < s.cfg.MaxClients
		if accepted {
			s.conns[conn] = struct{}{}
		}
		s.mu.Unlock()

		if !accepted {
			s.cfg.Logger.Warningf("max concurrent connections reached, rejecting %v", conn.RemoteAddr())
			conn.Close()
			continue
		}

		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		if s.cfg.Timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout))
		}
		header := make([]byte, 7)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		length := int(header[4])<<8 | int(header[5])
		if length < 1 {
			return
		}
		rest := make([]byte, length-1)
		if length > 1 {
			if _, err := io.ReadFull(conn, rest); err != nil {
				return
			}
		}
		adu := append(header, rest...)

		f, err := frame.DecodeTCP(adu, frame.Request)
		if err != nil {
			s.cfg.Logger.Debugf("dropped tcp frame: %v", err)
			continue
		}

		s.mu.Lock()
		s.pendingConn[f.TxnID] = conn
		s.mu.Unlock()

		s.rx.deliver(f)
	}
}

// SendFrame looks up the connection that owns f.TxnID (set by the request
// this response answers) and writes the encoded MBAP ADU to it.
func (s *Server) SendFrame(f *frame.Frame, onResult transport.TxResultCallback) error {
	s.mu.Lock()
	conn, ok := s.pendingConn[f.TxnID]
	if ok {
		delete(s.pendingConn, f.TxnID)
	}
	s.mu.Unlock()

	if !ok {
		fireResult(onResult, transport.ErrInvalidTransactionID)
		return transport.ErrInvalidTransactionID
	}

	adu, err := frame.EncodeTCP(f, frame.ServerRole)
	if err != nil {
		fireResult(onResult, err)
		return err
	}

	if s.cfg.Timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.cfg.Timeout))
	}
	if _, err := conn.Write(adu); err != nil {
		fireResult(onResult, transport.ErrSendFailed)
		return transport.ErrSendFailed
	}

	fireResult(onResult, nil)
	return nil
}
