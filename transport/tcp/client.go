// Package tcp implements the TCP transport (C5) in both its roles: a
// persistent client connection with an incrementing transaction id, and a
// multi-connection server accept loop. Both variants frame on the MBAP
// header via frame.EncodeTCP/DecodeTCP.
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

// ClientConfig configures a TCP client transport.
type ClientConfig struct {
	// Address is dialed lazily on Begin, and again on the first SendFrame
	// after a connection loss.
	Address string
	Timeout time.Duration
	Logger  mblog.Logger
	// Dial defaults to net.DialTimeout("tcp", address, Timeout) if nil;
	// tests substitute an in-memory pipe here.
	Dial func(address string) (net.Conn, error)
}

// Client is the client-role TCP transport: a single persistent connection,
// reconnected lazily on failure, with a monotonically incrementing
// transaction id.
type Client struct {
	cfg ClientConfig

	mu      sync.Mutex
	conn    net.Conn
	lastTxn uint16

	rx rxFanout

	closed bool
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = mblog.Nop()
	}
	if cfg.Dial == nil {
		cfg.Dial = func(address string) (net.Conn, error) {
			return net.DialTimeout("tcp", address, cfg.Timeout)
		}
	}
	return &Client{cfg: cfg}
}

func (c *Client) Role() transport.Role     { return transport.Client }
func (c *Client) CatchesAllSlaveIDs() bool { return false }

func (c *Client) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, err := c.cfg.Dial(c.cfg.Address)
	if err != nil {
		return transport.ErrConnectionFailed
	}
	c.conn = conn
	go c.rxLoop(conn)
	return nil
}

func (c *Client) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

func (c *Client) RegisterRxCallback(fn transport.RxCallback) error {
	return c.rx.register(fn)
}

func (c *Client) AbortCurrent() {}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// SendFrame assigns the next transaction id, encodes f as an MBAP ADU and
// writes it. Responses are delivered asynchronously to RX callbacks by the
// read loop; onResult only reports the outcome of the write itself.
func (c *Client) SendFrame(f *frame.Frame, onResult transport.TxResultCallback) error {
	c.mu.Lock()
	if c.conn == nil {
		if c.closed {
			c.mu.Unlock()
			fireResult(onResult, transport.ErrNotInitialized)
			return transport.ErrNotInitialized
		}
		conn, err := c.cfg.Dial(c.cfg.Address)
		if err != nil {
			c.mu.Unlock()
			fireResult(onResult, transport.ErrConnectionFailed)
			return transport.ErrConnectionFailed
		}
		c.conn = conn
		go c.rxLoop(conn)
	}
	c.lastTxn++
	f.TxnID = c.lastTxn
	conn := c.conn
	c.mu.Unlock()

	if c.cfg.Timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.Timeout))
	}

	adu, err := frame.EncodeTCP(f, frame.ClientRole)
	if err != nil {
		fireResult(onResult, err)
		return err
	}

	if _, err := conn.Write(adu); err != nil {
		c.cfg.Logger.Warningf("tcp write failed: %v", err)
		c.reconnectAfterFailure()
		fireResult(onResult, transport.ErrSendFailed)
		return transport.ErrSendFailed
	}

	fireResult(onResult, nil)
	return nil
}

func (c *Client) reconnectAfterFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) rxLoop(conn net.Conn) {
	for {
		if c.cfg.Timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(c.cfg.Timeout))
		}
		header := make([]byte, 7)
		if _, err := io.ReadFull(conn, header); err != nil {
			c.reconnectAfterFailure()
			return
		}
		length := int(header[4])<<8 | int(header[5])
		if length < 1 {
			c.reconnectAfterFailure()
			return
		}
		rest := make([]byte, length-1)
		if length > 1 {
			if _, err := io.ReadFull(conn, rest); err != nil {
				c.reconnectAfterFailure()
				return
			}
		}
		adu := append(header, rest...)

		f, err := frame.DecodeTCP(adu, frame.Response)
		if err != nil {
			c.cfg.Logger.Debugf("dropped tcp frame: %v", err)
			continue
		}
		c.rx.deliver(f)
	}
}

// rxFanout is shared between the client and server transports: registration
// bookkeeping and synchronous callback delivery are identical in both roles.
type rxFanout struct {
	mu        sync.Mutex
	callbacks []transport.RxCallback
}

func (r *rxFanout) register(fn transport.RxCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.callbacks) >= transport.MaxRxCallbacks {
		return transport.ErrTooManyCallbacks
	}
	r.callbacks = append(r.callbacks, fn)
	return nil
}

func (r *rxFanout) deliver(f *frame.Frame) {
	r.mu.Lock()
	cbs := append([]transport.RxCallback(nil), r.callbacks...)
	r.mu.Unlock()
	for _, cb := range cbs {
		cb(f)
	}
}

func fireResult(cb transport.TxResultCallback, err error) {
	if cb != nil {
		cb(err)
	}
}
