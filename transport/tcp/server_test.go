package tcp

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rinzlermodbus/gomodbus/frame"
	"github.com/stretchr/testify/require"
)

func listenLoopback(t *testing.T) (net.Listener, string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return l, l.Addr().String()
}

func TestServerRoundTripsRequestAndResponse(t *testing.T) {
	l, addr := listenLoopback(t)

	var once sync.Once
	srv := NewServer(ServerConfig{
		Listen: func(string) (net.Listener, error) {
			var err error
			once.Do(func() {})
			return l, err
		},
	})

	var gotReq *frame.Frame
	var mu sync.Mutex
	received := make(chan struct{}, 1)
	require.NoError(t, srv.RegisterRxCallback(func(f *frame.Frame) {
		mu.Lock()
		gotReq = f
		mu.Unlock()
		received <- struct{}{}

		resp := &frame.Frame{
			Type:         frame.Response,
			FunctionCode: f.FunctionCode,
			SlaveID:      f.SlaveID,
			TxnID:        f.TxnID,
			RegCount:     1,
			Data:         []byte{0x00, 0x2A},
		}
		srv.SendFrame(resp, nil)
	}))
	require.NoError(t, srv.Begin())
	defer srv.Close()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	reqFrame := &frame.Frame{
		Type:         frame.Request,
		FunctionCode: 0x03,
		SlaveID:      1,
		RegAddress:   0,
		RegCount:     1,
		TxnID:        0x55,
	}
	adu, err := frame.EncodeTCP(reqFrame, frame.ClientRole)
	require.NoError(t, err)
	_, err = conn.Write(adu)
	require.NoError(t, err)

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("server never received request")
	}

	mu.Lock()
	require.Equal(t, uint16(0x55), gotReq.TxnID)
	mu.Unlock()

	respBuf := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(respBuf)
	require.NoError(t, err)

	decoded, err := frame.DecodeTCP(respBuf[:n], frame.Response)
	require.NoError(t, err)
	require.Equal(t, uint16(0x55), decoded.TxnID)
	require.Equal(t, uint16(0x2A), decoded.GetRegister(0))
}

func TestServerRejectsConnectionsPastMaxClients(t *testing.T) {
	l, addr := listenLoopback(t)
	srv := NewServer(ServerConfig{
		Listen:     func(string) (net.Listener, error) { return l, nil },
		MaxClients: 1,
	})
	require.NoError(t, srv.RegisterRxCallback(func(*frame.Frame) {}))
	require.NoError(t, srv.Begin())
	defer srv.Close()

	c1, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c1.Close()

	c2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c2.Close()

	c2.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = c2.Read(buf)
	require.Error(t, err) // rejected: connection closed by server
}
