package tcp

import (
	"net"
	"testing"
	"time"

	"github.com/rinzlermodbus/gomodbus/frame"
	"github.com/stretchr/testify/require"
)

func pipeDialer(server net.Conn) func(string) (net.Conn, error) {
	return func(string) (net.Conn, error) {
		return server, nil
	}
}

func TestClientAssignsIncrementingTransactionIDs(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	c := NewClient(ClientConfig{Dial: pipeDialer(clientConn)})
	require.NoError(t, c.Begin())

	go func() {
		buf := make([]byte, 12)
		serverConn.Read(buf)
		serverConn.Read(buf) // second frame
	}()

	f := &frame.Frame{
		Type:         frame.Request,
		FunctionCode: 0x03,
		SlaveID:      1,
		RegAddress:   0,
		RegCount:     1,
	}

	done := make(chan error, 1)
	require.NoError(t, c.SendFrame(f, func(err error) { done <- err }))
	require.NoError(t, <-done)
	require.Equal(t, uint16(1), f.TxnID)

	f2 := &frame.Frame{Type: frame.Request, FunctionCode: 0x03, SlaveID: 1, RegCount: 1}
	require.NoError(t, c.SendFrame(f2, func(err error) { done <- err }))
	require.NoError(t, <-done)
	require.Equal(t, uint16(2), f2.TxnID)
}

func TestClientSendFrameBeforeBeginFails(t *testing.T) {
	c := NewClient(ClientConfig{})
	f := &frame.Frame{Type: frame.Request, FunctionCode: 0x03, SlaveID: 1, RegCount: 1}
	err := c.SendFrame(f, nil)
	require.Error(t, err)
}

func TestClientRegisterRxCallbackEnforcesLimit(t *testing.T) {
	c := NewClient(ClientConfig{})
	for i := 0; i < 5; i++ {
		require.NoError(t, c.RegisterRxCallback(func(*frame.Frame) {}))
	}
	require.Error(t, c.RegisterRxCallback(func(*frame.Frame) {}))
}

func TestClientWithTimeoutConfigIsReadyAfterBegin(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	c := NewClient(ClientConfig{Dial: pipeDialer(clientConn), Timeout: 10 * time.Millisecond})
	require.NoError(t, c.Begin())
	require.True(t, c.IsReady())
}
