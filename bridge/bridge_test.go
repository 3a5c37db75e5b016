package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/rinzlermodbus/gomodbus"
	"github.com/rinzlermodbus/gomodbus/client"
	"github.com/rinzlermodbus/gomodbus/frame"
	"github.com/rinzlermodbus/gomodbus/transport"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu   sync.Mutex
	cb   transport.RxCallback
	sent []*frame.Frame

	responder func(req *frame.Frame) *frame.Frame
}

func (f *fakeTransport) Begin() error { return nil }
func (f *fakeTransport) SendFrame(req *frame.Frame, onResult transport.TxResultCallback) error {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	resp := f.responder
	cb := f.cb
	f.mu.Unlock()

	if onResult != nil {
		onResult(nil)
	}
	if resp != nil && cb != nil {
		go cb(resp(req))
	}
	return nil
}
func (f *fakeTransport) IsReady() bool { return true }
func (f *fakeTransport) RegisterRxCallback(fn transport.RxCallback) error {
	f.mu.Lock()
	f.cb = fn
	f.mu.Unlock()
	return nil
}
func (f *fakeTransport) AbortCurrent()            {}
func (f *fakeTransport) Role() transport.Role     { return transport.Client }
func (f *fakeTransport) CatchesAllSlaveIDs() bool { return false }
func (f *fakeTransport) Close() error             { return nil }

func (f *fakeTransport) lastSent() *frame.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func TestBridgeForwardsRequestAndRelaysResponse(t *testing.T) {
	front := &fakeTransport{}
	back := &fakeTransport{
		responder: func(req *frame.Frame) *frame.Frame {
			return &frame.Frame{
				Type: frame.Response, FunctionCode: req.FunctionCode, SlaveID: req.SlaveID,
				Data: []byte{0x00, 0x2A}, RegCount: 1,
			}
		},
	}

	b := New(front, client.New(back, client.WithTimeout(time.Second)))
	require.NoError(t, b.Start())
	defer b.Stop()

	front.cb(&frame.Frame{
		Type: frame.Request, FunctionCode: modbus.FuncReadHoldingRegisters,
		SlaveID: 7, RegAddress: 10, RegCount: 1, TxnID: 0x99,
	})

	require.Eventually(t, func() bool {
		front.mu.Lock()
		defer front.mu.Unlock()
		return len(front.sent) > 0
	}, time.Second, 10*time.Millisecond)

	resp := front.lastSent()
	require.False(t, resp.IsException())
	require.Equal(t, uint16(0x99), resp.TxnID)
	require.Equal(t, uint8(7), resp.SlaveID)
	require.Equal(t, []uint16{0x2A}, frame.UnpackRegisters(resp.Data))
}

func TestBridgeSynthesizesGatewayFailureOnBackTimeout(t *testing.T) {
	front := &fakeTransport{}
	back := &fakeTransport{} // no responder: back-side request times out

	b := New(front, client.New(back, client.WithTimeout(20*time.Millisecond)))
	require.NoError(t, b.Start())
	defer b.Stop()

	front.cb(&frame.Frame{
		Type: frame.Request, FunctionCode: modbus.FuncReadHoldingRegisters,
		SlaveID: 1, RegCount: 1,
	})

	require.Eventually(t, func() bool {
		front.mu.Lock()
		defer front.mu.Unlock()
		return len(front.sent) > 0
	}, time.Second, 10*time.Millisecond)

	resp := front.lastSent()
	require.True(t, resp.IsException())
	require.Equal(t, modbus.ExGatewayTargetFailedToResp, resp.ExceptionCode)
}

func TestBridgeRejectsRequestsPastQueueDepth(t *testing.T) {
	front := &fakeTransport{}
	block := make(chan struct{})
	back := &fakeTransport{
		responder: func(req *frame.Frame) *frame.Frame {
			<-block
			return &frame.Frame{Type: frame.Response, FunctionCode: req.FunctionCode, SlaveID: req.SlaveID, Data: []byte{0, 1}, RegCount: 1}
		},
	}

	b := New(front, client.New(back, client.WithTimeout(time.Hour)), WithQueueDepth(1))
	require.NoError(t, b.Start())
	defer func() { close(block); b.Stop() }()

	// first request occupies the back-side client's single in-flight slot
	front.cb(&frame.Frame{Type: frame.Request, FunctionCode: modbus.FuncReadHoldingRegisters, SlaveID: 1, RegCount: 1})
	time.Sleep(20 * time.Millisecond)

	// second fills the 1-deep queue: the worker is still blocked on the
	// first request, so it stays queued — a third request, arriving while
	// the worker is still blocked, is the one that finds the queue full.
	front.cb(&frame.Frame{Type: frame.Request, FunctionCode: modbus.FuncReadHoldingRegisters, SlaveID: 1, RegCount: 1})
	time.Sleep(20 * time.Millisecond)
	front.cb(&frame.Frame{Type: frame.Request, FunctionCode: modbus.FuncReadHoldingRegisters, SlaveID: 1, RegCount: 1})

	require.Eventually(t, func() bool {
		front.mu.Lock()
		defer front.mu.Unlock()
		return len(front.sent) > 0
	}, time.Second, 10*time.Millisecond)

	resp := front.lastSent()
	require.True(t, resp.IsException())
	require.Equal(t, modbus.ExServerDeviceBusy, resp.ExceptionCode)
}
