// Package bridge implements the transparent client/server bridge (C8): it
// answers requests arriving on a front-side transport by forwarding them,
// unmodified, to a back-side transport and relaying the response. Routing
// is limited to straight RTU<->TCP passthrough; there is no address
// rewriting, no persistence of register values, and no security layer.
package bridge

import (
	"errors"
	"sync"

	"github.com/rinzlermodbus/gomodbus"
	"github.com/rinzlermodbus/gomodbus/client"
	"github.com/rinzlermodbus/gomodbus/frame"
	"github.com/rinzlermodbus/gomodbus/mblog"
	"github.com/rinzlermodbus/gomodbus/transport"
)

var ErrQueueFull = errors.New("bridge request queue full")

// Option configures a Bridge at construction time.
type Option func(*Bridge)

// WithQueueDepth bounds the number of requests the bridge will hold while
// waiting for a free back-side transaction slot. Default 16. A request
// arriving when the queue is full is answered immediately with
// SLAVE_DEVICE_BUSY rather than blocking the front transport.
func WithQueueDepth(n int) Option {
	return func(b *Bridge) { b.queueDepth = n }
}

func WithLogger(l mblog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// Bridge relays requests from a front transport to a back transport and
// their responses back again. The back side is driven through a client.Client
// so the bridge inherits the transaction engine's one-in-flight-request
// and timeout handling instead of reimplementing it.
type Bridge struct {
	front  transport.Transport
	back   *client.Client
	logger mblog.Logger

	queueDepth int
	jobs       chan *frame.Frame

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Bridge forwarding front's requests to back. back should not
// yet be Open()'d; Start opens it.
func New(front transport.Transport, back *client.Client, opts ...Option) *Bridge {
	b := &Bridge{
		front:      front,
		back:       back,
		logger:     mblog.Nop(),
		queueDepth: 16,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.jobs = make(chan *frame.Frame, b.queueDepth)
	return b
}

// Start opens both transports and begins forwarding.
func (b *Bridge) Start() error {
	if err := b.back.Open(); err != nil {
		return err
	}
	if err := b.front.RegisterRxCallback(b.onFrontRequest); err != nil {
		return err
	}
	if err := b.front.Begin(); err != nil {
		return err
	}

	b.wg.Add(1)
	go b.worker()
	return nil
}

func (b *Bridge) Stop() error {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
	_ = b.front.Close()
	return b.back.Close()
}

// onFrontRequest runs on the front transport's RX goroutine and must not
// block: it either enqueues the request or answers SLAVE_DEVICE_BUSY
// immediately.
func (b *Bridge) onFrontRequest(f *frame.Frame) {
	if f.Type != frame.Request {
		return
	}
	select {
	case b.jobs <- f:
	default:
		b.logger.Warningf("bridge queue full, rejecting request from slave %d", f.SlaveID)
		b.reply(exceptionResponse(f, modbus.ExServerDeviceBusy))
	}
}

func (b *Bridge) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case req := <-b.jobs:
			b.forward(req)
		}
	}
}

// forward drives req through the back-side client.Client and relays
// whatever comes back (response, exception, or a synthesized
// GATEWAY_TARGET_FAILED_TO_RESPOND on transport failure/timeout) to the
// front transport, preserving the original request's identity.
func (b *Bridge) forward(req *frame.Frame) {
	backReq := &frame.Frame{
		Type:         frame.Request,
		FunctionCode: req.FunctionCode,
		SlaveID:      req.SlaveID,
		RegAddress:   req.RegAddress,
		RegCount:     req.RegCount,
		Data:         req.Data,
	}

	resp, err := b.back.SendRequest(backReq)
	if err != nil {
		b.logger.Warningf("back-side request failed: %v", err)
		b.reply(exceptionResponse(req, modbus.ExGatewayTargetFailedToResp))
		return
	}

	front := &frame.Frame{
		Type:          frame.Response,
		FunctionCode:  resp.FunctionCode,
		SlaveID:       req.SlaveID,
		TxnID:         req.TxnID,
		RegAddress:    resp.RegAddress,
		RegCount:      resp.RegCount,
		Data:          resp.Data,
		ExceptionCode: resp.ExceptionCode,
	}
	b.reply(front)
}

func (b *Bridge) reply(resp *frame.Frame) {
	if err := b.front.SendFrame(resp, nil); err != nil {
		b.logger.Warningf("failed to relay response to front transport: %v", err)
	}
}

func exceptionResponse(req *frame.Frame, code modbus.ExceptionCode) *frame.Frame {
	return &frame.Frame{
		Type:          frame.Response,
		FunctionCode:  req.FunctionCode,
		SlaveID:       req.SlaveID,
		TxnID:         req.TxnID,
		ExceptionCode: code,
	}
}
