// Package client implements the transaction engine (C6): at most one
// request in flight at a time, bounded per-request timeout, and three ways
// to observe completion (blocking call, tracker, or callback).
package client

import (
	"errors"
	"sync"
	"time"

	"github.com/rinzlermodbus/gomodbus"
	"github.com/rinzlermodbus/gomodbus/frame"
	"github.com/rinzlermodbus/gomodbus/mblog"
	"github.com/rinzlermodbus/gomodbus/transport"
)

var (
	ErrRequestTimedOut = errors.New("request timed out")
	ErrBadUnitID       = errors.New("response unit id does not match request")
	ErrProtocolError   = errors.New("protocol error")
	ErrTransportBusy   = errors.New("a request is already in flight")
	ErrInvalidResponse = errors.New("response does not match the pending request")
)

// Option configures a Client at construction time.
type Option func(*Client)

// WithTimeout sets the per-request response timeout. Default 1s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithUnitID sets the default unit id used by the typed convenience methods.
func WithUnitID(id uint8) Option {
	return func(c *Client) { c.unitID = id }
}

// WithLogger overrides the client's logger. Default: a no-op logger.
func WithLogger(l mblog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client drives a single Transport through the request/response cycle
// described by §4.5: only one request may be outstanding, response
// matching is performed against the fields that identify it on the wire,
// and a reply arriving after the deadline (or for a request nobody is
// waiting for any more) is discarded.
type Client struct {
	t       transport.Transport
	logger  mblog.Logger
	unitID  uint8
	timeout time.Duration

	mu      sync.Mutex
	pending *pendingRequest
}

// New wraps t (already constructed, not yet Begin()'d) in a Client.
func New(t transport.Transport, opts ...Option) *Client {
	c := &Client{
		t:       t,
		logger:  mblog.Nop(),
		unitID:  1,
		timeout: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open starts the underlying transport and installs the RX callback that
// feeds response frames back into the pending request, if any.
func (c *Client) Open() error {
	if err := c.t.RegisterRxCallback(c.onRxFrame); err != nil {
		return err
	}
	return c.t.Begin()
}

func (c *Client) Close() error {
	return c.t.Close()
}

// onRxFrame runs on the transport's own RX goroutine. It must not block.
func (c *Client) onRxFrame(f *frame.Frame) {
	c.mu.Lock()
	p := c.pending
	c.mu.Unlock()
	if p == nil {
		return
	}
	if !p.correlates(f) {
		return
	}
	if err := p.validate(f); err != nil {
		p.complete(nil, err)
		return
	}
	p.complete(f, nil)
}

// do is the single entry point all three sending modes funnel through. It
// claims the one pending slot, sends the frame, arms the timeout timer and
// returns the pendingRequest for the caller to wait on (or attach a
// callback to).
func (c *Client) do(req *frame.Frame) (*pendingRequest, error) {
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return nil, ErrTransportBusy
	}
	p := newPendingRequest(req)
	c.pending = p
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		if c.pending == p {
			c.pending = nil
		}
		c.mu.Unlock()
	}

	broadcast := req.SlaveID == modbus.BroadcastSlaveID
	if broadcast {
		// broadcasts draw no response; the bus is held for t3.5 by the
		// transport itself, so completion happens as soon as the frame
		// is handed off.
		err := c.t.SendFrame(req, func(err error) {
			p.complete(nil, err)
		})
		if err != nil {
			release()
			return nil, err
		}
		p.onDone(release)
		return p, nil
	}

	timer := time.AfterFunc(c.timeout, func() {
		p.complete(nil, ErrRequestTimedOut)
		c.t.AbortCurrent()
	})
	p.onDone(func() {
		timer.Stop()
		release()
	})

	err := c.t.SendFrame(req, func(err error) {
		if err != nil {
			p.complete(nil, err)
		}
	})
	if err != nil {
		p.complete(nil, err)
		return nil, err
	}

	return p, nil
}

// SendRequest sends req and blocks until a matching response arrives, the
// timeout elapses, or the transport reports a send failure.
func (c *Client) SendRequest(req *frame.Frame) (*frame.Frame, error) {
	p, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return p.wait()
}

// SendRequestAsync sends req and returns immediately with a Tracker the
// caller can Wait() on later.
func (c *Client) SendRequestAsync(req *frame.Frame) (*Tracker, error) {
	p, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return &Tracker{p: p}, nil
}

// ResponseFunc is invoked exactly once with the outcome of a request sent
// via SendRequestCallback. It runs on whichever goroutine observes
// completion first: the transport's RX task, the timeout timer, or (for
// send failures) the calling goroutine.
type ResponseFunc func(resp *frame.Frame, err error)

// SendRequestCallback sends req and invokes cb exactly once on completion.
func (c *Client) SendRequestCallback(req *frame.Frame, cb ResponseFunc) error {
	p, err := c.do(req)
	if err != nil {
		return err
	}
	p.onDone(func() {
		resp, err := p.result()
		cb(resp, err)
	})
	return nil
}

// Tracker lets an async caller block on a previously-sent request's
// completion at a time of its choosing.
type Tracker struct {
	p *pendingRequest
}

// Wait blocks until the tracked request completes and returns its outcome.
// Calling Wait more than once returns the same outcome each time.
func (tr *Tracker) Wait() (*frame.Frame, error) {
	return tr.p.wait()
}
