package client

import (
	"sync"

	"github.com/rinzlermodbus/gomodbus"
	"github.com/rinzlermodbus/gomodbus/frame"
)

// pendingRequest tracks the single in-flight request a Client may have
// outstanding at any time. The timeout timer, the RX callback and a
// send-failure path may each call complete; sync.Once keeps only the first
// call, turning that race into the single terminal transition §4.5
// requires without a hand-rolled timer-cancellation protocol.
type pendingRequest struct {
	req *frame.Frame

	once sync.Once
	done chan struct{}

	mu       sync.Mutex
	resp     *frame.Frame
	err      error
	onDoneFn []func()
}

func newPendingRequest(req *frame.Frame) *pendingRequest {
	return &pendingRequest{
		req:  req,
		done: make(chan struct{}),
	}
}

// onDone registers fn to run (synchronously, on whichever goroutine wins
// the completion race) once this request completes. If it has already
// completed, fn runs immediately.
func (p *pendingRequest) onDone(fn func()) {
	select {
	case <-p.done:
		fn()
	default:
		p.mu.Lock()
		select {
		case <-p.done:
			p.mu.Unlock()
			fn()
		default:
			p.onDoneFn = append(p.onDoneFn, fn)
			p.mu.Unlock()
		}
	}
}

func (p *pendingRequest) complete(resp *frame.Frame, err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.resp = resp
		p.err = err
		fns := p.onDoneFn
		p.onDoneFn = nil
		p.mu.Unlock()

		close(p.done)
		for _, fn := range fns {
			fn()
		}
	})
}

func (p *pendingRequest) wait() (*frame.Frame, error) {
	<-p.done
	return p.result()
}

func (p *pendingRequest) result() (*frame.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resp, p.err
}

// correlates reports whether f is even plausibly the response this request
// is waiting for: a cheap pre-filter so frames belonging to some other
// transaction are left for whoever is actually waiting on them rather than
// being dragged into validate's stricter content check. TCP frames carry a
// transaction id that alone disambiguates the reply; RTU frames carry no
// transaction id, so slave id and function code stand in for one.
func (p *pendingRequest) correlates(f *frame.Frame) bool {
	if f.Type != frame.Response {
		return false
	}
	if p.req.TxnID != 0 || f.TxnID != 0 {
		return p.req.TxnID == f.TxnID
	}
	return f.SlaveID == p.req.SlaveID && f.FunctionCode == p.req.FunctionCode
}

// validate checks a correlated frame's content against the request per
// §4.5: a response that passed correlates() but carries the wrong address,
// register count, or (implicitly, via correlates) transaction id is a
// protocol error, not a silent non-match — it must fail the transaction
// with ErrInvalidResponse rather than leave the caller waiting for a
// genuine reply that will never arrive.
func (p *pendingRequest) validate(f *frame.Frame) error {
	if f.FunctionCode != p.req.FunctionCode {
		return ErrInvalidResponse
	}
	if f.IsException() {
		return nil
	}
	switch p.req.FunctionCode {
	case modbus.FuncReadCoils, modbus.FuncReadDiscreteInputs:
		if len(f.Data) != expectedByteCount(p.req.RegCount) {
			return ErrInvalidResponse
		}
		// a bit-read response carries only a byte count on the wire, so the
		// bit count comes from the request
		f.RegCount = p.req.RegCount
	case modbus.FuncReadHoldingRegisters, modbus.FuncReadInputRegisters:
		if f.RegCount != p.req.RegCount {
			return ErrInvalidResponse
		}
	case modbus.FuncWriteSingleCoil, modbus.FuncWriteSingleRegister,
		modbus.FuncWriteMultipleCoils, modbus.FuncWriteMultipleRegisters:
		if f.RegAddress != p.req.RegAddress || f.RegCount != p.req.RegCount {
			return ErrInvalidResponse
		}
	}
	return nil
}

func expectedByteCount(bitCount uint16) int {
	n := int(bitCount) / 8
	if bitCount%8 != 0 {
		n++
	}
	return n
}
