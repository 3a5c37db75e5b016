package server

import (
	"time"

	"github.com/rinzlermodbus/gomodbus"
	"github.com/rinzlermodbus/gomodbus/frame"
	"github.com/rinzlermodbus/gomodbus/mblog"
	"github.com/rinzlermodbus/gomodbus/transport"
)

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger overrides the server's logger. Default: a no-op logger.
func WithLogger(l mblog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMutexTimeout bounds how long a request waits to acquire the server's
// dispatch mutex before it is answered with SLAVE_DEVICE_BUSY. Zero means
// try-lock (fail fast under contention); a negative value blocks forever,
// serializing every interface behind one queue.
func WithMutexTimeout(d time.Duration) Option {
	return func(s *Server) { s.mutexTimeout = d }
}

// WithServerID sets the unit id this Server answers to. Requests whose
// slave id is neither this id nor the broadcast id are dropped without a
// response. Default: 1.
func WithServerID(id uint8) Option {
	return func(s *Server) { s.serverID = id }
}

// Server dispatches requests arriving on any number of registered
// transports against a single WordStore, serialized behind one mutex whose
// acquisition behavior is configurable per §4.6 (fast-busy vs. full
// serialization across interfaces sharing one address space).
type Server struct {
	store        *WordStore
	logger       mblog.Logger
	mutexTimeout time.Duration
	serverID     uint8

	sem chan struct{} // 1-buffered channel standing in for a timeout-aware mutex
}

// New constructs a Server dispatching against store.
func New(store *WordStore, opts ...Option) *Server {
	s := &Server{
		store:    store,
		logger:   mblog.Nop(),
		sem:      make(chan struct{}, 1),
		serverID: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve registers the dispatcher's RX callback on t and starts it. Serve
// may be called multiple times with different transports to expose the
// same WordStore over several interfaces at once (e.g. RTU and TCP
// simultaneously).
func (s *Server) Serve(t transport.Transport) error {
	if err := t.RegisterRxCallback(func(f *frame.Frame) {
		s.handle(t, f)
	}); err != nil {
		return err
	}
	return t.Begin()
}

func (s *Server) acquire() bool {
	if s.mutexTimeout < 0 {
		s.sem <- struct{}{}
		return true
	}
	select {
	case s.sem <- struct{}{}:
		return true
	default:
	}
	if s.mutexTimeout == 0 {
		return false
	}
	select {
	case s.sem <- struct{}{}:
		return true
	case <-time.After(s.mutexTimeout):
		return false
	}
}

func (s *Server) release() { <-s.sem }

// handle runs on the transport's RX goroutine with an already-decoded
// request: dispatch it to the WordStore and hand the response Frame back to
// the same transport, which encodes and sends it. A request this dispatcher cannot
// serve promptly (mutex contention past mutexTimeout) gets a
// SLAVE_DEVICE_BUSY exception rather than being silently dropped.
func (s *Server) handle(t transport.Transport, req *frame.Frame) {
	if req.Type != frame.Request {
		return
	}

	if !s.acquire() {
		s.reply(t, exceptionResponse(req, modbus.ExServerDeviceBusy))
		return
	}
	defer s.release()

	broadcast := req.SlaveID == modbus.BroadcastSlaveID
	if req.SlaveID != s.serverID && !broadcast && !t.CatchesAllSlaveIDs() {
		s.logger.Debugf("dropping request for slave id %d (serving %d)", req.SlaveID, s.serverID)
		return
	}

	resp := s.dispatch(req)
	if broadcast {
		return
	}
	s.reply(t, resp)
}

func (s *Server) reply(t transport.Transport, resp *frame.Frame) {
	if resp == nil {
		return
	}
	if err := t.SendFrame(resp, nil); err != nil {
		s.logger.Warningf("failed to send response: %v", err)
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

// dispatch mirrors the teacher's per-function-code switch, but resolves
// against a WordStore instead of calling directly into a monolithic
// handler interface.
func (s *Server) dispatch(req *frame.Frame) *frame.Frame {
	switch req.FunctionCode {
	case modbus.FuncReadCoils:
		return s.dispatchReadBools(req, modbus.Coil)
	case modbus.FuncReadDiscreteInputs:
		return s.dispatchReadBools(req, modbus.DiscreteInput)
	case modbus.FuncReadHoldingRegisters:
		return s.dispatchReadRegisters(req, modbus.HoldingRegister)
	case modbus.FuncReadInputRegisters:
		return s.dispatchReadRegisters(req, modbus.InputRegister)
	case modbus.FuncWriteSingleCoil:
		return s.dispatchWriteSingleCoil(req)
	case modbus.FuncWriteSingleRegister:
		return s.dispatchWriteSingleRegister(req)
	case modbus.FuncWriteMultipleCoils:
		return s.dispatchWriteMultipleCoils(req)
	case modbus.FuncWriteMultipleRegisters:
		return s.dispatchWriteMultipleRegisters(req)
	default:
		return exceptionResponse(req, modbus.ExIllegalFunction)
	}
}

func (s *Server) dispatchReadBools(req *frame.Frame, regType modbus.RegisterType) *frame.Frame {
	values, err := s.store.ReadBools(regType, req.RegAddress, req.RegCount)
	if err == ErrNoWordAtAddress {
		return exceptionResponse(req, modbus.ExIllegalDataAddress)
	}
	if err != nil {
		return exceptionResponse(req, toExceptionCode(err))
	}
	if len(values) != int(req.RegCount) {
		s.logger.Errorf("word store returned %d bools, expected %d", len(values), req.RegCount)
		return exceptionResponse(req, modbus.ExServerDeviceFailure)
	}

	return &frame.Frame{
		Type: frame.Response, FunctionCode: req.FunctionCode,
		SlaveID: req.SlaveID, TxnID: req.TxnID,
		RegCount: req.RegCount, Data: frame.PackCoils(values),
	}
}

func (s *Server) dispatchReadRegisters(req *frame.Frame, regType modbus.RegisterType) *frame.Frame {
	values, err := s.store.ReadRegisters(regType, req.RegAddress, req.RegCount)
	if err == ErrNoWordAtAddress {
		return exceptionResponse(req, modbus.ExIllegalDataAddress)
	}
	if err != nil {
		return exceptionResponse(req, toExceptionCode(err))
	}
	if len(values) != int(req.RegCount) {
		s.logger.Errorf("word store returned %d registers, expected %d", len(values), req.RegCount)
		return exceptionResponse(req, modbus.ExServerDeviceFailure)
	}

	return &frame.Frame{
		Type: frame.Response, FunctionCode: req.FunctionCode,
		SlaveID: req.SlaveID, TxnID: req.TxnID,
		RegCount: req.RegCount, Data: frame.PackRegisters(values),
	}
}

func (s *Server) dispatchWriteSingleCoil(req *frame.Frame) *frame.Frame {
	w, err := s.store.Resolve(modbus.Coil, req.RegAddress, 1)
	if err != nil {
		return exceptionResponse(req, modbus.ExIllegalDataAddress)
	}
	value := len(req.Data) >= 1 && req.Data[0] == 0xFF
	if err := w.writeBools(req.RegAddress, []bool{value}); err != nil {
		return exceptionResponse(req, toExceptionCode(err))
	}
	return &frame.Frame{
		Type: frame.Response, FunctionCode: req.FunctionCode,
		SlaveID: req.SlaveID, TxnID: req.TxnID,
		RegAddress: req.RegAddress, RegCount: 1, Data: req.Data,
	}
}

func (s *Server) dispatchWriteSingleRegister(req *frame.Frame) *frame.Frame {
	w, err := s.store.Resolve(modbus.HoldingRegister, req.RegAddress, 1)
	if err != nil {
		return exceptionResponse(req, modbus.ExIllegalDataAddress)
	}
	value := frame.UnpackRegisters(req.Data)
	if len(value) != 1 {
		return exceptionResponse(req, modbus.ExIllegalDataValue)
	}
	if err := w.writeRegisters(req.RegAddress, value); err != nil {
		return exceptionResponse(req, toExceptionCode(err))
	}
	return &frame.Frame{
		Type: frame.Response, FunctionCode: req.FunctionCode,
		SlaveID: req.SlaveID, TxnID: req.TxnID,
		RegAddress: req.RegAddress, RegCount: 1, Data: req.Data,
	}
}

func (s *Server) dispatchWriteMultipleCoils(req *frame.Frame) *frame.Frame {
	values := frame.UnpackCoils(req.Data, int(req.RegCount))
	if err := s.store.WriteBools(modbus.Coil, req.RegAddress, req.RegCount, values); err != nil {
		if err == ErrNoWordAtAddress {
			return exceptionResponse(req, modbus.ExIllegalDataAddress)
		}
		return exceptionResponse(req, toExceptionCode(err))
	}
	return &frame.Frame{
		Type: frame.Response, FunctionCode: req.FunctionCode,
		SlaveID: req.SlaveID, TxnID: req.TxnID,
		RegAddress: req.RegAddress, RegCount: req.RegCount,
	}
}

func (s *Server) dispatchWriteMultipleRegisters(req *frame.Frame) *frame.Frame {
	values := frame.UnpackRegisters(req.Data)
	if err := s.store.WriteRegisters(modbus.HoldingRegister, req.RegAddress, req.RegCount, values); err != nil {
		if err == ErrNoWordAtAddress {
			return exceptionResponse(req, modbus.ExIllegalDataAddress)
		}
		return exceptionResponse(req, toExceptionCode(err))
	}
	return &frame.Frame{
		Type: frame.Response, FunctionCode: req.FunctionCode,
		SlaveID: req.SlaveID, TxnID: req.TxnID,
		RegAddress: req.RegAddress, RegCount: req.RegCount,
	}
}

func byteCountFor(bitCount int) int {
	n := bitCount / 8
	if bitCount%8 != 0 {
		n++
	}
	return n
}

func toExceptionCode(err error) modbus.ExceptionCode {
	if err == ErrReadOnly {
		return modbus.ExIllegalFunction
	}
	return modbus.ExServerDeviceFailure
}
