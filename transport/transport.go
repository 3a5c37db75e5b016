// Package transport defines the capability (C3) that RTU and TCP
// transports both implement, and that the client engine, server engine
// and bridge consume. See transport/rtu and transport/tcp for the two
// concrete variants.
package transport

import (
	"errors"

	"github.com/rinzlermodbus/gomodbus/frame"
)

// Role is fixed at construction time and never changes afterwards.
type Role uint8

const (
	Client Role = iota
	Server
)

// MaxRxCallbacks bounds how many RX callbacks a transport will accept,
// per §4.2 ("typical: 5").
const MaxRxCallbacks = 5

// RxCallback is invoked once per received Frame, in registration order,
// on the transport's own RX task. Callbacks must return promptly and must
// not perform blocking I/O: the fan-out is synchronous and a slow
// callback delays every other callback and the next frame's reception.
type RxCallback func(f *frame.Frame)

// TxResultCallback fires exactly once per SendFrame call, reporting the
// outcome of handing the frame to the driver (not the eventual response,
// if any — that arrives through an RxCallback instead).
type TxResultCallback func(err error)

// Transport is the capability consumed by the client engine, the server
// engine and the bridge. Two concrete implementations exist: transport/rtu
// (serial, silence-framed, half-duplex) and transport/tcp (MBAP-framed,
// either a persistent client connection or a multi-connection accept
// loop).
type Transport interface {
	// Begin initialises the underlying driver and starts the RX/TX task.
	// It is one-shot and idempotent: calling it again after a successful
	// Begin is a no-op.
	Begin() error

	// SendFrame validates, encodes and hands a frame to the driver.
	// onResult fires exactly once, reporting success, buffer overflow or
	// connection failure. onResult may be nil.
	SendFrame(f *frame.Frame, onResult TxResultCallback) error

	// IsReady reports whether the transport is initialised and currently
	// able to accept a SendFrame (not mid-transmission on RTU, has a live
	// connection on TCP-client).
	IsReady() bool

	// RegisterRxCallback adds fn to the fan-out list. Returns
	// ErrTooManyCallbacks past MaxRxCallbacks.
	RegisterRxCallback(fn RxCallback) error

	// AbortCurrent is a hint that the caller has abandoned whatever
	// transaction it had outstanding. RTU transports treat this as a
	// no-op (frames are self-contained); TCP transports may drop a
	// connection's partial read buffer.
	AbortCurrent()

	// Role reports whether this transport was constructed as a client or
	// server endpoint. Immutable after construction.
	Role() Role

	// CatchesAllSlaveIDs reports whether this transport ignores the
	// incoming unit-id field for addressing purposes (true for a TCP
	// server transport built with ServerConfig.CatchAll set, false for
	// every other transport) while still echoing it back on the response.
	CatchesAllSlaveIDs() bool

	Close() error
}

var (
	ErrInitFailed           = errors.New("transport initialization failed")
	ErrInvalidFrame         = errors.New("invalid frame")
	ErrBusy                 = errors.New("transport busy")
	ErrRxFailed             = errors.New("receive failed")
	ErrSendFailed           = errors.New("send failed")
	ErrInvalidMessageType   = errors.New("invalid message type")
	ErrInvalidTransactionID = errors.New("invalid transaction id")
	ErrTimeout              = errors.New("timeout")
	ErrInvalidRole          = errors.New("operation not valid for this transport's role")
	ErrConnectionFailed     = errors.New("connection failed")
	ErrConfigFailed         = errors.New("configuration failed")
	ErrTooManyCallbacks     = errors.New("too many registered rx callbacks")
	ErrNoCallbacks          = errors.New("no rx callbacks registered")
	ErrNotInitialized       = errors.New("transport not initialized")
)
