// Package rtu implements the RTU transport (C4): a byte-stream reader
// that frames by inter-character silence, validates CRC, fans out
// received frames to registered RX callbacks, and serialises the TX path
// behind a half-duplex DE/RE guard.
package rtu

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/rinzlermodbus/gomodbus/frame"
	"github.com/rinzlermodbus/gomodbus/mblog"
	"github.com/rinzlermodbus/gomodbus/transport"
)

const maxRTUFrameLength = 256

// Link is the minimal surface this transport needs from a serial port or
// a stream standing in for one. go.bug.st/serial.Port satisfies it.
type Link interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// DriverEnable controls a half-duplex line driver's DE/RE pin, if wired.
// Assert(true) before transmitting, Assert(false) once the driver has
// drained.
type DriverEnable interface {
	Assert(enabled bool) error
}

// Config configures an RTU transport.
type Config struct {
	Link Link
	// Baud derives the character time and the default silence time
	// (t3.5); it does not configure the link itself (the caller opens Link
	// already configured for the wire speed).
	Baud uint
	// SilenceTime overrides the computed t3.5 inter-frame silence
	// window. Zero means "compute from Baud".
	SilenceTime time.Duration
	// MinSilenceTime floors the computed silence window (typical: 2ms on
	// fast links, where 3.5 char times would otherwise be too small to
	// reliably distinguish from scheduling jitter).
	MinSilenceTime time.Duration
	// DE, if non-nil, is asserted before transmitting and deasserted
	// after the driver has drained.
	DE DriverEnable
	// BusFreeMargin pads the silence wait before transmitting, absorbing
	// scheduler jitter around the 3.5-char boundary.
	BusFreeMargin time.Duration

	Logger mblog.Logger
	Role   transport.Role
}

type rxState struct {
	mu        sync.Mutex
	callbacks []transport.RxCallback
}

// Transport is the RTU implementation of transport.Transport.
type Transport struct {
	link   Link
	logger mblog.Logger
	role   transport.Role

	t1  time.Duration // character time
	t35 time.Duration // inter-frame silence
	de  DriverEnable
	busFreeMargin time.Duration

	txMu     sync.Mutex
	txActive bool

	rx rxState

	lastActivity time.Time

	beginOnce sync.Once
	begun     bool
	closed    bool
	closeMu   sync.Mutex

	cancel context.CancelFunc
}

// New constructs (but does not start) an RTU transport.
func New(cfg Config) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = mblog.Nop()
	}

	t1 := characterTime(cfg.Baud)
	t35 := cfg.SilenceTime
	if t35 == 0 {
		if cfg.Baud >= 19200 {
			t35 = 1750 * time.Microsecond
		} else {
			t35 = (t1 * 35) / 10
		}
	}
	if cfg.MinSilenceTime != 0 && t35 < cfg.MinSilenceTime {
		t35 = cfg.MinSilenceTime
	}

	return &Transport{
		link:          cfg.Link,
		logger:        logger,
		role:          cfg.Role,
		t1:            t1,
		t35:           t35,
		de:            cfg.DE,
		busFreeMargin: cfg.BusFreeMargin,
	}
}

func characterTime(baud uint) time.Duration {
	if baud == 0 {
		return 0
	}
	// 1 start + 8 data + 1 parity-or-stop + 1 stop = 11 bits/char
	return 11 * time.Second / time.Duration(baud)
}

// Begin starts the RX task. Idempotent.
func (t *Transport) Begin() error {
	var err error
	t.beginOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		t.begun = true
		go t.rxLoop(ctx)
	})
	return err
}

func (t *Transport) Role() transport.Role     { return t.role }
func (t *Transport) CatchesAllSlaveIDs() bool { return false }

func (t *Transport) IsReady() bool {
	if !t.begun {
		return false
	}
	t.txMu.Lock()
	defer t.txMu.Unlock()
	return !t.txActive
}

func (t *Transport) RegisterRxCallback(fn transport.RxCallback) error {
	t.rx.mu.Lock()
	defer t.rx.mu.Unlock()
	if len(t.rx.callbacks) >= transport.MaxRxCallbacks {
		return transport.ErrTooManyCallbacks
	}
	t.rx.callbacks = append(t.rx.callbacks, fn)
	return nil
}

// AbortCurrent is a no-op on RTU: frames are self-contained on the wire
// and there is no partial-state to discard beyond what silence-framing
// already handles.
func (t *Transport) AbortCurrent() {}

func (t *Transport) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	return t.link.Close()
}

// SendFrame encodes f per the role this transport was built for and
// writes it to the link, guarded by the half-duplex DE/RE sequence. The
// TX-result callback fires exactly once before SendFrame returns (the
// driver write is synchronous in this implementation).
func (t *Transport) SendFrame(f *frame.Frame, onResult transport.TxResultCallback) error {
	if !t.begun {
		fire(onResult, transport.ErrNotInitialized)
		return transport.ErrNotInitialized
	}

	if !t.txMu.TryLock() {
		fire(onResult, transport.ErrBusy)
		return transport.ErrBusy
	}
	defer t.txMu.Unlock()

	role := frame.ClientRole
	if t.role == transport.Server {
		role = frame.ServerRole
	}

	adu, err := frame.EncodeRTU(f, role)
	if err != nil {
		fire(onResult, err)
		return err
	}

	t.txActive = true
	defer func() { t.txActive = false }()

	t.waitForBusFree()

	if t.de != nil {
		if err := t.de.Assert(true); err != nil {
			fire(onResult, err)
			return err
		}
		defer t.de.Assert(false)
	}

	ts := time.Now()
	n, err := t.link.Write(adu)
	if err != nil {
		t.logger.Warningf("write failed: %v", err)
		fire(onResult, transport.ErrSendFailed)
		return transport.ErrSendFailed
	}
	t.lastActivity = ts.Add(time.Duration(n) * t.t1)

	// hold the bus for t3.5 after TX so is_ready() only flips back once
	// the line is free again (also covers the broadcast "hold the bus"
	// requirement described in §4.5).
	if wait := time.Until(t.lastActivity.Add(t.t35)); wait > 0 {
		time.Sleep(wait)
	}

	fire(onResult, nil)
	return nil
}

func (t *Transport) waitForBusFree() {
	wait := time.Until(t.lastActivity.Add(t.t35).Add(t.busFreeMargin))
	if wait > 0 {
		time.Sleep(wait)
	}
}

func fire(cb transport.TxResultCallback, err error) {
	if cb != nil {
		cb(err)
	}
}

// rxLoop reads bytes into a scratch buffer and flushes it into the codec
// whenever a gap of at least t3.5 is observed. Frames the codec rejects
// (CRC, length, fc) are dropped and logged at debug level only; nothing is
// published to the event bus.
func (t *Transport) rxLoop(ctx context.Context) {
	buf := make([]byte, 0, maxRTUFrameLength)
	tmp := make([]byte, maxRTUFrameLength)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		t.link.SetReadTimeout(t.t35)
		n, err := t.link.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if len(buf) > maxRTUFrameLength {
				buf = buf[:0]
			}
			continue
		}

		// no bytes arrived within the silence window: flush whatever we
		// have (if anything) as a complete frame.
		if len(buf) > 0 {
			t.deliver(buf)
			buf = buf[:0]
		}

		if err != nil && err != io.EOF {
			// transient read error on an otherwise open link; keep
			// looping, the link is responsible for reporting fatal
			// conditions via Close()/Read() returning permanently.
			continue
		}
	}
}

func (t *Transport) deliver(raw []byte) {
	typ := frame.Request
	if t.role == transport.Client {
		typ = frame.Response
	}

	f, err := frame.DecodeRTU(raw, typ)
	if err != nil {
		t.logger.Debugf("dropped frame: %v", err)
		return
	}

	t.rx.mu.Lock()
	cbs := append([]transport.RxCallback(nil), t.rx.callbacks...)
	t.rx.mu.Unlock()

	for _, cb := range cbs {
		cb(f)
	}
}
