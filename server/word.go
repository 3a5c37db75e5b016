// Package server implements the request dispatcher (C7): a WordStore-backed
// register/coil address space served to one or more transports.
package server

import (
	"errors"
	"sync"

	"github.com/rinzlermodbus/gomodbus"
)

var (
	ErrOverlappingWord = errors.New("word overlaps an already-registered word of the same register type")
	ErrNoWordAtAddress = errors.New("no word covers the requested address range")
	ErrReadOnly        = errors.New("word is read-only")
	ErrHandlerMismatch = errors.New("word count does not match handler-returned value count")
	ErrWordInvalid     = errors.New("word count out of range [1, MaxWordSize]")
	ErrWordDirectPtr   = errors.New("word must have exactly one of direct storage or a handler")
	ErrWordHandler     = errors.New("malformed word handler")
)

// CoilHandler backs a dynamic coil/discrete-input Word. Read serves read
// requests and Write serves write requests; Write is nil for discrete
// inputs and read-only words.
type CoilHandler struct {
	Read  func(addr, count uint16) ([]bool, error)
	Write func(addr uint16, values []bool) error
}

// RegisterHandler backs a dynamic holding/input-register Word.
type RegisterHandler struct {
	Read  func(addr, count uint16) ([]uint16, error)
	Write func(addr uint16, values []uint16) error
}

// Word is one contiguous, independently-addressable span of the register
// space. A Word is backed either by a fixed in-memory slice (Static) or by
// a pair of handler callbacks (Dynamic) — never both.
type Word struct {
	Type    modbus.RegisterType
	Address uint16
	Count   uint16

	mu sync.Mutex

	// static backing
	bools []bool
	regs  []uint16

	// dynamic backing
	coilHandler *CoilHandler
	regHandler  *RegisterHandler
}

// NewStaticCoils creates a directly-addressable coil or discrete-input Word
// backed by an in-memory slice. Direct storage has no notion of "read
// handler failure": reads and writes simply touch the slice.
func NewStaticCoils(regType modbus.RegisterType, address uint16, initial []bool) *Word {
	return &Word{Type: regType, Address: address, Count: uint16(len(initial)), bools: append([]bool(nil), initial...)}
}

// NewStaticRegisters creates a directly-addressable holding/input register
// Word backed by an in-memory slice.
func NewStaticRegisters(regType modbus.RegisterType, address uint16, initial []uint16) *Word {
	return &Word{Type: regType, Address: address, Count: uint16(len(initial)), regs: append([]uint16(nil), initial...)}
}

// NewDynamicCoils creates a coil or discrete-input Word backed by handler
// callbacks instead of storage the dispatcher owns directly.
func NewDynamicCoils(regType modbus.RegisterType, address, count uint16, h *CoilHandler) *Word {
	return &Word{Type: regType, Address: address, Count: count, coilHandler: h}
}

// NewDynamicRegisters creates a holding/input register Word backed by
// handler callbacks.
func NewDynamicRegisters(regType modbus.RegisterType, address, count uint16, h *RegisterHandler) *Word {
	return &Word{Type: regType, Address: address, Count: count, regHandler: h}
}

func (w *Word) covers(addr, count uint16) bool {
	return addr >= w.Address && uint32(addr)+uint32(count) <= uint32(w.Address)+uint32(w.Count)
}

// alignsWhole reports whether [addr, addr+count) is exactly this Word's
// span, neither more nor less. Multi-register/coil writes must land on
// whole Words; a sub-range of a larger Word is not an acceptable write
// target even though reads may address it freely.
func (w *Word) alignsWhole(addr, count uint16) bool {
	return addr == w.Address && count == w.Count
}

// validate checks the configuration invariants §4.6 requires of a Word
// before it is admitted to a WordStore: a register/coil count within
// bounds, exactly one of direct storage or a handler pair, and (for
// handler-backed Words) a non-nil Read and, for read-only register types,
// a nil Write.
func (w *Word) validate() error {
	if w.Count < 1 || w.Count > modbus.MaxWordSize {
		return ErrWordInvalid
	}

	hasStatic := w.bools != nil || w.regs != nil
	hasHandler := w.coilHandler != nil || w.regHandler != nil
	if hasStatic == hasHandler {
		return ErrWordDirectPtr
	}

	if w.coilHandler != nil {
		if w.coilHandler.Read == nil {
			return ErrWordHandler
		}
		if w.Type.ReadOnly() && w.coilHandler.Write != nil {
			return ErrWordHandler
		}
	}
	if w.regHandler != nil {
		if w.regHandler.Read == nil {
			return ErrWordHandler
		}
		if w.Type.ReadOnly() && w.regHandler.Write != nil {
			return ErrWordHandler
		}
	}
	return nil
}

func (w *Word) readBools(addr, count uint16) ([]bool, error) {
	if w.coilHandler != nil {
		return w.coilHandler.Read(addr, count)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	off := addr - w.Address
	return append([]bool(nil), w.bools[off:off+count]...), nil
}

func (w *Word) writeBools(addr uint16, values []bool) error {
	if w.Type.ReadOnly() {
		return ErrReadOnly
	}
	if w.coilHandler != nil {
		if w.coilHandler.Write == nil {
			return ErrReadOnly
		}
		return w.coilHandler.Write(addr, values)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	off := addr - w.Address
	copy(w.bools[off:], values)
	return nil
}

func (w *Word) readRegisters(addr, count uint16) ([]uint16, error) {
	if w.regHandler != nil {
		return w.regHandler.Read(addr, count)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	off := addr - w.Address
	return append([]uint16(nil), w.regs[off:off+count]...), nil
}

func (w *Word) writeRegisters(addr uint16, values []uint16) error {
	if w.Type.ReadOnly() {
		return ErrReadOnly
	}
	if w.regHandler != nil {
		if w.regHandler.Write == nil {
			return ErrReadOnly
		}
		return w.regHandler.Write(addr, values)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	off := addr - w.Address
	copy(w.regs[off:], values)
	return nil
}
