package server

import (
	"sort"

	"github.com/rinzlermodbus/gomodbus"
)

// WordStoreOption configures a WordStore at construction time.
type WordStoreOption func(*WordStore)

// WithRejectUndefined controls whether a read spanning an address with no
// registered Word fails with ErrNoWordAtAddress (true, the default) or is
// silently zero-filled (false), per §4.6/§6 (reject_undefined).
func WithRejectUndefined(reject bool) WordStoreOption {
	return func(s *WordStore) { s.rejectUndefined = reject }
}

// WordStore is the address space a Server dispatches requests against. It
// is not safe for concurrent registration after Begin; build it fully, then
// hand it to New.
type WordStore struct {
	words           map[modbus.RegisterType][]*Word
	rejectUndefined bool
}

// NewWordStore creates an empty address space with reject_undefined true.
func NewWordStore(opts ...WordStoreOption) *WordStore {
	s := &WordStore{words: make(map[modbus.RegisterType][]*Word), rejectUndefined: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a Word, rejecting it if it fails configuration validation
// (§4.6: count bounds, direct-storage/handler exclusivity, handler shape)
// or if it overlaps an already-registered Word of the same register type.
func (s *WordStore) Add(w *Word) error {
	if err := w.validate(); err != nil {
		return err
	}
	for _, existing := range s.words[w.Type] {
		if overlaps(existing, w) {
			return ErrOverlappingWord
		}
	}
	s.words[w.Type] = append(s.words[w.Type], w)
	sort.Slice(s.words[w.Type], func(i, j int) bool {
		return s.words[w.Type][i].Address < s.words[w.Type][j].Address
	})
	return nil
}

func overlaps(a, b *Word) bool {
	aEnd := uint32(a.Address) + uint32(a.Count)
	bEnd := uint32(b.Address) + uint32(b.Count)
	return uint32(a.Address) < bEnd && uint32(b.Address) < aEnd
}

// Resolve returns the single Word that fully covers [addr, addr+count), or
// ErrNoWordAtAddress if no registered Word spans the whole range (including
// the case where the range straddles two adjacent Words). Used for
// single-coil/single-register writes, which always target exactly one
// element of one Word.
func (s *WordStore) Resolve(regType modbus.RegisterType, addr, count uint16) (*Word, error) {
	for _, w := range s.words[regType] {
		if w.covers(addr, count) {
			return w, nil
		}
	}
	return nil, ErrNoWordAtAddress
}

// findCovering returns the Word containing addr, if any.
func (s *WordStore) findCovering(regType modbus.RegisterType, addr uint16) *Word {
	for _, w := range s.words[regType] {
		if addr >= w.Address && addr < w.Address+w.Count {
			return w
		}
	}
	return nil
}

// findStartingAt returns the Word whose span begins exactly at addr, if any.
func (s *WordStore) findStartingAt(regType modbus.RegisterType, addr uint16) *Word {
	for _, w := range s.words[regType] {
		if w.Address == addr {
			return w
		}
	}
	return nil
}

// resolveWriteSpan tiles [addr, addr+count) with whole, contiguous Words
// per §4.6 step 3: a multi-register/coil write must align exactly to one
// or more whole Words, never a partial one.
func (s *WordStore) resolveWriteSpan(regType modbus.RegisterType, addr, count uint16) ([]*Word, error) {
	var words []*Word
	cur := addr
	end := addr + count
	for cur < end {
		w := s.findStartingAt(regType, cur)
		if w == nil || !w.alignsWhole(cur, w.Count) || cur+w.Count > end {
			return nil, ErrNoWordAtAddress
		}
		words = append(words, w)
		cur += w.Count
	}
	return words, nil
}

// ReadBools reads count coils/discrete-inputs starting at addr, spanning as
// many Words as needed. A gap with no defined Word is an error if
// rejectUndefined is true, or reads back as false otherwise.
func (s *WordStore) ReadBools(regType modbus.RegisterType, addr, count uint16) ([]bool, error) {
	out := make([]bool, count)
	cur := addr
	end := addr + count
	for cur < end {
		w := s.findCovering(regType, cur)
		if w == nil {
			if s.rejectUndefined {
				return nil, ErrNoWordAtAddress
			}
			cur++
			continue
		}
		segEnd := minUint16(end, w.Address+w.Count)
		vals, err := w.readBools(cur, segEnd-cur)
		if err != nil {
			return nil, err
		}
		copy(out[cur-addr:], vals)
		cur = segEnd
	}
	return out, nil
}

// ReadRegisters reads count holding/input registers starting at addr,
// spanning as many Words as needed, with the same gap-fill/reject policy
// as ReadBools.
func (s *WordStore) ReadRegisters(regType modbus.RegisterType, addr, count uint16) ([]uint16, error) {
	out := make([]uint16, count)
	cur := addr
	end := addr + count
	for cur < end {
		w := s.findCovering(regType, cur)
		if w == nil {
			if s.rejectUndefined {
				return nil, ErrNoWordAtAddress
			}
			cur++
			continue
		}
		segEnd := minUint16(end, w.Address+w.Count)
		vals, err := w.readRegisters(cur, segEnd-cur)
		if err != nil {
			return nil, err
		}
		copy(out[cur-addr:], vals)
		cur = segEnd
	}
	return out, nil
}

// WriteBools applies a multi-coil write across one or more whole Words
// tiling [addr, addr+count).
func (s *WordStore) WriteBools(regType modbus.RegisterType, addr, count uint16, values []bool) error {
	words, err := s.resolveWriteSpan(regType, addr, count)
	if err != nil {
		return err
	}
	offset := uint16(0)
	for _, w := range words {
		if err := w.writeBools(w.Address, values[offset:offset+w.Count]); err != nil {
			return err
		}
		offset += w.Count
	}
	return nil
}

// WriteRegisters applies a multi-register write across one or more whole
// Words tiling [addr, addr+count).
func (s *WordStore) WriteRegisters(regType modbus.RegisterType, addr, count uint16, values []uint16) error {
	words, err := s.resolveWriteSpan(regType, addr, count)
	if err != nil {
		return err
	}
	offset := uint16(0)
	for _, w := range words {
		if err := w.writeRegisters(w.Address, values[offset:offset+w.Count]); err != nil {
			return err
		}
		offset += w.Count
	}
	return nil
}

func minUint16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}
