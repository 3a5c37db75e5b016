// Package frame holds the in-memory representation of a single Modbus
// message (C1) and the pure codec functions (C2) that turn a Frame into
// wire bytes and back, for both RTU and TCP/MBAP framing. Codecs never
// perform I/O; transports own the bytes and call into this package.
package frame

import (
	"github.com/rinzlermodbus/gomodbus"
)

// Type distinguishes a request Frame from a response Frame.
type Type uint8

const (
	Request Type = iota
	Response
)

// Frame is the transport-independent representation of one Modbus
// message. It stores the function code without the wire-only exception
// bit; codecs are the only place that bit is ever touched (see open
// question #1 in SPEC_FULL.md §9).
type Frame struct {
	Type          Type
	FunctionCode  modbus.FunctionCode
	SlaveID       uint8
	RegAddress    uint16
	RegCount      uint16
	Data          []byte
	ExceptionCode modbus.ExceptionCode

	// TxnID is only meaningful for TCP/MBAP framing; RTU frames leave it
	// zero. It is preserved by the TCP codec across Encode/Decode so
	// callers can correlate requests and responses.
	TxnID uint16
}

// IsException reports whether this Frame represents (or will represent,
// for requests the caller is about to turn into an exception response)
// a Modbus exception.
func (f *Frame) IsException() bool {
	return f.ExceptionCode != modbus.ExNone
}

// GetCoil returns the i-th coil/discrete-input bit packed in Data (LSB of
// byte 0 is bit 0).
func (f *Frame) GetCoil(i int) bool {
	byteIdx := i / 8
	bitIdx := uint(i % 8)
	if byteIdx >= len(f.Data) {
		return false
	}
	return f.Data[byteIdx]&(1<<bitIdx) != 0
}

// GetRegister returns the i-th big-endian 16-bit register packed in Data.
func (f *Frame) GetRegister(i int) uint16 {
	off := i * 2
	if off+1 >= len(f.Data) {
		return 0
	}
	return uint16(f.Data[off])<<8 | uint16(f.Data[off+1])
}

// PackCoils packs a slice of bools into the LSB-first byte layout used on
// the wire for coils and discrete inputs.
func PackCoils(bits []bool) []byte {
	byteCount := len(bits) / 8
	if len(bits)%8 != 0 {
		byteCount++
	}
	out := make([]byte, byteCount)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// PackRegisters packs a slice of 16-bit values into big-endian byte pairs.
func PackRegisters(values []uint16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		out[2*i] = byte(v >> 8)
		out[2*i+1] = byte(v)
	}
	return out
}

// UnpackCoils is the inverse of PackCoils, reading exactly count bits.
func UnpackCoils(data []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		out[i] = data[i/8]&(1<<uint(i%8)) != 0
	}
	return out
}

// UnpackRegisters is the inverse of PackRegisters.
func UnpackRegisters(data []byte) []uint16 {
	out := make([]uint16, len(data)/2)
	for i := range out {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}
