package frame

import (
	"testing"

	"github.com/rinzlermodbus/gomodbus"
	"github.com/stretchr/testify/require"
)

func TestEncodeRTUReadHoldingRegistersMatchesSpecExample(t *testing.T) {
	f := &Frame{
		Type:         Request,
		FunctionCode: modbus.FuncReadHoldingRegisters,
		SlaveID:      1,
		RegAddress:   0x006B,
		RegCount:     1,
	}

	out, err := EncodeRTU(f, ClientRole)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x03, 0x00, 0x6B, 0x00, 0x01, 0x77, 0xD5}, out)
}

func TestEncodeDecodeRTUReadHoldingRegistersResponse(t *testing.T) {
	f := &Frame{
		Type:         Response,
		FunctionCode: modbus.FuncReadHoldingRegisters,
		SlaveID:      1,
		RegCount:     1,
		Data:         []byte{0x12, 0x34},
	}

	out, err := EncodeRTU(f, ServerRole)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x03, 0x02, 0x12, 0x34}, out[:len(out)-2])

	decoded, err := DecodeRTU(out, Response)
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), decoded.GetRegister(0))
}

func TestDecodeRTURejectsBadCRC(t *testing.T) {
	adu := []byte{0x01, 0x03, 0x00, 0x6B, 0x00, 0x01, 0x77, 0xD6}
	_, err := DecodeRTU(adu, Request)
	require.ErrorIs(t, err, modbus.ErrInvalidCRC)
}

func TestDecodeRTUFlippingAnyBitOutsideCRCBreaksChecksum(t *testing.T) {
	base := []byte{0x01, 0x03, 0x00, 0x6B, 0x00, 0x01, 0x77, 0xD5}
	for i := 0; i < len(base)-2; i++ {
		mutated := append([]byte(nil), base...)
		mutated[i] ^= 0x01
		_, err := DecodeRTU(mutated, Request)
		require.ErrorIs(t, err, modbus.ErrInvalidCRC, "byte %d", i)
	}
}

func TestRTURoundTripWriteSingleCoil(t *testing.T) {
	f := &Frame{
		Type:         Request,
		FunctionCode: modbus.FuncWriteSingleCoil,
		SlaveID:      1,
		RegAddress:   0,
		RegCount:     1,
		Data:         []byte{0xFF, 0x00},
	}

	out, err := EncodeRTU(f, ClientRole)
	require.NoError(t, err)

	decoded, err := DecodeRTU(out, Request)
	require.NoError(t, err)
	require.Equal(t, f.RegAddress, decoded.RegAddress)
	require.True(t, decoded.GetCoil(0))
}

func TestRTURejectsOversizedReadCount(t *testing.T) {
	f := &Frame{
		Type:         Request,
		FunctionCode: modbus.FuncReadHoldingRegisters,
		SlaveID:      1,
		RegCount:     126,
	}
	_, err := EncodeRTU(f, ClientRole)
	require.ErrorIs(t, err, modbus.ErrInvalidRegisterCount)
}

func TestRTUBroadcastOnlyAllowedForWrites(t *testing.T) {
	read := &Frame{
		Type:         Request,
		FunctionCode: modbus.FuncReadHoldingRegisters,
		SlaveID:      modbus.BroadcastSlaveID,
		RegCount:     1,
	}
	_, err := EncodeRTU(read, ClientRole)
	require.ErrorIs(t, err, modbus.ErrInvalidSlaveID)

	write := &Frame{
		Type:         Request,
		FunctionCode: modbus.FuncWriteSingleRegister,
		SlaveID:      modbus.BroadcastSlaveID,
		RegCount:     1,
		Data:         []byte{0x00, 0x01},
	}
	_, err = EncodeRTU(write, ClientRole)
	require.NoError(t, err)
}

func TestDecodeRTURejectsResponseWithBroadcastOrWildcardSlaveID(t *testing.T) {
	// build a valid wire frame manually then swap the slave id byte
	f := &Frame{Type: Response, FunctionCode: modbus.FuncReadHoldingRegisters, SlaveID: 1, RegCount: 1, Data: []byte{0x00, 0x01}}
	out, err := EncodeRTU(f, ServerRole)
	require.NoError(t, err)

	for _, id := range []byte{0x00, 0xFF} {
		mutated := append([]byte(nil), out...)
		mutated[0] = id
		adu := append(mutated[:len(mutated)-2], crcBytes(mutated[:len(mutated)-2])...)
		_, err := DecodeRTU(adu, Response)
		require.ErrorIs(t, err, modbus.ErrInvalidSlaveID)
	}
}
