package frame

import (
	"github.com/rinzlermodbus/gomodbus"
)

// encodePDU renders the function-code-specific body of a Frame (the part
// shared by both RTU and TCP framing). It assumes f has already passed
// Validate.
func encodePDU(f *Frame) ([]byte, error) {
	if f.Type == Response && f.IsException() {
		return []byte{byte(f.FunctionCode) | 0x80, byte(f.ExceptionCode)}, nil
	}

	switch f.FunctionCode {
	case modbus.FuncReadCoils, modbus.FuncReadDiscreteInputs,
		modbus.FuncReadHoldingRegisters, modbus.FuncReadInputRegisters:
		if f.Type == Request {
			return encodeReadRequest(f), nil
		}
		return encodeReadResponse(f), nil

	case modbus.FuncWriteSingleCoil, modbus.FuncWriteSingleRegister:
		return encodeWriteSingle(f), nil

	case modbus.FuncWriteMultipleCoils:
		if f.Type == Request {
			return encodeWriteMultipleCoilsRequest(f), nil
		}
		return encodeWriteMultipleAck(f), nil

	case modbus.FuncWriteMultipleRegisters:
		if f.Type == Request {
			return encodeWriteMultipleRegistersRequest(f), nil
		}
		return encodeWriteMultipleAck(f), nil

	default:
		return nil, modbus.ErrInvalidFunctionCode
	}
}

func encodeReadRequest(f *Frame) []byte {
	return []byte{
		byte(f.FunctionCode),
		byte(f.RegAddress >> 8), byte(f.RegAddress),
		byte(f.RegCount >> 8), byte(f.RegCount),
	}
}

func encodeReadResponse(f *Frame) []byte {
	out := make([]byte, 2, 2+len(f.Data))
	out[0] = byte(f.FunctionCode)
	out[1] = byte(len(f.Data))
	return append(out, f.Data...)
}

func encodeWriteSingle(f *Frame) []byte {
	out := []byte{
		byte(f.FunctionCode),
		byte(f.RegAddress >> 8), byte(f.RegAddress),
	}
	if len(f.Data) >= 2 {
		return append(out, f.Data[0], f.Data[1])
	}
	return append(out, 0x00, 0x00)
}

func encodeWriteMultipleCoilsRequest(f *Frame) []byte {
	out := []byte{
		byte(f.FunctionCode),
		byte(f.RegAddress >> 8), byte(f.RegAddress),
		byte(f.RegCount >> 8), byte(f.RegCount),
		byte(len(f.Data)),
	}
	return append(out, f.Data...)
}

func encodeWriteMultipleRegistersRequest(f *Frame) []byte {
	return encodeWriteMultipleCoilsRequest(f)
}

func encodeWriteMultipleAck(f *Frame) []byte {
	return []byte{
		byte(f.FunctionCode),
		byte(f.RegAddress >> 8), byte(f.RegAddress),
		byte(f.RegCount >> 8), byte(f.RegCount),
	}
}

// decodePDU parses the function-code-specific body of a Frame out of pdu
// (function code byte included). slaveID/txnID/frame type must already be
// known by the caller (framing-specific).
func decodePDU(pdu []byte, typ Type) (*Frame, error) {
	if len(pdu) < 1 {
		return nil, modbus.ErrInvalidLen
	}

	rawFC := pdu[0]
	isException := rawFC&0x80 != 0
	fc := modbus.FunctionCode(rawFC &^ 0x80)

	f := &Frame{Type: typ, FunctionCode: fc}

	if isException {
		if typ == Request {
			return nil, modbus.ErrInvalidException
		}
		if len(pdu) != 2 {
			return nil, modbus.ErrInvalidLen
		}
		f.ExceptionCode = modbus.ExceptionCode(pdu[1])
		return f, nil
	}

	body := pdu[1:]

	switch fc {
	case modbus.FuncReadCoils, modbus.FuncReadDiscreteInputs,
		modbus.FuncReadHoldingRegisters, modbus.FuncReadInputRegisters:
		if typ == Request {
			return decodeReadRequest(f, body)
		}
		return decodeReadResponse(f, body, fc)

	case modbus.FuncWriteSingleCoil, modbus.FuncWriteSingleRegister:
		return decodeWriteSingle(f, body)

	case modbus.FuncWriteMultipleCoils:
		if typ == Request {
			return decodeWriteMultipleCoilsRequest(f, body)
		}
		return decodeWriteMultipleAck(f, body)

	case modbus.FuncWriteMultipleRegisters:
		if typ == Request {
			return decodeWriteMultipleRegistersRequest(f, body)
		}
		return decodeWriteMultipleAck(f, body)

	default:
		return nil, modbus.ErrInvalidFunctionCode
	}
}

func decodeReadRequest(f *Frame, body []byte) (*Frame, error) {
	if len(body) != 4 {
		return nil, modbus.ErrInvalidLen
	}
	f.RegAddress = uint16(body[0])<<8 | uint16(body[1])
	f.RegCount = uint16(body[2])<<8 | uint16(body[3])
	return f, nil
}

func decodeReadResponse(f *Frame, body []byte, fc modbus.FunctionCode) (*Frame, error) {
	if len(body) < 1 {
		return nil, modbus.ErrInvalidLen
	}
	byteCount := int(body[0])
	if len(body)-1 != byteCount {
		return nil, modbus.ErrInvalidLen
	}
	f.Data = body[1:]

	switch fc {
	case modbus.FuncReadCoils, modbus.FuncReadDiscreteInputs:
		// RegCount (bit count) is not on the wire for reads; caller
		// (client response matching) fills it in from the request.
	case modbus.FuncReadHoldingRegisters, modbus.FuncReadInputRegisters:
		if byteCount%2 != 0 {
			return nil, modbus.ErrInvalidLen
		}
		f.RegCount = uint16(byteCount / 2)
	}
	return f, nil
}

func decodeWriteSingle(f *Frame, body []byte) (*Frame, error) {
	if len(body) != 4 {
		return nil, modbus.ErrInvalidLen
	}
	f.RegAddress = uint16(body[0])<<8 | uint16(body[1])
	f.RegCount = 1
	f.Data = append([]byte(nil), body[2:4]...)
	return f, nil
}

func decodeWriteMultipleCoilsRequest(f *Frame, body []byte) (*Frame, error) {
	if len(body) < 5 {
		return nil, modbus.ErrInvalidLen
	}
	f.RegAddress = uint16(body[0])<<8 | uint16(body[1])
	f.RegCount = uint16(body[2])<<8 | uint16(body[3])
	byteCount := int(body[4])
	if len(body)-5 != byteCount {
		return nil, modbus.ErrInvalidLen
	}
	expected := int(f.RegCount) / 8
	if f.RegCount%8 != 0 {
		expected++
	}
	if byteCount != expected {
		return nil, modbus.ErrInvalidLen
	}
	f.Data = body[5:]
	return f, nil
}

func decodeWriteMultipleRegistersRequest(f *Frame, body []byte) (*Frame, error) {
	if len(body) < 5 {
		return nil, modbus.ErrInvalidLen
	}
	f.RegAddress = uint16(body[0])<<8 | uint16(body[1])
	f.RegCount = uint16(body[2])<<8 | uint16(body[3])
	byteCount := int(body[4])
	if len(body)-5 != byteCount || byteCount != int(f.RegCount)*2 {
		return nil, modbus.ErrInvalidLen
	}
	f.Data = body[5:]
	return f, nil
}

// decodeWriteMultipleAck decodes the 4-byte "addr+count" acknowledgement
// shared by write-multiple-coils and write-multiple-registers responses.
func decodeWriteMultipleAck(f *Frame, body []byte) (*Frame, error) {
	if len(body) != 4 {
		return nil, modbus.ErrInvalidLen
	}
	f.RegAddress = uint16(body[0])<<8 | uint16(body[1])
	f.RegCount = uint16(body[2])<<8 | uint16(body[3])
	return f, nil
}
