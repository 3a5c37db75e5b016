package frame

import (
	"github.com/rinzlermodbus/gomodbus"
)

// Role distinguishes how a Frame is about to be used, for slave-id
// validation purposes: a client builds and validates Requests, a server
// builds and validates Responses.
type Role uint8

const (
	ClientRole Role = iota
	ServerRole
)

// Validate checks a Frame against the field-range rules of §4.1 before it
// is handed to a codec's Encode. It does not look at Data's length in
// detail (that cross-check happens inside the per-fc encode/decode
// functions, where the exact byte layout is known).
func Validate(f *Frame, role Role) error {
	if f.Type == Request && f.IsException() {
		return modbus.ErrInvalidException
	}

	if err := validateSlaveID(f, role); err != nil {
		return err
	}

	if f.Type == Response && f.IsException() {
		// exception responses carry no register payload to validate
		return nil
	}

	switch f.FunctionCode {
	case modbus.FuncReadCoils, modbus.FuncReadDiscreteInputs:
		return validateCount(f.RegCount, 1, modbus.MaxReadBitCount)
	case modbus.FuncReadHoldingRegisters, modbus.FuncReadInputRegisters:
		return validateCount(f.RegCount, 1, modbus.MaxReadRegisterCount)
	case modbus.FuncWriteMultipleCoils:
		return validateCount(f.RegCount, 1, modbus.MaxWriteBitCount)
	case modbus.FuncWriteMultipleRegisters:
		return validateCount(f.RegCount, 1, modbus.MaxWriteRegisterCount)
	case modbus.FuncWriteSingleCoil, modbus.FuncWriteSingleRegister:
		if f.RegCount != 1 {
			return modbus.ErrInvalidRegisterCount
		}
		return nil
	default:
		return modbus.ErrInvalidFunctionCode
	}
}

func validateCount(count uint16, min, max int) error {
	if int(count) < min || int(count) > max {
		return modbus.ErrInvalidRegisterCount
	}
	return nil
}

func validateSlaveID(f *Frame, role Role) error {
	if f.Type == Request {
		// 0..247 is allowed for requests; 0 (broadcast) is only legal
		// for write function codes.
		if f.SlaveID > 247 {
			return modbus.ErrInvalidSlaveID
		}
		if f.SlaveID == modbus.BroadcastSlaveID && !isWriteFunction(f.FunctionCode) {
			return modbus.ErrInvalidSlaveID
		}
		return nil
	}

	// Response: must be 1..247, except a TCP server may echo the unit-id
	// wildcard (255) back for its own unit — that check is left to the
	// TCP codec/transport since it alone knows about catch-all mode.
	if f.SlaveID == modbus.BroadcastSlaveID {
		return modbus.ErrInvalidSlaveID
	}
	if f.SlaveID > 247 && f.SlaveID != modbus.AnySlaveID {
		return modbus.ErrInvalidSlaveID
	}
	return nil
}

func isWriteFunction(fc modbus.FunctionCode) bool {
	switch fc {
	case modbus.FuncWriteSingleCoil, modbus.FuncWriteSingleRegister,
		modbus.FuncWriteMultipleCoils, modbus.FuncWriteMultipleRegisters:
		return true
	default:
		return false
	}
}
