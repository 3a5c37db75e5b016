// Package modbus defines the shared vocabulary of the stack: function
// codes, exception codes and register/coil types. Concrete client, server,
// transport and bridge functionality lives in the client, server,
// transport and bridge subpackages; this package is imported by all of
// them for the constants, so it never imports any of them back.
package modbus

// FunctionCode identifies a Modbus operation. The high bit (0x80) is never
// set on a FunctionCode value in this model — it is a wire-only marker for
// exception responses, added and stripped exclusively by the frame codecs.
type FunctionCode uint8

const (
	FuncReadCoils              FunctionCode = 0x01
	FuncReadDiscreteInputs     FunctionCode = 0x02
	FuncReadHoldingRegisters   FunctionCode = 0x03
	FuncReadInputRegisters     FunctionCode = 0x04
	FuncWriteSingleCoil        FunctionCode = 0x05
	FuncWriteSingleRegister    FunctionCode = 0x06
	FuncWriteMultipleCoils     FunctionCode = 0x0F
	FuncWriteMultipleRegisters FunctionCode = 0x10
)

// ExceptionCode is a Modbus exception byte, carried in responses whose
// function code has the 0x80 bit set on the wire.
type ExceptionCode uint8

const (
	ExNone                      ExceptionCode = 0x00
	ExIllegalFunction           ExceptionCode = 0x01
	ExIllegalDataAddress        ExceptionCode = 0x02
	ExIllegalDataValue          ExceptionCode = 0x03
	ExServerDeviceFailure       ExceptionCode = 0x04
	ExAcknowledge               ExceptionCode = 0x05
	ExServerDeviceBusy          ExceptionCode = 0x06
	ExMemoryParityError         ExceptionCode = 0x08
	ExGatewayPathUnavailable    ExceptionCode = 0x0A
	ExGatewayTargetFailedToResp ExceptionCode = 0x0B
)

// RegisterType identifies which of the four Modbus data tables an address
// refers to.
type RegisterType uint8

const (
	Coil            RegisterType = iota // 1-bit, read/write
	DiscreteInput                       // 1-bit, read-only
	HoldingRegister                     // 16-bit, read/write
	InputRegister                       // 16-bit, read-only
)

func (t RegisterType) String() string {
	switch t {
	case Coil:
		return "coil"
	case DiscreteInput:
		return "discrete-input"
	case HoldingRegister:
		return "holding-register"
	case InputRegister:
		return "input-register"
	default:
		return "unknown-register-type"
	}
}

// ReadOnly reports whether the register type can only be read by clients
// (DiscreteInput, InputRegister) as opposed to read and written (Coil,
// HoldingRegister).
func (t RegisterType) ReadOnly() bool {
	return t == DiscreteInput || t == InputRegister
}

// Per-function-code register count limits, see §4.1 of the protocol
// specification this stack implements.
const (
	MaxReadBitCount       = 2000
	MaxReadRegisterCount  = 125
	MaxWriteBitCount      = 1968
	MaxWriteRegisterCount = 123
)

// MaxWordSize bounds how many registers a single server-side Word may
// span.
const MaxWordSize = 125

// Slave id reserved values.
const (
	BroadcastSlaveID uint8 = 0
	AnySlaveID       uint8 = 255 // TCP "any unit id" marker
)
