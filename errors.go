package modbus

import "errors"

// Codec-level errors, returned by frame.Frame.Encode/Decode.
var (
	ErrInvalidFunctionCode   = errors.New("invalid function code")
	ErrInvalidType           = errors.New("invalid register/coil type for function code")
	ErrInvalidException      = errors.New("request frame carries a non-zero exception code")
	ErrInvalidSlaveID        = errors.New("invalid slave id")
	ErrInvalidRegisterCount  = errors.New("invalid register/coil count")
	ErrInvalidCRC            = errors.New("invalid CRC")
	ErrInvalidMBAPProtocolID = errors.New("invalid MBAP protocol id")
	ErrInvalidMBAPLen        = errors.New("MBAP length field does not match buffer size")
	ErrInvalidLen            = errors.New("invalid PDU length")
	ErrBufferTooSmall        = errors.New("destination buffer too small")
)

// ExceptionError wraps a Modbus exception code as reported by a server in
// a SUCCESS response whose ExceptionCode is non-zero. It exists so callers
// that want to treat exceptions as Go errors can use errors.As, while
// callers that follow the protocol's own SUCCESS+ExceptionCode convention
// can read frame.Frame.ExceptionCode directly.
type ExceptionError struct {
	FunctionCode  FunctionCode
	ExceptionCode ExceptionCode
}

func (e *ExceptionError) Error() string {
	return "modbus exception " + exceptionName(e.ExceptionCode)
}

func exceptionName(code ExceptionCode) string {
	switch code {
	case ExIllegalFunction:
		return "illegal function"
	case ExIllegalDataAddress:
		return "illegal data address"
	case ExIllegalDataValue:
		return "illegal data value"
	case ExServerDeviceFailure:
		return "server device failure"
	case ExAcknowledge:
		return "acknowledge"
	case ExServerDeviceBusy:
		return "server device busy"
	case ExMemoryParityError:
		return "memory parity error"
	case ExGatewayPathUnavailable:
		return "gateway path unavailable"
	case ExGatewayTargetFailedToResp:
		return "gateway target device failed to respond"
	default:
		return "unknown exception"
	}
}
