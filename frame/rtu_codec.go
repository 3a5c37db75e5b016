package frame

import (
	"github.com/rinzlermodbus/gomodbus"
)

const (
	minRTUFrameLength = 4
	maxRTUFrameLength = 256
)

// EncodeRTU renders f as an RTU ADU: slave id, PDU, then a little-endian
// CRC-16 over everything preceding it.
func EncodeRTU(f *Frame, role Role) ([]byte, error) {
	if err := Validate(f, role); err != nil {
		return nil, err
	}

	pdu, err := encodePDU(f)
	if err != nil {
		return nil, err
	}

	adu := make([]byte, 0, 1+len(pdu)+2)
	adu = append(adu, f.SlaveID)
	adu = append(adu, pdu...)
	adu = append(adu, crcBytes(adu)...)

	if len(adu) > maxRTUFrameLength {
		return nil, modbus.ErrInvalidLen
	}
	return adu, nil
}

// DecodeRTU parses an RTU ADU (slave id + PDU + CRC) into a Frame.
func DecodeRTU(adu []byte, typ Type) (*Frame, error) {
	if len(adu) < minRTUFrameLength || len(adu) > maxRTUFrameLength {
		return nil, modbus.ErrInvalidLen
	}

	body, crcField := adu[:len(adu)-2], adu[len(adu)-2:]
	var c crc
	c.init()
	c.add(body)
	if !c.isEqual(crcField[0], crcField[1]) {
		return nil, modbus.ErrInvalidCRC
	}

	slaveID := body[0]
	if typ == Response && (slaveID == modbus.BroadcastSlaveID || slaveID == modbus.AnySlaveID) {
		return nil, modbus.ErrInvalidSlaveID
	}

	f, err := decodePDU(body[1:], typ)
	if err != nil {
		return nil, err
	}
	f.SlaveID = slaveID
	return f, nil
}

func crcBytes(data []byte) []byte {
	var c crc
	c.init()
	c.add(data)
	return c.value()
}
