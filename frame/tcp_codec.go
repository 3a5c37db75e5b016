package frame

import (
	"github.com/rinzlermodbus/gomodbus"
)

const (
	mbapHeaderLength = 7
	// total ADU bounds: header (7) + PDU (2..253)
	minTCPFrameLength = mbapHeaderLength + 2
	maxTCPFrameLength = mbapHeaderLength + 253
)

// EncodeTCP renders f as an MBAP-framed ADU: txid, protocol id (0),
// length, unit id, PDU. f.TxnID is carried through verbatim.
func EncodeTCP(f *Frame, role Role) ([]byte, error) {
	if err := Validate(f, role); err != nil {
		return nil, err
	}

	pdu, err := encodePDU(f)
	if err != nil {
		return nil, err
	}

	length := uint16(1 + len(pdu))
	out := make([]byte, 0, mbapHeaderLength+len(pdu))
	out = append(out,
		byte(f.TxnID>>8), byte(f.TxnID),
		0x00, 0x00, // protocol id
		byte(length>>8), byte(length),
		f.SlaveID,
	)
	out = append(out, pdu...)

	if len(out) > maxTCPFrameLength {
		return nil, modbus.ErrInvalidLen
	}
	return out, nil
}

// DecodeTCP parses an MBAP-framed ADU into a Frame.
func DecodeTCP(adu []byte, typ Type) (*Frame, error) {
	if len(adu) < minTCPFrameLength || len(adu) > maxTCPFrameLength {
		return nil, modbus.ErrInvalidLen
	}

	txnID := uint16(adu[0])<<8 | uint16(adu[1])
	protoID := uint16(adu[2])<<8 | uint16(adu[3])
	length := uint16(adu[4])<<8 | uint16(adu[5])
	unitID := adu[6]

	if protoID != 0 {
		return nil, modbus.ErrInvalidMBAPProtocolID
	}
	if int(length) != len(adu)-6 {
		return nil, modbus.ErrInvalidMBAPLen
	}

	f, err := decodePDU(adu[7:], typ)
	if err != nil {
		return nil, err
	}
	f.SlaveID = unitID
	f.TxnID = txnID
	return f, nil
}
