package rtu

import (
	"go.bug.st/serial"
)

// PortConfig describes a physical serial port to open via OpenPort.
type PortConfig struct {
	Device   string
	Baud     uint
	DataBits int
	Parity   serial.Parity
	StopBits serial.StopBits
}

// OpenPort opens the named serial device and returns it as a Link.
// serial.Port already satisfies transport/rtu.Link (Read/Write/Close plus
// SetReadTimeout), so no wrapper type is needed.
func OpenPort(conf PortConfig) (Link, error) {
	port, err := serial.Open(conf.Device, &serial.Mode{
		BaudRate: int(conf.Baud),
		DataBits: conf.DataBits,
		Parity:   conf.Parity,
		StopBits: conf.StopBits,
	})
	if err != nil {
		return nil, err
	}
	return port, nil
}
