package client

import (
	"github.com/rinzlermodbus/gomodbus"
	"github.com/rinzlermodbus/gomodbus/frame"
)

func (c *Client) newRequest(fc modbus.FunctionCode, addr, count uint16) *frame.Frame {
	return &frame.Frame{
		Type:         frame.Request,
		FunctionCode: fc,
		SlaveID:      c.unitID,
		RegAddress:   addr,
		RegCount:     count,
	}
}

func (c *Client) roundTrip(req *frame.Frame) (*frame.Frame, error) {
	resp, err := c.SendRequest(req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		// broadcasts draw no response; there is nothing further to validate.
		return nil, nil
	}
	if resp.IsException() {
		return nil, &modbus.ExceptionError{FunctionCode: req.FunctionCode, ExceptionCode: resp.ExceptionCode}
	}
	return resp, nil
}

// ReadCoils reads quantity coils starting at addr (function code 01).
func (c *Client) ReadCoils(addr, quantity uint16) ([]bool, error) {
	resp, err := c.roundTrip(c.newRequest(modbus.FuncReadCoils, addr, quantity))
	if err != nil {
		return nil, err
	}
	return frame.UnpackCoils(resp.Data, int(quantity)), nil
}

// ReadDiscreteInputs reads quantity discrete inputs starting at addr
// (function code 02).
func (c *Client) ReadDiscreteInputs(addr, quantity uint16) ([]bool, error) {
	resp, err := c.roundTrip(c.newRequest(modbus.FuncReadDiscreteInputs, addr, quantity))
	if err != nil {
		return nil, err
	}
	return frame.UnpackCoils(resp.Data, int(quantity)), nil
}

// ReadHoldingRegisters reads quantity holding registers starting at addr
// (function code 03).
func (c *Client) ReadHoldingRegisters(addr, quantity uint16) ([]uint16, error) {
	resp, err := c.roundTrip(c.newRequest(modbus.FuncReadHoldingRegisters, addr, quantity))
	if err != nil {
		return nil, err
	}
	return frame.UnpackRegisters(resp.Data), nil
}

// ReadInputRegisters reads quantity input registers starting at addr
// (function code 04).
func (c *Client) ReadInputRegisters(addr, quantity uint16) ([]uint16, error) {
	resp, err := c.roundTrip(c.newRequest(modbus.FuncReadInputRegisters, addr, quantity))
	if err != nil {
		return nil, err
	}
	return frame.UnpackRegisters(resp.Data), nil
}

// WriteSingleCoil writes a single coil (function code 05).
func (c *Client) WriteSingleCoil(addr uint16, value bool) error {
	req := c.newRequest(modbus.FuncWriteSingleCoil, addr, 1)
	if value {
		req.Data = []byte{0xFF, 0x00}
	} else {
		req.Data = []byte{0x00, 0x00}
	}
	_, err := c.roundTrip(req)
	return err
}

// WriteSingleRegister writes a single holding register (function code 06).
func (c *Client) WriteSingleRegister(addr, value uint16) error {
	req := c.newRequest(modbus.FuncWriteSingleRegister, addr, 1)
	req.Data = []byte{byte(value >> 8), byte(value)}
	_, err := c.roundTrip(req)
	return err
}

// WriteMultipleCoils writes values starting at addr (function code 15).
func (c *Client) WriteMultipleCoils(addr uint16, values []bool) error {
	req := c.newRequest(modbus.FuncWriteMultipleCoils, addr, uint16(len(values)))
	req.Data = frame.PackCoils(values)
	_, err := c.roundTrip(req)
	return err
}

// WriteMultipleRegisters writes values starting at addr (function code 16).
func (c *Client) WriteMultipleRegisters(addr uint16, values []uint16) error {
	req := c.newRequest(modbus.FuncWriteMultipleRegisters, addr, uint16(len(values)))
	req.Data = frame.PackRegisters(values)
	_, err := c.roundTrip(req)
	return err
}
