package iammeter_modbus

import (
	"errors"
	"sync"
)

var ErrTestClientClosed = errors.New("test client is not open")

type TestResponse struct {
	Registers []uint16
	Err       error
}

// TestRegisterClient replays scripted responses. Once the script is exhausted
// the last response repeats.
type TestRegisterClient struct {
	Responses  []TestResponse
	OpenErrors []error

	mutex  sync.Mutex
	open   bool
	opens  int
	closes int
	reads  int
}

var _ RegisterClient = (*TestRegisterClient)(nil)

func CreateTestRegisterClient(t DeviceType) *TestRegisterClient {
	var regs []uint16
	if t.IsThreePhase() {
		regs = TestThreePhaseRegisters()
	} else {
		regs = TestSinglePhaseRegisters()
	}
	return &TestRegisterClient{Responses: []TestResponse{{Registers: regs}}}
}

func (c *TestRegisterClient) Open() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	n := c.opens
	c.opens++
	if n < len(c.OpenErrors) && c.OpenErrors[n] != nil {
		return c.OpenErrors[n]
	}
	c.open = true
	return nil
}

func (c *TestRegisterClient) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.closes++
	c.open = false
	return nil
}

func (c *TestRegisterClient) ReadRegisters(addr uint16, quantity uint16) ([]uint16, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.open {
		return nil, ErrTestClientClosed
	}
	if len(c.Responses) == 0 {
		return make([]uint16, quantity), nil
	}
	n := c.reads
	c.reads++
	if n >= len(c.Responses) {
		n = len(c.Responses) - 1
	}
	r := c.Responses[n]
	if r.Err != nil {
		return nil, r.Err
	}
	return append([]uint16(nil), r.Registers...), nil
}

func (c *TestRegisterClient) Opens() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.opens
}

func (c *TestRegisterClient) Closes() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.closes
}

func (c *TestRegisterClient) Reads() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.reads
}

// TestSinglePhaseRegisters is a WEM3080 frame: 230.1 V, 5.1 A, -850 W,
// 1000 kWh imported, 12.5 kWh exported.
func TestSinglePhaseRegisters() []uint16 {
	return []uint16{
		23012,
		512,
		0xFFFF, 0xFCAE,
		0x0030, 0xD400,
		0x0000, 0x9C40,
	}
}

// TestThreePhaseRegisters is a WEM3080T frame with distinct values per phase.
// Padding registers hold 0xDEAD.
func TestThreePhaseRegisters() []uint16 {
	return []uint16{
		// phase a
		23012, 512, 0x0000, 0x04B0, 0x000C, 0x3500, 0x0000, 0x3E80, 987, 0xDEAD,
		// phase b
		23104, 250, 0xFFFF, 0xFF38, 0x0001, 0x86A0, 0x0000, 0x0000, 1000, 0xDEAD,
		// phase c
		22950, 1, 0x0000, 0x0000, 0x0000, 0x0320, 0x0000, 0x0001, 500, 0xDEAD,
		// frequency, pad
		5001, 0xDEAD,
		// totals
		0x0000, 0x03E8, 0x000E, 0x0BC0, 0x0000, 0x3E81,
	}
}
