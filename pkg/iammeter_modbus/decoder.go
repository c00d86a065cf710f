package iammeter_modbus

import (
	"fmt"
	"math"
)

// Decode turns a raw holding register buffer into a snapshot. The buffer must
// hold exactly RegisterCount(t) words.
func Decode(t DeviceType, regs []uint16) (Snapshot, error) {
	p, err := ProfileOf(t)
	if err != nil {
		return nil, err
	}
	if len(regs) != int(p.Registers) {
		return nil, fmt.Errorf("%w: %s expects %d registers, got %d", ErrShortBuffer, t, p.Registers, len(regs))
	}
	c := &registerCursor{regs: regs}
	snapshot := p.decode(c)
	if c.pos != len(regs) {
		// profile table and decode function disagree
		panic(fmt.Sprintf("iammeter: %s decoder consumed %d of %d registers", t, c.pos, len(regs)))
	}
	return snapshot, nil
}

type registerCursor struct {
	regs []uint16
	pos  int
}

func (c *registerCursor) u16() uint16 {
	v := c.regs[c.pos]
	c.pos++
	return v
}

// u32 reads two registers, high word first.
func (c *registerCursor) u32() uint32 {
	hi := uint32(c.u16())
	lo := uint32(c.u16())
	return hi<<16 | lo
}

func (c *registerCursor) i32() int32 {
	return int32(c.u32())
}

func (c *registerCursor) skip(n int) {
	c.pos += n
}

func scale(raw float64, factor float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	// ties go to the even digit
	return math.RoundToEven(raw*factor*p) / p
}

func decodeSinglePhase(c *registerCursor) Snapshot {
	s := Snapshot{}
	s[KEY_VOLTAGE_A] = scale(float64(c.u16()), 0.01, 1)
	s[KEY_CURRENT_A] = scale(float64(c.u16()), 0.01, 1)
	s[KEY_POWER_A] = float64(c.i32())
	s[KEY_IMPORT_ENERGY_A] = scale(float64(c.u32()), 0.0003125, 3)
	s[KEY_EXPORT_ENERGY_A] = scale(float64(c.u32()), 0.0003125, 3)
	return s
}

type phaseKeys struct {
	voltage, current, power, importEnergy, exportEnergy, powerFactor string
}

var threePhaseKeys = []phaseKeys{
	{KEY_VOLTAGE_A, KEY_CURRENT_A, KEY_POWER_A, KEY_IMPORT_ENERGY_A, KEY_EXPORT_ENERGY_A, KEY_POWER_FACTOR_A},
	{KEY_VOLTAGE_B, KEY_CURRENT_B, KEY_POWER_B, KEY_IMPORT_ENERGY_B, KEY_EXPORT_ENERGY_B, KEY_POWER_FACTOR_B},
	{KEY_VOLTAGE_C, KEY_CURRENT_C, KEY_POWER_C, KEY_IMPORT_ENERGY_C, KEY_EXPORT_ENERGY_C, KEY_POWER_FACTOR_C},
}

func decodeThreePhase(c *registerCursor) Snapshot {
	s := Snapshot{}
	for _, k := range threePhaseKeys {
		s[k.voltage] = scale(float64(c.u16()), 0.01, 1)
		s[k.current] = scale(float64(c.u16()), 0.01, 1)
		s[k.power] = float64(c.i32())
		s[k.importEnergy] = scale(float64(c.u32()), 0.00125, 2)
		s[k.exportEnergy] = scale(float64(c.u32()), 0.00125, 2)
		s[k.powerFactor] = scale(float64(c.u16()), 0.001, 2)
		c.skip(1)
	}
	s[KEY_FREQUENCY] = scale(float64(c.u16()), 0.01, 1)
	c.skip(1)
	s[KEY_TOTAL_POWER] = float64(c.i32())
	s[KEY_TOTAL_IMPORT_ENERGY] = scale(float64(c.u32()), 0.00125, 2)
	s[KEY_TOTAL_EXPORT_ENERGY] = scale(float64(c.u32()), 0.00125, 2)
	return s
}
