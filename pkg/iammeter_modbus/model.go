package iammeter_modbus

import (
	"errors"
	"fmt"
	"strings"
)

type DeviceType string

const (
	DEVICE_TYPE_WEM3080  DeviceType = "WEM3080"
	DEVICE_TYPE_WEM3080T DeviceType = "WEM3080T"
)

const (
	KEY_VOLTAGE_A           = "voltage_a"
	KEY_CURRENT_A           = "current_a"
	KEY_POWER_A             = "power_a"
	KEY_IMPORT_ENERGY_A     = "import_energy_a"
	KEY_EXPORT_ENERGY_A     = "export_energy_a"
	KEY_POWER_FACTOR_A      = "power_factor_a"
	KEY_VOLTAGE_B           = "voltage_b"
	KEY_CURRENT_B           = "current_b"
	KEY_POWER_B             = "power_b"
	KEY_IMPORT_ENERGY_B     = "import_energy_b"
	KEY_EXPORT_ENERGY_B     = "export_energy_b"
	KEY_POWER_FACTOR_B      = "power_factor_b"
	KEY_VOLTAGE_C           = "voltage_c"
	KEY_CURRENT_C           = "current_c"
	KEY_POWER_C             = "power_c"
	KEY_IMPORT_ENERGY_C     = "import_energy_c"
	KEY_EXPORT_ENERGY_C     = "export_energy_c"
	KEY_POWER_FACTOR_C      = "power_factor_c"
	KEY_FREQUENCY           = "frequency"
	KEY_TOTAL_POWER         = "total_power"
	KEY_TOTAL_IMPORT_ENERGY = "total_import_energy"
	KEY_TOTAL_EXPORT_ENERGY = "total_export_energy"
)

var (
	// ErrShortBuffer is returned when a register buffer does not match the profile length.
	ErrShortBuffer = errors.New("register buffer length mismatch")
	// ErrNoData means the meter answered but produced nothing usable this cycle.
	ErrNoData = errors.New("no data")
	// ErrUpdateFailed is returned by Refresh once the retry is exhausted.
	ErrUpdateFailed = errors.New("update failed")
	ErrUnknownDeviceType = errors.New("unknown device type")
)

// Snapshot maps a field key to its scaled value. It is always complete for the
// device profile that produced it.
type Snapshot map[string]float64

type Profile struct {
	Registers uint16
	decode    func(c *registerCursor) Snapshot
}

var profiles = map[DeviceType]Profile{
	DEVICE_TYPE_WEM3080:  {Registers: 8, decode: decodeSinglePhase},
	DEVICE_TYPE_WEM3080T: {Registers: 38, decode: decodeThreePhase},
}

func ParseDeviceType(s string) (DeviceType, error) {
	t := DeviceType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := profiles[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDeviceType, s)
	}
	return t, nil
}

func ProfileOf(t DeviceType) (Profile, error) {
	p, ok := profiles[t]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownDeviceType, string(t))
	}
	return p, nil
}

// RegisterCount returns the number of holding registers read per poll, or 0 for unknown types.
func RegisterCount(t DeviceType) uint16 {
	return profiles[t].Registers
}

func (t DeviceType) IsThreePhase() bool {
	return t == DEVICE_TYPE_WEM3080T
}
