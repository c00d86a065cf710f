package domain

type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

type GenericSensor struct {
	Device Device
	// entry this sensor belongs to, empty for bridge sensors
	EntryId           string
	Id                string
	Key               string
	SensorType        string
	Name              string
	UniqueId          string
	UnitOfMeasurement string
	StateClass        string // measurement, total, total_increasing
	DeviceClass       string // voltage, current, power, energy, power_factor
	EntityCategory    string // diagnostic, config, nil
	EnabledByDefault  *bool
	Icon              string
	Decimals          uint
}

// SensorDescription is the static part of a sensor, shared by every entry of
// the same integration.
type SensorDescription struct {
	Key               string
	Name              string
	UnitOfMeasurement string
	DeviceClass       string
	StateClass        string
	Icon              string
	Decimals          uint
}
