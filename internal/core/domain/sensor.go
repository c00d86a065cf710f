package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/berfenger/meterbridge/pkg/iammeter_modbus"
	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE       = "bridge"
	SENSOR_ID_CONSUMED_ENERGY    = "consumed_energy"
	SENSOR_ID_RETURNED_ENERGY    = "returned_energy"
	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL            = "total"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_CURRENT         = "current"
	DEVICE_CLASS_ENERGY          = "energy"
	DEVICE_CLASS_POWER           = "power"
	DEVICE_CLASS_POWER_FACTOR    = "power_factor"
	DEVICE_CLASS_VOLTAGE         = "voltage"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"
	UNIT_VOLT                    = "V"
	UNIT_AMPERE                  = "A"
	UNIT_WATT                    = "W"
	UNIT_KILO_WATT_HOUR          = "kWh"
	UNIT_PERCENTAGE              = "%"
	UNIT_HERTZ                   = "Hz"
	MANUFACTURER_IAMMETER        = "IamMeter"
	MANUFACTURER_CEZ             = "CEZ Distribuce"
	MODEL_CEZ_PND                = "PND"
)

var nonIdChars = regexp.MustCompile("[^a-z0-9_]+")

// Slug lower-cases a name and replaces spaces with underscores.
func Slug(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

// SensorId is Slug restricted to characters that are safe in MQTT topics and
// discovery object ids.
func SensorId(parts ...string) string {
	return nonIdChars.ReplaceAllString(Slug(strings.Join(parts, "_")), "_")
}

// Bridge

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("meterbridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "Meterbridge",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Meterbridge %s", md5HashShort(baseTopic)),
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		Key:            SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

// Iammeter

func phaseDescriptions(phase string, energyDecimals uint) []SensorDescription {
	suffix := ""
	key := func(k string) string { return k }
	if phase != "" {
		suffix = " " + strings.ToUpper(phase)
		key = func(k string) string { return k + "_" + phase }
	}
	return []SensorDescription{
		{Key: key("voltage"), Name: "Voltage" + suffix, UnitOfMeasurement: UNIT_VOLT, DeviceClass: DEVICE_CLASS_VOLTAGE, Decimals: 1},
		{Key: key("current"), Name: "Current" + suffix, UnitOfMeasurement: UNIT_AMPERE, DeviceClass: DEVICE_CLASS_CURRENT, Decimals: 1},
		{Key: key("power"), Name: "Power" + suffix, UnitOfMeasurement: UNIT_WATT, DeviceClass: DEVICE_CLASS_POWER, StateClass: STATE_CLASS_MEASUREMENT},
		{Key: key("import_energy"), Name: "Import Energy" + suffix, UnitOfMeasurement: UNIT_KILO_WATT_HOUR, DeviceClass: DEVICE_CLASS_ENERGY, StateClass: STATE_CLASS_TOTAL_INCREASING, Decimals: energyDecimals},
		{Key: key("export_energy"), Name: "Export Energy" + suffix, UnitOfMeasurement: UNIT_KILO_WATT_HOUR, DeviceClass: DEVICE_CLASS_ENERGY, StateClass: STATE_CLASS_TOTAL_INCREASING, Decimals: energyDecimals},
	}
}

// IammeterSensorTypes lists the entities exposed for a meter model.
func IammeterSensorTypes(t iammeter_modbus.DeviceType) []SensorDescription {
	if !t.IsThreePhase() {
		// single phase names carry no suffix but keys keep the _a
		descs := phaseDescriptions("", 3)
		for i := range descs {
			descs[i].Key += "_a"
		}
		return descs
	}
	var descs []SensorDescription
	for _, phase := range []string{"a", "b", "c"} {
		descs = append(descs, phaseDescriptions(phase, 2)...)
		descs = append(descs, SensorDescription{
			Key:               "power_factor_" + phase,
			Name:              "Power Factor " + strings.ToUpper(phase),
			UnitOfMeasurement: UNIT_PERCENTAGE,
			DeviceClass:       DEVICE_CLASS_POWER_FACTOR,
			Decimals:          2,
		})
	}
	descs = append(descs,
		SensorDescription{Key: iammeter_modbus.KEY_FREQUENCY, Name: "Frequency", UnitOfMeasurement: UNIT_HERTZ, Decimals: 1},
		SensorDescription{Key: iammeter_modbus.KEY_TOTAL_POWER, Name: "Total Power", UnitOfMeasurement: UNIT_WATT, DeviceClass: DEVICE_CLASS_POWER, StateClass: STATE_CLASS_MEASUREMENT},
		SensorDescription{Key: iammeter_modbus.KEY_TOTAL_IMPORT_ENERGY, Name: "Total Import Energy", UnitOfMeasurement: UNIT_KILO_WATT_HOUR, DeviceClass: DEVICE_CLASS_ENERGY, StateClass: STATE_CLASS_TOTAL_INCREASING, Decimals: 2},
		SensorDescription{Key: iammeter_modbus.KEY_TOTAL_EXPORT_ENERGY, Name: "Total Export Energy", UnitOfMeasurement: UNIT_KILO_WATT_HOUR, DeviceClass: DEVICE_CLASS_ENERGY, StateClass: STATE_CLASS_TOTAL_INCREASING, Decimals: 2},
	)
	return descs
}

func IammeterDevice(hubName string, t iammeter_modbus.DeviceType) Device {
	return Device{
		Id:           SensorId("iammeter", hubName),
		Name:         hubName,
		Manufacturer: MANUFACTURER_IAMMETER,
		Model:        string(t),
	}
}

// IammeterSensors builds one sensor per description. Names read
// "<hub> <description>" and unique ids "<hub>_<key>".
func IammeterSensors(entryId string, device Device, hubName string, t iammeter_modbus.DeviceType) []GenericSensor {
	var sensors []GenericSensor
	for _, desc := range IammeterSensorTypes(t) {
		sensors = append(sensors, fromDescription(entryId, device, desc,
			fmt.Sprintf("%s %s", hubName, desc.Name),
			fmt.Sprintf("%s_%s", hubName, desc.Key),
			SensorId(hubName, desc.Key)))
	}
	return sensors
}

// CEZ Distribuce PND

func CezSensorTypes() []SensorDescription {
	return []SensorDescription{
		{Key: SENSOR_ID_CONSUMED_ENERGY, Name: "Consumed Energy", UnitOfMeasurement: UNIT_KILO_WATT_HOUR, DeviceClass: DEVICE_CLASS_ENERGY, StateClass: STATE_CLASS_TOTAL, Icon: "mdi:transmission-tower-export", Decimals: 3},
		{Key: SENSOR_ID_RETURNED_ENERGY, Name: "Returned Energy", UnitOfMeasurement: UNIT_KILO_WATT_HOUR, DeviceClass: DEVICE_CLASS_ENERGY, StateClass: STATE_CLASS_TOTAL, Icon: "mdi:transmission-tower-import", Decimals: 3},
	}
}

func CezDevice(pndDevice string) Device {
	return Device{
		Id:           SensorId("cez_distribuce_pnd", pndDevice),
		Name:         fmt.Sprintf("CEZ Distribuce PND %s", pndDevice),
		Manufacturer: MANUFACTURER_CEZ,
		Model:        MODEL_CEZ_PND,
	}
}

// CezSensors uses "<device slug>_<key>" as unique id.
func CezSensors(entryId string, device Device, pndDevice string) []GenericSensor {
	var sensors []GenericSensor
	for _, desc := range CezSensorTypes() {
		unique := fmt.Sprintf("%s_%s", Slug(pndDevice), desc.Key)
		sensors = append(sensors, fromDescription(entryId, device, desc,
			fmt.Sprintf("%s %s", device.Name, desc.Name),
			unique,
			SensorId("cez_distribuce_pnd", unique)))
	}
	return sensors
}

func fromDescription(entryId string, device Device, desc SensorDescription, name, unique, id string) GenericSensor {
	return GenericSensor{
		Device:            device,
		EntryId:           entryId,
		Id:                id,
		Key:               desc.Key,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              name,
		UniqueId:          unique,
		UnitOfMeasurement: desc.UnitOfMeasurement,
		StateClass:        desc.StateClass,
		DeviceClass:       desc.DeviceClass,
		Icon:              desc.Icon,
		Decimals:          desc.Decimals,
	}
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}
