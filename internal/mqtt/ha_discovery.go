package mqtt

import (
	"fmt"

	"github.com/berfenger/meterbridge/internal/core/domain"
)

const AVAILABILITY_MODE_ALL = "all"

type HADiscoveryConfig struct {
	Device            HADiscoveryDevice         `json:"device"`
	StateTopic        string                    `json:"state_topic"`
	StateClass        string                    `json:"state_class,omitempty"`
	DeviceClass       string                    `json:"device_class,omitempty"`
	UnitOfMeasurement string                    `json:"unit_of_measurement,omitempty"`
	Availability      []HADiscoveryAvailability `json:"availability,omitempty"`
	AvailabilityMode  string                    `json:"availability_mode,omitempty"`
	EntityCategory    string                    `json:"entity_category,omitempty"`
	Name              string                    `json:"name"`
	ObjectId          string                    `json:"object_id,omitempty"`
	UniqueId          string                    `json:"unique_id"`
	Platform          string                    `json:"platform"`
	EnabledByDefault  *bool                     `json:"enabled_by_default,omitempty"`
	PayloadOn         string                    `json:"payload_on,omitempty"`
	PayloadOff        string                    `json:"payload_off,omitempty"`
	Icon              string                    `json:"icon,omitempty"`
	DisplayPrecision  *uint                     `json:"suggested_display_precision,omitempty"`
}

type HADiscoveryAvailability struct {
	Topic               string `json:"topic"`
	PayloadAvailable    string `json:"payload_available,omitempty"`
	PayloadNotAvailable string `json:"payload_not_available,omitempty"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

func (c *MQTTClient) HADiscoverySensorTopic(sensor domain.GenericSensor) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", c.discoveryPrefix(), sensor.SensorType, sensor.Device.Id, sensor.Id)
}

// StateTopic is where updates of sensor are published.
func (c *MQTTClient) StateTopic(sensor domain.GenericSensor) string {
	switch {
	case sensor.Id == domain.SENSOR_ID_BRIDGE_STATE:
		return c.BridgeStateTopic()
	case sensor.SensorType == domain.SENSOR_TYPE_BINARY:
		return c.BinarySensorStateTopic(sensor.Id)
	default:
		return c.SensorStateTopic(sensor.Id)
	}
}

// GenericSensorToHADiscoveryMessage builds the discovery payload. Entry
// sensors are available only while both the bridge and their entry are online.
func GenericSensorToHADiscoveryMessage(client *MQTTClient, sensor domain.GenericSensor) HADiscoveryConfig {
	availability := []HADiscoveryAvailability{availabilityOf(client.BridgeStateTopic())}
	if sensor.EntryId != "" {
		availability = append(availability, availabilityOf(client.AvailabilityTopic(sensor.EntryId)))
	}
	disConfig := HADiscoveryConfig{
		Device:            device(sensor.Device),
		StateTopic:        client.StateTopic(sensor),
		StateClass:        sensor.StateClass,
		DeviceClass:       sensor.DeviceClass,
		UnitOfMeasurement: sensor.UnitOfMeasurement,
		Availability:      availability,
		AvailabilityMode:  AVAILABILITY_MODE_ALL,
		EntityCategory:    sensor.EntityCategory,
		Name:              sensor.Name,
		ObjectId:          sensor.Id,
		UniqueId:          sensor.UniqueId,
		Icon:              sensor.Icon,
		EnabledByDefault:  sensor.EnabledByDefault,
		Platform:          "mqtt",
	}
	if sensor.SensorType == domain.SENSOR_TYPE_SENSOR && sensor.UnitOfMeasurement != "" {
		precision := sensor.Decimals
		disConfig.DisplayPrecision = &precision
	}
	if sensor.Id == domain.SENSOR_ID_BRIDGE_STATE {
		disConfig.PayloadOn = MQTT_PAYLOAD_ONLINE
		disConfig.PayloadOff = MQTT_PAYLOAD_OFFLINE
	} else if sensor.SensorType == domain.SENSOR_TYPE_BINARY {
		disConfig.PayloadOn = MQTT_PAYLOAD_ON
		disConfig.PayloadOff = MQTT_PAYLOAD_OFF
	}
	return disConfig
}

func availabilityOf(topic string) HADiscoveryAvailability {
	return HADiscoveryAvailability{
		Topic:               topic,
		PayloadAvailable:    MQTT_PAYLOAD_ONLINE,
		PayloadNotAvailable: MQTT_PAYLOAD_OFFLINE,
	}
}

func device(d domain.Device) HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{d.Id},
		Manufacturer: d.Manufacturer,
		Version:      d.Version,
		Model:        d.Model,
		Name:         d.Name,
		ViaDevice:    d.ViaDevice,
	}
}
