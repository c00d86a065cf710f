package events

import (
	. "github.com/berfenger/meterbridge/internal/core/domain"
)

// ValuesToUpdateEvents emits one FloatSensorUpdateEvent per sensor whose key
// is present in values. Sensors without a value are skipped, so a snapshot
// never publishes a partial zero.
func ValuesToUpdateEvents(sensors []GenericSensor, values map[string]float64) []any {
	var events []any
	for _, sensor := range sensors {
		value, ok := values[sensor.Key]
		if !ok {
			continue
		}
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: sensor.Id,
			},
			Value:    value,
			Decimals: sensor.Decimals,
		})
	}
	return events
}

func AvailabilityEvent(entryId string, available bool) any {
	return NewEntryAvailabilityEvent(entryId, available)
}

func BridgeStateEvent(online bool) any {
	return BridgeStateUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_BRIDGE_STATE,
		},
		Value: online,
	}
}
