// Package diagnostics renders a redacted per-entry dump for troubleshooting.
package diagnostics

import (
	"time"

	"github.com/berfenger/meterbridge/internal/registry"
)

const REDACTED = "**REDACTED**"

var TO_REDACT = []string{"password", "username", "host"}

// Build returns the diagnostics document of one entry. state may be the zero
// value when the coordinator has not reported yet.
func Build(entry registry.Entry, state registry.EntryState) map[string]any {
	data := map[string]any{}
	if entry.Data != nil {
		data = Redact(entry.Data, TO_REDACT).(map[string]any)
	}

	var disabledBy any
	if entry.Disabled {
		disabledBy = "user"
	}
	data["disabled_by"] = disabledBy
	data["disabled_polling"] = entry.DisablePolling
	data["available"] = state.Available
	if state.LastError != "" {
		data["last_error"] = state.LastError
	}

	device := map[string]any{}
	if state.Device.Id != "" {
		entities := []map[string]any{}
		for _, sensor := range state.Sensors {
			var sensorState any
			if value, ok := state.Values[sensor.Key]; ok {
				sensorState = map[string]any{
					"value":        value,
					"last_updated": state.LastUpdate.Format(time.RFC3339),
				}
			}
			entities = append(entities, map[string]any{
				"key":                 sensor.Key,
				"name":                sensor.Name,
				"device_class":        sensor.DeviceClass,
				"state_class":         sensor.StateClass,
				"unit_of_measurement": sensor.UnitOfMeasurement,
				"icon":                sensor.Icon,
				"entity_category":     sensor.EntityCategory,
				"state":               sensorState,
			})
		}
		device["home_assistant"] = map[string]any{
			"name":         state.Device.Name,
			"manufacturer": state.Device.Manufacturer,
			"model":        state.Device.Model,
			"disabled":     entry.Disabled,
			"entities":     entities,
		}
	}
	data["device"] = device
	return data
}

// Redact copies data replacing the value of every key in keys, at any depth.
func Redact(data any, keys []string) any {
	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, value := range v {
			if contains(keys, k) {
				out[k] = REDACTED
				continue
			}
			out[k] = Redact(value, keys)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, value := range v {
			out[i] = Redact(value, keys)
		}
		return out
	case []map[string]any:
		out := make([]any, len(v))
		for i, value := range v {
			out[i] = Redact(value, keys)
		}
		return out
	default:
		return data
	}
}

func contains(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
