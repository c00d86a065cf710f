package domain

import "fmt"

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

// EntryAvailabilityUpdateEvent toggles every entity of one entry between
// online and offline.
type EntryAvailabilityUpdateEvent struct {
	SensorUpdateEventMixIn
	EntryId   string
	Available bool
}

func NewEntryAvailabilityEvent(entryId string, available bool) EntryAvailabilityUpdateEvent {
	return EntryAvailabilityUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: entryId},
		EntryId:                entryId,
		Available:              available,
	}
}
