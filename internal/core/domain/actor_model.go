package domain

import (
	"fmt"
	"time"

	"github.com/berfenger/meterbridge/pkg/iammeter_modbus"
	"github.com/berfenger/meterbridge/pkg/pnd"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
	ACTOR_ID_MODBUS       = "modbus"
	ACTOR_ID_IAMMETER     = "iammeter"
	ACTOR_ID_PND          = "pnd"
	ACTOR_ID_CEZ          = "cez"
)

// EntryActorId names a per-entry child actor, e.g. "modbus_<entry id>".
func EntryActorId(kind string, entryId string) string {
	return fmt.Sprintf("%s_%s", kind, entryId)
}

// Modbus

type RefreshModbusDataRequest struct {
	ActorRequestMixIn
}

type RefreshModbusDataResponse struct {
	ActorResponseMixIn
	Snapshot iammeter_modbus.Snapshot
}

// PND

type FetchMeasurementsRequest struct {
	ActorRequestMixIn
	Query pnd.Query
}

type FetchMeasurementsResponse struct {
	ActorResponseMixIn
	Measurements []pnd.Measurement
}

// Coordinators

// CoordinatorRefreshRequest asks the coordinator of an entry for an
// immediate refresh. The master routes it by EntryId.
type CoordinatorRefreshRequest struct {
	ActorRequestMixIn
	EntryMixIn
}

type CoordinatorRefreshResponse struct {
	ActorResponseMixIn
	EntryMixIn
	UpdatedAt time.Time
}

// MQTT

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors []GenericSensor
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

// Health

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
