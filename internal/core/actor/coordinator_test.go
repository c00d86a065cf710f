package actor

import (
	"errors"
	"sync"
	"testing"

	"github.com/berfenger/meterbridge/internal/core/domain"
	"github.com/berfenger/meterbridge/internal/registry"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type eventRecorder struct {
	mutex  sync.Mutex
	events []any
}

func recordEvents(es *eventstream.EventStream) *eventRecorder {
	r := &eventRecorder{}
	es.Subscribe(func(evt any) {
		r.mutex.Lock()
		defer r.mutex.Unlock()
		r.events = append(r.events, evt)
	})
	return r
}

func (r *eventRecorder) availability(entryId string) []bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var out []bool
	for _, evt := range r.events {
		if a, ok := evt.(domain.EntryAvailabilityUpdateEvent); ok && a.EntryId == entryId {
			out = append(out, a.Available)
		}
	}
	return out
}

func (r *eventRecorder) values() map[string]float64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	out := map[string]float64{}
	for _, evt := range r.events {
		if f, ok := evt.(domain.FloatSensorUpdateEvent); ok {
			out[f.SensorId()] = f.Value
		}
	}
	return out
}

func testRegistry(t *testing.T, entries ...registry.Entry) *registry.Registry {
	reg := registry.New()
	for _, e := range entries {
		_, err := reg.Add(e)
		require.NoError(t, err)
	}
	return reg
}

func TestEntryTrackerPublishesAvailabilityChanges(t *testing.T) {
	assert := assert.New(t)
	es := &eventstream.EventStream{}
	rec := recordEvents(es)
	reg := testRegistry(t, registry.Entry{ID: "e1", Domain: registry.DOMAIN_IAMMETER})

	tracker := newEntryTracker("e1", EntryDeps{Registry: reg, EventStream: es, Logger: zap.NewNop()})
	sensors := []domain.GenericSensor{{Id: "garage_voltage_a", Key: "voltage_a", Decimals: 1}}

	tracker.succeeded(sensors, map[string]float64{"voltage_a": 230.1, "unknown": 1})
	tracker.succeeded(sensors, map[string]float64{"voltage_a": 231})
	tracker.failed(errors.New("timeout"))
	tracker.noData(errors.New("exception response"))

	assert.Equal([]bool{true, false}, rec.availability("e1"))
	assert.Equal(map[string]float64{"garage_voltage_a": 231}, rec.values())

	s, ok := reg.State("e1")
	require.True(t, ok)
	assert.False(s.Available)
	assert.Equal("exception response", s.LastError)
	assert.Equal(231.0, s.Values["voltage_a"])
	assert.Equal(1.0, s.Values["unknown"])
}

func TestEntryTrackerWithoutRegistryEntry(t *testing.T) {
	tracker := newEntryTracker("missing", EntryDeps{Registry: registry.New(), Logger: zap.NewNop()})
	assert.NotPanics(t, func() {
		tracker.register(domain.Device{Id: "d"}, nil)
		tracker.failed(errors.New("x"))
	})
}
