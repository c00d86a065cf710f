package actor

import (
	"time"

	"github.com/berfenger/meterbridge/internal/core/domain"
	"github.com/berfenger/meterbridge/internal/core/events"
	"github.com/berfenger/meterbridge/internal/metrics"
	"github.com/berfenger/meterbridge/internal/registry"

	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// EntryDeps are shared by all per-entry coordinators.
type EntryDeps struct {
	Registry    *registry.Registry
	Metrics     *metrics.Metrics
	EventStream *eventstream.EventStream
	Logger      *zap.Logger
}

// entryTracker mirrors coordinator results to the registry, the event stream
// and the metrics of one entry.
type entryTracker struct {
	entryId   string
	deps      EntryDeps
	available *bool
	now       func() time.Time
}

func newEntryTracker(entryId string, deps EntryDeps) *entryTracker {
	return &entryTracker{
		entryId: entryId,
		deps:    deps,
		now:     time.Now,
	}
}

func (t *entryTracker) register(device domain.Device, sensors []domain.GenericSensor) {
	t.updateState(func(s *registry.EntryState) {
		s.Device = device
		s.Sensors = sensors
	})
}

// succeeded publishes values and marks the entry available.
func (t *entryTracker) succeeded(sensors []domain.GenericSensor, values map[string]float64) {
	t.setAvailable(true)
	t.publish(events.ValuesToUpdateEvents(sensors, values)...)
	t.updateState(func(s *registry.EntryState) {
		s.Available = true
		s.LastUpdate = t.now()
		s.LastError = ""
		if s.Values == nil {
			s.Values = map[string]float64{}
		}
		for k, v := range values {
			s.Values[k] = v
		}
	})
	t.deps.Metrics.ObservePoll(t.entryId, metrics.RESULT_SUCCESS)
}

// noData keeps the last values and availability.
func (t *entryTracker) noData(err error) {
	t.updateState(func(s *registry.EntryState) {
		s.LastError = err.Error()
	})
	t.deps.Metrics.ObservePoll(t.entryId, metrics.RESULT_NO_DATA)
}

func (t *entryTracker) failed(err error) {
	t.setAvailable(false)
	t.updateState(func(s *registry.EntryState) {
		s.Available = false
		s.LastError = err.Error()
	})
	t.deps.Metrics.ObservePoll(t.entryId, metrics.RESULT_FAILURE)
}

// setAvailable publishes an availability event when the value changes.
func (t *entryTracker) setAvailable(available bool) {
	if t.available != nil && *t.available == available {
		return
	}
	t.available = &available
	t.publish(events.AvailabilityEvent(t.entryId, available))
}

func (t *entryTracker) publish(evs ...any) {
	if t.deps.EventStream == nil {
		return
	}
	for _, ev := range evs {
		t.deps.EventStream.Publish(ev)
	}
}

func (t *entryTracker) updateState(fn func(s *registry.EntryState)) {
	if t.deps.Registry == nil {
		return
	}
	if err := t.deps.Registry.UpdateState(t.entryId, fn); err != nil {
		t.deps.Logger.Warn("registry update failed", zap.String("entry", t.entryId), zap.Error(err))
	}
}
