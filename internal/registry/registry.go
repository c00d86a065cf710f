package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/berfenger/meterbridge/internal/core/domain"
	"github.com/google/uuid"
)

const (
	DOMAIN_IAMMETER = "iammeter_modbus"
	DOMAIN_CEZ      = "cez_distribuce_pnd"
)

var (
	ErrEntryNotFound = errors.New("entry not found")
	ErrDuplicateId   = errors.New("duplicate entry id")
)

// Entry is one configured integration instance.
type Entry struct {
	ID             string
	Domain         string
	Title          string
	Disabled       bool
	DisablePolling bool
	Data           map[string]any
}

// EntryState is the runtime view of an entry as last seen by its coordinator.
type EntryState struct {
	Available  bool
	LastUpdate time.Time
	LastError  string
	Values     map[string]float64
	Device     domain.Device
	Sensors    []domain.GenericSensor
}

type Registry struct {
	mutex   sync.RWMutex
	entries map[string]Entry
	states  map[string]EntryState
}

func New() *Registry {
	return &Registry{
		entries: map[string]Entry{},
		states:  map[string]EntryState{},
	}
}

// Add stores the entry and returns its id. An empty id is generated.
func (r *Registry) Add(entry Entry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.entries[entry.ID]; ok {
		return "", fmt.Errorf("%w: %s", ErrDuplicateId, entry.ID)
	}
	r.entries[entry.ID] = entry
	return entry.ID, nil
}

func (r *Registry) Get(id string) (Entry, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Remove drops the entry together with its state.
func (r *Registry) Remove(id string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	_, ok := r.entries[id]
	delete(r.entries, id)
	delete(r.states, id)
	return ok
}

// List returns entries sorted by domain then title.
func (r *Registry) List() []Entry {
	r.mutex.RLock()
	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mutex.RUnlock()
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Domain != entries[j].Domain {
			return entries[i].Domain < entries[j].Domain
		}
		if entries[i].Title != entries[j].Title {
			return entries[i].Title < entries[j].Title
		}
		return entries[i].ID < entries[j].ID
	})
	return entries
}

func (r *Registry) SetState(id string, state EntryState) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	r.states[id] = cloneState(state)
	return nil
}

// UpdateState applies fn to the current state of id under the write lock.
func (r *Registry) UpdateState(id string, fn func(state *EntryState)) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if _, ok := r.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	state := cloneState(r.states[id])
	fn(&state)
	r.states[id] = state
	return nil
}

func (r *Registry) State(id string) (EntryState, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	s, ok := r.states[id]
	if !ok {
		return EntryState{}, false
	}
	return cloneState(s), true
}

func cloneState(s EntryState) EntryState {
	if s.Values != nil {
		values := make(map[string]float64, len(s.Values))
		for k, v := range s.Values {
			values[k] = v
		}
		s.Values = values
	}
	s.Sensors = append([]domain.GenericSensor(nil), s.Sensors...)
	return s
}
