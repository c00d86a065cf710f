package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/berfenger/meterbridge/internal/core/domain"
	"github.com/berfenger/meterbridge/internal/core/port"
)

// MemoryStatisticsStore keeps statistics in process. Used in tests and when
// no database is configured.
type MemoryStatisticsStore struct {
	mutex    sync.RWMutex
	metadata map[string]domain.StatisticMetadata
	// sorted by start
	points  map[string][]domain.StatisticPoint
	imports int
}

var _ port.StatisticsStore = (*MemoryStatisticsStore)(nil)

func NewMemoryStatisticsStore() *MemoryStatisticsStore {
	return &MemoryStatisticsStore{
		metadata: map[string]domain.StatisticMetadata{},
		points:   map[string][]domain.StatisticPoint{},
	}
}

func (s *MemoryStatisticsStore) ChangeDuring(_ context.Context, statisticId string, start, end time.Time) (float64, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	var change float64
	for _, p := range s.points[statisticId] {
		if !p.Start.Before(start) && p.Start.Before(end) {
			change += p.State
		}
	}
	return change, nil
}

func (s *MemoryStatisticsStore) LastSum(_ context.Context, statisticId string) (float64, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	points := s.points[statisticId]
	if len(points) == 0 {
		return 0, false, nil
	}
	return points[len(points)-1].Sum, true, nil
}

func (s *MemoryStatisticsStore) Import(_ context.Context, metadata domain.StatisticMetadata, points []domain.StatisticPoint) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.imports++
	s.metadata[metadata.StatisticId] = metadata
	current := s.points[metadata.StatisticId]
	for _, p := range points {
		replaced := false
		for i := range current {
			if current[i].Start.Equal(p.Start) {
				current[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			current = append(current, p)
		}
	}
	sort.Slice(current, func(i, j int) bool { return current[i].Start.Before(current[j].Start) })
	s.points[metadata.StatisticId] = current
	return nil
}

func (s *MemoryStatisticsStore) Points(_ context.Context, statisticId string) ([]domain.StatisticPoint, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]domain.StatisticPoint(nil), s.points[statisticId]...), nil
}

func (s *MemoryStatisticsStore) Metadata(statisticId string) (domain.StatisticMetadata, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	m, ok := s.metadata[statisticId]
	return m, ok
}

// Imports counts Import calls.
func (s *MemoryStatisticsStore) Imports() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.imports
}
