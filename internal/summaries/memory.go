package summaries

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sleepwatch/backend/internal/models"
)

// MemoryStore keeps finalized sessions in process memory. It is used when no
// database is configured and in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	summaries map[string]models.SessionSummary
	epochs    map[string][]models.Epoch
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		summaries: make(map[string]models.SessionSummary),
		epochs:    make(map[string][]models.Epoch),
	}
}

func (m *MemoryStore) PersistSummary(_ context.Context, s models.SessionSummary, epochs []models.Epoch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.summaries[s.SessionID]; ok {
		return nil
	}
	m.summaries[s.SessionID] = s
	cp := make([]models.Epoch, len(epochs))
	copy(cp, epochs)
	m.epochs[s.SessionID] = cp
	return nil
}

func (m *MemoryStore) LoadSummary(_ context.Context, sessionID string) (*models.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[sessionID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) LoadEpochs(_ context.Context, sessionID string) ([]models.Epoch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.epochs[sessionID]
	if src == nil {
		return nil, nil
	}
	out := make([]models.Epoch, len(src))
	copy(out, src)
	return out, nil
}

func (m *MemoryStore) LoadRecentSummaries(_ context.Context, since time.Time) ([]models.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.SessionSummary
	for _, s := range m.summaries {
		if !s.StartTime.Before(since) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}
