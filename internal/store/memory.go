package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ajitpratap0/evofunk/internal/strategy"
)

// MemoryStore keeps everything in process memory. Paper mode and unit
// tests run on it; nothing survives a restart.
type MemoryStore struct {
	mu         sync.RWMutex
	strategies map[string]*strategy.Strategy
	events     map[string][]*strategy.EvolutionEvent
	snapshots  []*strategy.Snapshot

	failNext error
	pingErr  error
}

// NewMemoryStore builds an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strategies: make(map[string]*strategy.Strategy),
		events:     make(map[string][]*strategy.EvolutionEvent),
	}
}

// FailNext forces the next write operation to return err. Tests use it to
// exercise the commit atomicity contract.
func (m *MemoryStore) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *MemoryStore) takeFailure() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *MemoryStore) SaveStrategy(ctx context.Context, s *strategy.Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.strategies[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) SaveStrategyWithEvent(ctx context.Context, s *strategy.Strategy, ev *strategy.EvolutionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	m.strategies[s.ID] = s.Clone()
	evCopy := *ev
	m.events[s.ID] = append(m.events[s.ID], &evCopy)
	return nil
}

func (m *MemoryStore) GetStrategy(ctx context.Context, id string) (*strategy.Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.strategies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) ListStrategies(ctx context.Context) ([]*strategy.Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*strategy.Strategy, 0, len(m.strategies))
	for _, s := range m.strategies {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ListEvents(ctx context.Context, strategyID string, limit, offset int) ([]*strategy.EvolutionEvent, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.events[strategyID]
	total := len(all)

	// newest first
	ordered := make([]*strategy.EvolutionEvent, total)
	for i, ev := range all {
		ordered[total-1-i] = ev
	}
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	page := make([]*strategy.EvolutionEvent, 0, end-offset)
	for _, ev := range ordered[offset:end] {
		evCopy := *ev
		page = append(page, &evCopy)
	}
	return page, total, nil
}

func (m *MemoryStore) SaveSnapshot(ctx context.Context, snap *strategy.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return err
	}
	snapCopy := *snap
	m.snapshots = append(m.snapshots, &snapCopy)
	return nil
}

// Snapshots returns all stored snapshots, oldest first
func (m *MemoryStore) Snapshots() []*strategy.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*strategy.Snapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}

// FailPing makes Ping return err until cleared with FailPing(nil). Tests
// use it to simulate a store outage.
func (m *MemoryStore) FailPing(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingErr
}

func (m *MemoryStore) Close() {}
