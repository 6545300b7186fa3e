// Package store is the persistence and protection layer. It exclusively
// owns writes to strategy genome, status, and protection fields: other
// components request changes, the layer validates them against lifecycle
// invariants and commits them atomically with their audit records.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ajitpratap0/evofunk/internal/strategy"
)

// ErrNotFound is returned when a strategy id is unknown
var ErrNotFound = errors.New("strategy not found")

// InvariantError identifies a rejected write that would violate a
// lifecycle or protection invariant. It is never silently coerced.
type InvariantError struct {
	Invariant string
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation (%s): %s", e.Invariant, e.Detail)
}

// Store is the durable backend behind the protection layer. Postgres backs
// live deployments; the in-memory implementation backs paper mode and tests.
type Store interface {
	// SaveStrategy upserts a strategy record
	SaveStrategy(ctx context.Context, s *strategy.Strategy) error

	// SaveStrategyWithEvent durably writes a strategy update and its
	// evolution event in one atomic operation: either both persist or
	// neither does.
	SaveStrategyWithEvent(ctx context.Context, s *strategy.Strategy, ev *strategy.EvolutionEvent) error

	// GetStrategy loads one strategy by id; ErrNotFound if unknown
	GetStrategy(ctx context.Context, id string) (*strategy.Strategy, error)

	// ListStrategies loads the full population, retired included
	ListStrategies(ctx context.Context) ([]*strategy.Strategy, error)

	// ListEvents returns a page of a strategy's evolution history, newest
	// first, along with the total event count
	ListEvents(ctx context.Context, strategyID string, limit, offset int) ([]*strategy.EvolutionEvent, int, error)

	// SaveSnapshot appends a point-in-time population snapshot entry
	SaveSnapshot(ctx context.Context, snap *strategy.Snapshot) error

	// Ping checks backend reachability
	Ping(ctx context.Context) error

	// Close releases backend resources
	Close()
}
