package recurrence

import (
	"fmt"
	"sort"
	"sync"

	"almanac/internal/calendar"
)

// Strategy produces occurrences for a custom rule. Results may be unordered
// or fall outside the window; the evaluator filters, sorts and de-duplicates.
type Strategy interface {
	Occurrences(s *calendar.Schema, anchor, rangeStart, rangeEnd calendar.Timestamp) ([]calendar.Timestamp, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(s *calendar.Schema, anchor, rangeStart, rangeEnd calendar.Timestamp) ([]calendar.Timestamp, error)

func (f StrategyFunc) Occurrences(s *calendar.Schema, anchor, rangeStart, rangeEnd calendar.Timestamp) ([]calendar.Timestamp, error) {
	return f(s, anchor, rangeStart, rangeEnd)
}

// Registry maps custom rule IDs to strategies. It is filled during startup
// and read concurrently afterwards.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy. An ID can only be registered once.
func (r *Registry) Register(id string, st Strategy) error {
	if id == "" {
		return fmt.Errorf("recurrence: register custom rule: empty id")
	}
	if st == nil {
		return fmt.Errorf("recurrence: register custom rule %q: nil strategy", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRule, id)
	}
	r.strategies[id] = st
	return nil
}

func (r *Registry) Lookup(id string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.strategies[id]
	return st, ok
}

// IDs lists registered rule IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.strategies))
	for id := range r.strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var defaultRegistry = NewRegistry()

// DefaultRegistry is the process-wide registry used when an Evaluator has
// none of its own.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register adds fn to the process-wide registry.
func Register(id string, fn StrategyFunc) error {
	return defaultRegistry.Register(id, fn)
}
