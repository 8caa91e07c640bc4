// Package diag holds the error taxonomy shared by the engine's components and
// the per-turn diagnostic trace every degraded or fallback event is appended to.
//
// Nothing in this package aborts a turn. Components classify what went wrong,
// append an Event, and continue on their degraded path.
package diag

import (
	"errors"
	"sync"
	"time"
)

// Category classifies a diagnostic event.
type Category string

const (
	// CategoryDegradedInput covers malformed occasions or signatures. The
	// affected step is coerced or skipped; the turn continues.
	CategoryDegradedInput Category = "degraded_input"

	// CategoryExternalUnavailable covers embedding, graph or generation
	// services that are down or timed out.
	CategoryExternalUnavailable Category = "external_unavailable"

	// CategoryStateCorruption covers persisted records that fail validation
	// on load. The record is quarantined and fresh state is used.
	CategoryStateCorruption Category = "state_corruption"

	// CategoryConvergenceExhausted is informational: the engine hit
	// max_cycles without reaching Kairos.
	CategoryConvergenceExhausted Category = "convergence_exhausted"

	// CategoryFallback records a strategy demotion or safe continuation.
	CategoryFallback Category = "fallback"
)

// Sentinel errors for the taxonomy.
var (
	ErrDegradedInput       = errors.New("degraded input")
	ErrExternalUnavailable = errors.New("external service unavailable")
	ErrStateCorruption     = errors.New("state corruption")
)

// Classify maps an error onto a Category. Unknown errors are treated as
// external failures since every collaborator call is the only source of them.
func Classify(err error) Category {
	switch {
	case errors.Is(err, ErrDegradedInput):
		return CategoryDegradedInput
	case errors.Is(err, ErrStateCorruption):
		return CategoryStateCorruption
	default:
		return CategoryExternalUnavailable
	}
}

// Event is one entry in a turn's diagnostic trace.
type Event struct {
	At        time.Time `json:"at"`
	Category  Category  `json:"category"`
	Component string    `json:"component"`
	Detail    string    `json:"detail"`
}

// Trace collects events for a single turn. Safe for concurrent use since
// evaluators append from their own goroutines.
type Trace struct {
	mu     sync.Mutex
	events []Event
}

// NewTrace returns an empty trace.
func NewTrace() *Trace {
	return &Trace{}
}

// Add appends an event. A nil trace discards it.
func (t *Trace) Add(category Category, component, detail string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, Event{
		At:        time.Now(),
		Category:  category,
		Component: component,
		Detail:    detail,
	})
}

// AddError appends an event classified from err.
func (t *Trace) AddError(component string, err error) {
	if err == nil {
		return
	}
	t.Add(Classify(err), component, err.Error())
}

// Events returns a copy of the recorded events.
func (t *Trace) Events() []Event {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Has reports whether any event of the category was recorded.
func (t *Trace) Has(category Category) bool {
	for _, e := range t.Events() {
		if e.Category == category {
			return true
		}
	}
	return false
}
