// Package ledger owns all mutable per-session state of the simulation:
// the current year, the remaining yearly budget, the allocation map and the
// per-year event queue. Every operation on one session runs under that
// session's lock, so the read-validate-write sequence is a single critical
// section and two concurrent allocations can never both pass the budget
// check against a stale remainder. Operations on different sessions do not
// contend.
package ledger

import (
	"sync"
	"time"
)

// PresentedEvent records one event leaving the queue, in presentation order.
type PresentedEvent struct {
	Year    int       `json:"year"`
	EventID string    `json:"event_id"`
	At      time.Time `json:"at"`
}

// Session is one player's run through the simulation. Fields are private;
// all access goes through Ledger operations.
type Session struct {
	mu sync.Mutex

	id              string
	year            int
	yearsTotal      int
	budgetPerYear   float64
	budgetRemaining float64
	eventsPerYear   int

	// order is the session's immutable paging order over event ids.
	// schedule holds only years that have been opened; the current year's
	// queue is drained destructively from the front.
	order    []string
	schedule map[int][]string

	allocations map[string]float64
	presented   []PresentedEvent

	createdAt  time.Time
	lastActive time.Time
}

// State is a point-in-time copy of a session, safe to hand to callers.
type State struct {
	ID              string             `json:"session_id"`
	Year            int                `json:"year"`
	YearsTotal      int                `json:"years_total"`
	BudgetPerYear   float64            `json:"budget_per_year"`
	BudgetRemaining float64            `json:"budget_remaining"`
	EventsPerYear   int                `json:"events_per_year"`
	Queue           []string           `json:"queue"`
	Allocations     map[string]float64 `json:"allocations"`
	Timeline        []PresentedEvent   `json:"timeline"`
}

// snapshot copies the session under its lock.
func (s *Session) snapshot() State {
	queue := append([]string(nil), s.schedule[s.year]...)
	allocs := make(map[string]float64, len(s.allocations))
	for k, v := range s.allocations {
		allocs[k] = v
	}
	timeline := append([]PresentedEvent(nil), s.presented...)
	return State{
		ID:              s.id,
		Year:            s.year,
		YearsTotal:      s.yearsTotal,
		BudgetPerYear:   s.budgetPerYear,
		BudgetRemaining: s.budgetRemaining,
		EventsPerYear:   s.eventsPerYear,
		Queue:           queue,
		Allocations:     allocs,
		Timeline:        timeline,
	}
}

// page slices the next window of event ids for year (1-indexed) out of the
// session's order. Past the end of the catalog the page is empty, which is a
// valid quiet year.
func (s *Session) page(year int) []string {
	start := (year - 1) * s.eventsPerYear
	if start >= len(s.order) {
		return nil
	}
	end := start + s.eventsPerYear
	if end > len(s.order) {
		end = len(s.order)
	}
	return append([]string(nil), s.order[start:end]...)
}
