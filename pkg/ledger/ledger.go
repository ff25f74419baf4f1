// BudgetSim - turn-based public-budget allocation simulator
// License: MIT
//
// Copyright (c) 2026 BudgetSim contributors

package ledger

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/dotsetgreg/budgetsim/pkg/logger"
)

// Ledger coordinates all session mutations over an injected Store.
type Ledger struct {
	store *Store
	now   func() time.Time
}

func New(store *Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// CreateParams describe a new session. OrderedEventIDs is the catalog's
// stable id order; Subset, when non-empty, restricts the session to those
// ids (unknown ids dropped, caller order kept) and becomes the session's
// paging order.
type CreateParams struct {
	YearsTotal      int
	BudgetPerYear   float64
	EventsPerYear   int
	OrderedEventIDs []string
	Subset          []string
}

// Create opens a session at year 1 with a full budget and the first page of
// events queued. Returns the new session's state including its id.
func (l *Ledger) Create(p CreateParams) State {
	order := p.OrderedEventIDs
	if len(p.Subset) > 0 {
		known := make(map[string]bool, len(p.OrderedEventIDs))
		for _, id := range p.OrderedEventIDs {
			known[id] = true
		}
		order = make([]string, 0, len(p.Subset))
		for _, id := range p.Subset {
			if known[id] {
				order = append(order, id)
			}
		}
	}

	now := l.now()
	s := &Session{
		id:              uuid.NewString(),
		year:            1,
		yearsTotal:      p.YearsTotal,
		budgetPerYear:   p.BudgetPerYear,
		budgetRemaining: p.BudgetPerYear,
		eventsPerYear:   p.EventsPerYear,
		order:           append([]string(nil), order...),
		schedule:        make(map[int][]string),
		allocations:     make(map[string]float64),
		createdAt:       now,
		lastActive:      now,
	}
	s.schedule[1] = s.page(1)
	l.store.put(s)

	logger.InfoCF("ledger", "session created", map[string]interface{}{
		"session_id": s.id,
		"years":      s.yearsTotal,
		"queued":     len(s.schedule[1]),
	})
	return s.snapshot()
}

// State returns a copy of the session's current state.
func (l *Ledger) State(sessionID string) (State, error) {
	s, ok := l.store.get(sessionID)
	if !ok {
		return State{}, ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

// NextEvent pops the head of the current year's queue. The pop is
// destructive; each event is presented at most once per session.
func (l *Ledger) NextEvent(sessionID string) (string, error) {
	s, ok := l.store.get(sessionID)
	if !ok {
		return "", ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.schedule[s.year]
	if len(queue) == 0 {
		return "", ErrScheduleExhausted
	}
	id := queue[0]
	s.schedule[s.year] = queue[1:]
	s.presented = append(s.presented, PresentedEvent{Year: s.year, EventID: id, At: l.now()})
	s.lastActive = l.now()
	return id, nil
}

// Allocate commits amount against eventID using delta accounting: only the
// change relative to the previous allocation for the same event draws from
// or returns to the remaining budget. All-or-nothing; on any error the
// session is unchanged. Returns the new remaining budget.
func (l *Ledger) Allocate(sessionID, eventID string, amount float64) (float64, error) {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, ErrInvalidAmount
	}
	s, ok := l.store.get(sessionID)
	if !ok {
		return 0, ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delta := amount - s.allocations[eventID]
	if delta > s.budgetRemaining {
		return 0, &BudgetExceededError{
			Requested: amount,
			Delta:     delta,
			Remaining: s.budgetRemaining,
			Overage:   delta - s.budgetRemaining,
		}
	}
	s.allocations[eventID] = amount
	s.budgetRemaining -= delta
	s.lastActive = l.now()
	return s.budgetRemaining, nil
}

// AdvanceYear moves the session to the next year: budget reset to the
// yearly cap and the next page of events queued. Fails while events are
// still queued for the current year, and at the final year.
func (l *Ledger) AdvanceYear(sessionID string) (State, error) {
	s, ok := l.store.get(sessionID)
	if !ok {
		return State{}, ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.schedule[s.year]) > 0 {
		return State{}, ErrYearConflict
	}
	if s.year >= s.yearsTotal {
		return State{}, ErrYearConflict
	}

	s.year++
	s.budgetRemaining = s.budgetPerYear
	s.schedule[s.year] = s.page(s.year)
	s.lastActive = l.now()

	logger.InfoCF("ledger", "year advanced", map[string]interface{}{
		"session_id": s.id,
		"year":       s.year,
		"queued":     len(s.schedule[s.year]),
	})
	return s.snapshot(), nil
}
