package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound indicates an unknown session id. Permanent for
	// that id; the caller must start a new session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrScheduleExhausted indicates the current year's queue is empty.
	// The caller must advance the year before pulling more events.
	ErrScheduleExhausted = errors.New("no more events queued for the current year")

	// ErrYearConflict indicates an advance was attempted with events still
	// queued, or past the final year.
	ErrYearConflict = errors.New("year conflict")

	// ErrInvalidAmount indicates a non-positive or non-finite allocation
	// amount.
	ErrInvalidAmount = errors.New("allocation amount must be a positive finite number")

	// ErrBudgetExceeded is the match target for BudgetExceededError.
	ErrBudgetExceeded = errors.New("budget exceeded")
)

// BudgetExceededError reports how far a requested allocation delta overshot
// the remaining budget. The session is left untouched when this is returned.
type BudgetExceededError struct {
	Requested float64
	Delta     float64
	Remaining float64
	Overage   float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: delta %.0f over remaining %.0f (overage %.0f)",
		e.Delta, e.Remaining, e.Overage)
}

func (e *BudgetExceededError) Is(target error) bool { return target == ErrBudgetExceeded }
