// Package catalog loads and serves the read-only event catalog: historical
// budget line-items with their embedding vectors. The catalog is loaded once
// at startup and never mutated, so all accessors are safe for concurrent use.
package catalog

import "math"

// Item is one historical budget line-item. Missing monetary values are
// represented as NaN and masked out downstream by the estimator.
type Item struct {
	ID            string
	Name          string
	Summary       string
	Issues        string
	Ministry      string
	Bureau        string
	URL           string
	InitialBudget float64
	FinalBudget   float64
	Embedding     []float32
}

// HasInitial reports whether the item carries a usable initial budget.
func (it Item) HasInitial() bool {
	return !math.IsNaN(it.InitialBudget) && !math.IsInf(it.InitialBudget, 0)
}

// HasFinal reports whether the item carries a usable final budget.
func (it Item) HasFinal() bool {
	return !math.IsNaN(it.FinalBudget) && !math.IsInf(it.FinalBudget, 0)
}
