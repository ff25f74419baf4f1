// Package game composes the catalog, ledger, embedder and estimator into
// the playable simulation surface the HTTP layer and CLI call into.
package game

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/dotsetgreg/budgetsim/pkg/catalog"
	"github.com/dotsetgreg/budgetsim/pkg/config"
	"github.com/dotsetgreg/budgetsim/pkg/embedding"
	"github.com/dotsetgreg/budgetsim/pkg/estimator"
	"github.com/dotsetgreg/budgetsim/pkg/ledger"
	"github.com/dotsetgreg/budgetsim/pkg/logger"
)

// tolerance is the fraction of the actual budget an allocation may miss by
// and still count as on target.
const tolerance = 0.20

// Service is the composition root of the simulation core.
type Service struct {
	cfg     *config.Config
	cat     *catalog.Catalog
	emb     embedding.Embedder
	est     *estimator.Estimator
	led     *ledger.Ledger
	store   *ledger.Store
	history *HistoryStore
}

// New wires a service over an already-loaded catalog. history may be nil
// when the results log is disabled.
func New(cfg *config.Config, cat *catalog.Catalog, emb embedding.Embedder, history *HistoryStore) *Service {
	store := ledger.NewStore()
	return &Service{
		cfg: cfg,
		cat: cat,
		emb: emb,
		est: estimator.New(cat, estimator.Params{
			TopK:  cfg.Estimator.TopK,
			Tau:   cfg.Estimator.Tau,
			Alpha: cfg.Estimator.Alpha,
			Beta:  cfg.Estimator.Beta,
		}),
		led:     ledger.New(store),
		store:   store,
		history: history,
	}
}

// Store exposes the session table for the idle sweeper.
func (s *Service) Store() *ledger.Store { return s.store }

// Catalog exposes the loaded catalog for read-only inspection.
func (s *Service) Catalog() *catalog.Catalog { return s.cat }

func (s *Service) Currency() string { return s.cfg.Game.Currency }

// Close releases the history store if one is attached.
func (s *Service) Close() error {
	if s.history != nil {
		return s.history.Close()
	}
	return nil
}

// StartSession opens a new session with the configured game parameters and
// the catalog's full ordered id list.
func (s *Service) StartSession() ledger.State {
	return s.led.Create(ledger.CreateParams{
		YearsTotal:      s.cfg.Game.Years,
		BudgetPerYear:   s.cfg.Game.BudgetPerYear,
		EventsPerYear:   s.cfg.Game.EventsPerYear,
		OrderedEventIDs: s.cat.OrderedEventIDs(),
	})
}

// State returns the session's current state.
func (s *Service) State(sessionID string) (ledger.State, error) {
	return s.led.State(sessionID)
}

// EventView is one presented event enriched with catalog metadata. Actual
// budget figures are deliberately absent: the player sees them only in the
// year metrics after allocating.
type EventView struct {
	SessionID       string `json:"session_id"`
	Year            int    `json:"year"`
	EventID         string `json:"event_id"`
	Name            string `json:"name"`
	Summary         string `json:"summary"`
	Issues          string `json:"issues"`
	Ministry        string `json:"ministry"`
	Bureau          string `json:"bureau"`
	URL             string `json:"url"`
	RemainingInYear int    `json:"remaining_in_year"`
}

// NextEvent pops the next queued event and enriches it with catalog
// metadata. An id missing from the catalog still yields a view; the
// metadata fields are just empty.
func (s *Service) NextEvent(sessionID string) (EventView, error) {
	id, err := s.led.NextEvent(sessionID)
	if err != nil {
		return EventView{}, err
	}
	st, err := s.led.State(sessionID)
	if err != nil {
		return EventView{}, err
	}

	view := EventView{
		SessionID:       sessionID,
		Year:            st.Year,
		EventID:         id,
		RemainingInYear: len(st.Queue),
	}
	if item, ok := s.cat.Meta(id); ok {
		view.Name = item.Name
		view.Summary = item.Summary
		view.Issues = item.Issues
		view.Ministry = item.Ministry
		view.Bureau = item.Bureau
		view.URL = item.URL
	} else {
		logger.WarnCF("game", "presented event missing from catalog", map[string]interface{}{
			"session_id": sessionID,
			"event_id":   id,
		})
	}
	return view, nil
}

// Allocate commits an allocation and returns the remaining yearly budget.
func (s *Service) Allocate(sessionID, eventID string, amount float64) (float64, error) {
	return s.led.Allocate(sessionID, catalog.NormalizeID(eventID), amount)
}

// AdvanceYear moves the session to the next year. On success the finished
// year's outcomes are appended to the history store; a history failure is
// logged but never blocks progression.
func (s *Service) AdvanceYear(sessionID string) (ledger.State, error) {
	st, err := s.led.AdvanceYear(sessionID)
	if err != nil {
		return ledger.State{}, err
	}

	if s.history != nil {
		finished := st.Year - 1
		outcomes := s.yearOutcomes(st, finished)
		if len(outcomes) > 0 {
			if err := s.history.RecordYear(sessionID, finished, outcomes); err != nil {
				logger.WarnCF("game", "failed to record year history", map[string]interface{}{
					"session_id": sessionID,
					"year":       finished,
					"error":      err.Error(),
				})
			}
		}
	}
	return st, nil
}

// SessionHistory returns the recorded outcomes of completed years.
func (s *Service) SessionHistory(sessionID string) ([]YearRecord, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.SessionHistory(sessionID)
}

func (s *Service) yearOutcomes(st ledger.State, year int) []YearOutcome {
	var out []YearOutcome
	for _, ev := range st.Timeline {
		if ev.Year != year {
			continue
		}
		allocated, hasAlloc := st.Allocations[ev.EventID]
		actual := math.NaN()
		if item, ok := s.cat.Meta(ev.EventID); ok {
			actual = item.InitialBudget
		}
		o := YearOutcome{
			EventID:   ev.EventID,
			Allocated: allocated,
			Actual:    actual,
		}
		if hasAlloc && !math.IsNaN(actual) && actual > 0 {
			o.HasVerdict = true
			o.Within = withinTolerance(allocated, actual)
		}
		out = append(out, o)
	}
	return out
}

func withinTolerance(allocated, actual float64) bool {
	return allocated >= actual*(1-tolerance) && allocated <= actual*(1+tolerance)
}

// EstimateVector runs the retrieval estimator on raw query vectors.
// query2 participates only when a secondary embedding view is configured.
func (s *Service) EstimateVector(query, query2 []float32) (estimator.Result, error) {
	return s.est.Estimate(query, query2)
}

// EstimateText embeds free text and estimates from the resulting vector.
func (s *Service) EstimateText(ctx context.Context, text string) (estimator.Result, error) {
	vec, err := s.emb.Embed(ctx, text)
	if err != nil {
		return estimator.Result{}, fmt.Errorf("embed query text: %w", err)
	}
	return s.est.Estimate(vec, nil)
}

// MonthMetric scores one presented slot of the current year. Missing data
// stays distinguishable: Actual and AIEstimate are NaN when unavailable and
// HasVerdict is false when no comparison could be made.
type MonthMetric struct {
	Month     int
	EventID   string
	Name      string
	Allocated float64
	HasAlloc  bool

	Actual  float64
	TolLow  float64
	TolHigh float64

	Within     bool
	HasVerdict bool

	AIEstimate float64
	AINote     string
}

// MetricsReport covers the presented events of one session year.
type MetricsReport struct {
	SessionID string
	Year      int
	Currency  string
	Months    []MonthMetric
}

// YearMetrics scores the current year: each presented event slot gets the
// actual budget, a tolerance band around it, the player's allocation and an
// estimator reference computed from the event's own text.
func (s *Service) YearMetrics(ctx context.Context, sessionID string) (MetricsReport, error) {
	st, err := s.led.State(sessionID)
	if err != nil {
		return MetricsReport{}, err
	}

	report := MetricsReport{
		SessionID: sessionID,
		Year:      st.Year,
		Currency:  s.cfg.Game.Currency,
	}

	month := 0
	for _, ev := range st.Timeline {
		if ev.Year != st.Year {
			continue
		}
		month++
		m := MonthMetric{
			Month:      month,
			EventID:    ev.EventID,
			Actual:     math.NaN(),
			TolLow:     math.NaN(),
			TolHigh:    math.NaN(),
			AIEstimate: math.NaN(),
		}
		m.Allocated, m.HasAlloc = st.Allocations[ev.EventID]

		item, ok := s.cat.Meta(ev.EventID)
		if ok {
			m.Name = item.Name
			if item.HasInitial() {
				m.Actual = item.InitialBudget
				m.TolLow = item.InitialBudget * (1 - tolerance)
				m.TolHigh = item.InitialBudget * (1 + tolerance)
				if m.HasAlloc {
					m.HasVerdict = true
					m.Within = withinTolerance(m.Allocated, m.Actual)
				}
			}
			if est := s.eventReference(ctx, item); est != nil {
				m.AIEstimate = est.EstimateInitial
			} else {
				m.AINote = "no reference estimate"
			}
		} else {
			m.AINote = "event missing from catalog"
		}
		report.Months = append(report.Months, m)
	}
	return report, nil
}

// eventReference estimates the event's own fair budget from its text. A
// failed embed or estimate is a missing reference, not an error.
func (s *Service) eventReference(ctx context.Context, item catalog.Item) *estimator.Result {
	text := strings.TrimSpace(item.Issues)
	if text == "" {
		text = strings.TrimSpace(item.Summary)
	}
	if text == "" {
		text = strings.TrimSpace(item.Name)
	}
	if text == "" {
		return nil
	}
	res, err := s.EstimateText(ctx, text)
	if err != nil || !res.CanEstimate {
		return nil
	}
	return &res
}
