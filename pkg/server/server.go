// Package server is the thin HTTP boundary over the game service. Handlers
// decode, call one service operation and encode; no game rules live here.
// Optional numeric response fields are pointers so NaN/Inf from the core
// become JSON null instead of invalid tokens.
package server

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/dotsetgreg/budgetsim/pkg/estimator"
	"github.com/dotsetgreg/budgetsim/pkg/game"
	"github.com/dotsetgreg/budgetsim/pkg/ledger"
	"github.com/dotsetgreg/budgetsim/pkg/logger"
)

const maxBodyBytes = 1 << 20

type Server struct {
	svc *game.Service
	mux *http.ServeMux
}

func New(svc *game.Service) *Server {
	s := &Server{svc: svc, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /v1/state/start", s.handleStart)
	s.mux.HandleFunc("POST /v1/state/next_year", s.handleNextYear)
	s.mux.HandleFunc("GET /v1/events/next", s.handleNextEvent)
	s.mux.HandleFunc("POST /v1/allocate", s.handleAllocate)
	s.mux.HandleFunc("POST /v1/budget/predict", s.handlePredict)
	s.mux.HandleFunc("GET /v1/metrics/months", s.handleMonthMetrics)
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startResponse struct {
	SessionID           string   `json:"session_id"`
	Year                int      `json:"year"`
	YearBudgetTotal     float64  `json:"year_budget_total"`
	YearBudgetRemaining float64  `json:"year_budget_remaining"`
	ScheduledEventIDs   []string `json:"scheduled_event_ids"`
	Currency            string   `json:"currency"`
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	st := s.svc.StartSession()
	writeJSON(w, http.StatusOK, startResponse{
		SessionID:           st.ID,
		Year:                st.Year,
		YearBudgetTotal:     st.BudgetPerYear,
		YearBudgetRemaining: st.BudgetRemaining,
		ScheduledEventIDs:   st.Queue,
		Currency:            s.svc.Currency(),
	})
}

type nextYearRequest struct {
	SessionID string `json:"session_id"`
}

type nextYearResponse struct {
	MovedToYear         int     `json:"moved_to_year"`
	YearBudgetTotal     float64 `json:"year_budget_total"`
	YearBudgetRemaining float64 `json:"year_budget_remaining"`
}

func (s *Server) handleNextYear(w http.ResponseWriter, r *http.Request) {
	var req nextYearRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "session_id is required")
		return
	}
	st, err := s.svc.AdvanceYear(req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nextYearResponse{
		MovedToYear:         st.Year,
		YearBudgetTotal:     st.BudgetPerYear,
		YearBudgetRemaining: st.BudgetRemaining,
	})
}

func (s *Server) handleNextEvent(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "session_id is required")
		return
	}
	view, err := s.svc.NextEvent(sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type allocateRequest struct {
	SessionID       string  `json:"session_id"`
	EventID         string  `json:"event_id"`
	AllocatedBudget float64 `json:"allocated_budget"`
}

type allocateResponse struct {
	Year                int     `json:"year"`
	YearBudgetRemaining float64 `json:"year_budget_remaining"`
	AllocationSaved     bool    `json:"allocation_saved"`
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.EventID == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "session_id and event_id are required")
		return
	}
	remaining, err := s.svc.Allocate(req.SessionID, req.EventID, req.AllocatedBudget)
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := s.svc.State(req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, allocateResponse{
		Year:                st.Year,
		YearBudgetRemaining: remaining,
		AllocationSaved:     true,
	})
}

type predictRequest struct {
	QueryVec1 []float64 `json:"query_vec_1"`
	QueryVec2 []float64 `json:"query_vec_2"`
	QueryText string    `json:"query_text"`
}

type evidenceRow struct {
	Rank          int      `json:"rank"`
	Similarity    float64  `json:"similarity"`
	Weight        float64  `json:"weight"`
	Name          string   `json:"name"`
	SourceID      string   `json:"source_id"`
	InitialBudget *float64 `json:"initial_budget"`
	FinalBudget   *float64 `json:"final_budget"`
}

type predictResponse struct {
	CanEstimate     bool          `json:"can_estimate"`
	EstimateInitial *float64      `json:"estimate_initial,omitempty"`
	EstimateFinal   *float64      `json:"estimate_final,omitempty"`
	Ratio           *float64      `json:"ratio,omitempty"`
	Currency        string        `json:"currency,omitempty"`
	TopK            []evidenceRow `json:"topk,omitempty"`
	Reason          string        `json:"reason,omitempty"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var (
		res estimator.Result
		err error
	)
	switch {
	case req.QueryText != "":
		res, err = s.svc.EstimateText(r.Context(), req.QueryText)
	case len(req.QueryVec1) > 0:
		res, err = s.svc.EstimateVector(toFloat32(req.QueryVec1), toFloat32(req.QueryVec2))
	default:
		writeDetail(w, http.StatusUnprocessableEntity, "query_vec_1 or query_text is required")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	resp := predictResponse{
		CanEstimate:     true,
		EstimateInitial: finitePtr(res.EstimateInitial),
		EstimateFinal:   finitePtr(res.EstimateFinal),
		Ratio:           finitePtr(res.Ratio),
		Currency:        s.svc.Currency(),
		TopK:            make([]evidenceRow, 0, len(res.Evidence)),
	}
	for _, ev := range res.Evidence {
		resp.TopK = append(resp.TopK, evidenceRow{
			Rank:          ev.Rank,
			Similarity:    ev.Similarity,
			Weight:        ev.Weight,
			Name:          ev.Name,
			SourceID:      ev.SourceID,
			InitialBudget: finitePtr(ev.InitialBudget),
			FinalBudget:   finitePtr(ev.FinalBudget),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type monthMetric struct {
	Month           int      `json:"month"`
	EventID         string   `json:"event_id"`
	Name            string   `json:"name,omitempty"`
	ActualInitial   *float64 `json:"actual_initial"`
	Allocated       *float64 `json:"allocated"`
	ToleranceLow    *float64 `json:"tolerance_low"`
	ToleranceHigh   *float64 `json:"tolerance_high"`
	AIReference     *float64 `json:"ai_reference"`
	WithinTolerance *bool    `json:"within_tolerance"`
}

type monthMetricsResponse struct {
	SessionID string        `json:"session_id"`
	Year      int           `json:"year"`
	Currency  string        `json:"currency"`
	Months    []monthMetric `json:"months"`
}

func (s *Server) handleMonthMetrics(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "session_id is required")
		return
	}
	report, err := s.svc.YearMetrics(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := monthMetricsResponse{
		SessionID: report.SessionID,
		Year:      report.Year,
		Currency:  report.Currency,
		Months:    make([]monthMetric, 0, len(report.Months)),
	}
	for _, m := range report.Months {
		row := monthMetric{
			Month:         m.Month,
			EventID:       m.EventID,
			Name:          m.Name,
			ActualInitial: finitePtr(m.Actual),
			ToleranceLow:  finitePtr(m.TolLow),
			ToleranceHigh: finitePtr(m.TolHigh),
			AIReference:   finitePtr(m.AIEstimate),
		}
		if m.HasAlloc {
			row.Allocated = finitePtr(m.Allocated)
		}
		if m.HasVerdict {
			within := m.Within
			row.WithinTolerance = &within
		}
		resp.Months = append(resp.Months, row)
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeBody parses a JSON request body, reporting validation-style errors
// to the client. Returns false when a response has already been written.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeError maps core error kinds to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrSessionNotFound):
		writeDetail(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrScheduleExhausted),
		errors.Is(err, ledger.ErrYearConflict):
		writeDetail(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrBudgetExceeded),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, estimator.ErrDimensionMismatch),
		errors.Is(err, estimator.ErrNoEstimableEvidence):
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
	default:
		logger.ErrorCF("server", "internal error", map[string]interface{}{
			"error": err.Error(),
		})
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.ErrorCF("server", "failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// finitePtr scrubs non-finite values to nil so they serialize as null.
func finitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func toFloat32(v []float64) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
