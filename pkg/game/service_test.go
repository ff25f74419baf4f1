package game

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/dotsetgreg/budgetsim/pkg/catalog"
	"github.com/dotsetgreg/budgetsim/pkg/config"
	"github.com/dotsetgreg/budgetsim/pkg/embedding"
	"github.com/dotsetgreg/budgetsim/pkg/estimator"
	"github.com/dotsetgreg/budgetsim/pkg/ledger"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	emb, err := embedding.New(config.EmbeddingConfig{Provider: "local", Dim: 16, Normalize: true})
	if err != nil {
		t.Fatalf("embedder: %v", err)
	}
	ctx := context.Background()

	mk := func(text string) []float32 {
		vec, err := emb.Embed(ctx, text)
		if err != nil {
			t.Fatalf("embed %q: %v", text, err)
		}
		return vec
	}
	cat, err := catalog.New([]catalog.Item{
		{ID: "1001", Name: "Road maintenance", Summary: "regional road repair", Issues: "aging road infrastructure", InitialBudget: 100e9, FinalBudget: 95e9, Embedding: mk("aging road infrastructure")},
		{ID: "1002", Name: "Harbor dredging", Summary: "port channel upkeep", Issues: "silted harbor channels", InitialBudget: 80e9, FinalBudget: 82e9, Embedding: mk("silted harbor channels")},
		{ID: "1003", Name: "Childcare support", Summary: "daycare subsidies", Issues: "childcare waitlists", InitialBudget: 60e9, Embedding: mk("childcare waitlists")},
		{ID: "1004", Name: "Mystery line item", InitialBudget: math.NaN(), Embedding: mk("unlabeled discretionary spending")},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return cat
}

func testService(t *testing.T, history *HistoryStore) *Service {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Game.Years = 2
	cfg.Game.EventsPerYear = 2
	cfg.Game.BudgetPerYear = 200e9
	cfg.Embedding.Dim = 16
	emb, err := embedding.New(cfg.Embedding)
	if err != nil {
		t.Fatalf("embedder: %v", err)
	}
	return New(cfg, testCatalog(t), emb, history)
}

func TestStartSessionAndNextEvent(t *testing.T) {
	svc := testService(t, nil)

	st := svc.StartSession()
	if st.Year != 1 || len(st.Queue) != 2 {
		t.Fatalf("unexpected start state: %+v", st)
	}

	ev, err := svc.NextEvent(st.ID)
	if err != nil {
		t.Fatalf("next event: %v", err)
	}
	if ev.EventID != "1001" || ev.Name != "Road maintenance" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Ministry != "" && ev.Summary == "" {
		t.Fatalf("metadata enrichment incomplete: %+v", ev)
	}
	if ev.RemainingInYear != 1 {
		t.Fatalf("remaining = %d, want 1", ev.RemainingInYear)
	}
}

func TestFullYearCycleRecordsHistory(t *testing.T) {
	hist, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	svc := testService(t, hist)
	defer svc.Close()

	st := svc.StartSession()
	for i := 0; i < 2; i++ {
		if _, err := svc.NextEvent(st.ID); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	// 1001 actual is 100e9: 90e9 is inside the 20% band, and 1002's 30e9
	// against an actual of 80e9 is far outside it.
	if _, err := svc.Allocate(st.ID, "1001", 90e9); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := svc.Allocate(st.ID, "1002", 30e9); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	st2, err := svc.AdvanceYear(st.ID)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if st2.Year != 2 {
		t.Fatalf("year = %d, want 2", st2.Year)
	}

	records, err := svc.SessionHistory(st.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("history rows = %d, want 2", len(records))
	}
	first, second := records[0], records[1]
	if first.EventID != "1001" || !first.HasVerdict || !first.Within {
		t.Fatalf("1001 record = %+v, want within-tolerance verdict", first)
	}
	if second.EventID != "1002" || !second.HasVerdict || second.Within {
		t.Fatalf("1002 record = %+v, want out-of-tolerance verdict", second)
	}
}

func TestAllocate_NormalizesEventID(t *testing.T) {
	svc := testService(t, nil)
	st := svc.StartSession()

	if _, err := svc.Allocate(st.ID, "1001.0", 10e9); err != nil {
		t.Fatalf("allocate with float-ish id: %v", err)
	}
	after, err := svc.State(st.ID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if after.Allocations["1001"] != 10e9 {
		t.Fatalf("allocations = %v, want key 1001", after.Allocations)
	}
}

func TestYearMetrics(t *testing.T) {
	svc := testService(t, nil)
	ctx := context.Background()

	st := svc.StartSession()
	for i := 0; i < 2; i++ {
		if _, err := svc.NextEvent(st.ID); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	if _, err := svc.Allocate(st.ID, "1001", 110e9); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	report, err := svc.YearMetrics(ctx, st.ID)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if report.Year != 1 || len(report.Months) != 2 {
		t.Fatalf("report = %+v", report)
	}

	m1 := report.Months[0]
	if m1.Month != 1 || m1.EventID != "1001" {
		t.Fatalf("month 1 = %+v", m1)
	}
	if !m1.HasVerdict || !m1.Within {
		t.Fatalf("110e9 against 100e9 should be within the band: %+v", m1)
	}
	if m1.TolLow != 80e9 || m1.TolHigh != 120e9 {
		t.Fatalf("band = [%v, %v], want [80e9, 120e9]", m1.TolLow, m1.TolHigh)
	}
	if math.IsNaN(m1.AIEstimate) || m1.AIEstimate <= 0 {
		t.Fatalf("expected a reference estimate, got %v (%s)", m1.AIEstimate, m1.AINote)
	}

	// Unallocated event: actual known, no verdict.
	m2 := report.Months[1]
	if m2.EventID != "1002" || m2.HasAlloc || m2.HasVerdict {
		t.Fatalf("month 2 = %+v", m2)
	}
	if math.IsNaN(m2.Actual) {
		t.Fatalf("actual for 1002 should be present")
	}
}

func TestYearMetrics_MissingActualStaysDistinguishable(t *testing.T) {
	svc := testService(t, nil)
	ctx := context.Background()

	st := svc.StartSession()
	// Drain year 1 and advance into the page holding 1004 (no budget data).
	for i := 0; i < 2; i++ {
		if _, err := svc.NextEvent(st.ID); err != nil {
			t.Fatalf("next: %v", err)
		}
	}
	if _, err := svc.AdvanceYear(st.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}
	for {
		if _, err := svc.NextEvent(st.ID); err != nil {
			if errors.Is(err, ledger.ErrScheduleExhausted) {
				break
			}
			t.Fatalf("next: %v", err)
		}
	}

	report, err := svc.YearMetrics(ctx, st.ID)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	var found bool
	for _, m := range report.Months {
		if m.EventID != "1004" {
			continue
		}
		found = true
		if !math.IsNaN(m.Actual) || m.HasVerdict {
			t.Fatalf("1004 should have no actual and no verdict: %+v", m)
		}
	}
	if !found {
		t.Fatal("1004 not presented in year 2")
	}
}

func TestEstimateText(t *testing.T) {
	svc := testService(t, nil)

	res, err := svc.EstimateText(context.Background(), "aging road infrastructure")
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if !res.CanEstimate {
		t.Fatalf("reason = %q", res.Reason)
	}
	if res.Evidence[0].SourceID != "1001" {
		t.Fatalf("rank 1 = %s, want the self-match 1001", res.Evidence[0].SourceID)
	}
}

func TestEstimateVector_DimensionMismatch(t *testing.T) {
	svc := testService(t, nil)

	_, err := svc.EstimateVector([]float32{1, 2, 3}, nil)
	if !errors.Is(err, estimator.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}
