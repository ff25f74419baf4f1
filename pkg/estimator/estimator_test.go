package estimator

import (
	"errors"
	"math"
	"testing"

	"github.com/dotsetgreg/budgetsim/pkg/catalog"
)

func mustCatalog(t *testing.T, items []catalog.Item) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(items)
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	return cat
}

func fiveItemCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	return mustCatalog(t, []catalog.Item{
		{ID: "1001", Name: "Road maintenance", InitialBudget: 100e9, FinalBudget: 90e9, Embedding: []float32{1, 0, 0}},
		{ID: "1002", Name: "Harbor dredging", InitialBudget: 80e9, FinalBudget: 85e9, Embedding: []float32{0.9, 0.1, 0}},
		{ID: "1003", Name: "Childcare support", InitialBudget: 60e9, FinalBudget: math.NaN(), Embedding: []float32{0, 1, 0}},
		{ID: "1004", Name: "Cyber defense", InitialBudget: 40e9, FinalBudget: 42e9, Embedding: []float32{0, 0, 1}},
		{ID: "1005", Name: "Rural broadband", InitialBudget: math.NaN(), FinalBudget: 30e9, Embedding: []float32{0.1, 0, 0.9}},
	})
}

func TestEstimate_SelfSimilarityRankOne(t *testing.T) {
	e := New(fiveItemCatalog(t), Params{TopK: 3, Tau: 0.08})

	res, err := e.Estimate([]float32{0, 1, 0}, nil)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if !res.CanEstimate {
		t.Fatalf("expected estimable result, reason=%q", res.Reason)
	}
	if len(res.Evidence) == 0 {
		t.Fatal("no evidence returned")
	}
	top := res.Evidence[0]
	if top.SourceID != "1003" {
		t.Fatalf("rank 1 = %s, want 1003", top.SourceID)
	}
	if math.Abs(top.Similarity-1.0) > 1e-6 {
		t.Fatalf("rank-1 similarity = %v, want ~1.0", top.Similarity)
	}
}

func TestEstimate_WeightsSumToOne(t *testing.T) {
	e := New(fiveItemCatalog(t), Params{TopK: 3, Tau: 0.08})

	res, err := e.Estimate([]float32{0.8, 0.2, 0}, nil)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	var sum float64
	for _, ev := range res.Evidence {
		if ev.Weight < 0 {
			t.Fatalf("negative weight %v", ev.Weight)
		}
		sum += ev.Weight
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Fatalf("weights sum to %v, want 1.0", sum)
	}
}

func TestEstimate_TopKAndBounds(t *testing.T) {
	e := New(fiveItemCatalog(t), Params{TopK: 3, Tau: 0.08})

	// Near the road/harbor cluster; item 1005 has no initial budget and
	// must not block the estimate even if retrieved.
	res, err := e.Estimate([]float32{1, 0.05, 0}, nil)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if len(res.Evidence) > 3 {
		t.Fatalf("evidence size %d exceeds top-k 3", len(res.Evidence))
	}

	// A weighted geometric mean sits between the smallest and largest
	// evidence values.
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, ev := range res.Evidence {
		if ev.InitialBudget < lo {
			lo = ev.InitialBudget
		}
		if ev.InitialBudget > hi {
			hi = ev.InitialBudget
		}
	}
	if res.EstimateInitial < lo || res.EstimateInitial > hi {
		t.Fatalf("estimate %v outside evidence range [%v, %v]", res.EstimateInitial, lo, hi)
	}

	for i, ev := range res.Evidence {
		if ev.Rank != i+1 {
			t.Fatalf("evidence rank %d at position %d", ev.Rank, i)
		}
	}
}

func TestEstimate_ZeroVectorDegradesGracefully(t *testing.T) {
	e := New(fiveItemCatalog(t), Params{TopK: 3, Tau: 0.08})

	res, err := e.Estimate([]float32{0, 0, 0}, nil)
	if err != nil {
		t.Fatalf("zero vector should still estimate: %v", err)
	}
	if !res.CanEstimate {
		t.Fatalf("expected low-confidence estimate, got reason %q", res.Reason)
	}
	if math.IsNaN(res.EstimateInitial) || math.IsInf(res.EstimateInitial, 0) {
		t.Fatalf("estimate must be finite, got %v", res.EstimateInitial)
	}
}

func TestEstimate_DimensionMismatch(t *testing.T) {
	e := New(fiveItemCatalog(t), Params{TopK: 3, Tau: 0.08})

	res, err := e.Estimate([]float32{1, 0}, nil)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
	if res.CanEstimate || res.Reason == "" {
		t.Fatalf("expected tagged failure, got %+v", res)
	}
}

func TestEstimate_NoValidInitialBudget(t *testing.T) {
	cat := mustCatalog(t, []catalog.Item{
		{ID: "1", Name: "A", InitialBudget: math.NaN(), Embedding: []float32{1, 0}},
		{ID: "2", Name: "B", InitialBudget: 0, Embedding: []float32{0.9, 0.1}},
		{ID: "3", Name: "C", InitialBudget: -5, Embedding: []float32{0.8, 0.2}},
	})
	e := New(cat, Params{TopK: 3, Tau: 0.08})

	res, err := e.Estimate([]float32{1, 0}, nil)
	if !errors.Is(err, ErrNoEstimableEvidence) {
		t.Fatalf("err = %v, want ErrNoEstimableEvidence", err)
	}
	if res.Reason != "no valid initial budget in top-k" {
		t.Fatalf("reason = %q", res.Reason)
	}
}

func TestEstimate_FinalBudgetAndRatio(t *testing.T) {
	cat := mustCatalog(t, []catalog.Item{
		{ID: "1", Name: "A", InitialBudget: 100, FinalBudget: 50, Embedding: []float32{1, 0}},
		{ID: "2", Name: "B", InitialBudget: 100, FinalBudget: 50, Embedding: []float32{1, 0}},
	})
	e := New(cat, Params{TopK: 2, Tau: 0.08})

	res, err := e.Estimate([]float32{1, 0}, nil)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if math.Abs(res.EstimateInitial-100) > 1e-6 {
		t.Fatalf("initial = %v, want 100", res.EstimateInitial)
	}
	if math.Abs(res.EstimateFinal-50) > 1e-6 {
		t.Fatalf("final = %v, want 50", res.EstimateFinal)
	}
	if math.Abs(res.Ratio-0.5) > 1e-9 {
		t.Fatalf("ratio = %v, want 0.5", res.Ratio)
	}
}

func TestEstimate_NoFinalBudgetsMeansNoRatio(t *testing.T) {
	cat := mustCatalog(t, []catalog.Item{
		{ID: "1", Name: "A", InitialBudget: 100, FinalBudget: math.NaN(), Embedding: []float32{1, 0}},
		{ID: "2", Name: "B", InitialBudget: 200, FinalBudget: math.NaN(), Embedding: []float32{0.9, 0.1}},
	})
	e := New(cat, Params{TopK: 2, Tau: 0.08})

	res, err := e.Estimate([]float32{1, 0}, nil)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if !res.CanEstimate {
		t.Fatalf("initial estimate should survive missing finals, reason=%q", res.Reason)
	}
	if !math.IsNaN(res.EstimateFinal) || !math.IsNaN(res.Ratio) {
		t.Fatalf("final/ratio should be absent, got %v/%v", res.EstimateFinal, res.Ratio)
	}
}

func TestEstimate_TiesKeepCatalogOrder(t *testing.T) {
	cat := mustCatalog(t, []catalog.Item{
		{ID: "a", Name: "A", InitialBudget: 10, Embedding: []float32{1, 0}},
		{ID: "b", Name: "B", InitialBudget: 20, Embedding: []float32{1, 0}},
		{ID: "c", Name: "C", InitialBudget: 30, Embedding: []float32{1, 0}},
	})
	e := New(cat, Params{TopK: 2, Tau: 0.08})

	res, err := e.Estimate([]float32{1, 0}, nil)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if len(res.Evidence) != 2 {
		t.Fatalf("evidence len = %d, want 2", len(res.Evidence))
	}
	if res.Evidence[0].SourceID != "a" || res.Evidence[1].SourceID != "b" {
		t.Fatalf("tie order = %s,%s; want a,b", res.Evidence[0].SourceID, res.Evidence[1].SourceID)
	}
}

func TestEstimate_SecondaryViewBlending(t *testing.T) {
	cat := mustCatalog(t, []catalog.Item{
		{ID: "1", Name: "A", InitialBudget: 100, Embedding: []float32{1, 0}},
		{ID: "2", Name: "B", InitialBudget: 200, Embedding: []float32{0, 1}},
	})
	e := New(cat, Params{TopK: 1, Tau: 0.08, Alpha: 0.5, Beta: 0.5}).
		WithSecondary([][]float32{{0, 1}, {1, 0}})

	// First view favors item 1, second view strongly favors item 2.
	res, err := e.Estimate([]float32{1, 0.2}, []float32{1, 0})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if res.Evidence[0].SourceID != "2" {
		t.Fatalf("blended rank 1 = %s, want 2", res.Evidence[0].SourceID)
	}
}
