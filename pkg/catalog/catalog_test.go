package catalog

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeID(t *testing.T) {
	testcases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain-int", in: "1001", want: "1001"},
		{name: "float-suffix", in: "1001.0", want: "1001"},
		{name: "whitespace", in: "  1001 ", want: "1001"},
		{name: "float-suffix-whitespace", in: " 1001.0 ", want: "1001"},
		{name: "scientific", in: "1e3", want: "1000"},
		{name: "non-numeric", in: "E-042", want: "E-042"},
		{name: "non-integral-float", in: "10.5", want: "10.5"},
		{name: "textual-with-dot-zero", in: "abc.0", want: "abc"},
		{name: "empty", in: "", want: ""},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeID(tc.in))
		})
	}
}

func TestParseEmbedding(t *testing.T) {
	testcases := []struct {
		name    string
		in      string
		want    []float32
		wantErr bool
	}{
		{name: "json-array", in: "[0.1, 0.2, 0.3]", want: []float32{0.1, 0.2, 0.3}},
		{name: "space-separated", in: "[0.1 0.2 0.3]", want: []float32{0.1, 0.2, 0.3}},
		{name: "no-brackets", in: "0.1, 0.2", want: []float32{0.1, 0.2}},
		{name: "empty", in: "", wantErr: true},
		{name: "garbage", in: "[a b c]", wantErr: true},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseEmbedding(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseCSV_RoundTrip(t *testing.T) {
	raw := []byte(`event_id,name,summary,issues,initial_budget,final_budget,embedding
1001.0,Road Maintenance,Maintain roads,Aging assets,1000000,1200000,"[1, 0, 0]"
1002,Disaster Relief,Relief fund,,2500000,,"[0, 1, 0]"
1003,Unknown Program,,,,,"[0, 0, 1]"
`)
	items, err := parseCSV(raw)
	if err != nil {
		t.Fatalf("parseCSV: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].ID != "1001" {
		t.Errorf("id not normalized: %q", items[0].ID)
	}
	if items[0].Name != "Road Maintenance" {
		t.Errorf("name = %q", items[0].Name)
	}
	if items[0].InitialBudget != 1000000 {
		t.Errorf("initial = %v", items[0].InitialBudget)
	}
	if !math.IsNaN(items[1].FinalBudget) {
		t.Errorf("missing final budget should be NaN, got %v", items[1].FinalBudget)
	}
	if !math.IsNaN(items[2].InitialBudget) {
		t.Errorf("missing initial budget should be NaN, got %v", items[2].InitialBudget)
	}
}

func TestNew_RejectsMixedDimensions(t *testing.T) {
	_, err := New([]Item{
		{ID: "a", Embedding: []float32{1, 0}},
		{ID: "b", Embedding: []float32{1, 0, 0}},
	})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestCatalog_Accessors(t *testing.T) {
	cat, err := New([]Item{
		{ID: "a", Name: "A", InitialBudget: 10, FinalBudget: math.NaN(), Embedding: []float32{1, 0}},
		{ID: "b", Name: "B", InitialBudget: 20, FinalBudget: 25, Embedding: []float32{0, 1}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if cat.Len() != 2 || cat.Dim() != 2 {
		t.Fatalf("Len/Dim = %d/%d", cat.Len(), cat.Dim())
	}

	ids := cat.OrderedEventIDs()
	if ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("ordered ids = %v", ids)
	}
	// Returned slice is a copy; mutating it must not affect the catalog.
	ids[0] = "mutated"
	if cat.OrderedEventIDs()[0] != "a" {
		t.Fatal("OrderedEventIDs leaked internal state")
	}

	m := cat.EmbeddingMatrix()
	if len(m) != 2 || m[1][1] != 1 {
		t.Fatalf("unexpected matrix %v", m)
	}

	if got := cat.InitialBudget(1); got != 20 {
		t.Errorf("InitialBudget(1) = %v", got)
	}
	if got := cat.FinalBudget(0); !math.IsNaN(got) {
		t.Errorf("FinalBudget(0) = %v, want NaN", got)
	}
	if got := cat.InitialBudget(99); !math.IsNaN(got) {
		t.Errorf("out-of-range budget = %v, want NaN", got)
	}

	if it, ok := cat.Meta("b"); !ok || it.Name != "B" {
		t.Errorf("Meta(b) = %+v, %v", it, ok)
	}
	if _, ok := cat.Meta("zzz"); ok {
		t.Error("Meta should miss for unknown id")
	}
}
