package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dotsetgreg/budgetsim/pkg/config"
)

func TestLocalEmbedder_Deterministic(t *testing.T) {
	e := &LocalEmbedder{dims: 64, normalize: true}
	ctx := context.Background()

	a, err := e.Embed(ctx, "regional road maintenance program")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := e.Embed(ctx, "regional road maintenance program")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}

	if len(a) != 64 {
		t.Fatalf("dim = %d, want 64", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at index %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestLocalEmbedder_Normalized(t *testing.T) {
	e := &LocalEmbedder{dims: 128, normalize: true}
	vec, err := e.Embed(context.Background(), "disaster relief fund for coastal regions")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(sum)-1.0) > 1e-5 {
		t.Fatalf("norm = %v, want 1.0", math.Sqrt(sum))
	}
}

func TestLocalEmbedder_DistinctTexts(t *testing.T) {
	e := &LocalEmbedder{dims: 128, normalize: true}
	ctx := context.Background()

	a, _ := e.Embed(ctx, "road maintenance")
	b, _ := e.Embed(ctx, "childcare subsidies")

	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different texts produced identical embeddings")
	}
}

func TestLocalEmbedder_EmptyText(t *testing.T) {
	e := &LocalEmbedder{dims: 64}
	if _, err := e.Embed(context.Background(), "   "); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestNew_ProviderSelection(t *testing.T) {
	emb, err := New(config.EmbeddingConfig{Provider: "local", Dim: 32})
	if err != nil {
		t.Fatalf("local provider: %v", err)
	}
	if _, ok := emb.(*LocalEmbedder); !ok {
		t.Fatalf("expected LocalEmbedder, got %T", emb)
	}

	if _, err := New(config.EmbeddingConfig{Provider: "openai"}); err == nil {
		t.Fatal("openai provider without api key should fail")
	}

	if _, err := New(config.EmbeddingConfig{Provider: "word2vec"}); err == nil {
		t.Fatal("unknown provider should fail")
	}
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header = %q", got)
		}
		var req openAIEmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"embedding": []float64{3, 4}},
			},
		})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder("sk-test", srv.URL, "text-embedding-3-large", true)
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	// (3,4) normalized is (0.6,0.8).
	if len(vec) != 2 || math.Abs(float64(vec[0])-0.6) > 1e-6 || math.Abs(float64(vec[1])-0.8) > 1e-6 {
		t.Fatalf("vec = %v", vec)
	}
}

func TestOpenAIEmbedder_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder("sk-bad", srv.URL, "", false)
	if _, err := e.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected API error")
	}
}
