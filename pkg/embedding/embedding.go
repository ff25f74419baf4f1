// Package embedding turns free text into fixed-width vectors for the
// retrieval estimator. Two providers exist: a deterministic local hasher
// (no network, stable across runs) and an OpenAI-backed provider. The
// catalog's vectors and the query vectors must come from the same provider
// for similarities to mean anything; a width disagreement surfaces as an
// estimation failure downstream, never as a crash here.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/dotsetgreg/budgetsim/pkg/config"
)

const localModelID = "budgetsim-hash-v1"

// ErrEmptyText indicates there was nothing to embed.
var ErrEmptyText = errors.New("empty text for embedding")

// Embedder maps text to a d-dimensional vector.
type Embedder interface {
	ModelID() string
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New builds the provider selected by config.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "local", "dummy":
		dims := cfg.Dim
		if dims <= 0 {
			dims = 384
		}
		return &LocalEmbedder{dims: dims, normalize: cfg.Normalize}, nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
			return nil, errors.New("embedding.openai.api_key is required for the openai provider")
		}
		return NewOpenAIEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.APIBase, cfg.OpenAI.Model, cfg.Normalize), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_\-]+`)

// LocalEmbedder hashes tokens into signed buckets. The same text always
// produces the same vector, which keeps tests and offline play reproducible.
type LocalEmbedder struct {
	dims      int
	normalize bool
}

func (e *LocalEmbedder) ModelID() string { return localModelID }

func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil, ErrEmptyText
	}
	vec := make([]float32, e.dims)
	for _, token := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dims))
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		weight := float32(1 + (len(token) / 8))
		vec[idx] += sign * weight
	}
	if e.normalize {
		normalizeVector(vec)
	}
	return vec, nil
}

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(strings.TrimSpace(text)), -1)
}

func normalizeVector(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	n := math.Sqrt(sum)
	if n == 0 {
		return
	}
	inv := float32(1.0 / n)
	for i := range vec {
		vec[i] *= inv
	}
}
