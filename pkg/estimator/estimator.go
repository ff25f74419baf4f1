// Package estimator produces budget estimates by weighted retrieval over a
// fixed catalog of historical items. The computation is pure: given the same
// catalog and query vectors it always yields the same result, holds no state
// and mutates nothing.
//
// Pipeline: L2-normalize, cosine similarity, stable top-K, temperature
// softmax, mask rows without a usable budget value, renormalize, then a
// weighted geometric mean in log space. Degenerate inputs degrade to a
// tagged failure, never to NaN in the output.
package estimator

import (
	"errors"
	"math"
	"sort"

	"github.com/dotsetgreg/budgetsim/pkg/catalog"
)

const normEpsilon = 1e-12

var (
	// ErrDimensionMismatch indicates the query vector width disagrees with
	// the catalog's embedding width.
	ErrDimensionMismatch = errors.New("query dimension does not match catalog dimension")
	// ErrNoEstimableEvidence indicates that after masking, no neighbor had a
	// usable initial-budget value.
	ErrNoEstimableEvidence = errors.New("no valid initial budget in top-k")
)

// Estimator holds a normalized view of the catalog. Build once at startup;
// Estimate is safe for concurrent use.
type Estimator struct {
	params Params

	rows      [][]float64 // unit-length catalog embeddings
	secondary [][]float64 // optional second view, same row order
	initial   []float64
	final     []float64
	names     []string
	ids       []string
	dim       int
}

// New builds an estimator over cat with the given hyperparameters.
// Out-of-range parameters fall back to the defaults rather than failing.
func New(cat *catalog.Catalog, p Params) *Estimator {
	if p.TopK <= 0 {
		p.TopK = 5
	}
	if p.Tau <= 0 || math.IsNaN(p.Tau) {
		p.Tau = 0.08
	}

	n := cat.Len()
	e := &Estimator{
		params:  p,
		rows:    make([][]float64, n),
		initial: make([]float64, n),
		final:   make([]float64, n),
		names:   make([]string, n),
		ids:     make([]string, n),
		dim:     cat.Dim(),
	}
	matrix := cat.EmbeddingMatrix()
	for i := 0; i < n; i++ {
		e.rows[i] = normalized(matrix[i])
		e.initial[i] = cat.InitialBudget(i)
		e.final[i] = cat.FinalBudget(i)
		if item, ok := cat.Item(i); ok {
			e.names[i] = item.Name
			e.ids[i] = item.ID
		}
	}
	return e
}

// WithSecondary attaches a second embedding view over the same catalog rows.
// When present, Estimate blends the two similarity vectors with alpha/beta.
func (e *Estimator) WithSecondary(rows [][]float32) *Estimator {
	if len(rows) != len(e.rows) {
		return e
	}
	e.secondary = make([][]float64, len(rows))
	for i, r := range rows {
		e.secondary[i] = normalized(r)
	}
	return e
}

// Estimate runs the retrieval pipeline for one query. query2 is only
// consulted when a secondary view is attached; pass nil otherwise.
//
// The returned error is ErrDimensionMismatch or ErrNoEstimableEvidence for
// the two degenerate outcomes; the Result carries the same reason text so
// callers can surface it verbatim.
func (e *Estimator) Estimate(query []float32, query2 []float32) (Result, error) {
	if len(e.rows) == 0 {
		return failure(ErrNoEstimableEvidence)
	}
	if len(query) != e.dim {
		return failure(ErrDimensionMismatch)
	}

	q := normalized(query)
	sims := make([]float64, len(e.rows))
	for i, row := range e.rows {
		sims[i] = dot(row, q)
	}

	// Blend only when both a second view and a second query exist. With a
	// single view the raw cosine vector is used as-is.
	if e.secondary != nil && len(query2) == e.dim {
		q2 := normalized(query2)
		for i, row := range e.secondary {
			sims[i] = e.params.Alpha*sims[i] + e.params.Beta*dot(row, q2)
		}
	}

	top := e.topK(sims)

	weights := softmax(sims, top, e.params.Tau)

	// Initial-budget mask: keep only neighbors whose value can enter a
	// geometric mean.
	kept := make([]int, 0, len(top))
	keptW := make([]float64, 0, len(top))
	for j, idx := range top {
		v := e.initial[idx]
		if !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0 {
			kept = append(kept, idx)
			keptW = append(keptW, weights[j])
		}
	}
	if len(kept) == 0 {
		return failure(ErrNoEstimableEvidence)
	}
	renormalize(keptW)

	estInitial := weightedLogMean(e.initial, kept, keptW)
	if math.IsNaN(estInitial) || math.IsInf(estInitial, 0) {
		return failure(ErrNoEstimableEvidence)
	}

	res := Result{
		CanEstimate:     true,
		EstimateInitial: estInitial,
		EstimateFinal:   math.NaN(),
		Ratio:           math.NaN(),
		Evidence:        make([]Evidence, 0, len(kept)),
	}
	for j, idx := range kept {
		res.Evidence = append(res.Evidence, Evidence{
			Rank:          j + 1,
			Similarity:    sims[idx],
			Weight:        keptW[j],
			Name:          e.names[idx],
			SourceID:      e.ids[idx],
			InitialBudget: e.initial[idx],
			FinalBudget:   e.final[idx],
		})
	}

	// Final-budget estimate is independent: it draws from the same top-K
	// but applies its own mask, so a row missing only its final value
	// still contributes to the initial estimate.
	fKept := make([]int, 0, len(top))
	fW := make([]float64, 0, len(top))
	for j, idx := range top {
		v := e.final[idx]
		if !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0 {
			fKept = append(fKept, idx)
			fW = append(fW, weights[j])
		}
	}
	if len(fKept) > 0 {
		renormalize(fW)
		estFinal := weightedLogMean(e.final, fKept, fW)
		if !math.IsNaN(estFinal) && !math.IsInf(estFinal, 0) {
			res.EstimateFinal = estFinal
			if estInitial > 0 {
				res.Ratio = estFinal / estInitial
			}
		}
	}

	return res, nil
}

// topK returns the indices of the K highest similarities. Ties keep catalog
// order so the result is stable run to run.
func (e *Estimator) topK(sims []float64) []int {
	k := e.params.TopK
	if k > len(sims) {
		k = len(sims)
	}
	idx := make([]int, len(sims))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return sims[idx[a]] > sims[idx[b]]
	})
	return idx[:k]
}

// softmax computes temperature-scaled weights over the selected indices.
// The max is subtracted before exponentiation to keep exp in range.
func softmax(sims []float64, top []int, tau float64) []float64 {
	maxZ := math.Inf(-1)
	z := make([]float64, len(top))
	for j, idx := range top {
		z[j] = sims[idx] / tau
		if z[j] > maxZ {
			maxZ = z[j]
		}
	}
	var sum float64
	for j := range z {
		z[j] = math.Exp(z[j] - maxZ)
		sum += z[j]
	}
	sum += normEpsilon
	for j := range z {
		z[j] /= sum
	}
	return z
}

func renormalize(w []float64) {
	var sum float64
	for _, v := range w {
		sum += v
	}
	sum += normEpsilon
	for i := range w {
		w[i] /= sum
	}
}

// weightedLogMean is exp(sum w_i * ln v_i), the weighted geometric mean.
// Callers must pass only indices whose value is finite and positive.
func weightedLogMean(values []float64, idx []int, w []float64) float64 {
	var acc float64
	for j, i := range idx {
		acc += w[j] * math.Log(values[i])
	}
	return math.Exp(acc)
}

func failure(err error) (Result, error) {
	return Result{CanEstimate: false, Reason: err.Error(), EstimateFinal: math.NaN(), Ratio: math.NaN()}, err
}

func normalized(v []float32) []float64 {
	out := make([]float64, len(v))
	var sum float64
	for i, x := range v {
		out[i] = float64(x)
		sum += out[i] * out[i]
	}
	inv := 1.0 / (math.Sqrt(sum) + normEpsilon)
	for i := range out {
		out[i] *= inv
	}
	return out
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
