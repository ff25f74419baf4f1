package catalog

import (
	"crypto/sha1"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/dotsetgreg/budgetsim/pkg/logger"
)

var (
	// ErrEmptyCatalog indicates the source contained no usable rows.
	ErrEmptyCatalog = errors.New("catalog contains no rows")
	// ErrDimMismatch indicates rows disagree on embedding width.
	ErrDimMismatch = errors.New("inconsistent embedding dimensions")
)

// Catalog is the immutable in-memory event catalog.
type Catalog struct {
	items []Item
	ids   []string
	byID  map[string]int
	dim   int
}

// New builds a catalog from parsed items. Row order is preserved and becomes
// the canonical ordering for session schedules and the embedding matrix.
func New(items []Item) (*Catalog, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCatalog
	}
	dim := len(items[0].Embedding)
	ids := make([]string, len(items))
	byID := make(map[string]int, len(items))
	for i, it := range items {
		if len(it.Embedding) != dim {
			return nil, fmt.Errorf("%w: row %d has %d, want %d", ErrDimMismatch, i, len(it.Embedding), dim)
		}
		ids[i] = it.ID
		if _, dup := byID[it.ID]; !dup {
			byID[it.ID] = i
		}
	}
	return &Catalog{items: items, ids: ids, byID: byID, dim: dim}, nil
}

// Load reads the catalog CSV, preferring a SQLite snapshot when one exists
// for the same source bytes. Pass an empty snapshotPath to skip the cache.
func Load(csvPath, snapshotPath string) (*Catalog, error) {
	raw, err := os.ReadFile(csvPath)
	if err != nil {
		return nil, fmt.Errorf("read catalog csv: %w", err)
	}
	sum := sha1.Sum(raw)
	sourceHash := hex.EncodeToString(sum[:])

	if snapshotPath != "" {
		cat, ok, err := loadSnapshot(snapshotPath, sourceHash)
		if err != nil {
			logger.WarnCF("catalog", "Snapshot unusable, reparsing CSV",
				map[string]interface{}{"path": snapshotPath, "error": err.Error()})
		} else if ok {
			logger.InfoCF("catalog", "Catalog loaded from snapshot",
				map[string]interface{}{"items": cat.Len(), "dim": cat.Dim()})
			return cat, nil
		}
	}

	items, err := parseCSV(raw)
	if err != nil {
		return nil, err
	}
	cat, err := New(items)
	if err != nil {
		return nil, err
	}

	if snapshotPath != "" {
		if err := writeSnapshot(snapshotPath, sourceHash, cat); err != nil {
			logger.WarnCF("catalog", "Snapshot write failed",
				map[string]interface{}{"path": snapshotPath, "error": err.Error()})
		}
	}

	logger.InfoCF("catalog", "Catalog loaded from CSV",
		map[string]interface{}{"items": cat.Len(), "dim": cat.Dim()})
	return cat, nil
}

// Len returns the number of catalog items.
func (c *Catalog) Len() int { return len(c.items) }

// Dim returns the embedding width shared by all rows.
func (c *Catalog) Dim() int { return c.dim }

// OrderedEventIDs returns the canonical id ordering. The result is a copy;
// callers may slice it freely. Stable across calls for the process lifetime.
func (c *Catalog) OrderedEventIDs() []string {
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}

// EmbeddingMatrix returns the row-aligned embedding matrix. Rows are shared,
// not copied; callers must treat them as read-only.
func (c *Catalog) EmbeddingMatrix() [][]float32 {
	rows := make([][]float32, len(c.items))
	for i := range c.items {
		rows[i] = c.items[i].Embedding
	}
	return rows
}

// InitialBudget returns the historical initial budget for row i, NaN if absent.
func (c *Catalog) InitialBudget(i int) float64 {
	if i < 0 || i >= len(c.items) {
		return math.NaN()
	}
	return c.items[i].InitialBudget
}

// FinalBudget returns the historical final budget for row i, NaN if absent.
func (c *Catalog) FinalBudget(i int) float64 {
	if i < 0 || i >= len(c.items) {
		return math.NaN()
	}
	return c.items[i].FinalBudget
}

// Item returns the item at row i.
func (c *Catalog) Item(i int) (Item, bool) {
	if i < 0 || i >= len(c.items) {
		return Item{}, false
	}
	return c.items[i], true
}

// Meta looks up an item by normalized id.
func (c *Catalog) Meta(id string) (Item, bool) {
	i, ok := c.byID[NormalizeID(id)]
	if !ok {
		return Item{}, false
	}
	return c.items[i], true
}

// NormalizeID collapses the textual variants an event id shows up as in the
// source data: "1001", "1001.0" and " 1001 " all normalize to "1001".
func NormalizeID(v string) string {
	s := strings.TrimSpace(v)
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f-math.Round(f)) < 1e-9 {
			return strconv.FormatInt(int64(math.Round(f)), 10)
		}
	}
	return strings.TrimSuffix(s, ".0")
}

func parseCSV(raw []byte) ([]Item, error) {
	r := csv.NewReader(strings.NewReader(string(raw)))
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse catalog csv: %w", err)
	}
	if len(records) < 2 {
		return nil, ErrEmptyCatalog
	}

	col := map[string]int{}
	for i, name := range records[0] {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}
	idCol, ok := col["event_id"]
	if !ok {
		return nil, fmt.Errorf("catalog csv must contain column %q", "event_id")
	}
	embCol, ok := col["embedding"]
	if !ok {
		return nil, fmt.Errorf("catalog csv must contain column %q", "embedding")
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	items := make([]Item, 0, len(records)-1)
	for n, row := range records[1:] {
		if idCol >= len(row) || embCol >= len(row) {
			return nil, fmt.Errorf("catalog csv row %d is truncated", n+2)
		}
		emb, err := parseEmbedding(row[embCol])
		if err != nil {
			return nil, fmt.Errorf("catalog csv row %d: %w", n+2, err)
		}
		items = append(items, Item{
			ID:            NormalizeID(row[idCol]),
			Name:          field(row, "name"),
			Summary:       field(row, "summary"),
			Issues:        field(row, "issues"),
			Ministry:      field(row, "ministry"),
			Bureau:        field(row, "bureau"),
			URL:           field(row, "url"),
			InitialBudget: parseBudget(field(row, "initial_budget")),
			FinalBudget:   parseBudget(field(row, "final_budget")),
			Embedding:     emb,
		})
	}
	return items, nil
}

// parseEmbedding accepts a JSON float array or a bracketed number list
// ("[0.1, 0.2]" with or without commas).
func parseEmbedding(cell string) ([]float32, error) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return nil, errors.New("empty embedding cell")
	}

	var vals []float64
	if err := json.Unmarshal([]byte(s), &vals); err != nil {
		s = strings.Trim(s, "[]")
		parts := strings.FieldsFunc(s, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		})
		if len(parts) == 0 {
			return nil, errors.New("embedding cell is not a number list")
		}
		vals = make([]float64, 0, len(parts))
		for _, p := range parts {
			f, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, fmt.Errorf("embedding cell contains non-number %q", p)
			}
			vals = append(vals, f)
		}
	}
	if len(vals) == 0 {
		return nil, errors.New("embedding cell is empty")
	}

	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = float32(v)
	}
	return out, nil
}

// parseBudget maps absent or unparsable monetary cells to NaN rather than
// failing the load; the estimator masks them per-query.
func parseBudget(cell string) float64 {
	if cell == "" {
		return math.NaN()
	}
	if strings.EqualFold(cell, "nan") || strings.EqualFold(cell, "na") {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(cell, ",", ""), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
