package game

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// YearOutcome is one event's result for a completed year.
type YearOutcome struct {
	EventID   string
	Allocated float64
	// Actual is NaN when the catalog has no initial budget for the event.
	Actual float64
	// Within reports whether the allocation landed inside the tolerance
	// band; only meaningful when HasVerdict.
	Within     bool
	HasVerdict bool
}

// YearRecord is a stored outcome row.
type YearRecord struct {
	SessionID  string
	Year       int
	EventID    string
	Allocated  float64
	Actual     float64
	Within     bool
	HasVerdict bool
}

// HistoryStore is an append-only sqlite log of completed years. It is a
// game-results record for post-game review, not session persistence:
// sessions themselves remain process-lifetime only.
type HistoryStore struct {
	db *sql.DB
}

func OpenHistory(path string) (*HistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// modernc.org/sqlite serializes writers; a single connection avoids
	// SQLITE_BUSY under concurrent year completions.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("history pragma: %w", err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS year_outcomes (
		id            TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL,
		year          INTEGER NOT NULL,
		event_id      TEXT NOT NULL,
		allocated     REAL NOT NULL,
		actual        REAL,
		within        INTEGER,
		created_at_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_year_outcomes_session ON year_outcomes(session_id, year);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

func (h *HistoryStore) Close() error { return h.db.Close() }

// RecordYear appends the outcomes of one completed year in a single
// transaction.
func (h *HistoryStore) RecordYear(sessionID string, year int, outcomes []YearOutcome) error {
	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO year_outcomes
		(id, session_id, year, event_id, allocated, actual, within, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare history insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, o := range outcomes {
		var actual interface{}
		if !math.IsNaN(o.Actual) && !math.IsInf(o.Actual, 0) {
			actual = o.Actual
		}
		var within interface{}
		if o.HasVerdict {
			within = boolToInt(o.Within)
		}
		if _, err := stmt.Exec(uuid.NewString(), sessionID, year, o.EventID,
			o.Allocated, actual, within, now); err != nil {
			return fmt.Errorf("insert year outcome: %w", err)
		}
	}
	return tx.Commit()
}

// SessionHistory returns all recorded outcomes for a session in year then
// insertion order.
func (h *HistoryStore) SessionHistory(sessionID string) ([]YearRecord, error) {
	rows, err := h.db.Query(`SELECT session_id, year, event_id, allocated, actual, within
		FROM year_outcomes WHERE session_id = ? ORDER BY year, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []YearRecord
	for rows.Next() {
		var r YearRecord
		var actual sql.NullFloat64
		var within sql.NullInt64
		if err := rows.Scan(&r.SessionID, &r.Year, &r.EventID, &r.Allocated, &actual, &within); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if actual.Valid {
			r.Actual = actual.Float64
		} else {
			r.Actual = math.NaN()
		}
		if within.Valid {
			r.HasVerdict = true
			r.Within = within.Int64 != 0
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
