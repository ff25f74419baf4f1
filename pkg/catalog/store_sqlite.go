// BudgetSim - turn-based public-budget allocation simulator
// License: MIT
//
// Copyright (c) 2026 BudgetSim contributors

package catalog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// The snapshot is a parse cache, not a source of truth: it is keyed by the
// SHA-1 of the CSV bytes and thrown away whenever the source changes.

func openSnapshotDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	// Single writer at startup only. One shared connection avoids writer
	// lock contention under SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

func initSnapshotSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`CREATE TABLE IF NOT EXISTS snapshot_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalog_items (
			position INTEGER PRIMARY KEY,
			id TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			issues TEXT NOT NULL DEFAULT '',
			ministry TEXT NOT NULL DEFAULT '',
			bureau TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			initial_budget REAL,
			final_budget REAL,
			vector_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS catalog_items_id_idx ON catalog_items(id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init snapshot schema: %w", err)
		}
	}
	return nil
}

// loadSnapshot returns (catalog, true, nil) when a snapshot exists for the
// given source hash. A stale or absent snapshot is (nil, false, nil).
func loadSnapshot(path, sourceHash string) (*Catalog, bool, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, false, nil
	}
	db, err := openSnapshotDB(path)
	if err != nil {
		return nil, false, err
	}
	defer db.Close()
	if err := initSnapshotSchema(db); err != nil {
		return nil, false, err
	}

	var storedHash string
	err = db.QueryRow(`SELECT value FROM snapshot_meta WHERE key = 'source_sha1'`).Scan(&storedHash)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read snapshot meta: %w", err)
	}
	if storedHash != sourceHash {
		return nil, false, nil
	}

	rows, err := db.Query(`SELECT id, name, summary, issues, ministry, bureau, url,
		initial_budget, final_budget, vector_json
		FROM catalog_items ORDER BY position`)
	if err != nil {
		return nil, false, fmt.Errorf("read snapshot items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			it          Item
			initial     sql.NullFloat64
			final       sql.NullFloat64
			vectorJSON  string
			embedFloats []float64
		)
		if err := rows.Scan(&it.ID, &it.Name, &it.Summary, &it.Issues, &it.Ministry,
			&it.Bureau, &it.URL, &initial, &final, &vectorJSON); err != nil {
			return nil, false, fmt.Errorf("scan snapshot item: %w", err)
		}
		if err := json.Unmarshal([]byte(vectorJSON), &embedFloats); err != nil {
			return nil, false, fmt.Errorf("decode snapshot vector: %w", err)
		}
		it.Embedding = make([]float32, len(embedFloats))
		for i, v := range embedFloats {
			it.Embedding[i] = float32(v)
		}
		it.InitialBudget = nullToNaN(initial)
		it.FinalBudget = nullToNaN(final)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	if len(items) == 0 {
		return nil, false, nil
	}

	cat, err := New(items)
	if err != nil {
		return nil, false, err
	}
	return cat, true, nil
}

func writeSnapshot(path, sourceHash string, cat *Catalog) error {
	db, err := openSnapshotDB(path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := initSnapshotSchema(db); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM catalog_items`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM snapshot_meta`); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO catalog_items
		(position, id, name, summary, issues, ministry, bureau, url,
		 initial_budget, final_budget, vector_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := 0; i < cat.Len(); i++ {
		it, _ := cat.Item(i)
		floats := make([]float64, len(it.Embedding))
		for j, v := range it.Embedding {
			floats[j] = float64(v)
		}
		vectorJSON, err := json.Marshal(floats)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(i, it.ID, it.Name, it.Summary, it.Issues, it.Ministry,
			it.Bureau, it.URL, naNToNull(it.InitialBudget), naNToNull(it.FinalBudget),
			string(vectorJSON)); err != nil {
			return fmt.Errorf("insert snapshot item %d: %w", i, err)
		}
	}

	metaStmt := `INSERT INTO snapshot_meta (key, value) VALUES (?, ?)`
	if _, err := tx.Exec(metaStmt, "source_sha1", sourceHash); err != nil {
		return err
	}
	if _, err := tx.Exec(metaStmt, "created_at_ms", fmt.Sprintf("%d", time.Now().UnixMilli())); err != nil {
		return err
	}
	if _, err := tx.Exec(metaStmt, "dim", fmt.Sprintf("%d", cat.Dim())); err != nil {
		return err
	}

	return tx.Commit()
}

func nullToNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func naNToNull(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}
