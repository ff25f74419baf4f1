package catalog

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

const snapshotTestCSV = `event_id,name,initial_budget,final_budget,embedding
1,First,100,110,"[1, 0]"
2,Second,,,"[0, 1]"
`

func TestLoad_WritesAndReusesSnapshot(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "events.csv")
	snapPath := filepath.Join(dir, "catalog.db")
	if err := os.WriteFile(csvPath, []byte(snapshotTestCSV), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	first, err := Load(csvPath, snapPath)
	if err != nil {
		t.Fatalf("initial load: %v", err)
	}
	if _, err := os.Stat(snapPath); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}

	second, err := Load(csvPath, snapPath)
	if err != nil {
		t.Fatalf("snapshot load: %v", err)
	}

	if first.Len() != second.Len() || first.Dim() != second.Dim() {
		t.Fatalf("snapshot disagrees with source: %d/%d vs %d/%d",
			first.Len(), first.Dim(), second.Len(), second.Dim())
	}
	for i := 0; i < first.Len(); i++ {
		a, _ := first.Item(i)
		b, _ := second.Item(i)
		if a.ID != b.ID || a.Name != b.Name {
			t.Fatalf("row %d mismatch: %+v vs %+v", i, a, b)
		}
		if a.HasInitial() != b.HasInitial() {
			t.Fatalf("row %d initial-budget presence mismatch", i)
		}
		if a.HasInitial() && a.InitialBudget != b.InitialBudget {
			t.Fatalf("row %d initial budget %v vs %v", i, a.InitialBudget, b.InitialBudget)
		}
	}

	// Missing budgets must survive the round trip as NaN, not zero.
	row, _ := second.Item(1)
	if !math.IsNaN(row.InitialBudget) || !math.IsNaN(row.FinalBudget) {
		t.Fatalf("expected NaN budgets after round trip, got %v/%v",
			row.InitialBudget, row.FinalBudget)
	}
}

func TestLoad_StaleSnapshotIsReplaced(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "events.csv")
	snapPath := filepath.Join(dir, "catalog.db")
	if err := os.WriteFile(csvPath, []byte(snapshotTestCSV), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if _, err := Load(csvPath, snapPath); err != nil {
		t.Fatalf("initial load: %v", err)
	}

	// Change the source; the old snapshot hash no longer matches.
	updated := snapshotTestCSV + `3,Third,300,,"[1, 1]"` + "\n"
	if err := os.WriteFile(csvPath, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite csv: %v", err)
	}

	cat, err := Load(csvPath, snapPath)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cat.Len() != 3 {
		t.Fatalf("expected reparse to pick up new row, got %d items", cat.Len())
	}

	// And the refreshed snapshot serves the new content.
	again, err := Load(csvPath, snapPath)
	if err != nil {
		t.Fatalf("reload from refreshed snapshot: %v", err)
	}
	if again.Len() != 3 {
		t.Fatalf("refreshed snapshot has %d items, want 3", again.Len())
	}
}

func TestLoad_MissingCSV(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.csv"), "")
	if err == nil {
		t.Fatal("expected error for missing csv")
	}
}
