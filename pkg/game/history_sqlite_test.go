package game

import (
	"math"
	"path/filepath"
	"testing"
)

func TestHistoryStore_MissingActualRoundTrip(t *testing.T) {
	hist, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer hist.Close()

	outcomes := []YearOutcome{
		{EventID: "1001", Allocated: 90e9, Actual: 100e9, Within: true, HasVerdict: true},
		{EventID: "1004", Allocated: 5e9, Actual: math.NaN()},
	}
	if err := hist.RecordYear("s-1", 1, outcomes); err != nil {
		t.Fatalf("record: %v", err)
	}

	records, err := hist.SessionHistory("s-1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("rows = %d, want 2", len(records))
	}
	if !records[0].HasVerdict || !records[0].Within {
		t.Fatalf("verdict lost: %+v", records[0])
	}
	if !math.IsNaN(records[1].Actual) || records[1].HasVerdict {
		t.Fatalf("missing actual must stay missing: %+v", records[1])
	}

	// Unknown sessions read as empty, not as an error.
	empty, err := hist.SessionHistory("nope")
	if err != nil || len(empty) != 0 {
		t.Fatalf("unknown session: %v rows, err %v", len(empty), err)
	}
}
