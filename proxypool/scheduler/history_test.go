package scheduler

import (
	"fmt"
	"testing"

	"proxypool_sentinel/proxypool/model"
)

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Append(model.TaskRecord{ID: fmt.Sprintf("rec-%d", i), Task: model.TaskFetch})
	}

	recent := h.Recent()
	if len(recent) != 3 {
		t.Fatalf("kept %d records, want 3", len(recent))
	}
	// Newest first.
	if recent[0].ID != "rec-4" || recent[2].ID != "rec-2" {
		t.Errorf("recent order = %s..%s, want rec-4..rec-2", recent[0].ID, recent[2].ID)
	}
}

func TestHistoryLastByKind(t *testing.T) {
	h := NewHistory(10)
	h.Append(model.TaskRecord{ID: "f1", Task: model.TaskFetch})
	h.Append(model.TaskRecord{ID: "v1", Task: model.TaskValidate})
	h.Append(model.TaskRecord{ID: "f2", Task: model.TaskFetch})

	rec, ok := h.Last(model.TaskFetch)
	if !ok || rec.ID != "f2" {
		t.Errorf("last fetch = %+v, want f2", rec)
	}
	if _, ok := h.Last(model.TaskCleanup); ok {
		t.Error("Last for absent kind should report not found")
	}
}
