package history_test

import (
	"context"
	"testing"

	"github.com/ayusman/plastisort/internal/history"
	"github.com/ayusman/plastisort/internal/history/historytest"
)

func TestMemoryStore(t *testing.T) {
	historytest.Run(t, func(t *testing.T) history.Store {
		return history.NewMemoryStore()
	})
}

// The in-memory backend is not durable: a new store starts empty even after
// another instance recorded history in the same process.
func TestMemoryStore_NotDurable(t *testing.T) {
	ctx := context.Background()
	first := history.NewMemoryStore()
	if _, _, err := first.AppendOrReuse(ctx, history.NewRecord{SourceKind: history.SourceWebcam}); err != nil {
		t.Fatalf("AppendOrReuse() error = %v", err)
	}
	first.Close()

	second := history.NewMemoryStore()
	n, err := second.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 0 {
		t.Errorf("Count() = %d after restart, want 0", n)
	}
}

func TestMemoryStore_RecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := history.NewMemoryStore()

	dets := historytest.Detections("PET", 0.9)
	r, _, err := s.AppendOrReuse(ctx, history.NewRecord{SourceKind: history.SourceWebcam, Detections: dets})
	if err != nil {
		t.Fatalf("AppendOrReuse() error = %v", err)
	}
	dets[0].Class = "mutated"
	r.Detections[0].Confidence = 0

	got, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Detections[0].Class != "PET" || got.Detections[0].Confidence != 0.9 {
		t.Errorf("stored record changed through caller slices: %+v", got.Detections[0])
	}
}
