package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MrWong99/scribefix/internal/checkpoint"
	"github.com/MrWong99/scribefix/internal/checkpoint/sqlite"
	"github.com/MrWong99/scribefix/internal/transcript"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_Ping(t *testing.T) {
	t.Parallel()

	if err := newTestStore(t).Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestStore_FindMissing(t *testing.T) {
	t.Parallel()

	rec, err := newTestStore(t).FindBlock(context.Background(), "f", 0)
	if err != nil || rec != nil {
		t.Errorf("FindBlock = %+v, %v; want nil, nil", rec, err)
	}
}

func TestStore_UpsertAndFind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	res := transcript.BlockResult{
		BlockIndex:     1,
		SegmentIndices: []int{20, 21},
		OriginalText:   "A: seal",
		CorrectedText:  "A: sell",
		Corrections:    []transcript.Correction{{ID: "c1", Original: "seal", Replacement: "sell", Confidence: 0.8}},
	}

	if err := store.UpsertBlock(ctx, "f", 1, transcript.BlockResult{BlockIndex: 1}, checkpoint.StatusError, "timeout"); err != nil {
		t.Fatalf("UpsertBlock(error): %v", err)
	}
	if err := store.UpsertBlock(ctx, "f", 1, res, checkpoint.StatusCompleted, ""); err != nil {
		t.Fatalf("UpsertBlock(completed): %v", err)
	}

	rec, err := store.FindBlock(ctx, "f", 1)
	if err != nil {
		t.Fatalf("FindBlock: %v", err)
	}
	if !rec.Completed() || rec.Error != "" {
		t.Errorf("record status = %q, error = %q; want completed without error", rec.Status, rec.Error)
	}
	if rec.Result.CorrectedText != "A: sell" || len(rec.Result.SegmentIndices) != 2 {
		t.Errorf("Result = %+v", rec.Result)
	}
	if len(rec.Result.Corrections) != 1 || rec.Result.Corrections[0].ID != "c1" {
		t.Errorf("Corrections = %+v", rec.Result.Corrections)
	}
}

func TestStore_ListBlocks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	for _, i := range []int{4, 1, 3} {
		if err := store.UpsertBlock(ctx, "a", i, transcript.BlockResult{BlockIndex: i}, checkpoint.StatusCompleted, ""); err != nil {
			t.Fatalf("UpsertBlock: %v", err)
		}
	}
	if err := store.UpsertBlock(ctx, "b", 0, transcript.BlockResult{}, checkpoint.StatusCompleted, ""); err != nil {
		t.Fatalf("UpsertBlock: %v", err)
	}

	recs, err := store.ListBlocks(ctx, "a")
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	want := []int{1, 3, 4}
	if len(recs) != len(want) {
		t.Fatalf("ListBlocks = %d records, want %d", len(recs), len(want))
	}
	for i, w := range want {
		if recs[i].BlockIndex != w {
			t.Errorf("recs[%d].BlockIndex = %d, want %d", i, recs[i].BlockIndex, w)
		}
	}
}
