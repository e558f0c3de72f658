package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	"github.com/MrWong99/scribefix/internal/checkpoint"
	"github.com/MrWong99/scribefix/internal/checkpoint/postgres"
	"github.com/MrWong99/scribefix/internal/transcript"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if SCRIBEFIX_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("SCRIBEFIX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SCRIBEFIX_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	store, err := postgres.NewStore(context.Background(), testDSN(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

// fileID returns a fresh file ID so tests never see each other's rows.
func fileID() string { return "test-" + uuid.NewString() }

func TestStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := fileID()

	rec, err := store.FindBlock(ctx, id, 0)
	if err != nil || rec != nil {
		t.Fatalf("FindBlock on empty table = %+v, %v; want nil, nil", rec, err)
	}

	res := transcript.BlockResult{
		BlockIndex:     0,
		SegmentIndices: []int{0, 1},
		OriginalText:   "Speaker: ta oli seal",
		CorrectedText:  "Speaker: ta oli seal eile",
		Corrections:    []transcript.Correction{{ID: "c1", Original: "seal", Replacement: "seal eile", Confidence: 0.9}},
	}
	if err := store.UpsertBlock(ctx, id, 0, res, checkpoint.StatusCompleted, ""); err != nil {
		t.Fatalf("UpsertBlock: %v", err)
	}

	rec, err = store.FindBlock(ctx, id, 0)
	if err != nil {
		t.Fatalf("FindBlock: %v", err)
	}
	if !rec.Completed() {
		t.Errorf("Status = %q, want completed", rec.Status)
	}
	if rec.Result.CorrectedText != res.CorrectedText {
		t.Errorf("CorrectedText = %q, want %q", rec.Result.CorrectedText, res.CorrectedText)
	}
	if len(rec.Result.Corrections) != 1 || rec.Result.Corrections[0].Replacement != "seal eile" {
		t.Errorf("Corrections = %+v", rec.Result.Corrections)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
}

func TestStore_UpsertReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := fileID()

	if err := store.UpsertBlock(ctx, id, 2, transcript.BlockResult{BlockIndex: 2}, checkpoint.StatusError, "model down"); err != nil {
		t.Fatalf("UpsertBlock: %v", err)
	}
	rec, err := store.FindBlock(ctx, id, 2)
	if err != nil {
		t.Fatalf("FindBlock: %v", err)
	}
	if rec.Status != checkpoint.StatusError || rec.Error != "model down" {
		t.Errorf("record = %+v, want error status with message", rec)
	}

	if err := store.UpsertBlock(ctx, id, 2, transcript.BlockResult{BlockIndex: 2, CorrectedText: "x"}, checkpoint.StatusCompleted, ""); err != nil {
		t.Fatalf("UpsertBlock: %v", err)
	}
	rec, err = store.FindBlock(ctx, id, 2)
	if err != nil {
		t.Fatalf("FindBlock: %v", err)
	}
	if !rec.Completed() || rec.Error != "" || rec.Result.CorrectedText != "x" {
		t.Errorf("record = %+v, want replaced completed record", rec)
	}
}

func TestStore_ListBlocks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := fileID()

	for _, i := range []int{2, 0, 1} {
		if err := store.UpsertBlock(ctx, id, i, transcript.BlockResult{BlockIndex: i}, checkpoint.StatusCompleted, ""); err != nil {
			t.Fatalf("UpsertBlock(%d): %v", i, err)
		}
	}
	recs, err := store.ListBlocks(ctx, id)
	if err != nil {
		t.Fatalf("ListBlocks: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("ListBlocks = %d records, want 3", len(recs))
	}
	for i, r := range recs {
		if r.BlockIndex != i {
			t.Errorf("recs[%d].BlockIndex = %d, want %d", i, r.BlockIndex, i)
		}
	}

	none, err := store.ListBlocks(ctx, fileID())
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("ListBlocks(unknown) = %v, %v; want empty slice", none, err)
	}
}
