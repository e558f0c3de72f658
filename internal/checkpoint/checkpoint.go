// Package checkpoint persists per-block results so an interrupted correction
// run can resume where it stopped.
//
// A record is keyed by (file ID, block index). Writing the same key again
// replaces the previous record, which makes replays idempotent. Stores are
// safe for concurrent use; the pipeline writes one block at a time.
//
// Implementations:
//   - [MemoryStore]: process-local, for tests and one-off runs.
//   - postgres.Store: PostgreSQL via pgx.
//   - sqlite.Store: a local SQLite file via gorm.
package checkpoint

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/scribefix/internal/transcript"
)

// Status is the outcome of a checkpointed block.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusCompleted || s == StatusError
}

// Record is one persisted block outcome.
type Record struct {
	FileID     string
	BlockIndex int
	Status     Status

	// Error is the failure message when Status is [StatusError].
	Error string

	// Result is the block result. For failed blocks it holds at least the
	// block index, segment indices, and original text.
	Result transcript.BlockResult

	UpdatedAt time.Time
}

// Completed reports whether the block finished successfully.
func (r *Record) Completed() bool {
	return r != nil && r.Status == StatusCompleted
}

// Store is the checkpoint persistence boundary.
type Store interface {
	// FindBlock returns the record for the block, or nil and no error when
	// none exists.
	FindBlock(ctx context.Context, fileID string, blockIndex int) (*Record, error)

	// UpsertBlock creates or replaces the record for the block.
	UpsertBlock(ctx context.Context, fileID string, blockIndex int, result transcript.BlockResult, status Status, errMsg string) error

	// ListBlocks returns all records of a file ordered by block index.
	ListBlocks(ctx context.Context, fileID string) ([]Record, error)
}

type recordKey struct {
	fileID string
	block  int
}

// MemoryStore is an in-process [Store].
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]Record
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]Record), now: time.Now}
}

// FindBlock implements [Store].
func (s *MemoryStore) FindBlock(_ context.Context, fileID string, blockIndex int) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[recordKey{fileID, blockIndex}]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// UpsertBlock implements [Store].
func (s *MemoryStore) UpsertBlock(_ context.Context, fileID string, blockIndex int, result transcript.BlockResult, status Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey{fileID, blockIndex}] = Record{
		FileID:     fileID,
		BlockIndex: blockIndex,
		Status:     status,
		Error:      errMsg,
		Result:     result,
		UpdatedAt:  s.now(),
	}
	return nil
}

// ListBlocks implements [Store].
func (s *MemoryStore) ListBlocks(_ context.Context, fileID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Record{}
	for k, r := range s.records {
		if k.fileID == fileID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Record) int { return cmp.Compare(a.BlockIndex, b.BlockIndex) })
	return out, nil
}
