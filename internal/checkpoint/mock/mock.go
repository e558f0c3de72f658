// Package mock provides a test double for the checkpoint.Store interface.
//
// Store records every method call and keeps written records in memory so a
// second pipeline run over the same store observes the first run's
// checkpoints. Errors can be injected per method.
//
//	store := &mock.Store{}
//	// run the pipeline twice ...
//	if got := store.CallCount("UpsertBlock"); got != 2 {
//	    t.Errorf("expected 2 UpsertBlock calls, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scribefix/internal/checkpoint"
	"github.com/MrWong99/scribefix/internal/transcript"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string

	// Args holds the non-context arguments, in order.
	Args []any
}

// Store is a configurable test double for [checkpoint.Store].
type Store struct {
	mu    sync.Mutex
	calls []Call
	mem   *checkpoint.MemoryStore

	// FindErr is returned by FindBlock when non-nil.
	FindErr error

	// UpsertErr is returned by UpsertBlock when non-nil. Nothing is stored.
	UpsertErr error

	// ListErr is returned by ListBlocks when non-nil.
	ListErr error
}

var _ checkpoint.Store = (*Store)(nil)

// record logs the call and returns the backing store and the injected error
// for method.
func (s *Store) record(method string, args ...any) (*checkpoint.MemoryStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: method, Args: args})
	if s.mem == nil {
		s.mem = checkpoint.NewMemoryStore()
	}
	var err error
	switch method {
	case "FindBlock":
		err = s.FindErr
	case "UpsertBlock":
		err = s.UpsertErr
	case "ListBlocks":
		err = s.ListErr
	}
	return s.mem, err
}

// FindBlock implements [checkpoint.Store].
func (s *Store) FindBlock(ctx context.Context, fileID string, blockIndex int) (*checkpoint.Record, error) {
	mem, err := s.record("FindBlock", fileID, blockIndex)
	if err != nil {
		return nil, err
	}
	return mem.FindBlock(ctx, fileID, blockIndex)
}

// UpsertBlock implements [checkpoint.Store].
func (s *Store) UpsertBlock(ctx context.Context, fileID string, blockIndex int, result transcript.BlockResult, status checkpoint.Status, errMsg string) error {
	mem, err := s.record("UpsertBlock", fileID, blockIndex, result, status, errMsg)
	if err != nil {
		return err
	}
	return mem.UpsertBlock(ctx, fileID, blockIndex, result, status, errMsg)
}

// ListBlocks implements [checkpoint.Store].
func (s *Store) ListBlocks(ctx context.Context, fileID string) ([]checkpoint.Record, error) {
	mem, err := s.record("ListBlocks", fileID)
	if err != nil {
		return nil, err
	}
	return mem.ListBlocks(ctx, fileID)
}

// Calls returns a copy of all recorded method invocations.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls. Stored records are kept.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}
