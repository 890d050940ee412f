// Package testutil provides in-memory doubles for the storage layer.
package testutil

import (
	"context"
	"sync"

	"github.com/mwzzzh/devreg/pkg/pool"
)

// FakeStore is an in-memory pool.Store with optional failure injection.
type FakeStore struct {
	mu sync.Mutex

	// FailUpserts makes the next N Upsert calls fail.
	failUpserts int
	upsertErr   error

	rows    map[string]pool.Row // keyed by device id
	upserts int
}

var _ pool.Store = (*FakeStore)(nil)

// NewFakeStore returns an empty store.
func NewFakeStore() *FakeStore {
	return &FakeStore{rows: make(map[string]pool.Row)}
}

// FailNextUpserts makes the next n Upsert calls return err.
func (s *FakeStore) FailNextUpserts(n int, err error) {
	s.mu.Lock()
	s.failUpserts = n
	s.upsertErr = err
	s.mu.Unlock()
}

// Upserts reports how many Upsert calls were made, including failed ones.
func (s *FakeStore) Upserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

// Len reports how many distinct devices are stored.
func (s *FakeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Rows returns a copy of all stored rows.
func (s *FakeStore) Rows() []pool.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]pool.Row, 0, len(s.rows))
	for _, r := range s.rows {
		out = append(out, r)
	}
	return out
}

// Seed inserts rows directly, bypassing the failure injection.
func (s *FakeStore) Seed(rows ...pool.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.rows[r.DeviceID] = r
	}
}

func (s *FakeStore) Ping(ctx context.Context) error         { return nil }
func (s *FakeStore) EnsureSchema(ctx context.Context) error { return nil }

func (s *FakeStore) Upsert(ctx context.Context, rows []pool.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.failUpserts > 0 {
		s.failUpserts--
		return s.upsertErr
	}
	for _, r := range rows {
		s.rows[r.DeviceID] = r
	}
	return nil
}

func (s *FakeStore) CountShard(ctx context.Context, shard int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.rows {
		if r.ShardID == shard {
			n++
		}
	}
	return n, nil
}

func (s *FakeStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

func (s *FakeStore) Evict(ctx context.Context, shard, n int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, r := range s.rows {
		if removed >= int64(n) {
			break
		}
		if r.ShardID == shard {
			delete(s.rows, id)
			removed++
		}
	}
	return removed, nil
}

func (s *FakeStore) Close() error { return nil }
