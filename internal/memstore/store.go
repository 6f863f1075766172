// Package memstore is the in-memory history.Store.
//
// Records live in an arena indexed by insertion ID. Three B-trees map the
// primary, time and block orders onto arena slots, and every mutation updates
// them under the same write lock so they never diverge.
//
// Thread-safety: any number of readers run concurrently; a writer holds the
// exclusive lock only for one Create or Modify.
package memstore

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/abitmore/steem/internal/history"
)

// Store is an in-memory record store.
type Store struct {
	mu    sync.RWMutex
	arena []history.Record // arena[id-1]
	ix    indexes

	head uint32
	live map[history.Key]history.Content
}

var _ history.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{ix: newIndexes(), live: make(map[history.Key]history.Content)}
}

// Create implements history.Writer.
func (s *Store) Create(_ context.Context, rec history.Record) (history.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ix.primary.Has(primaryOf(&rec)) {
		return history.Record{}, history.NewCorruptIndexError(rec.Key(), rec.Seq)
	}

	rec = rec.Clone()
	rec.ID = uint64(len(s.arena)) + 1
	s.arena = append(s.arena, rec)
	s.ix.insert(&s.arena[len(s.arena)-1])

	return rec.Clone(), nil
}

// Modify implements history.Writer.
func (s *Store) Modify(_ context.Context, id uint64, fn func(*history.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == 0 || id > uint64(len(s.arena)) {
		return fmt.Errorf("modify %d: %w", id, history.ErrNotFound)
	}

	cur := &s.arena[id-1]
	next := cur.Clone()
	fn(&next)
	if err := history.CheckImmutable(*cur, next); err != nil {
		return fmt.Errorf("modify %d: %w", id, err)
	}

	// Only the time view depends on mutable fields.
	if next.TimeKey() != cur.TimeKey() {
		s.ix.byTime.Delete(timeOf(cur))
		s.ix.byTime.ReplaceOrInsert(timeOf(&next))
	}
	*cur = next

	return nil
}

// Get implements history.Reader.
func (s *Store) Get(_ context.Context, key history.Key, seq history.Sequence) (history.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.ix.primary.Get(primaryItem{author: key.Author, permlink: key.Permlink, seq: seq})
	if !ok {
		return history.Record{}, false, nil
	}
	return s.arena[item.id-1].Clone(), true, nil
}

// Latest implements history.Reader.
func (s *Store) Latest(ctx context.Context, key history.Key) (history.Record, bool, error) {
	var (
		latest history.Record
		found  bool
	)
	err := s.ScanBySequence(ctx, key, func(r history.Record) bool {
		latest, found = r, true
		return false
	})
	return latest, found, err
}

// ScanByTime implements history.Reader.
func (s *Store) ScanByTime(_ context.Context, key history.Key, newest int64, fn history.ScanFunc) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pivot := timeItem{author: key.Author, permlink: key.Permlink, time: newest, id: math.MaxUint64}
	s.ix.byTime.AscendGreaterOrEqual(pivot, func(it timeItem) bool {
		if it.author != key.Author || it.permlink != key.Permlink {
			return false
		}
		return fn(s.arena[it.id-1].Clone())
	})
	return nil
}

// ScanBySequence implements history.Reader.
func (s *Store) ScanBySequence(_ context.Context, key history.Key, fn history.ScanFunc) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pivot := primaryItem{author: key.Author, permlink: key.Permlink, seq: history.MaxSequence}
	s.ix.primary.AscendGreaterOrEqual(pivot, func(it primaryItem) bool {
		if it.author != key.Author || it.permlink != key.Permlink {
			return false
		}
		return fn(s.arena[it.id-1].Clone())
	})
	return nil
}

// ScanBlock implements history.Reader.
func (s *Store) ScanBlock(_ context.Context, block uint32, fn history.ScanFunc) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.ix.byBlock.AscendGreaterOrEqual(blockItem{block: block}, func(it blockItem) bool {
		if it.block != block {
			return false
		}
		return fn(s.arena[it.id-1].Clone())
	})
	return nil
}

// Len implements history.Reader.
func (s *Store) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.arena), nil
}

// Head implements history.Progress.
func (s *Store) Head(_ context.Context) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head, nil
}

// MaxBlock implements history.Progress.
func (s *Store) MaxBlock(_ context.Context) (uint32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.ix.byBlock.Max()
	return it.block, ok, nil
}

// ScanLive implements history.Progress.
func (s *Store) ScanLive(_ context.Context, fn func(history.Key, history.Content) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for k, c := range s.live {
		if !fn(k, c) {
			return nil
		}
	}
	return nil
}

// Commit implements history.Progress.
func (s *Store) Commit(_ context.Context, block uint32, live []history.LiveEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range live {
		if e.Content == nil {
			delete(s.live, e.Key)
			continue
		}
		s.live[e.Key] = *e.Content
	}
	s.head = block
	return nil
}

// Close is a no-op; it exists to satisfy history.Store.
func (s *Store) Close() error {
	return nil
}
