// Package kvstore is a history.Store on top of the badger embedded key-value
// database.
//
// Each record is stored once under its insertion ID. The primary, time and
// block orders are separate key families whose byte order is the view's
// logical order (see keys.go), so every view is a forward prefix scan. One
// badger transaction covers each Create or Modify, keeping record and index
// keys in step.
//
// Thread-safety: reads run in concurrent read-only transactions. Writers are
// serialized by a mutex so the ID counter never conflicts.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/abitmore/steem/internal/history"
)

// Store is a badger-backed record store.
type Store struct {
	db *badger.DB

	writeMu sync.Mutex

	gcStop chan struct{}
	gcDone chan struct{}
}

var _ history.Store = (*Store)(nil)

// storedRecord is the persisted form of a record. The ID lives in the key.
type storedRecord struct {
	Author        string           `json:"author"`
	Permlink      string           `json:"permlink"`
	Seq           history.Sequence `json:"seq"`
	OpType        history.OpType   `json:"op_type"`
	TimeKey       int64            `json:"time_key"`
	ContentBefore *history.Content `json:"content_before,omitempty"`
	ContentAfter  *history.Content `json:"content_after,omitempty"`
}

// Open opens or creates a store with the given configuration.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		logger := cfg.Logger
		if logger == nil {
			logger = slog.Default()
		}
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go gcLoop(db, cfg.GCInterval, cfg.GCDiscardRatio, logger, s.gcStop, s.gcDone)
	}
	return s, nil
}

// OpenPath opens a persistent store at path with DefaultConfig.
func OpenPath(path string) (*Store, error) {
	return Open(DefaultConfig(path))
}

// Close stops background GC and closes the database.
func (s *Store) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
		s.gcStop = nil
	}
	return s.db.Close()
}

// Create implements history.Writer.
func (s *Store) Create(ctx context.Context, rec history.Record) (history.Record, error) {
	if err := ctx.Err(); err != nil {
		return history.Record{}, fmt.Errorf("create history record: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec = rec.Clone()
	err := s.db.Update(func(txn *badger.Txn) error {
		pk := primaryKey(rec.Key(), rec.Seq)
		_, err := txn.Get(pk)
		if err == nil {
			return history.NewCorruptIndexError(rec.Key(), rec.Seq)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		id, err := nextID(txn)
		if err != nil {
			return err
		}
		rec.ID = id

		if err := putRecord(txn, rec); err != nil {
			return err
		}
		if err := txn.Set(pk, encodeID(id)); err != nil {
			return err
		}
		if err := txn.Set(timeKey(rec.Key(), rec.TimeKey(), id), nil); err != nil {
			return err
		}
		return txn.Set(blockKey(rec.Seq.Block, id), nil)
	})
	if err != nil {
		if history.IsCorruptIndex(err) {
			return history.Record{}, err
		}
		return history.Record{}, fmt.Errorf("create history record: %w", err)
	}

	rec.Time = history.TimeFromKey(rec.TimeKey())
	return rec, nil
}

// Modify implements history.Writer.
func (s *Store) Modify(ctx context.Context, id uint64, fn func(*history.Record)) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("modify %d: %w", id, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		cur, err := getRecord(txn, id)
		if err != nil {
			return err
		}

		next := cur.Clone()
		fn(&next)
		if err := history.CheckImmutable(cur, next); err != nil {
			return err
		}

		if next.TimeKey() != cur.TimeKey() {
			if err := txn.Delete(timeKey(cur.Key(), cur.TimeKey(), id)); err != nil {
				return err
			}
			if err := txn.Set(timeKey(next.Key(), next.TimeKey(), id), nil); err != nil {
				return err
			}
		}
		return putRecord(txn, next)
	})
	if err != nil {
		return fmt.Errorf("modify %d: %w", id, err)
	}
	return nil
}

// Get implements history.Reader.
func (s *Store) Get(ctx context.Context, key history.Key, seq history.Sequence) (history.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return history.Record{}, false, fmt.Errorf("get history record: %w", err)
	}

	var (
		rec   history.Record
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(primaryKey(key, seq))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var id uint64
		if err := item.Value(func(v []byte) error {
			id = decodeID(v)
			return nil
		}); err != nil {
			return err
		}
		rec, err = getRecord(txn, id)
		found = err == nil
		return err
	})
	if err != nil {
		return history.Record{}, false, fmt.Errorf("get history record: %w", err)
	}
	return rec, found, nil
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
func (s *Store) ScanByTime(ctx context.Context, key history.Key, newest int64, fn history.ScanFunc) error {
	return s.scan(ctx, "scan by time", itemKey(prefixTime, key), timeSeekKey(key, newest),
		func(it *badger.Item) (uint64, error) {
			return idFromTimeKey(it.Key()), nil
		}, fn)
}

// ScanBySequence implements history.Reader.
func (s *Store) ScanBySequence(ctx context.Context, key history.Key, fn history.ScanFunc) error {
	prefix := itemKey(prefixPrimary, key)
	return s.scan(ctx, "scan by sequence", prefix, prefix,
		func(it *badger.Item) (uint64, error) {
			var id uint64
			err := it.Value(func(v []byte) error {
				id = decodeID(v)
				return nil
			})
			return id, err
		}, fn)
}

// ScanBlock implements history.Reader.
func (s *Store) ScanBlock(ctx context.Context, block uint32, fn history.ScanFunc) error {
	prefix := blockPrefix(block)
	return s.scan(ctx, "scan block", prefix, prefix,
		func(it *badger.Item) (uint64, error) {
			return idFromBlockKey(it.Key()), nil
		}, fn)
}

// Len implements history.Reader. Records are never deleted, so the count is
// the number of IDs handed out.
func (s *Store) Len(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("count history records: %w", err)
	}

	var n uint64
	err := s.db.View(func(txn *badger.Txn) error {
		next, err := readCounter(txn)
		n = next - 1
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("count history records: %w", err)
	}
	return int(n), nil
}

// scan walks the index entries under prefix starting at seek, resolving each
// to its record.
func (s *Store) scan(ctx context.Context, op string, prefix, seek []byte,
	idOf func(*badger.Item) (uint64, error), fn history.ScanFunc) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			id, err := idOf(it.Item())
			if err != nil {
				return err
			}
			rec, err := getRecord(txn, id)
			if err != nil {
				return err
			}
			if !fn(rec) {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func getRecord(txn *badger.Txn, id uint64) (history.Record, error) {
	item, err := txn.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return history.Record{}, history.ErrNotFound
	}
	if err != nil {
		return history.Record{}, err
	}

	var sr storedRecord
	if err := item.Value(func(v []byte) error {
		return json.Unmarshal(v, &sr)
	}); err != nil {
		return history.Record{}, fmt.Errorf("decode record %d: %w", id, err)
	}

	return history.Record{
		ID:            id,
		Author:        sr.Author,
		Permlink:      sr.Permlink,
		Seq:           sr.Seq,
		OpType:        sr.OpType,
		Time:          history.TimeFromKey(sr.TimeKey),
		ContentBefore: sr.ContentBefore,
		ContentAfter:  sr.ContentAfter,
	}, nil
}

func putRecord(txn *badger.Txn, rec history.Record) error {
	v, err := json.Marshal(storedRecord{
		Author:        rec.Author,
		Permlink:      rec.Permlink,
		Seq:           rec.Seq,
		OpType:        rec.OpType,
		TimeKey:       rec.TimeKey(),
		ContentBefore: rec.ContentBefore,
		ContentAfter:  rec.ContentAfter,
	})
	if err != nil {
		return fmt.Errorf("encode record %d: %w", rec.ID, err)
	}
	return txn.Set(recordKey(rec.ID), v)
}

// readCounter returns the next insertion ID, starting at 1.
func readCounter(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(keyNextID)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	var next uint64
	err = item.Value(func(v []byte) error {
		next = decodeID(v)
		return nil
	})
	return next, err
}

// nextID reserves the next insertion ID within txn.
func nextID(txn *badger.Txn) (uint64, error) {
	id, err := readCounter(txn)
	if err != nil {
		return 0, err
	}
	if err := txn.Set(keyNextID, encodeID(id+1)); err != nil {
		return 0, err
	}
	return id, nil
}
