package kvstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/abitmore/steem/internal/history"
)

// Head implements history.Progress.
func (s *Store) Head(ctx context.Context) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("read ingest head: %w", err)
	}

	var head uint32
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyHead)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			head = binary.BigEndian.Uint32(v)
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("read ingest head: %w", err)
	}
	return head, nil
}

// MaxBlock implements history.Progress with one reverse seek over the block
// order.
func (s *Store) MaxBlock(ctx context.Context) (uint32, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, fmt.Errorf("max block: %w", err)
	}

	var (
		block uint32
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = prefixBlock
		it := txn.NewIterator(opts)
		defer it.Close()

		// Past every b/<block><id> key.
		seek := append(append([]byte{}, prefixBlock...), bytes.Repeat([]byte{0xff}, 12)...)
		it.Seek(seek)
		if it.ValidForPrefix(prefixBlock) {
			block, found = blockFromBlockKey(it.Item().Key()), true
		}
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("max block: %w", err)
	}
	return block, found, nil
}

// ScanLive implements history.Progress.
func (s *Store) ScanLive(ctx context.Context, fn func(history.Key, history.Content) bool) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("scan live content: %w", err)
	}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixLive
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefixLive); it.Next() {
			item := it.Item()
			key, err := decodeItemKey(prefixLive, item.Key())
			if err != nil {
				return err
			}
			var c history.Content
			if err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &c)
			}); err != nil {
				return fmt.Errorf("decode live %s: %w", key, err)
			}
			if !fn(key, c) {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan live content: %w", err)
	}
	return nil
}

// Commit implements history.Progress in a single badger transaction.
func (s *Store) Commit(ctx context.Context, block uint32, live []history.LiveEntry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit block %d: %w", block, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, e := range live {
			k := itemKey(prefixLive, e.Key)
			if e.Content == nil {
				if err := txn.Delete(k); err != nil {
					return err
				}
				continue
			}
			v, err := json.Marshal(e.Content)
			if err != nil {
				return fmt.Errorf("encode live %s: %w", e.Key, err)
			}
			if err := txn.Set(k, v); err != nil {
				return err
			}
		}
		return txn.Set(keyHead, binary.BigEndian.AppendUint32(nil, block))
	})
	if err != nil {
		return fmt.Errorf("commit block %d: %w", block, err)
	}
	return nil
}
