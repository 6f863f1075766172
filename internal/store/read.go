package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/abitmore/steem/internal/history"
)

const selectRecord = `
	SELECT id, author, permlink, block, trx_in_block, op_in_trx, op_type, time_key,
	       before_title, before_body, before_json_metadata,
	       after_title, after_body, after_json_metadata
	FROM comment_history`

// Get returns the record for an exact (author, permlink, sequence).
// Uses the UNIQUE primary index.
func (s *Store) Get(ctx context.Context, key history.Key, seq history.Sequence) (history.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, selectRecord+`
		WHERE author = ? AND permlink = ? AND block = ? AND trx_in_block = ? AND op_in_trx = ?
	`, key.Author, key.Permlink, seq.Block, seq.TrxInBlock, seq.OpInTrx)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return history.Record{}, false, nil
	}
	if err != nil {
		return history.Record{}, false, fmt.Errorf("get history record: %w", err)
	}
	return rec, true, nil
}

// Latest returns the record with the greatest sequence for key.
func (s *Store) Latest(ctx context.Context, key history.Key) (history.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, selectRecord+`
		WHERE author = ? AND permlink = ?
		ORDER BY block DESC, trx_in_block DESC, op_in_trx DESC
		LIMIT 1
	`, key.Author, key.Permlink)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return history.Record{}, false, nil
	}
	if err != nil {
		return history.Record{}, false, fmt.Errorf("latest history record: %w", err)
	}
	return rec, true, nil
}

// ScanByTime walks key's records in (time_key DESC, id DESC) order, starting
// at the first record with time_key <= newest.
func (s *Store) ScanByTime(ctx context.Context, key history.Key, newest int64, fn history.ScanFunc) error {
	return s.scan(ctx, "scan by time", fn, selectRecord+`
		WHERE author = ? AND permlink = ? AND time_key <= ?
		ORDER BY time_key DESC, id DESC
	`, key.Author, key.Permlink, newest)
}

// ScanBySequence walks key's records newest sequence first.
func (s *Store) ScanBySequence(ctx context.Context, key history.Key, fn history.ScanFunc) error {
	return s.scan(ctx, "scan by sequence", fn, selectRecord+`
		WHERE author = ? AND permlink = ?
		ORDER BY block DESC, trx_in_block DESC, op_in_trx DESC
	`, key.Author, key.Permlink)
}

// ScanBlock walks the records of one block in insertion order.
func (s *Store) ScanBlock(ctx context.Context, block uint32, fn history.ScanFunc) error {
	return s.scan(ctx, "scan block", fn, selectRecord+`
		WHERE block = ?
		ORDER BY id ASC
	`, block)
}

// Len returns the number of stored records.
func (s *Store) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comment_history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history records: %w", err)
	}
	return n, nil
}

// scan runs query and feeds each row to fn until fn returns false.
func (s *Store) scan(ctx context.Context, op string, fn history.ScanFunc, query string, args ...any) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !fn(rec) {
			return nil
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("%s: iterate: %w", op, err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans one selectRecord row. sql.ErrNoRows is returned unwrapped.
func scanRecord(row rowScanner) (history.Record, error) {
	var (
		rec           history.Record
		id            int64
		block, trx    int64
		op            int64
		opType        int64
		timeKey       int64
		before, after [3]sql.NullString
	)

	if err := row.Scan(
		&id, &rec.Author, &rec.Permlink, &block, &trx, &op, &opType, &timeKey,
		&before[0], &before[1], &before[2],
		&after[0], &after[1], &after[2],
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return history.Record{}, err
		}
		return history.Record{}, fmt.Errorf("scan history record: %w", err)
	}

	rec.ID = uint64(id)
	rec.Seq = history.Sequence{Block: uint32(block), TrxInBlock: uint32(trx), OpInTrx: uint16(op)}
	rec.OpType = history.OpType(opType)
	rec.Time = history.TimeFromKey(timeKey)
	rec.ContentBefore = contentFromColumns(before)
	rec.ContentAfter = contentFromColumns(after)

	return rec, nil
}

func contentFromColumns(cols [3]sql.NullString) *history.Content {
	if !cols[0].Valid {
		return nil
	}
	return &history.Content{
		Title:        cols[0].String,
		Body:         cols[1].String,
		JSONMetadata: cols[2].String,
	}
}
