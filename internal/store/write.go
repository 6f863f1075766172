package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/abitmore/steem/internal/history"
)

// Create inserts a history record and returns it with its insertion ID.
//
// There is no ON CONFLICT clause: a second row for the same
// (author, permlink, block, trx_in_block, op_in_trx) fails the UNIQUE
// constraint and is reported as *history.CorruptIndexError.
func (s *Store) Create(ctx context.Context, rec history.Record) (history.Record, error) {
	before := nullContent(rec.ContentBefore)
	after := nullContent(rec.ContentAfter)

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO comment_history
		(author, permlink, block, trx_in_block, op_in_trx, op_type, time_key,
		 before_title, before_body, before_json_metadata,
		 after_title, after_body, after_json_metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Author,
		rec.Permlink,
		rec.Seq.Block,
		rec.Seq.TrxInBlock,
		rec.Seq.OpInTrx,
		uint8(rec.OpType),
		rec.TimeKey(),
		before[0], before[1], before[2],
		after[0], after[1], after[2],
	)
	if err != nil {
		if isUniqueViolation(err) {
			return history.Record{}, history.NewCorruptIndexError(rec.Key(), rec.Seq)
		}
		return history.Record{}, fmt.Errorf("create history record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return history.Record{}, fmt.Errorf("create history record: last insert id: %w", err)
	}

	rec = rec.Clone()
	rec.ID = uint64(id)
	rec.Time = history.TimeFromKey(rec.TimeKey())
	return rec, nil
}

// Modify applies fn to the record with the given ID inside one transaction.
// The time index is maintained by SQLite when time_key changes.
func (s *Store) Modify(ctx context.Context, id uint64, fn func(*history.Record)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("modify %d: begin tx: %w", id, err)
	}
	defer tx.Rollback() // No-op if committed

	cur, err := scanRecord(tx.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("modify %d: %w", id, history.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("modify %d: %w", id, err)
	}

	next := cur.Clone()
	fn(&next)
	if err := history.CheckImmutable(cur, next); err != nil {
		return fmt.Errorf("modify %d: %w", id, err)
	}

	before := nullContent(next.ContentBefore)
	after := nullContent(next.ContentAfter)
	_, err = tx.ExecContext(ctx, `
		UPDATE comment_history SET
			op_type = ?, time_key = ?,
			before_title = ?, before_body = ?, before_json_metadata = ?,
			after_title = ?, after_body = ?, after_json_metadata = ?
		WHERE id = ?
	`,
		uint8(next.OpType),
		next.TimeKey(),
		before[0], before[1], before[2],
		after[0], after[1], after[2],
		id,
	)
	if err != nil {
		return fmt.Errorf("modify %d: update: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("modify %d: commit: %w", id, err)
	}
	return nil
}

// nullContent flattens an optional snapshot into three nullable columns.
func nullContent(c *history.Content) [3]sql.NullString {
	if c == nil {
		return [3]sql.NullString{}
	}
	return [3]sql.NullString{
		{String: c.Title, Valid: true},
		{String: c.Body, Valid: true},
		{String: c.JSONMetadata, Valid: true},
	}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
