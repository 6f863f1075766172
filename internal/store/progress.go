package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/abitmore/steem/internal/history"
)

// Head returns the last committed block, or 0 when nothing was committed.
func (s *Store) Head(ctx context.Context) (uint32, error) {
	var head uint32
	err := s.db.QueryRowContext(ctx, `SELECT head FROM ingest_progress WHERE id = 1`).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read ingest head: %w", err)
	}
	return head, nil
}

// MaxBlock returns the greatest block with a record. Uses the block index.
func (s *Store) MaxBlock(ctx context.Context) (uint32, bool, error) {
	var block sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(block) FROM comment_history`).Scan(&block); err != nil {
		return 0, false, fmt.Errorf("max block: %w", err)
	}
	if !block.Valid {
		return 0, false, nil
	}
	return uint32(block.Int64), true, nil
}

// ScanLive walks the live_content table.
func (s *Store) ScanLive(ctx context.Context, fn func(history.Key, history.Content) bool) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT author, permlink, title, body, json_metadata FROM live_content
	`)
	if err != nil {
		return fmt.Errorf("scan live content: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key history.Key
			c   history.Content
		)
		if err := rows.Scan(&key.Author, &key.Permlink, &c.Title, &c.Body, &c.JSONMetadata); err != nil {
			return fmt.Errorf("scan live content: %w", err)
		}
		if !fn(key, c) {
			return nil
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("scan live content: iterate: %w", err)
	}
	return nil
}

// Commit upserts or deletes the live entries and moves the head to block in
// one transaction.
func (s *Store) Commit(ctx context.Context, block uint32, live []history.LiveEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit block %d: begin tx: %w", block, err)
	}
	defer tx.Rollback() // No-op if committed

	for _, e := range live {
		if e.Content == nil {
			_, err = tx.ExecContext(ctx, `
				DELETE FROM live_content WHERE author = ? AND permlink = ?
			`, e.Key.Author, e.Key.Permlink)
		} else {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO live_content (author, permlink, title, body, json_metadata)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (author, permlink) DO UPDATE SET
					title = excluded.title,
					body = excluded.body,
					json_metadata = excluded.json_metadata
			`, e.Key.Author, e.Key.Permlink, e.Content.Title, e.Content.Body, e.Content.JSONMetadata)
		}
		if err != nil {
			return fmt.Errorf("commit block %d: live %s: %w", block, e.Key, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ingest_progress (id, head) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET head = excluded.head
	`, block); err != nil {
		return fmt.Errorf("commit block %d: head: %w", block, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit block %d: %w", block, err)
	}
	return nil
}
