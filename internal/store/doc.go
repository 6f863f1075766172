// Package store provides SQLite-backed durable storage for comment history.
//
// The store keeps one append-only table, comment_history, addressable through
// the three orders the indexer needs:
//
//   - Primary: UNIQUE(author, permlink, block, trx_in_block, op_in_trx)
//   - Time:    idx_comment_history_by_permlink_time (author, permlink, time_key DESC, id DESC)
//   - Block:   idx_comment_history_by_block (block, id)
//
// Two side tables hold the ingestion checkpoint: ingest_progress (the last
// finalized block) and live_content (every live item as of that block). Commit
// writes both in one transaction.
//
// # Critical Patterns
//
// CP-1: Uniqueness Is Corruption
//   - A UNIQUE violation on insert is reported as *history.CorruptIndexError
//   - Nothing is overwritten; the failed insert leaves the table unchanged
//
// CP-2: Unset Time Sorts Newest
//   - time_key holds unix seconds, or history.UnsetTime until backfill
//   - Queries never special-case NULL
//
// CP-3: Deterministic Query Results
//   - Every scan has a total ORDER BY ending in id
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
