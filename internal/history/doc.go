// Package history defines the comment history record and the storage
// capabilities the indexer is built on.
//
// A Record is created for every comment or delete_comment operation the host
// applies. Records are append-only: ingestion attaches content snapshots and
// the block timestamp after creation, but never deletes a record.
//
// # Orders
//
// Every Store keeps three views over the same set of records:
//
//   - Primary:  (author, permlink, sequence DESC)      unique, newest edit first
//   - Time:     (author, permlink, time DESC, id DESC)  unset time sorts as newest
//   - Block:    (block ASC, id ASC)                      timestamp backfill
//
// Primary and block keys never change once a record exists. The time key
// changes exactly once, when the owning block is finalized, and the record is
// re-seated in the time view when that happens.
//
// # Errors
//
// A second record for the same (author, permlink, sequence) means the host
// broke its ordering contract. Stores report it as *CorruptIndexError and
// leave their state untouched.
package history
