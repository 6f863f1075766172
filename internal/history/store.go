package history

import "context"

// ScanFunc receives records during a scan. Returning false stops the scan.
// Implementations hold internal locks or cursors while calling it, so it must
// not call back into the store.
type ScanFunc func(Record) bool

// Writer is the ingestion side of a Store.
type Writer interface {
	// Create inserts rec, assigning the next insertion ID. rec.ID is ignored.
	// Returns *CorruptIndexError if (author, permlink, seq) already exists.
	Create(ctx context.Context, rec Record) (Record, error)

	// Modify applies fn to a copy of the record with the given ID and stores
	// the result, re-seating it in the time order if its time changed.
	// Returns ErrImmutableKey if fn changed the author, permlink, sequence or ID.
	Modify(ctx context.Context, id uint64, fn func(*Record)) error
}

// Reader is the query side of a Store. All returned records are copies.
type Reader interface {
	// Get returns the record for an exact (key, seq).
	Get(ctx context.Context, key Key, seq Sequence) (Record, bool, error)

	// Latest returns the record with the greatest sequence for key.
	Latest(ctx context.Context, key Key) (Record, bool, error)

	// ScanByTime walks key's records in (time DESC, id DESC) order starting at
	// the first record whose time key is <= newest.
	ScanByTime(ctx context.Context, key Key, newest int64, fn ScanFunc) error

	// ScanBySequence walks key's records in sequence DESC order.
	ScanBySequence(ctx context.Context, key Key, fn ScanFunc) error

	// ScanBlock walks the records created in block in insertion order.
	ScanBlock(ctx context.Context, block uint32, fn ScanFunc) error

	// Len returns the number of records.
	Len(ctx context.Context) (int, error)
}

// LiveEntry is one change to the persisted live-content table. A nil Content
// removes the item.
type LiveEntry struct {
	Key     Key
	Content *Content
}

// Progress is the ingestion checkpoint kept next to the records. It lets a
// restarted pipeline continue where the previous one stopped.
type Progress interface {
	// Head returns the last finalized block, or 0 before the first commit.
	Head(ctx context.Context) (uint32, error)

	// MaxBlock returns the greatest block holding any record.
	MaxBlock(ctx context.Context) (uint32, bool, error)

	// ScanLive walks the live-content table in no particular order.
	ScanLive(ctx context.Context, fn func(Key, Content) bool) error

	// Commit applies live and sets the head to block in one atomic step.
	Commit(ctx context.Context, block uint32, live []LiveEntry) error
}

// Store is a record store with all three orders and its checkpoint.
type Store interface {
	Reader
	Writer
	Progress
	Close() error
}

// CheckImmutable returns ErrImmutableKey if after differs from before in any
// field of the primary or block order.
func CheckImmutable(before, after Record) error {
	if before.ID != after.ID || before.Author != after.Author ||
		before.Permlink != after.Permlink || before.Seq != after.Seq {
		return ErrImmutableKey
	}
	return nil
}
