package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abitmore/steem/internal/history"
)

// StoreFactory opens an empty store. It should register cleanup with t.
type StoreFactory func(t *testing.T) history.Store

// NewRecord builds a record with only the creation-time fields set.
func NewRecord(author, permlink string, block, trx uint32, op uint16) history.Record {
	return history.Record{
		Author:   author,
		Permlink: permlink,
		Seq:      history.Sequence{Block: block, TrxInBlock: trx, OpInTrx: op},
		OpType:   history.OpComment,
	}
}

// Collect drains a scan into a slice.
func Collect(t *testing.T, scan func(history.ScanFunc) error) []history.Record {
	t.Helper()
	out := []history.Record{}
	require.NoError(t, scan(func(r history.Record) bool {
		out = append(out, r)
		return true
	}))
	return out
}

// RunStoreSuite runs the behaviour every history.Store backend must share.
func RunStoreSuite(t *testing.T, open StoreFactory) {
	t.Run("CreateAssignsIncreasingIDs", func(t *testing.T) { testCreateIDs(t, open(t)) })
	t.Run("CreateDuplicateIsCorruptIndex", func(t *testing.T) { testCreateDuplicate(t, open(t)) })
	t.Run("SameSequenceOtherKey", func(t *testing.T) { testSameSeqOtherKey(t, open(t)) })
	t.Run("GetExact", func(t *testing.T) { testGetExact(t, open(t)) })
	t.Run("LatestIsGreatestSequence", func(t *testing.T) { testLatest(t, open(t)) })
	t.Run("ScanBySequenceDescending", func(t *testing.T) { testScanBySequence(t, open(t)) })
	t.Run("ScanByTimeOrder", func(t *testing.T) { testScanByTime(t, open(t)) })
	t.Run("ScanByTimeNewestBound", func(t *testing.T) { testScanByTimeBound(t, open(t)) })
	t.Run("ScanStopsEarly", func(t *testing.T) { testScanStops(t, open(t)) })
	t.Run("ModifyReseatsTimeOrder", func(t *testing.T) { testModifyReseats(t, open(t)) })
	t.Run("ModifyAttachesContent", func(t *testing.T) { testModifyContent(t, open(t)) })
	t.Run("ModifyRejectsKeyChange", func(t *testing.T) { testModifyImmutable(t, open(t)) })
	t.Run("ModifyUnknownID", func(t *testing.T) { testModifyUnknown(t, open(t)) })
	t.Run("ScanBlockInsertionOrder", func(t *testing.T) { testScanBlock(t, open(t)) })
	t.Run("PrimaryAndTimeViewsAgree", func(t *testing.T) { testSetEquivalence(t, open(t)) })
	t.Run("ReadsReturnCopies", func(t *testing.T) { testReadsAreCopies(t, open(t)) })
	t.Run("EmptyProgress", func(t *testing.T) { testEmptyProgress(t, open(t)) })
	t.Run("CommitMovesHeadAndLive", func(t *testing.T) { testCommit(t, open(t)) })
	t.Run("MaxBlock", func(t *testing.T) { testMaxBlock(t, open(t)) })
}

func mustCreate(t *testing.T, s history.Store, r history.Record) history.Record {
	t.Helper()
	created, err := s.Create(context.Background(), r)
	require.NoError(t, err)
	return created
}

func setTime(t *testing.T, s history.Store, id uint64, ts time.Time) {
	t.Helper()
	require.NoError(t, s.Modify(context.Background(), id, func(r *history.Record) {
		r.Time = ts
	}))
}

func seqsOf(records []history.Record) []history.Sequence {
	out := make([]history.Sequence, len(records))
	for i, r := range records {
		out[i] = r.Seq
	}
	return out
}

func idsOf(records []history.Record) []uint64 {
	out := make([]uint64, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func testCreateIDs(t *testing.T, s history.Store) {
	a := mustCreate(t, s, NewRecord("alice", "p", 1, 0, 0))
	b := mustCreate(t, s, NewRecord("bob", "p", 1, 1, 0))
	c := mustCreate(t, s, NewRecord("alice", "p", 2, 0, 0))

	assert.Equal(t, uint64(1), a.ID)
	assert.Greater(t, b.ID, a.ID)
	assert.Greater(t, c.ID, b.ID)
	assert.True(t, a.Time.IsZero())
	assert.Nil(t, a.ContentBefore)
	assert.Nil(t, a.ContentAfter)

	n, err := s.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func testCreateDuplicate(t *testing.T, s history.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewRecord("alice", "p", 1, 0, 0))

	dup := NewRecord("alice", "p", 1, 0, 0)
	dup.OpType = history.OpDeleteComment
	_, err := s.Create(ctx, dup)

	require.Error(t, err)
	assert.True(t, history.IsCorruptIndex(err))

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "failed create must not change state")

	got, ok, err := s.Get(ctx, history.Key{Author: "alice", Permlink: "p"}, history.Sequence{Block: 1})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, history.OpComment, got.OpType, "original must not be overwritten")
}

func testSameSeqOtherKey(t *testing.T, s history.Store) {
	mustCreate(t, s, NewRecord("alice", "p", 1, 0, 0))
	mustCreate(t, s, NewRecord("alice", "q", 1, 0, 0))
	mustCreate(t, s, NewRecord("bob", "p", 1, 0, 0))

	n, err := s.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func testGetExact(t *testing.T, s history.Store) {
	ctx := context.Background()
	key := history.Key{Author: "alice", Permlink: "p"}
	want := mustCreate(t, s, NewRecord("alice", "p", 5, 2, 1))
	mustCreate(t, s, NewRecord("alice", "p", 6, 0, 0))

	got, ok, err := s.Get(ctx, key, history.Sequence{Block: 5, TrxInBlock: 2, OpInTrx: 1})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	for _, miss := range []history.Sequence{{Block: 5, TrxInBlock: 2, OpInTrx: 0}, {Block: 5, TrxInBlock: 0, OpInTrx: 1}, {Block: 4, TrxInBlock: 2, OpInTrx: 1}, {Block: 7, TrxInBlock: 0, OpInTrx: 0}} {
		_, ok, err := s.Get(ctx, key, miss)
		require.NoError(t, err)
		assert.False(t, ok, "seq %s", miss)
	}

	_, ok, err = s.Get(ctx, history.Key{Author: "alice", Permlink: "other"}, want.Seq)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testLatest(t *testing.T, s history.Store) {
	ctx := context.Background()
	key := history.Key{Author: "alice", Permlink: "p"}

	_, ok, err := s.Latest(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	mustCreate(t, s, NewRecord("alice", "p", 3, 0, 0))
	want := mustCreate(t, s, NewRecord("alice", "p", 10, 1, 0))
	mustCreate(t, s, NewRecord("alice", "p", 10, 0, 5))
	mustCreate(t, s, NewRecord("alice", "pp", 99, 0, 0))
	mustCreate(t, s, NewRecord("alicf", "a", 99, 0, 0))

	got, ok, err := s.Latest(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.ID, got.ID)
}

func testScanBySequence(t *testing.T, s history.Store) {
	ctx := context.Background()
	key := history.Key{Author: "alice", Permlink: "p"}
	mustCreate(t, s, NewRecord("alice", "p", 1, 0, 0))
	mustCreate(t, s, NewRecord("alice", "p", 2, 1, 0))
	mustCreate(t, s, NewRecord("alice", "p", 2, 0, 3))
	mustCreate(t, s, NewRecord("alice", "p", 2, 1, 1))
	mustCreate(t, s, NewRecord("alice", "x", 3, 0, 0))

	got := Collect(t, func(fn history.ScanFunc) error { return s.ScanBySequence(ctx, key, fn) })

	assert.Equal(t, []history.Sequence{{Block: 2, TrxInBlock: 1, OpInTrx: 1}, {Block: 2, TrxInBlock: 1, OpInTrx: 0}, {Block: 2, TrxInBlock: 0, OpInTrx: 3}, {Block: 1, TrxInBlock: 0, OpInTrx: 0}}, seqsOf(got))
}

func testScanByTime(t *testing.T, s history.Store) {
	ctx := context.Background()
	key := history.Key{Author: "alice", Permlink: "p"}
	r1 := mustCreate(t, s, NewRecord("alice", "p", 1, 0, 0))
	r2 := mustCreate(t, s, NewRecord("alice", "p", 2, 0, 0))
	r3 := mustCreate(t, s, NewRecord("alice", "p", 2, 1, 0))
	r4 := mustCreate(t, s, NewRecord("alice", "p", 3, 0, 0)) // never finalized
	mustCreate(t, s, NewRecord("bob", "p", 2, 0, 0))

	setTime(t, s, r1.ID, time.Unix(1000, 0))
	setTime(t, s, r2.ID, time.Unix(2000, 0))
	setTime(t, s, r3.ID, time.Unix(2000, 0))

	got := Collect(t, func(fn history.ScanFunc) error {
		return s.ScanByTime(ctx, key, history.UnsetTime, fn)
	})

	// Unset time first, then time DESC with insertion ID breaking the tie.
	assert.Equal(t, []uint64{r4.ID, r3.ID, r2.ID, r1.ID}, idsOf(got))
	assert.True(t, got[0].Time.IsZero())
	assert.Equal(t, int64(2000), got[1].Time.Unix())
	assert.Equal(t, int64(1000), got[3].Time.Unix())
}

func testScanByTimeBound(t *testing.T, s history.Store) {
	ctx := context.Background()
	key := history.Key{Author: "alice", Permlink: "p"}
	r1 := mustCreate(t, s, NewRecord("alice", "p", 1, 0, 0))
	r2 := mustCreate(t, s, NewRecord("alice", "p", 2, 0, 0))
	r3 := mustCreate(t, s, NewRecord("alice", "p", 3, 0, 0))
	setTime(t, s, r1.ID, time.Unix(1000, 0))
	setTime(t, s, r2.ID, time.Unix(2000, 0))
	setTime(t, s, r3.ID, time.Unix(3000, 0))

	scan := func(newest int64) []uint64 {
		return idsOf(Collect(t, func(fn history.ScanFunc) error {
			return s.ScanByTime(ctx, key, newest, fn)
		}))
	}

	assert.Equal(t, []uint64{r2.ID, r1.ID}, scan(2000), "bound is inclusive")
	assert.Equal(t, []uint64{r2.ID, r1.ID}, scan(2999))
	assert.Equal(t, []uint64{r1.ID}, scan(1500))
	assert.Empty(t, scan(999))
}

func testScanStops(t *testing.T, s history.Store) {
	ctx := context.Background()
	key := history.Key{Author: "alice", Permlink: "p"}
	for b := uint32(1); b <= 5; b++ {
		mustCreate(t, s, NewRecord("alice", "p", b, 0, 0))
	}

	calls := 0
	require.NoError(t, s.ScanBySequence(ctx, key, func(history.Record) bool {
		calls++
		return calls < 2
	}))
	assert.Equal(t, 2, calls)

	calls = 0
	require.NoError(t, s.ScanByTime(ctx, key, history.UnsetTime, func(history.Record) bool {
		calls++
		return false
	}))
	assert.Equal(t, 1, calls)

	calls = 0
	require.NoError(t, s.ScanBlock(ctx, 3, func(history.Record) bool {
		calls++
		return false
	}))
	assert.Equal(t, 1, calls)
}

func testModifyReseats(t *testing.T, s history.Store) {
	ctx := context.Background()
	key := history.Key{Author: "alice", Permlink: "p"}
	r1 := mustCreate(t, s, NewRecord("alice", "p", 1, 0, 0))
	r2 := mustCreate(t, s, NewRecord("alice", "p", 2, 0, 0))

	// r2 unset sorts first.
	setTime(t, s, r1.ID, time.Unix(5000, 0))
	got := Collect(t, func(fn history.ScanFunc) error { return s.ScanByTime(ctx, key, history.UnsetTime, fn) })
	assert.Equal(t, []uint64{r2.ID, r1.ID}, idsOf(got))

	// Once r2 gets an older timestamp it moves behind r1.
	setTime(t, s, r2.ID, time.Unix(4000, 0))
	got = Collect(t, func(fn history.ScanFunc) error { return s.ScanByTime(ctx, key, history.UnsetTime, fn) })
	assert.Equal(t, []uint64{r1.ID, r2.ID}, idsOf(got))
	assert.Len(t, got, 2, "re-seating must not duplicate entries")

	// Re-applying the same time is a no-op.
	setTime(t, s, r2.ID, time.Unix(4000, 0))
	again := Collect(t, func(fn history.ScanFunc) error { return s.ScanByTime(ctx, key, history.UnsetTime, fn) })
	assert.Equal(t, got, again)
}

func testModifyContent(t *testing.T, s history.Store) {
	ctx := context.Background()
	key := history.Key{Author: "alice", Permlink: "p"}
	r := mustCreate(t, s, NewRecord("alice", "p", 1, 0, 0))

	require.NoError(t, s.Modify(ctx, r.ID, func(rec *history.Record) {
		rec.ContentAfter = &history.Content{Title: "t", Body: "b", JSONMetadata: `{"tags":["x"]}`}
	}))

	got, ok, err := s.Get(ctx, key, r.Seq)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, got.ContentAfter)
	assert.Equal(t, history.Content{Title: "t", Body: "b", JSONMetadata: `{"tags":["x"]}`}, *got.ContentAfter)
	assert.Nil(t, got.ContentBefore)

	// An empty snapshot is still a snapshot.
	require.NoError(t, s.Modify(ctx, r.ID, func(rec *history.Record) {
		rec.ContentBefore = &history.Content{}
	}))
	got, _, err = s.Get(ctx, key, r.Seq)
	require.NoError(t, err)
	require.NotNil(t, got.ContentBefore)
	assert.Equal(t, history.Content{}, *got.ContentBefore)
}

func testModifyImmutable(t *testing.T, s history.Store) {
	ctx := context.Background()
	r := mustCreate(t, s, NewRecord("alice", "p", 1, 0, 0))

	err := s.Modify(ctx, r.ID, func(rec *history.Record) {
		rec.Seq.Block = 2
		rec.Time = time.Unix(1, 0)
	})
	assert.ErrorIs(t, err, history.ErrImmutableKey)

	got, ok, err := s.Get(ctx, r.Key(), r.Seq)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Time.IsZero(), "rejected modify must not be applied")
}

func testModifyUnknown(t *testing.T, s history.Store) {
	err := s.Modify(context.Background(), 42, func(*history.Record) {})
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func testScanBlock(t *testing.T, s history.Store) {
	ctx := context.Background()
	a := mustCreate(t, s, NewRecord("zed", "p", 7, 0, 0))
	mustCreate(t, s, NewRecord("alice", "p", 6, 0, 0))
	b := mustCreate(t, s, NewRecord("alice", "p", 7, 1, 0))
	c := mustCreate(t, s, NewRecord("bob", "q", 7, 1, 1))
	mustCreate(t, s, NewRecord("bob", "q", 8, 0, 0))

	got := Collect(t, func(fn history.ScanFunc) error { return s.ScanBlock(ctx, 7, fn) })
	assert.Equal(t, []uint64{a.ID, b.ID, c.ID}, idsOf(got))

	assert.Empty(t, Collect(t, func(fn history.ScanFunc) error { return s.ScanBlock(ctx, 9, fn) }))
}

func testSetEquivalence(t *testing.T, s history.Store) {
	ctx := context.Background()
	key := history.Key{Author: "alice", Permlink: "p"}
	for b := uint32(1); b <= 20; b++ {
		r := mustCreate(t, s, NewRecord("alice", "p", b, b%3, 0))
		mustCreate(t, s, NewRecord("bob", "p", b, 0, 0))
		if b%2 == 0 {
			// Several blocks share a timestamp to exercise the ID tie-break.
			setTime(t, s, r.ID, time.Unix(int64(b/4)*100, 0))
		}
	}

	primary := Collect(t, func(fn history.ScanFunc) error { return s.ScanBySequence(ctx, key, fn) })
	byTime := Collect(t, func(fn history.ScanFunc) error { return s.ScanByTime(ctx, key, history.UnsetTime, fn) })

	assert.Len(t, primary, 20)
	assert.ElementsMatch(t, idsOf(primary), idsOf(byTime))

	for i := 1; i < len(byTime); i++ {
		prev, cur := byTime[i-1], byTime[i]
		if prev.TimeKey() == cur.TimeKey() {
			assert.Greater(t, prev.ID, cur.ID)
		} else {
			assert.Greater(t, prev.TimeKey(), cur.TimeKey())
		}
	}
}

func testReadsAreCopies(t *testing.T, s history.Store) {
	ctx := context.Background()
	r := mustCreate(t, s, NewRecord("alice", "p", 1, 0, 0))
	require.NoError(t, s.Modify(ctx, r.ID, func(rec *history.Record) {
		rec.ContentAfter = &history.Content{Body: "v1"}
	}))

	got, _, err := s.Get(ctx, r.Key(), r.Seq)
	require.NoError(t, err)
	got.ContentAfter.Body = "tampered"

	again, _, err := s.Get(ctx, r.Key(), r.Seq)
	require.NoError(t, err)
	assert.Equal(t, "v1", again.ContentAfter.Body)
}

// CollectLive drains ScanLive into a map.
func CollectLive(t *testing.T, s history.Progress) map[history.Key]history.Content {
	t.Helper()
	out := map[history.Key]history.Content{}
	require.NoError(t, s.ScanLive(context.Background(), func(k history.Key, c history.Content) bool {
		out[k] = c
		return true
	}))
	return out
}

func testEmptyProgress(t *testing.T, s history.Store) {
	ctx := context.Background()

	head, err := s.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), head)

	_, found, err := s.MaxBlock(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	assert.Empty(t, CollectLive(t, s))
}

func testCommit(t *testing.T, s history.Store) {
	ctx := context.Background()
	alice := history.Key{Author: "alice", Permlink: "p"}
	bob := history.Key{Author: "bob", Permlink: "q"}
	v1 := history.Content{Title: "T", Body: "v1", JSONMetadata: "{}"}
	v2 := history.Content{Title: "T", Body: "v2", JSONMetadata: "{}"}

	require.NoError(t, s.Commit(ctx, 10, []history.LiveEntry{
		{Key: alice, Content: &v1},
		{Key: bob, Content: &v1},
	}))
	head, err := s.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), head)
	assert.Equal(t, map[history.Key]history.Content{alice: v1, bob: v1}, CollectLive(t, s))

	// Overwrite one, delete the other.
	require.NoError(t, s.Commit(ctx, 12, []history.LiveEntry{
		{Key: alice, Content: &v2},
		{Key: bob},
	}))
	head, err = s.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(12), head)
	assert.Equal(t, map[history.Key]history.Content{alice: v2}, CollectLive(t, s))

	// A commit without changes only moves the head.
	require.NoError(t, s.Commit(ctx, 13, nil))
	head, err = s.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(13), head)
	assert.Len(t, CollectLive(t, s), 1)
}

func testMaxBlock(t *testing.T, s history.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewRecord("alice", "p", 7, 0, 0))
	mustCreate(t, s, NewRecord("bob", "q", 300, 2, 1))
	mustCreate(t, s, NewRecord("alice", "p", 12, 0, 0))

	block, found, err := s.MaxBlock(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint32(300), block)
}
