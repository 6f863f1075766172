package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abitmore/steem/internal/chain"
	"github.com/abitmore/steem/internal/config"
	"github.com/abitmore/steem/internal/history"
	"github.com/abitmore/steem/internal/kvstore"
	"github.com/abitmore/steem/internal/memstore"
	"github.com/abitmore/steem/internal/store"
	"github.com/abitmore/steem/internal/testutil"
)

// reopener returns a function that opens the same backing store each time it
// is called. The previous handle is closed first for the on-disk backends.
type reopener func(t *testing.T) func() history.Store

var reopeners = map[string]reopener{
	"memstore": func(t *testing.T) func() history.Store {
		s := memstore.New()
		return func() history.Store { return s }
	},
	"sqlite": func(t *testing.T) func() history.Store {
		path := filepath.Join(t.TempDir(), "history.db")
		var cur *store.Store
		t.Cleanup(func() {
			if cur != nil {
				cur.Close()
			}
		})
		return func() history.Store {
			if cur != nil {
				require.NoError(t, cur.Close())
			}
			s, err := store.Open(path)
			require.NoError(t, err)
			cur = s
			return s
		}
	},
	"badger": func(t *testing.T) func() history.Store {
		dir := t.TempDir()
		var cur *kvstore.Store
		t.Cleanup(func() {
			if cur != nil {
				cur.Close()
			}
		})
		return func() history.Store {
			if cur != nil {
				require.NoError(t, cur.Close())
			}
			s, err := kvstore.OpenPath(dir)
			require.NoError(t, err)
			cur = s
			return s
		}
	},
}

func commentBlock(num uint32, unix int64, ops ...chain.Operation) chain.Block {
	trx := chain.Transaction{}
	for _, op := range ops {
		trx.Operations = append(trx.Operations, chain.Envelope{Operation: op})
	}
	return chain.Block{Num: num, Timestamp: time.Unix(unix, 0), Transactions: []chain.Transaction{trx}}
}

// startHost resumes a pipeline over s and returns a host positioned after the
// store's head.
func startHost(t *testing.T, s history.Store, policy config.Policy, session string) (*chain.Host, *Pipeline) {
	t.Helper()
	state := chain.NewState()
	p := New(s, state, policy, WithSessionIDGenerator(NewFixedGenerator(session)))
	head, err := p.Resume(context.Background(), state)
	require.NoError(t, err)
	return chain.NewHost(state, p, chain.WithHead(head)), p
}

func TestPipeline_ResumeMatchesUninterruptedRun(t *testing.T) {
	blocks := []chain.Block{
		commentBlock(100, 1000, comment("v1")),
		commentBlock(105, 2000, comment("v2"), chain.CommentOp{Author: "bob", Permlink: "x", Body: "b1"}),
		commentBlock(110, 3000, comment("v3"), chain.DeleteCommentOp{Author: "bob", Permlink: "x"}),
	}
	ctx := context.Background()

	straight := memstore.New()
	host, _ := startHost(t, straight, config.BeforeOnlyPolicy(), "straight")
	require.NoError(t, host.Replay(ctx, blocks))
	want := testutil.Collect(t, func(fn history.ScanFunc) error {
		return straight.ScanBySequence(ctx, post1, fn)
	})

	for name, reopen := range reopeners {
		t.Run(name, func(t *testing.T) {
			open := reopen(t)

			host, _ := startHost(t, open(), config.BeforeOnlyPolicy(), "first")
			require.NoError(t, host.Replay(ctx, blocks[:2]))

			s := open()
			head, err := s.Head(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint32(105), head)
			assert.Equal(t, map[history.Key]history.Content{
				post1: {Title: "Hello", Body: "v2", JSONMetadata: "{}"},
				{Author: "bob", Permlink: "x"}: {Body: "b1"},
			}, testutil.CollectLive(t, s))

			host, p := startHost(t, s, config.BeforeOnlyPolicy(), "second")
			assert.Equal(t, uint32(105), host.Head())
			require.NoError(t, host.Apply(ctx, blocks[2]))

			got := testutil.Collect(t, func(fn history.ScanFunc) error {
				return s.ScanBySequence(ctx, post1, fn)
			})
			require.Len(t, got, 3)
			for i := range want {
				assert.Equal(t, want[i].Seq, got[i].Seq)
				assert.Equal(t, want[i].ContentBefore, got[i].ContentBefore, "record %s", got[i].Seq)
				assert.True(t, want[i].Time.Equal(got[i].Time))
			}
			require.NotNil(t, got[1].ContentBefore, "restored live table feeds the before snapshot")
			assert.Equal(t, "v2", got[1].ContentBefore.Body)
			assert.Equal(t, uint64(0), p.Stats().SnapshotMisses)

			bob, ok, err := s.Get(ctx, history.Key{Author: "bob", Permlink: "x"}, seq(105, 0, 1))
			require.NoError(t, err)
			require.True(t, ok)
			require.NotNil(t, bob.ContentBefore)
			assert.Equal(t, "b1", bob.ContentBefore.Body)

			assert.Equal(t, map[history.Key]history.Content{
				post1: {Title: "Hello", Body: "v3", JSONMetadata: "{}"},
			}, testutil.CollectLive(t, s), "deleted items leave the live table")
		})
	}
}

func TestPipeline_ResumeReplaysInterruptedBlock(t *testing.T) {
	ctx := context.Background()
	block105 := commentBlock(105, 2000, comment("v2"), chain.CommentOp{Author: "bob", Permlink: "x", Body: "b1"})

	for name, reopen := range reopeners {
		t.Run(name, func(t *testing.T) {
			open := reopen(t)

			host, p := startHost(t, open(), config.BeforeOnlyPolicy(), "first")
			require.NoError(t, host.Apply(ctx, commentBlock(100, 1000, comment("v1"))))

			// Stop after the first operation of block 105, before finalization.
			require.NoError(t, p.Handle(ctx, chain.PreOperation{Seq: seq(105, 0, 0), Op: comment("v2")}))
			host.State().Apply(comment("v2"))
			require.NoError(t, p.Handle(ctx, chain.PostOperation{Seq: seq(105, 0, 0), Op: comment("v2")}))

			s := open()
			head, err := s.Head(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint32(100), head)

			host, p = startHost(t, s, config.BeforeOnlyPolicy(), "second")
			require.NoError(t, host.Apply(ctx, block105))

			stats := p.Stats()
			assert.Equal(t, uint64(1), stats.Replayed)
			assert.Equal(t, uint64(1), stats.Created)
			assert.Equal(t, uint64(2), stats.Backfilled)

			n, err := s.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			first, ok, err := s.Get(ctx, post1, seq(100, 0, 0))
			require.NoError(t, err)
			require.True(t, ok)
			require.NotNil(t, first.ContentBefore)
			assert.Equal(t, "v1", first.ContentBefore.Body)

			replayed, ok, err := s.Get(ctx, post1, seq(105, 0, 0))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Nil(t, replayed.ContentBefore)
			assert.Equal(t, int64(2000), replayed.Time.Unix())

			head, err = s.Head(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint32(105), head)

			// Only the interrupted block may hold existing records.
			err = p.Handle(ctx, chain.PreOperation{Seq: seq(100, 0, 0), Op: comment("v1")})
			require.Error(t, err)
			assert.True(t, history.IsCorruptIndex(err))
		})
	}
}

func TestPipeline_ResumeEmptyStore(t *testing.T) {
	state := chain.NewState()
	p := New(memstore.New(), state, config.DefaultPolicy(), WithSessionIDGenerator(NewFixedGenerator("s")))

	head, err := p.Resume(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), head)
	assert.Equal(t, 0, state.Len())
}

func TestPipeline_MinimalPolicySkipsLiveTable(t *testing.T) {
	s := memstore.New()
	host, _ := startHost(t, s, config.MinimalPolicy(), "s")
	require.NoError(t, host.Apply(context.Background(), commentBlock(7, 1000, comment("v1"))))

	head, err := s.Head(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(7), head, "the head moves under every policy")
	assert.Empty(t, testutil.CollectLive(t, s))
}

func TestPipeline_DuplicateLeavesRecordsUntouched(t *testing.T) {
	h := newHarness(t, memstore.New(), config.BeforeOnlyPolicy())

	h.apply(seq(1, 0, 0), comment("v1"))
	h.apply(seq(2, 0, 0), comment("v2"))

	err := h.p.Handle(context.Background(), chain.PreOperation{Seq: seq(1, 0, 0), Op: comment("v1")})
	require.Error(t, err)
	assert.True(t, history.IsCorruptIndex(err))

	assert.Nil(t, h.get(seq(2, 0, 0)).ContentBefore, "rejected duplicate must not snapshot onto the latest record")
	assert.Equal(t, "v1", h.get(seq(1, 0, 0)).ContentBefore.Body)
	assert.Equal(t, uint64(1), h.p.Stats().BeforeAttached)
}
