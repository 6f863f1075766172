package history

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequence_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b Sequence
		want int
	}{
		{"equal", Sequence{1, 2, 3}, Sequence{1, 2, 3}, 0},
		{"block wins", Sequence{1, 9, 9}, Sequence{2, 0, 0}, -1},
		{"trx breaks block tie", Sequence{5, 2, 0}, Sequence{5, 1, 7}, 1},
		{"op breaks trx tie", Sequence{5, 1, 0}, Sequence{5, 1, 1}, -1},
		{"max is greatest", MaxSequence, Sequence{4294967295, 4294967295, 65534}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
			assert.Equal(t, -tt.want, tt.b.Compare(tt.a))
		})
	}
}

func TestParseSequence(t *testing.T) {
	seq, err := ParseSequence("105/1/0")
	require.NoError(t, err)
	assert.Equal(t, Sequence{105, 1, 0}, seq)
	assert.Equal(t, "105/1/0", seq.String())

	for _, bad := range []string{"", "105", "105/1", "105/1/0x", "a/b/c", "1/2/70000"} {
		_, err := ParseSequence(bad)
		assert.Error(t, err, bad)
	}
}

func TestTimeKey_UnsetSortsNewest(t *testing.T) {
	ts := time.Unix(2000, 0)

	assert.Equal(t, UnsetTime, TimeKey(time.Time{}))
	assert.Equal(t, int64(2000), TimeKey(ts))
	assert.Greater(t, TimeKey(time.Time{}), TimeKey(time.Unix(1<<40, 0)))
}

func TestTimeFromKey_RoundTrip(t *testing.T) {
	assert.True(t, TimeFromKey(UnsetTime).IsZero())

	got := TimeFromKey(1000)
	assert.Equal(t, int64(1000), got.Unix())
	assert.Equal(t, time.UTC, got.Location())
}

func TestOpType_Text(t *testing.T) {
	for _, op := range []OpType{OpComment, OpDeleteComment, OpCommentOption, OpVote} {
		b, err := op.MarshalText()
		require.NoError(t, err)

		var back OpType
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, op, back)
	}

	_, err := ParseOpType("transfer")
	assert.Error(t, err)
	assert.Equal(t, "op_type(9)", OpType(9).String())
}

func TestRecord_CloneIsDeep(t *testing.T) {
	orig := Record{
		Author:        "alice",
		Permlink:      "post1",
		ContentBefore: &Content{Body: "v1"},
		ContentAfter:  &Content{Body: "v2"},
	}

	c := orig.Clone()
	c.ContentBefore.Body = "changed"
	c.ContentAfter.Body = "changed"

	assert.Equal(t, "v1", orig.ContentBefore.Body)
	assert.Equal(t, "v2", orig.ContentAfter.Body)
}

func TestRecord_WithoutContent(t *testing.T) {
	r := Record{Author: "alice", ContentBefore: &Content{}, ContentAfter: &Content{}}

	stripped := r.WithoutContent()

	assert.Nil(t, stripped.ContentBefore)
	assert.Nil(t, stripped.ContentAfter)
	assert.NotNil(t, r.ContentBefore, "original must be untouched")
}

func TestRecord_JSONOmitsUnsetFields(t *testing.T) {
	r := Record{ID: 7, Author: "alice", Permlink: "post1", Seq: Sequence{100, 0, 0}}

	b, err := json.Marshal(r)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"author": "alice",
		"permlink": "post1",
		"sequence": {"block": 100, "trx_in_block": 0, "op_in_trx": 0},
		"op_type": "comment"
	}`, string(b))
}

func TestCheckImmutable(t *testing.T) {
	base := Record{ID: 1, Author: "alice", Permlink: "p", Seq: Sequence{1, 0, 0}}

	changedTime := base
	changedTime.Time = time.Unix(10, 0)
	changedTime.ContentAfter = &Content{Body: "x"}
	assert.NoError(t, CheckImmutable(base, changedTime))

	changedSeq := base
	changedSeq.Seq.OpInTrx = 1
	assert.ErrorIs(t, CheckImmutable(base, changedSeq), ErrImmutableKey)

	changedAuthor := base
	changedAuthor.Author = "bob"
	assert.ErrorIs(t, CheckImmutable(base, changedAuthor), ErrImmutableKey)
}

func TestIsCorruptIndex(t *testing.T) {
	err := NewCorruptIndexError(Key{"alice", "post1"}, Sequence{100, 0, 0})

	assert.True(t, IsCorruptIndex(err))
	assert.True(t, IsCorruptIndex(fmt.Errorf("create: %w", err)))
	assert.False(t, IsCorruptIndex(ErrNotFound))
	assert.Contains(t, err.Error(), "CORRUPT_INDEX")
	assert.Contains(t, err.Error(), "seq=100/0/0")
}
