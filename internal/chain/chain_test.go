package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/abitmore/steem/internal/history"
)

func TestEnvelope_JSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Operation
	}{
		{
			name: "comment",
			in:   `{"type":"comment","value":{"author":"alice","permlink":"p","title":"T","body":"B","json_metadata":"{}"}}`,
			want: CommentOp{Author: "alice", Permlink: "p", Title: "T", Body: "B", JSONMetadata: "{}"},
		},
		{
			name: "delete",
			in:   `{"type":"delete_comment","value":{"author":"alice","permlink":"p"}}`,
			want: DeleteCommentOp{Author: "alice", Permlink: "p"},
		},
		{
			name: "unknown type",
			in:   `{"type":"vote","value":{"voter":"bob","weight":10000}}`,
			want: OtherOp{Name: "vote"},
		},
		{
			name: "no value",
			in:   `{"type":"custom_json"}`,
			want: OtherOp{Name: "custom_json"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var env Envelope
			require.NoError(t, json.Unmarshal([]byte(tt.in), &env))
			assert.Equal(t, tt.want, env.Operation)
		})
	}
}

func TestEnvelope_JSONMissingType(t *testing.T) {
	var env Envelope
	err := json.Unmarshal([]byte(`{"value":{}}`), &env)
	assert.ErrorContains(t, err, "missing type")
}

func TestEnvelope_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Envelope{DeleteCommentOp{Author: "alice", Permlink: "p"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"delete_comment","value":{"author":"alice","permlink":"p"}}`, string(data))

	data, err = json.Marshal(Envelope{OtherOp{Name: "vote"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"vote"}`, string(data))
}

func TestEnvelope_YAML(t *testing.T) {
	in := `
- type: comment
  value:
    author: alice
    permlink: p
    body: hi
- type: delete_comment
  value:
    author: alice
    permlink: p
- type: transfer
  value:
    from: bob
`
	var envs []Envelope
	require.NoError(t, yaml.Unmarshal([]byte(in), &envs))
	require.Len(t, envs, 3)
	assert.Equal(t, CommentOp{Author: "alice", Permlink: "p", Body: "hi"}, envs[0].Operation)
	assert.Equal(t, DeleteCommentOp{Author: "alice", Permlink: "p"}, envs[1].Operation)
	assert.Equal(t, OtherOp{Name: "transfer"}, envs[2].Operation)

	out, err := yaml.Marshal(envs[:2])
	require.NoError(t, err)
	var back []Envelope
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, envs[:2], back)
}

func TestLoadBlocks_FormatsAgree(t *testing.T) {
	fromYAML, err := LoadBlocks("testdata/scenario.yaml")
	require.NoError(t, err)
	fromJSONL, err := LoadBlocks("testdata/scenario.jsonl")
	require.NoError(t, err)

	require.Len(t, fromYAML, 3)
	assert.Equal(t, len(fromYAML), len(fromJSONL))
	for i := range fromYAML {
		assert.Equal(t, fromYAML[i].Num, fromJSONL[i].Num)
		assert.True(t, fromYAML[i].Timestamp.Equal(fromJSONL[i].Timestamp))
		assert.Equal(t, fromYAML[i].Transactions, fromJSONL[i].Transactions)
	}

	assert.Equal(t, int64(1000), fromYAML[0].Timestamp.Unix())
	assert.Equal(t, OtherOp{Name: "transfer"}, fromYAML[2].Transactions[0].Operations[0].Operation)
}

func TestLoadBlocks_UnknownField(t *testing.T) {
	_, err := LoadBlocks("testdata/unknown_field.yaml")
	assert.ErrorContains(t, err, "failed to parse YAML")
}

func TestLoadBlocks_UnknownOperationField(t *testing.T) {
	_, err := LoadBlocks("testdata/unknown_op_field.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal comment")
	assert.Contains(t, err.Error(), "bdy")
}

func TestLoadBlocks_MissingFile(t *testing.T) {
	_, err := LoadBlocks("testdata/nope.jsonl")
	assert.ErrorContains(t, err, "failed to read block log")
}

func TestDecodeBlocksJSONL_BadLine(t *testing.T) {
	_, err := DecodeBlocksJSONL(strings.NewReader("{\"num\":1}\nnot json\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestEncodeBlocksJSONL_RoundTrip(t *testing.T) {
	blocks, err := LoadBlocks("testdata/scenario.yaml")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, EncodeBlocksJSONL(&buf, blocks))
	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))

	back, err := DecodeBlocksJSONL(&buf)
	require.NoError(t, err)
	require.Len(t, back, 3)
	assert.Equal(t, blocks[2].Transactions[1], back[2].Transactions[1])
}

func TestState_Apply(t *testing.T) {
	s := NewState()

	_, ok := s.Lookup("alice", "p")
	assert.False(t, ok)

	s.Apply(CommentOp{Author: "alice", Permlink: "p", Title: "T", Body: "v1"})
	c, ok := s.Lookup("alice", "p")
	require.True(t, ok)
	assert.Equal(t, history.Content{Title: "T", Body: "v1"}, c)

	s.Apply(CommentOp{Author: "alice", Permlink: "p", Title: "T", Body: "v2"})
	c, _ = s.Lookup("alice", "p")
	assert.Equal(t, "v2", c.Body)

	s.Apply(OtherOp{Name: "vote"})
	assert.Equal(t, 1, s.Len())

	s.Apply(DeleteCommentOp{Author: "alice", Permlink: "p"})
	_, ok = s.Lookup("alice", "p")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestState_Restore(t *testing.T) {
	s := NewState()
	s.Restore(history.Key{Author: "alice", Permlink: "p"}, history.Content{Body: "v3"})

	c, ok := s.Lookup("alice", "p")
	require.True(t, ok)
	assert.Equal(t, "v3", c.Body)

	s.Apply(CommentOp{Author: "alice", Permlink: "p", Body: "v4"})
	c, _ = s.Lookup("alice", "p")
	assert.Equal(t, "v4", c.Body)
}

// recorder captures events along with the live body seen at delivery time.
type recorder struct {
	state  *State
	events []string
	failOn int
}

func (r *recorder) Handle(_ context.Context, ev Event) error {
	if r.failOn > 0 && len(r.events)+1 == r.failOn {
		return errors.New("boom")
	}
	switch e := ev.(type) {
	case PreOperation:
		c, _ := r.state.Lookup("alice", "post1")
		r.events = append(r.events, "pre "+e.Seq.String()+" "+e.Op.OpName()+" live="+c.Body)
	case PostOperation:
		c, _ := r.state.Lookup("alice", "post1")
		r.events = append(r.events, "post "+e.Seq.String()+" "+e.Op.OpName()+" live="+c.Body)
	case BlockFinalized:
		r.events = append(r.events, "final "+e.Timestamp.UTC().Format(time.RFC3339))
	}
	return nil
}

func TestHost_ReplayEventOrder(t *testing.T) {
	blocks, err := LoadBlocks("testdata/scenario.yaml")
	require.NoError(t, err)

	state := NewState()
	rec := &recorder{state: state}
	host := NewHost(state, rec)

	require.NoError(t, host.Replay(context.Background(), blocks))

	assert.Equal(t, []string{
		"pre 100/0/0 comment live=",
		"post 100/0/0 comment live=v1",
		"final 1970-01-01T00:16:40Z",
		"pre 101/0/0 vote live=v1",
		"post 101/0/0 vote live=v1",
		"final 1970-01-01T00:16:43Z",
		"pre 105/0/0 transfer live=v1",
		"post 105/0/0 transfer live=v1",
		"pre 105/1/0 comment live=v1",
		"post 105/1/0 comment live=v2",
		"final 1970-01-01T00:33:20Z",
	}, rec.events)
	assert.Equal(t, uint32(105), host.Head())
	assert.Same(t, state, host.State())
}

func TestHost_RejectsNonIncreasingBlocks(t *testing.T) {
	host := NewHost(NewState(), HandlerFunc(func(context.Context, Event) error { return nil }))
	ctx := context.Background()

	require.NoError(t, host.Apply(ctx, Block{Num: 5}))
	assert.ErrorContains(t, host.Apply(ctx, Block{Num: 5}), "not after head 5")
	assert.ErrorContains(t, host.Apply(ctx, Block{Num: 4}), "not after head 5")
	require.NoError(t, host.Apply(ctx, Block{Num: 7}))
}

func TestHost_WithHead(t *testing.T) {
	noop := HandlerFunc(func(context.Context, Event) error { return nil })
	ctx := context.Background()

	host := NewHost(NewState(), noop, WithHead(105))
	assert.Equal(t, uint32(105), host.Head())
	assert.ErrorContains(t, host.Apply(ctx, Block{Num: 105}), "not after head 105")
	require.NoError(t, host.Apply(ctx, Block{Num: 106}))

	fresh := NewHost(NewState(), noop, WithHead(0))
	require.NoError(t, fresh.Apply(ctx, Block{Num: 0}), "zero head leaves the host unstarted")
}

func TestHost_StopsAtHandlerError(t *testing.T) {
	blocks, err := LoadBlocks("testdata/scenario.yaml")
	require.NoError(t, err)

	state := NewState()
	rec := &recorder{state: state, failOn: 2}
	host := NewHost(state, rec)

	err = host.Replay(context.Background(), blocks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "post-operation 100/0/0")
	assert.Len(t, rec.events, 1)
	assert.Equal(t, uint32(0), host.Head(), "failed block is not committed")
}

func TestHost_ContextCancelled(t *testing.T) {
	blocks, err := LoadBlocks("testdata/scenario.yaml")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	host := NewHost(NewState(), HandlerFunc(func(context.Context, Event) error { return nil }))
	assert.ErrorIs(t, host.Replay(ctx, blocks), context.Canceled)
}
