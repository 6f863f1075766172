package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abitmore/steem/internal/chain"
	"github.com/abitmore/steem/internal/config"
	"github.com/abitmore/steem/internal/history"
	"github.com/abitmore/steem/internal/ingest"
	"github.com/abitmore/steem/internal/memstore"
)

type stubSubscriber struct {
	ch chan *message.Message
}

func (s *stubSubscriber) Subscribe(_ context.Context, _ string) (<-chan *message.Message, error) {
	return s.ch, nil
}

func (s *stubSubscriber) Close() error {
	return nil
}

type stubPublisher struct {
	topics   []string
	messages []*message.Message
	err      error
}

func (p *stubPublisher) Publish(topic string, msgs ...*message.Message) error {
	if p.err != nil {
		return p.err
	}
	for _, m := range msgs {
		p.topics = append(p.topics, topic)
		p.messages = append(p.messages, m)
	}
	return nil
}

func (p *stubPublisher) Close() error {
	return nil
}

func loadScenario(t *testing.T) []chain.Block {
	t.Helper()
	blocks, err := chain.LoadBlocks("../chain/testdata/scenario.yaml")
	require.NoError(t, err)
	return blocks
}

func newSource(t *testing.T, ch chan *message.Message) (*Source, *memstore.Store, *ingest.Pipeline) {
	t.Helper()
	s := memstore.New()
	state := chain.NewState()
	p := ingest.New(s, state, config.BeforeOnlyPolicy(), ingest.WithSessionIDGenerator(ingest.NewFixedGenerator("bus")))
	return &Source{
		Subscriber: &stubSubscriber{ch: ch},
		Topic:      "blocks",
		Host:       chain.NewHost(state, p),
	}, s, p
}

func acked(t *testing.T, msg *message.Message) bool {
	t.Helper()
	select {
	case <-msg.Acked():
		return true
	case <-msg.Nacked():
		return false
	case <-time.After(time.Second):
		t.Fatalf("message %s neither acked nor nacked", msg.UUID)
		return false
	}
}

func TestPublishBlocks(t *testing.T) {
	pub := &stubPublisher{}
	blocks := loadScenario(t)

	require.NoError(t, PublishBlocks(pub, "blocks", blocks))
	require.Len(t, pub.messages, 3)

	for i, msg := range pub.messages {
		assert.Equal(t, "blocks", pub.topics[i])
		assert.NotEmpty(t, msg.UUID)

		var b chain.Block
		require.NoError(t, json.Unmarshal(msg.Payload, &b))
		assert.Equal(t, blocks[i].Num, b.Num)
	}
	assert.Equal(t, "100", pub.messages[0].Metadata.Get(MetadataBlock))
	assert.Equal(t, "105", pub.messages[2].Metadata.Get(MetadataBlock))
}

func TestPublishBlocks_Error(t *testing.T) {
	pub := &stubPublisher{err: errors.New("down")}
	err := PublishBlocks(pub, "blocks", loadScenario(t))
	assert.ErrorContains(t, err, "publish block 100")
}

func TestSource_AppliesBlocksAndAcks(t *testing.T) {
	blocks := loadScenario(t)
	ch := make(chan *message.Message, len(blocks)+1)
	src, s, p := newSource(t, ch)

	var msgs []*message.Message
	for _, b := range blocks {
		msg, err := NewBlockMessage(b)
		require.NoError(t, err)
		msgs = append(msgs, msg)
		ch <- msg
	}
	// Redelivery of an applied block is acked and skipped.
	dup, err := NewBlockMessage(blocks[0])
	require.NoError(t, err)
	ch <- dup
	close(ch)

	require.NoError(t, src.Run(context.Background()))

	for _, msg := range append(msgs, dup) {
		assert.True(t, acked(t, msg))
	}
	assert.Equal(t, uint32(105), src.Host.Head())
	assert.Equal(t, uint64(3), p.Stats().BlocksFinalized)

	n, err := s.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	r, ok, err := s.Get(context.Background(), history.Key{Author: "alice", Permlink: "post1"}, history.Sequence{Block: 100})
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, r.ContentBefore)
	assert.Equal(t, "v1", r.ContentBefore.Body)
}

func TestSource_BadPayloadNacksAndStops(t *testing.T) {
	ch := make(chan *message.Message, 2)
	src, _, _ := newSource(t, ch)

	bad := message.NewMessage("bad-1", []byte("not json"))
	ch <- bad

	err := src.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode block message bad-1")
	assert.False(t, acked(t, bad))
}

func TestSource_IngestionErrorNacksAndStops(t *testing.T) {
	ch := make(chan *message.Message, 2)
	src, s, _ := newSource(t, ch)

	// Pre-seed the record the first block would create.
	_, err := s.Create(context.Background(), history.Record{
		Author: "alice", Permlink: "post1", Seq: history.Sequence{Block: 100},
	})
	require.NoError(t, err)

	msg, err := NewBlockMessage(loadScenario(t)[0])
	require.NoError(t, err)
	ch <- msg

	err = src.Run(context.Background())
	require.Error(t, err)
	assert.True(t, history.IsCorruptIndex(err))
	assert.False(t, acked(t, msg))
}

func TestSource_ContextCancelled(t *testing.T) {
	ch := make(chan *message.Message)
	src, _, _ := newSource(t, ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("source did not stop")
	}
}

// resumeSource builds a Source with a fresh host and pipeline resumed from s,
// as a restarted follow process would.
func resumeSource(t *testing.T, ch chan *message.Message, s history.Store) (*Source, *ingest.Pipeline) {
	t.Helper()
	state := chain.NewState()
	p := ingest.New(s, state, config.BeforeOnlyPolicy(), ingest.WithSessionIDGenerator(ingest.NewFixedGenerator("bus")))
	head, err := p.Resume(context.Background(), state)
	require.NoError(t, err)
	return &Source{
		Subscriber: &stubSubscriber{ch: ch},
		Topic:      "blocks",
		Host:       chain.NewHost(state, p, chain.WithHead(head)),
	}, p
}

func deliver(t *testing.T, ch chan *message.Message, blocks ...chain.Block) []*message.Message {
	t.Helper()
	var msgs []*message.Message
	for _, b := range blocks {
		msg, err := NewBlockMessage(b)
		require.NoError(t, err)
		msgs = append(msgs, msg)
		ch <- msg
	}
	close(ch)
	return msgs
}

func TestSource_RestartSkipsCommittedBlocks(t *testing.T) {
	blocks := loadScenario(t)
	s := memstore.New()
	ctx := context.Background()

	ch := make(chan *message.Message, 2)
	first, _ := resumeSource(t, ch, s)
	deliver(t, ch, blocks[0], blocks[1])
	require.NoError(t, first.Run(ctx))

	// The broker redelivers block 101, whose ack was lost, then sends 105.
	ch = make(chan *message.Message, 2)
	second, p := resumeSource(t, ch, s)
	assert.Equal(t, uint32(101), second.Host.Head())
	msgs := deliver(t, ch, blocks[1], blocks[2])
	require.NoError(t, second.Run(ctx))

	for _, msg := range msgs {
		assert.True(t, acked(t, msg))
	}
	assert.Equal(t, uint32(105), second.Host.Head())
	assert.Equal(t, uint64(1), p.Stats().BlocksFinalized)

	r, ok, err := s.Get(ctx, history.Key{Author: "alice", Permlink: "post1"}, history.Sequence{Block: 100})
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, r.ContentBefore, "live content survives the restart")
	assert.Equal(t, "v1", r.ContentBefore.Body)
}

func TestSource_RestartReplaysInterruptedBlock(t *testing.T) {
	blocks := loadScenario(t)
	s := memstore.New()
	ctx := context.Background()

	ch := make(chan *message.Message, 1)
	first, _ := resumeSource(t, ch, s)
	deliver(t, ch, blocks[0])
	require.NoError(t, first.Run(ctx))

	// Block 105 wrote its record but the process died before finalizing it.
	_, err := s.Create(ctx, history.Record{
		Author: "alice", Permlink: "post1",
		Seq:    history.Sequence{Block: 105, TrxInBlock: 1},
		OpType: history.OpComment,
	})
	require.NoError(t, err)

	ch = make(chan *message.Message, 1)
	second, p := resumeSource(t, ch, s)
	msgs := deliver(t, ch, blocks[2])
	require.NoError(t, second.Run(ctx))

	assert.True(t, acked(t, msgs[0]))
	assert.Equal(t, uint64(1), p.Stats().Replayed)
	assert.Equal(t, uint64(0), p.Stats().Created)

	head, err := s.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(105), head)

	r, ok, err := s.Get(ctx, history.Key{Author: "alice", Permlink: "post1"}, history.Sequence{Block: 100})
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, r.ContentBefore)
	assert.Equal(t, "v1", r.ContentBefore.Body)
}
