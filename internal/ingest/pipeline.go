// Package ingest turns host events into comment history records.
//
// A Pipeline reacts to the three host events:
//
//   - PreOperation: for comment and delete_comment, optionally snapshot the
//     live content onto the item's previous record, then create a new record.
//   - PostOperation: for comment, optionally snapshot the live content onto
//     the record just created.
//   - BlockFinalized: optionally stamp every record of the block with the
//     block timestamp, then commit the block as the store's new head together
//     with the live-content changes it made.
//
// Which snapshots are taken is decided by config.Policy.
//
// Restart model: Resume reads the head and live table back from the store.
// Blocks at or below the head are never re-applied. A block above the head
// that already holds records was interrupted before its commit; replaying it
// once is allowed and skips the records that already exist.
//
// Thread-safety model: a Pipeline is a single writer. Handle must be called
// from one goroutine in ledger order. Stats and SessionID are safe from any
// goroutine. Readers of the underlying store may run concurrently.
//
// Failure policy: a live-content miss skips the snapshot. Any store error,
// including *history.CorruptIndexError, is returned and halts the pipeline;
// every later Handle call returns ErrHalted.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/abitmore/steem/internal/chain"
	"github.com/abitmore/steem/internal/config"
	"github.com/abitmore/steem/internal/history"
)

// ErrHalted is returned by Handle after a fatal error.
var ErrHalted = errors.New("ingestion halted")

// ContentLookup returns the current content of a live item.
type ContentLookup interface {
	Lookup(author, permlink string) (history.Content, bool)
}

// Pipeline is the ingestion state machine.
type Pipeline struct {
	store   history.Store
	lookup  ContentLookup
	policy  config.Policy
	logger  *slog.Logger
	session string

	halted error

	// partial is the block left half-applied by a previous run, if any.
	partial    uint32
	hasPartial bool

	pending    []history.LiveEntry
	pendingIdx map[history.Key]int

	stats counters
}

// Option configures a Pipeline.
type Option func(*pipelineOptions)

type pipelineOptions struct {
	logger *slog.Logger
	idGen  SessionIDGenerator
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *pipelineOptions) { o.logger = l }
}

// WithSessionIDGenerator sets the session ID source. Defaults to UUIDv7Generator.
func WithSessionIDGenerator(g SessionIDGenerator) Option {
	return func(o *pipelineOptions) { o.idGen = g }
}

// New creates a pipeline writing to store. lookup may be nil when policy
// captures no content.
func New(store history.Store, lookup ContentLookup, policy config.Policy, opts ...Option) *Pipeline {
	o := pipelineOptions{
		logger: slog.Default(),
		idGen:  UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	session := o.idGen.Generate()
	p := &Pipeline{
		store:   store,
		lookup:  lookup,
		policy:  policy,
		session:    session,
		logger:     o.logger.With("session", session),
		pendingIdx: make(map[history.Key]int),
	}

	p.logger.Info("ingestion pipeline created",
		"store_timestamp", policy.StoreTimestamp,
		"capture_before", policy.CaptureBefore(),
		"capture_after", policy.CaptureAfter(),
		"low_memory", policy.LowMemory)
	return p
}

// SessionID returns the identifier logged with every pipeline message.
func (p *Pipeline) SessionID() string {
	return p.session
}

// Policy returns the pipeline's capture policy.
func (p *Pipeline) Policy() config.Policy {
	return p.policy
}

// Err returns the error that halted the pipeline, or nil.
func (p *Pipeline) Err() error {
	return p.halted
}

// ContentRestorer receives the persisted live table on Resume.
type ContentRestorer interface {
	Restore(key history.Key, c history.Content)
}

// Resume loads the store's checkpoint. The persisted live content is handed
// to live and the last committed block is returned; the caller starts the
// host after it. Resume must run before the first Handle call.
func (p *Pipeline) Resume(ctx context.Context, live ContentRestorer) (uint32, error) {
	head, err := p.store.Head(ctx)
	if err != nil {
		return 0, fmt.Errorf("resume: read head: %w", err)
	}
	maxBlock, hasRecords, err := p.store.MaxBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("resume: read max block: %w", err)
	}
	if hasRecords && maxBlock > head {
		p.partial, p.hasPartial = maxBlock, true
	}

	var n int
	if live != nil {
		if err := p.store.ScanLive(ctx, func(k history.Key, c history.Content) bool {
			live.Restore(k, c)
			n++
			return true
		}); err != nil {
			return 0, fmt.Errorf("resume: load live content: %w", err)
		}
	}

	p.logger.Info("ingestion resumed",
		"head", head,
		"live_items", n,
		"partial_block", p.partial)
	return head, nil
}

// Handle dispatches one host event. It implements chain.Handler.
func (p *Pipeline) Handle(ctx context.Context, ev chain.Event) error {
	if p.halted != nil {
		return fmt.Errorf("%w: %w", ErrHalted, p.halted)
	}

	var (
		kind string
		err  error
	)
	switch e := ev.(type) {
	case chain.PreOperation:
		kind = kindPre
		err = p.PreOperation(ctx, e)
	case chain.PostOperation:
		kind = kindPost
		err = p.PostOperation(ctx, e)
	case chain.BlockFinalized:
		kind = kindFinalized
		err = p.BlockFinalized(ctx, e)
	default:
		return fmt.Errorf("unknown event type %T", ev)
	}

	if err != nil {
		eventsTotal.WithLabelValues(kind, resultError).Inc()
		p.halt(kind, err)
		return err
	}
	return nil
}

func (p *Pipeline) halt(kind string, err error) {
	p.halted = err

	reason := reasonStore
	if history.IsCorruptIndex(err) {
		reason = reasonCorruptIndex
	}
	haltsTotal.WithLabelValues(reason).Inc()

	p.logger.Error("ingestion halted",
		"event", kind,
		"reason", reason,
		"error", err)
}

// PreOperation records a comment or delete_comment operation before the host
// applies it. Other operations are ignored.
func (p *Pipeline) PreOperation(ctx context.Context, ev chain.PreOperation) error {
	key, opType, ok := classify(ev.Op)
	if !ok {
		p.stats.ignored.Add(1)
		eventsTotal.WithLabelValues(kindPre, resultIgnored).Inc()
		return nil
	}

	existing, exists, err := p.store.Get(ctx, key, ev.Seq)
	if err != nil {
		return fmt.Errorf("get record %s@%s: %w", key, ev.Seq, err)
	}
	if exists && !p.replaying(ev.Seq.Block) {
		return fmt.Errorf("create record %s@%s: %w", key, ev.Seq, history.NewCorruptIndexError(key, ev.Seq))
	}

	if p.policy.CaptureBefore() {
		if err := p.snapshotBefore(ctx, key, ev.Seq); err != nil {
			return err
		}
	}

	if exists {
		p.stats.replayed.Add(1)
		eventsTotal.WithLabelValues(kindPre, resultReplayed).Inc()
		p.logger.Debug("history record already present",
			"id", existing.ID,
			"author", key.Author,
			"permlink", key.Permlink,
			"seq", ev.Seq.String())
		return nil
	}

	rec, err := p.store.Create(ctx, history.Record{
		Author:   key.Author,
		Permlink: key.Permlink,
		Seq:      ev.Seq,
		OpType:   opType,
	})
	if err != nil {
		return fmt.Errorf("create record %s@%s: %w", key, ev.Seq, err)
	}

	p.stats.created.Add(1)
	recordsCreatedTotal.WithLabelValues(opType.String()).Inc()
	eventsTotal.WithLabelValues(kindPre, resultHandled).Inc()
	p.logger.Debug("history record created",
		"id", rec.ID,
		"author", key.Author,
		"permlink", key.Permlink,
		"seq", ev.Seq.String(),
		"op_type", opType.String())
	return nil
}

// replaying reports whether block is the one a previous run left unfinished.
func (p *Pipeline) replaying(block uint32) bool {
	return p.hasPartial && block == p.partial
}

// snapshotBefore stores the live content on the record preceding seq. The host
// has not applied the current operation yet, so the live content is what that
// operation is about to replace.
func (p *Pipeline) snapshotBefore(ctx context.Context, key history.Key, seq history.Sequence) error {
	var (
		prev  history.Record
		found bool
	)
	if err := p.store.ScanBySequence(ctx, key, func(r history.Record) bool {
		if r.Seq.Compare(seq) < 0 {
			prev, found = r, true
			return false
		}
		return true
	}); err != nil {
		return fmt.Errorf("previous record %s@%s: %w", key, seq, err)
	}
	if !found {
		return nil
	}

	content, live := p.live(key)
	if !live {
		p.stats.misses.Add(1)
		snapshotsTotal.WithLabelValues(sideBefore, snapshotMiss).Inc()
		p.logger.Debug("content before skipped: item not live",
			"author", key.Author,
			"permlink", key.Permlink,
			"seq", seq.String())
		return nil
	}

	if err := p.store.Modify(ctx, prev.ID, func(r *history.Record) {
		r.ContentBefore = &content
	}); err != nil {
		return fmt.Errorf("attach content before to %d: %w", prev.ID, err)
	}

	p.stats.before.Add(1)
	snapshotsTotal.WithLabelValues(sideBefore, snapshotAttached).Inc()
	return nil
}

// PostOperation attaches the live content to the record created for a comment
// operation. Other operations are ignored.
func (p *Pipeline) PostOperation(ctx context.Context, ev chain.PostOperation) error {
	if key, _, ok := classify(ev.Op); ok {
		p.track(key)
	}

	op, ok := ev.Op.(chain.CommentOp)
	if !ok || !p.policy.CaptureAfter() {
		eventsTotal.WithLabelValues(kindPost, resultIgnored).Inc()
		return nil
	}
	key := history.Key{Author: op.Author, Permlink: op.Permlink}

	rec, found, err := p.store.Get(ctx, key, ev.Seq)
	if err != nil {
		return fmt.Errorf("get record %s@%s: %w", key, ev.Seq, err)
	}
	if !found {
		p.logger.Warn("content after skipped: no record for operation",
			"author", key.Author,
			"permlink", key.Permlink,
			"seq", ev.Seq.String())
		eventsTotal.WithLabelValues(kindPost, resultIgnored).Inc()
		return nil
	}

	content, live := p.live(key)
	if !live {
		p.stats.misses.Add(1)
		snapshotsTotal.WithLabelValues(sideAfter, snapshotMiss).Inc()
		p.logger.Debug("content after skipped: item not live",
			"author", key.Author,
			"permlink", key.Permlink,
			"seq", ev.Seq.String())
		return nil
	}

	if err := p.store.Modify(ctx, rec.ID, func(r *history.Record) {
		r.ContentAfter = &content
	}); err != nil {
		return fmt.Errorf("attach content after to %d: %w", rec.ID, err)
	}

	p.stats.after.Add(1)
	snapshotsTotal.WithLabelValues(sideAfter, snapshotAttached).Inc()
	eventsTotal.WithLabelValues(kindPost, resultHandled).Inc()
	return nil
}

// BlockFinalized stamps every record of the block with its timestamp and
// commits the block. Re-running it for the same block writes the same values
// again.
func (p *Pipeline) BlockFinalized(ctx context.Context, ev chain.BlockFinalized) error {
	p.stats.blocks.Add(1)
	if p.policy.StoreTimestamp {
		if err := p.backfill(ctx, ev); err != nil {
			return err
		}
		eventsTotal.WithLabelValues(kindFinalized, resultHandled).Inc()
	} else {
		eventsTotal.WithLabelValues(kindFinalized, resultIgnored).Inc()
	}

	if err := p.store.Commit(ctx, ev.Block, p.pending); err != nil {
		return fmt.Errorf("finalize block %d: %w", ev.Block, err)
	}
	if len(p.pending) > 0 {
		p.logger.Debug("live content committed",
			"block", ev.Block,
			"changes", len(p.pending))
	}
	p.pending = p.pending[:0]
	clear(p.pendingIdx)
	if p.replaying(ev.Block) {
		p.hasPartial = false
		p.logger.Info("interrupted block replayed", "block", ev.Block)
	}
	return nil
}

func (p *Pipeline) backfill(ctx context.Context, ev chain.BlockFinalized) error {
	// Collect first: scan callbacks must not write to the store.
	var ids []uint64
	if err := p.store.ScanBlock(ctx, ev.Block, func(r history.Record) bool {
		ids = append(ids, r.ID)
		return true
	}); err != nil {
		return fmt.Errorf("scan block %d: %w", ev.Block, err)
	}

	for _, id := range ids {
		if err := p.store.Modify(ctx, id, func(r *history.Record) {
			r.Time = ev.Timestamp
		}); err != nil {
			return fmt.Errorf("backfill %d in block %d: %w", id, ev.Block, err)
		}
	}

	p.stats.backfilled.Add(uint64(len(ids)))
	backfilledTotal.Add(float64(len(ids)))
	backfillBatch.Observe(float64(len(ids)))

	if len(ids) > 0 {
		p.logger.Debug("block timestamp backfilled",
			"block", ev.Block,
			"records", len(ids))
	}
	return nil
}

// track queues key's current live content for the next commit. Only content
// policies need the live table after a restart.
func (p *Pipeline) track(key history.Key) {
	if !p.policy.RetainsContent() || p.lookup == nil {
		return
	}
	var entry history.LiveEntry
	entry.Key = key
	if c, ok := p.lookup.Lookup(key.Author, key.Permlink); ok {
		entry.Content = &c
	}
	if i, ok := p.pendingIdx[key]; ok {
		p.pending[i] = entry
		return
	}
	p.pendingIdx[key] = len(p.pending)
	p.pending = append(p.pending, entry)
}

func (p *Pipeline) live(key history.Key) (history.Content, bool) {
	if p.lookup == nil {
		return history.Content{}, false
	}
	return p.lookup.Lookup(key.Author, key.Permlink)
}

// classify maps an operation to its item key and record type. ok is false for
// operations the pipeline ignores.
func classify(op chain.Operation) (key history.Key, opType history.OpType, ok bool) {
	switch o := op.(type) {
	case chain.CommentOp:
		return history.Key{Author: o.Author, Permlink: o.Permlink}, history.OpComment, true
	case chain.DeleteCommentOp:
		return history.Key{Author: o.Author, Permlink: o.Permlink}, history.OpDeleteComment, true
	case chain.OtherOp:
		return history.Key{}, 0, false
	}
	return history.Key{}, 0, false
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Created         uint64 `json:"created"`
	Ignored         uint64 `json:"ignored"`
	BeforeAttached  uint64 `json:"before_attached"`
	AfterAttached   uint64 `json:"after_attached"`
	SnapshotMisses  uint64 `json:"snapshot_misses"`
	Backfilled      uint64 `json:"backfilled"`
	BlocksFinalized uint64 `json:"blocks_finalized"`
	Replayed        uint64 `json:"replayed"`
}

type counters struct {
	created, ignored, before, after, misses, backfilled, blocks, replayed atomic.Uint64
}

// Stats returns the pipeline's counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Created:         p.stats.created.Load(),
		Ignored:         p.stats.ignored.Load(),
		BeforeAttached:  p.stats.before.Load(),
		AfterAttached:   p.stats.after.Load(),
		SnapshotMisses:  p.stats.misses.Load(),
		Backfilled:      p.stats.backfilled.Load(),
		BlocksFinalized: p.stats.blocks.Load(),
		Replayed:        p.stats.replayed.Load(),
	}
}
