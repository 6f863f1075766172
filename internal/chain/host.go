package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/abitmore/steem/internal/history"
)

// Host replays blocks against a State, emitting events around every
// operation:
//
//	PreOperation -> State.Apply -> PostOperation   (for each operation)
//	BlockFinalized                                 (once per block)
//
// Delivery stops at the first handler error.
type Host struct {
	state   *State
	handler Handler
	logger  *slog.Logger

	head    uint32
	started bool
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostLogger sets the host's logger.
func WithHostLogger(l *slog.Logger) HostOption {
	return func(h *Host) { h.logger = l }
}

// WithHead resumes the host after block head. Blocks at or below it are
// rejected by Apply. A zero head leaves the host unstarted.
func WithHead(head uint32) HostOption {
	return func(h *Host) {
		h.head = head
		h.started = head > 0
	}
}

// NewHost returns a host that applies operations to state and notifies handler.
func NewHost(state *State, handler Handler, opts ...HostOption) *Host {
	h := &Host{
		state:   state,
		handler: handler,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// State returns the live table the host mutates.
func (h *Host) State() *State {
	return h.state
}

// Head returns the last applied block number, or 0 before the first block.
func (h *Host) Head() uint32 {
	return h.head
}

// Apply applies one block. Block numbers must be strictly increasing.
func (h *Host) Apply(ctx context.Context, b Block) error {
	if h.started && b.Num <= h.head {
		return fmt.Errorf("apply block %d: not after head %d", b.Num, h.head)
	}

	for ti, trx := range b.Transactions {
		if len(trx.Operations) > math.MaxUint16+1 {
			return fmt.Errorf("apply block %d: transaction %d has %d operations", b.Num, ti, len(trx.Operations))
		}
		for oi, env := range trx.Operations {
			if err := ctx.Err(); err != nil {
				return err
			}
			seq := history.Sequence{Block: b.Num, TrxInBlock: uint32(ti), OpInTrx: uint16(oi)}

			if err := h.handler.Handle(ctx, PreOperation{Seq: seq, Op: env.Operation}); err != nil {
				return fmt.Errorf("pre-operation %s: %w", seq, err)
			}
			h.state.Apply(env.Operation)
			if err := h.handler.Handle(ctx, PostOperation{Seq: seq, Op: env.Operation}); err != nil {
				return fmt.Errorf("post-operation %s: %w", seq, err)
			}
		}
	}

	if err := h.handler.Handle(ctx, BlockFinalized{Block: b.Num, Timestamp: b.Timestamp}); err != nil {
		return fmt.Errorf("finalize block %d: %w", b.Num, err)
	}

	h.head = b.Num
	h.started = true
	h.logger.Debug("block applied",
		"block", b.Num,
		"transactions", len(b.Transactions))
	return nil
}

// Replay applies blocks in order, stopping at the first error.
func (h *Host) Replay(ctx context.Context, blocks []Block) error {
	for _, b := range blocks {
		if err := h.Apply(ctx, b); err != nil {
			return err
		}
	}
	return nil
}
