package chain

import (
	"context"
	"time"

	"github.com/abitmore/steem/internal/history"
)

// Event is one host notification. The set is closed: PreOperation,
// PostOperation and BlockFinalized.
type Event interface {
	isEvent()
}

// PreOperation is emitted before the host applies Op.
type PreOperation struct {
	Seq history.Sequence
	Op  Operation
}

// PostOperation is emitted after the host applied Op.
type PostOperation struct {
	Seq history.Sequence
	Op  Operation
}

// BlockFinalized is emitted once every operation of Block has been applied.
type BlockFinalized struct {
	Block     uint32
	Timestamp time.Time
}

func (PreOperation) isEvent()   {}
func (PostOperation) isEvent()  {}
func (BlockFinalized) isEvent() {}

// Handler consumes host events in ledger order. A non-nil error stops the
// host from delivering further events.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
