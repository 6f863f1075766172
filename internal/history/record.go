package history

import (
	"fmt"
	"math"
	"time"
)

// OpType is the kind of operation that produced a record.
type OpType uint8

const (
	// OpComment is a comment create or edit.
	OpComment OpType = iota
	// OpDeleteComment is a comment deletion.
	OpDeleteComment
	// OpCommentOption is reserved for comment_options operations. Not produced yet.
	OpCommentOption
	// OpVote is reserved for vote operations. Not produced yet.
	OpVote
)

var opTypeNames = [...]string{
	OpComment:       "comment",
	OpDeleteComment: "delete_comment",
	OpCommentOption: "comment_option",
	OpVote:          "vote",
}

func (t OpType) String() string {
	if int(t) < len(opTypeNames) {
		return opTypeNames[t]
	}
	return fmt.Sprintf("op_type(%d)", uint8(t))
}

// ParseOpType is the inverse of OpType.String.
func ParseOpType(s string) (OpType, error) {
	for i, name := range opTypeNames {
		if name == s {
			return OpType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown op type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t OpType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *OpType) UnmarshalText(b []byte) error {
	parsed, err := ParseOpType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Sequence is the host's total order of operations.
type Sequence struct {
	Block      uint32 `json:"block" yaml:"block"`
	TrxInBlock uint32 `json:"trx_in_block" yaml:"trx_in_block"`
	OpInTrx    uint16 `json:"op_in_trx" yaml:"op_in_trx"`
}

// MaxSequence sorts after every real sequence.
var MaxSequence = Sequence{Block: math.MaxUint32, TrxInBlock: math.MaxUint32, OpInTrx: math.MaxUint16}

// Compare returns -1, 0 or +1 comparing s to o in ledger order.
func (s Sequence) Compare(o Sequence) int {
	switch {
	case s.Block != o.Block:
		return cmp3(s.Block < o.Block)
	case s.TrxInBlock != o.TrxInBlock:
		return cmp3(s.TrxInBlock < o.TrxInBlock)
	case s.OpInTrx != o.OpInTrx:
		return cmp3(s.OpInTrx < o.OpInTrx)
	}
	return 0
}

func cmp3(less bool) int {
	if less {
		return -1
	}
	return 1
}

func (s Sequence) String() string {
	return fmt.Sprintf("%d/%d/%d", s.Block, s.TrxInBlock, s.OpInTrx)
}

// ParseSequence is the inverse of Sequence.String.
func ParseSequence(s string) (Sequence, error) {
	var seq Sequence
	n, err := fmt.Sscanf(s, "%d/%d/%d", &seq.Block, &seq.TrxInBlock, &seq.OpInTrx)
	if err != nil || n != 3 || seq.String() != s {
		return Sequence{}, fmt.Errorf("invalid sequence %q: want block/trx/op", s)
	}
	return seq, nil
}

// Key identifies a content item.
type Key struct {
	Author   string
	Permlink string
}

func (k Key) String() string {
	return k.Author + "/" + k.Permlink
}

// Content is a snapshot of an item's mutable fields.
type Content struct {
	Title        string `json:"title"`
	Body         string `json:"body"`
	JSONMetadata string `json:"json_metadata"`
}

// Record is one entry in an item's edit history.
type Record struct {
	ID       uint64   `json:"-"`
	Author   string   `json:"author"`
	Permlink string   `json:"permlink"`
	Seq      Sequence `json:"sequence"`
	OpType   OpType   `json:"op_type"`

	// Time is zero until the block containing Seq is finalized.
	Time time.Time `json:"time,omitzero"`

	ContentBefore *Content `json:"content_before,omitempty"`
	ContentAfter  *Content `json:"content_after,omitempty"`
}

// Key returns the record's item key.
func (r Record) Key() Key {
	return Key{Author: r.Author, Permlink: r.Permlink}
}

// TimeKey returns the record's position in the time order.
func (r Record) TimeKey() int64 {
	return TimeKey(r.Time)
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	if r.ContentBefore != nil {
		c := *r.ContentBefore
		r.ContentBefore = &c
	}
	if r.ContentAfter != nil {
		c := *r.ContentAfter
		r.ContentAfter = &c
	}
	return r
}

// WithoutContent returns a copy of r with both snapshots cleared.
func (r Record) WithoutContent() Record {
	r.ContentBefore = nil
	r.ContentAfter = nil
	return r
}

// UnsetTime is the time key of a record whose block is not finalized yet.
const UnsetTime int64 = math.MaxInt64

// TimeKey maps a timestamp onto the time order. Block timestamps have second
// resolution; the zero time maps to UnsetTime.
func TimeKey(t time.Time) int64 {
	if t.IsZero() {
		return UnsetTime
	}
	return t.Unix()
}

// TimeFromKey is the inverse of TimeKey.
func TimeFromKey(k int64) time.Time {
	if k == UnsetTime {
		return time.Time{}
	}
	return time.Unix(k, 0).UTC()
}
