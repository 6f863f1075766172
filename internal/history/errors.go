package history

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// ErrCodeCorruptIndex indicates a uniqueness violation on the primary order.
	ErrCodeCorruptIndex ErrorCode = "CORRUPT_INDEX"
)

// ErrImmutableKey is returned by Modify when the callback changed a field that
// is part of the primary or block order.
var ErrImmutableKey = errors.New("modify: primary or block key changed")

// ErrNotFound is returned by Modify when no record has the given ID.
var ErrNotFound = errors.New("record not found")

// CorruptIndexError reports an attempt to create a second record for the same
// (author, permlink, sequence). Ingestion must stop when it sees one.
type CorruptIndexError struct {
	Code     ErrorCode
	Author   string
	Permlink string
	Seq      Sequence
}

// NewCorruptIndexError builds the error for a duplicate primary key.
func NewCorruptIndexError(key Key, seq Sequence) *CorruptIndexError {
	return &CorruptIndexError{
		Code:     ErrCodeCorruptIndex,
		Author:   key.Author,
		Permlink: key.Permlink,
		Seq:      seq,
	}
}

func (e *CorruptIndexError) Error() string {
	return fmt.Sprintf("%s: duplicate history record (author=%s, permlink=%s, seq=%s)",
		e.Code, e.Author, e.Permlink, e.Seq)
}

// IsCorruptIndex reports whether err wraps a CorruptIndexError.
func IsCorruptIndex(err error) bool {
	var ce *CorruptIndexError
	return errors.As(err, &ce)
}
