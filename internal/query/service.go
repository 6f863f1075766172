// Package query serves read-only lookups over a history store.
//
// All operations are pure reads: they never mutate the store, return copies,
// and report absent records as empty results rather than errors.
package query

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/abitmore/steem/internal/history"
)

// Service answers history queries.
type Service struct {
	reader history.Reader
}

// New creates a service reading from r.
func New(r history.Reader) *Service {
	return &Service{reader: r}
}

// HistoryRequest selects a window of an item's history.
type HistoryRequest struct {
	Author   string
	Permlink string

	// Oldest and Newest bound record time, inclusive. The zero time leaves
	// that side unbounded; an unbounded Newest includes records whose block
	// is not finalized yet.
	Oldest time.Time
	Newest time.Time

	// Limit caps the number of records. Zero yields no records.
	Limit uint32

	// WithContent keeps the content snapshots in the result.
	WithContent bool
}

// History returns the item's records newest first, walking the time order
// from Newest down to Oldest.
func (s *Service) History(ctx context.Context, req HistoryRequest) ([]history.Record, error) {
	out := []history.Record{}

	newest := history.UnsetTime
	if !req.Newest.IsZero() {
		newest = req.Newest.Unix()
	}
	oldest := int64(math.MinInt64)
	if !req.Oldest.IsZero() {
		oldest = req.Oldest.Unix()
	}
	if req.Limit == 0 || oldest > newest {
		return out, nil
	}

	key := history.Key{Author: req.Author, Permlink: req.Permlink}
	err := s.reader.ScanByTime(ctx, key, newest, func(r history.Record) bool {
		if r.TimeKey() < oldest {
			return false
		}
		if !req.WithContent {
			r = r.WithoutContent()
		}
		out = append(out, r)
		return uint32(len(out)) < req.Limit
	})
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", key, err)
	}
	return out, nil
}

// Record returns the record for an exact sequence, with content.
func (s *Service) Record(ctx context.Context, author, permlink string, seq history.Sequence) (history.Record, bool, error) {
	rec, ok, err := s.reader.Get(ctx, history.Key{Author: author, Permlink: permlink}, seq)
	if err != nil {
		return history.Record{}, false, fmt.Errorf("history record %s/%s@%s: %w", author, permlink, seq, err)
	}
	return rec, ok, nil
}

// ContentAt returns the record in effect at the given time: the one with the
// greatest time not after at, the most recently created one among equals.
// The zero time selects the newest record, finalized or not. ok is false when
// at precedes the item's first record.
func (s *Service) ContentAt(ctx context.Context, author, permlink string, at time.Time) (history.Record, bool, error) {
	key := history.Key{Author: author, Permlink: permlink}

	var (
		rec   history.Record
		found bool
	)
	err := s.reader.ScanByTime(ctx, key, history.TimeKey(at), func(r history.Record) bool {
		rec, found = r, true
		return false
	})
	if err != nil {
		return history.Record{}, false, fmt.Errorf("content at %s: %w", key, err)
	}
	return rec, found, nil
}

// List returns every record of the item, highest sequence first, without time
// or content. It serves deployments that retain neither.
func (s *Service) List(ctx context.Context, author, permlink string) ([]history.Record, error) {
	key := history.Key{Author: author, Permlink: permlink}
	out := []history.Record{}
	err := s.reader.ScanBySequence(ctx, key, func(r history.Record) bool {
		r = r.WithoutContent()
		r.Time = time.Time{}
		out = append(out, r)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", key, err)
	}
	return out, nil
}

// ParseTime parses a query bound given as RFC 3339 or Unix seconds. The empty
// string is the zero time.
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339 or Unix seconds", s)
	}
	return t.UTC(), nil
}
