package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/abitmore/steem/internal/chain"
	"github.com/abitmore/steem/internal/history"
	"github.com/abitmore/steem/internal/ingest"
	"github.com/abitmore/steem/internal/memstore"
	"github.com/abitmore/steem/internal/query"
)

// SessionID is the fixed ingestion session id of every harness run.
const SessionID = "harness-session"

// Result is the outcome of one scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool

	// Errors holds one *AssertionError per failed assertion.
	Errors []error

	// Trace lists every event the host emitted, rendered as text.
	Trace []string

	// Records holds every record, grouped by block in insertion order.
	Records []history.Record

	// Stats are the pipeline counters after the replay.
	Stats ingest.Stats
}

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Index    int
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion %d (%s) failed\n  Expected: %s\n  Actual: %s",
		e.Index, e.Type, e.Expected, e.Actual)
}

// Run replays the scenario into a fresh in-memory store and evaluates its
// assertions.
func Run(ctx context.Context, s *Scenario) (*Result, error) {
	return RunWithStore(ctx, s, memstore.New())
}

// RunWithStore is Run against a caller-supplied empty store. The store is not
// closed.
func RunWithStore(ctx context.Context, s *Scenario, st history.Store) (*Result, error) {
	policy, err := s.policy()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	state := chain.NewState()
	pipeline := ingest.New(st, state, policy,
		ingest.WithLogger(logger),
		ingest.WithSessionIDGenerator(ingest.NewFixedGenerator(SessionID)))

	rec := &recorder{next: pipeline}
	host := chain.NewHost(state, rec, chain.WithHostLogger(logger))
	if err := host.Replay(ctx, s.Blocks); err != nil {
		return nil, fmt.Errorf("scenario %s: replay: %w", s.Name, err)
	}

	result := &Result{Pass: true, Trace: rec.trace, Stats: pipeline.Stats()}
	if result.Records, err = snapshot(ctx, st, s.Blocks); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	svc := query.New(st)
	for i, a := range s.Assertions {
		failure, err := evaluate(ctx, st, svc, a)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: assertion %d: %w", s.Name, i, err)
		}
		if failure != nil {
			failure.Index = i
			failure.Type = a.Type
			result.Pass = false
			result.Errors = append(result.Errors, failure)
		}
	}
	return result, nil
}

// recorder renders each event into the trace before passing it on.
type recorder struct {
	next  chain.Handler
	trace []string
}

func (r *recorder) Handle(ctx context.Context, ev chain.Event) error {
	r.trace = append(r.trace, renderEvent(ev))
	return r.next.Handle(ctx, ev)
}

func renderEvent(ev chain.Event) string {
	switch e := ev.(type) {
	case chain.PreOperation:
		return fmt.Sprintf("pre %s %s", e.Seq, renderOp(e.Op))
	case chain.PostOperation:
		return fmt.Sprintf("post %s %s", e.Seq, renderOp(e.Op))
	case chain.BlockFinalized:
		return fmt.Sprintf("finalized %d %s", e.Block, e.Timestamp.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("%T", ev)
}

func renderOp(op chain.Operation) string {
	switch o := op.(type) {
	case chain.CommentOp:
		return fmt.Sprintf("%s %s/%s", o.OpName(), o.Author, o.Permlink)
	case chain.DeleteCommentOp:
		return fmt.Sprintf("%s %s/%s", o.OpName(), o.Author, o.Permlink)
	}
	return op.OpName()
}

// snapshot collects every record of the replayed blocks in block order.
func snapshot(ctx context.Context, st history.Reader, blocks []chain.Block) ([]history.Record, error) {
	out := []history.Record{}
	for _, b := range blocks {
		err := st.ScanBlock(ctx, b.Num, func(r history.Record) bool {
			out = append(out, r)
			return true
		})
		if err != nil {
			return nil, fmt.Errorf("scan block %d: %w", b.Num, err)
		}
	}
	return out, nil
}

// evaluate runs one assertion. It returns a non-nil *AssertionError when the
// assertion does not hold, and an error only when the query itself fails.
func evaluate(ctx context.Context, st history.Reader, svc *query.Service, a Assertion) (*AssertionError, error) {
	switch a.Type {
	case AssertRecordCount:
		n, err := st.Len(ctx)
		if err != nil {
			return nil, err
		}
		if n != a.Count {
			return &AssertionError{
				Expected: fmt.Sprintf("%d record(s)", a.Count),
				Actual:   fmt.Sprintf("%d record(s)", n),
			}, nil
		}
		return nil, nil

	case AssertHistory:
		oldest, err := query.ParseTime(a.Oldest)
		if err != nil {
			return nil, err
		}
		newest, err := query.ParseTime(a.Newest)
		if err != nil {
			return nil, err
		}
		limit := uint32(defaultHistoryLimit)
		if a.Limit != nil {
			limit = *a.Limit
		}
		got, err := svc.History(ctx, query.HistoryRequest{
			Author:      a.Author,
			Permlink:    a.Permlink,
			Oldest:      oldest,
			Newest:      newest,
			Limit:       limit,
			WithContent: true,
		})
		if err != nil {
			return nil, err
		}
		return matchRecords(a.Expect, got), nil

	case AssertList:
		got, err := svc.List(ctx, a.Author, a.Permlink)
		if err != nil {
			return nil, err
		}
		return matchRecords(a.Expect, got), nil

	case AssertContentAt:
		var at time.Time
		if a.At != "latest" {
			t, err := query.ParseTime(a.At)
			if err != nil {
				return nil, err
			}
			at = t
		}
		rec, ok, err := svc.ContentAt(ctx, a.Author, a.Permlink, at)
		if err != nil {
			return nil, err
		}
		return matchRecords(a.Expect, optional(rec, ok)), nil

	case AssertRecord:
		seq, err := history.ParseSequence(a.Seq)
		if err != nil {
			return nil, err
		}
		rec, ok, err := svc.Record(ctx, a.Author, a.Permlink, seq)
		if err != nil {
			return nil, err
		}
		return matchRecords(a.Expect, optional(rec, ok)), nil
	}
	return nil, fmt.Errorf("unknown assertion type %q", a.Type)
}

func optional(rec history.Record, ok bool) []history.Record {
	if !ok {
		return nil
	}
	return []history.Record{rec}
}

// matchRecords compares got against want position by position.
func matchRecords(want []ExpectRecord, got []history.Record) *AssertionError {
	if len(want) != len(got) {
		return &AssertionError{
			Expected: fmt.Sprintf("%d record(s) %s", len(want), expectedSeqs(want)),
			Actual:   fmt.Sprintf("%d record(s) %s", len(got), actualSeqs(got)),
		}
	}
	for i, w := range want {
		if mismatch := matchRecord(w, got[i]); mismatch != "" {
			return &AssertionError{
				Expected: fmt.Sprintf("record %d: %s", i, mismatch),
				Actual:   describe(got[i]),
			}
		}
	}
	return nil
}

// matchRecord returns a description of the first mismatching field, or "".
func matchRecord(want ExpectRecord, got history.Record) string {
	if want.Seq != got.Seq.String() {
		return "seq " + want.Seq
	}
	if want.OpType != "" && want.OpType != got.OpType.String() {
		return "op_type " + want.OpType
	}
	if want.Time != "" {
		gotTime := "unset"
		if !got.Time.IsZero() {
			gotTime = got.Time.UTC().Format(time.RFC3339)
		}
		if want.Time != gotTime {
			return "time " + want.Time
		}
	}
	if mismatch := matchContent("before", want.Before, want.NoBefore, got.ContentBefore); mismatch != "" {
		return mismatch
	}
	return matchContent("after", want.After, want.NoAfter, got.ContentAfter)
}

func matchContent(side string, body *string, absent bool, got *history.Content) string {
	switch {
	case absent && got != nil:
		return "no content " + side
	case body != nil && (got == nil || got.Body != *body):
		return fmt.Sprintf("content %s body %q", side, *body)
	}
	return ""
}

func describe(r history.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "seq %s op_type %s", r.Seq, r.OpType)
	if r.Time.IsZero() {
		b.WriteString(" time unset")
	} else {
		fmt.Fprintf(&b, " time %s", r.Time.UTC().Format(time.RFC3339))
	}
	if r.ContentBefore != nil {
		fmt.Fprintf(&b, " before %q", r.ContentBefore.Body)
	}
	if r.ContentAfter != nil {
		fmt.Fprintf(&b, " after %q", r.ContentAfter.Body)
	}
	return b.String()
}

func expectedSeqs(want []ExpectRecord) []string {
	seqs := make([]string, len(want))
	for i, w := range want {
		seqs[i] = w.Seq
	}
	return seqs
}

func actualSeqs(got []history.Record) []string {
	seqs := make([]string, len(got))
	for i, r := range got {
		seqs[i] = r.Seq.String()
	}
	return seqs
}
