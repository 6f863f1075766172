package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/abitmore/steem/internal/history"
)

// parseSequence parses BLOCK TRX OP arguments.
func parseSequence(block, trx, op string) (history.Sequence, error) {
	b, err := strconv.ParseUint(block, 10, 32)
	if err != nil {
		return history.Sequence{}, fmt.Errorf("invalid block %q: %w", block, err)
	}
	t, err := strconv.ParseUint(trx, 10, 32)
	if err != nil {
		return history.Sequence{}, fmt.Errorf("invalid trx_in_block %q: %w", trx, err)
	}
	o, err := strconv.ParseUint(op, 10, 16)
	if err != nil {
		return history.Sequence{}, fmt.Errorf("invalid op_in_trx %q: %w", op, err)
	}
	return history.Sequence{Block: uint32(b), TrxInBlock: uint32(t), OpInTrx: uint16(o)}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unfinalized"
	}
	return t.UTC().Format(time.RFC3339)
}

// writeRecordText prints one record: a header line, then one indented line per
// content snapshot.
func writeRecordText(w io.Writer, r history.Record) {
	fmt.Fprintf(w, "%s %s %s %s\n", r.Key(), r.Seq, r.OpType, formatTime(r.Time))
	if r.ContentBefore != nil {
		writeContentText(w, "before", *r.ContentBefore)
	}
	if r.ContentAfter != nil {
		writeContentText(w, "after", *r.ContentAfter)
	}
}

func writeContentText(w io.Writer, side string, c history.Content) {
	fmt.Fprintf(w, "  %s: title=%q body=%q json_metadata=%q\n", side, c.Title, c.Body, c.JSONMetadata)
}

func writeRecordsText(w io.Writer, records []history.Record) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No records found.")
		return
	}
	for _, r := range records {
		writeRecordText(w, r)
	}
	fmt.Fprintf(w, "%d record(s)\n", len(records))
}
