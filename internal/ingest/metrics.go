package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsTotal counts host events by kind and outcome.
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comment_history_events_total",
		Help: "Host events handled by the ingestion pipeline, by kind and result",
	}, []string{"kind", "result"})

	// recordsCreatedTotal counts history records created by op type.
	recordsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comment_history_records_created_total",
		Help: "History records created, by op type",
	}, []string{"op_type"})

	// snapshotsTotal counts content snapshots by side and result.
	snapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comment_history_snapshots_total",
		Help: "Content snapshots attached or skipped, by side (before/after) and result",
	}, []string{"side", "result"})

	// backfilledTotal counts records that received a block timestamp.
	backfilledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "comment_history_backfilled_records_total",
		Help: "History records whose time was set by block finalization",
	})

	// backfillBatch tracks records per finalized block.
	backfillBatch = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "comment_history_backfill_batch_size",
		Help:    "Number of records backfilled per finalized block",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
	})

	// haltsTotal counts fatal ingestion errors.
	haltsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "comment_history_halts_total",
		Help: "Fatal ingestion errors, by reason",
	}, []string{"reason"})
)

// Metric label values.
const (
	kindPre       = "pre_operation"
	kindPost      = "post_operation"
	kindFinalized = "block_finalized"

	resultHandled  = "handled"
	resultIgnored  = "ignored"
	resultError    = "error"
	resultReplayed = "replayed"

	sideBefore = "before"
	sideAfter  = "after"

	snapshotAttached = "attached"
	snapshotMiss     = "miss"

	reasonCorruptIndex = "corrupt_index"
	reasonStore        = "store"
)
