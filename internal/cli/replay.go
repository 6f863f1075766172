package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abitmore/steem/internal/chain"
	"github.com/abitmore/steem/internal/config"
	"github.com/abitmore/steem/internal/ingest"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Store  StoreFlags
	Blocks string
	Policy string // optional preset name overriding the config file's policy
}

// ReplayResult summarizes one replay.
type ReplayResult struct {
	Blocks  int           `json:"blocks"`
	Skipped int           `json:"skipped"`
	Resumed uint32        `json:"resumed_from"`
	Head    uint32        `json:"head"`
	Records int           `json:"records"`
	Policy  config.Policy `json:"policy"`
	Stats   ingest.Stats  `json:"stats"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Ingest a block log into a record store",
		Long: `Replay a block log through the ingestion pipeline.

Blocks are read from a YAML list or a JSON Lines file and applied in order.
Every comment and delete_comment operation becomes a history record; content
snapshots and timestamps are captured according to the policy.

An existing store is resumed: blocks at or below its last committed block are
skipped, so the same log can be replayed again after it grows.

Exit codes:
  0 - All blocks ingested
  2 - Command error (bad block log, store cannot be opened, ingestion halted)

JSON error codes:
  E002 - Bad policy, block log, or block order
  E003 - Store cannot be opened or read
  E004 - Ingestion halted

Examples:
  commenthistory replay --db ./history.db --blocks ./blocks.yaml
  commenthistory replay --backend badger --db ./history --blocks ./blocks.jsonl
  commenthistory replay --db ./history.db --blocks ./blocks.yaml --policy minimal`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd)
		},
	}

	opts.Store.bind(cmd)
	cmd.Flags().StringVar(&opts.Blocks, "blocks", "", "path to block log, .yaml or .jsonl (required)")
	_ = cmd.MarkFlagRequired("blocks")
	cmd.Flags().StringVar(&opts.Policy, "policy", "",
		fmt.Sprintf("capture policy preset: %s|%s|%s (overrides config policy)",
			config.PresetDefault, config.PresetMinimal, config.PresetBeforeOnly))

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command) error {
	cfg := opts.config()
	logger := opts.logger()

	policy, err := resolvePolicy(cfg.Policy, opts.Policy)
	if err != nil {
		return opts.fail(cmd, ExitCommandError, CodeBadArgument, "invalid policy", err)
	}

	blocks, err := chain.LoadBlocks(opts.Blocks)
	if err != nil {
		return opts.fail(cmd, ExitCommandError, CodeBadArgument, "failed to load blocks", err)
	}

	st, err := openStore(opts.Store.resolve(cfg.Store), logger)
	if err != nil {
		return opts.fail(cmd, ExitCommandError, CodeStore, "failed to open store", err)
	}
	defer st.Close()

	state := chain.NewState()
	pipeline := ingest.New(st, state, policy, ingest.WithLogger(logger))
	head, err := pipeline.Resume(ctx, state)
	if err != nil {
		return opts.fail(cmd, ExitCommandError, CodeStore, "failed to resume from store", err)
	}
	host := chain.NewHost(state, pipeline, chain.WithHostLogger(logger), chain.WithHead(head))

	pending := blocksAfter(blocks, head)
	if skipped := len(blocks) - len(pending); skipped > 0 {
		logger.Info("skipping blocks already in store", "head", head, "skipped", skipped)
	}

	if err := host.Replay(ctx, pending); err != nil {
		if pipeline.Err() != nil {
			return opts.fail(cmd, ExitCommandError, CodeIngestHalted, "ingestion halted", err)
		}
		return opts.fail(cmd, ExitCommandError, CodeBadArgument, "replay failed", err)
	}

	n, err := st.Len(ctx)
	if err != nil {
		return opts.fail(cmd, ExitCommandError, CodeStore, "failed to count records", err)
	}

	result := ReplayResult{
		Blocks:  len(pending),
		Skipped: len(blocks) - len(pending),
		Resumed: head,
		Head:    host.Head(),
		Records: n,
		Policy:  pipeline.Policy(),
		Stats:   pipeline.Stats(),
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).SuccessWithSession(pipeline.SessionID(), result)
	}
	writeReplayText(cmd, result)
	return nil
}

// blocksAfter drops the blocks a previous run already committed.
func blocksAfter(blocks []chain.Block, head uint32) []chain.Block {
	if head == 0 {
		return blocks
	}
	out := make([]chain.Block, 0, len(blocks))
	for _, b := range blocks {
		if b.Num > head {
			out = append(out, b)
		}
	}
	return out
}

// resolvePolicy returns the named preset, or base when name is empty.
func resolvePolicy(base config.Policy, name string) (config.Policy, error) {
	if name == "" {
		return base, nil
	}
	return config.PolicyPreset(name)
}

func writeReplayText(cmd *cobra.Command, r ReplayResult) {
	w := cmd.OutOrStdout()
	if r.Skipped > 0 {
		fmt.Fprintf(w, "Resumed after block %d, skipped %d block(s) already stored\n", r.Resumed, r.Skipped)
	}
	fmt.Fprintf(w, "Replayed %d block(s) through block %d\n", r.Blocks, r.Head)
	fmt.Fprintf(w, "  records created:   %d\n", r.Stats.Created)
	fmt.Fprintf(w, "  ops ignored:       %d\n", r.Stats.Ignored)
	fmt.Fprintf(w, "  before snapshots:  %d\n", r.Stats.BeforeAttached)
	fmt.Fprintf(w, "  after snapshots:   %d\n", r.Stats.AfterAttached)
	fmt.Fprintf(w, "  snapshot misses:   %d\n", r.Stats.SnapshotMisses)
	fmt.Fprintf(w, "  times backfilled:  %d\n", r.Stats.Backfilled)
	if r.Stats.Replayed > 0 {
		fmt.Fprintf(w, "  records replayed:  %d\n", r.Stats.Replayed)
	}
	fmt.Fprintf(w, "Store holds %d record(s)\n", r.Records)
}

