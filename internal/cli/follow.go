package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/abitmore/steem/internal/chain"
	"github.com/abitmore/steem/internal/config"
	"github.com/abitmore/steem/internal/eventbus"
	"github.com/abitmore/steem/internal/ingest"
)

// RedisFlags override the config file's redis section.
type RedisFlags struct {
	Addr     string
	Stream   string
	Group    string
	Consumer string
}

func (f *RedisFlags) bind(cmd *cobra.Command, withGroup bool) {
	cmd.Flags().StringVar(&f.Addr, "redis-addr", "", "redis address (overrides redis.addr)")
	cmd.Flags().StringVar(&f.Stream, "stream", "", "redis stream carrying blocks (overrides redis.stream)")
	if withGroup {
		cmd.Flags().StringVar(&f.Group, "group", "", "consumer group (overrides redis.group)")
		cmd.Flags().StringVar(&f.Consumer, "consumer", "", "consumer name (overrides redis.consumer)")
	}
}

// resolve lays the flags over cfg.
func (f RedisFlags) resolve(cfg config.RedisConfig) config.RedisConfig {
	if f.Addr != "" {
		cfg.Addr = f.Addr
	}
	if f.Stream != "" {
		cfg.Stream = f.Stream
	}
	if f.Group != "" {
		cfg.Group = f.Group
	}
	if f.Consumer != "" {
		cfg.Consumer = f.Consumer
	}
	return cfg
}

// FollowOptions holds flags for the follow command.
type FollowOptions struct {
	*RootOptions
	Store       StoreFlags
	Redis       RedisFlags
	Policy      string
	MetricsAddr string
}

// FollowResult summarizes a follow session after it stops.
type FollowResult struct {
	Head  uint32       `json:"head"`
	Stats ingest.Stats `json:"stats"`
}

// NewFollowCommand creates the follow command.
func NewFollowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FollowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Ingest blocks from a redis stream until interrupted",
		Long: `Consume blocks from a redis stream through a consumer group and ingest
them as they arrive. Each message is acked once its block is fully applied.
The first ingestion failure nacks the message and stops the command.

Ingestion resumes after the store's last committed block. Redelivered blocks
at or below it are acked without being applied.

When --metrics-addr is set, Prometheus metrics are served at /metrics.

Exit codes:
  0 - Stopped by signal or end of stream
  2 - Command error (store or redis unavailable, ingestion halted)

Examples:
  commenthistory follow --db ./history.db --redis-addr localhost:6379 --stream blocks
  commenthistory follow --config ./indexer.yaml --metrics-addr :9102`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFollow(cmd.Context(), opts, cmd)
		},
	}

	opts.Store.bind(cmd)
	opts.Redis.bind(cmd, true)
	cmd.Flags().StringVar(&opts.Policy, "policy", "",
		fmt.Sprintf("capture policy preset: %s|%s|%s (overrides config policy)",
			config.PresetDefault, config.PresetMinimal, config.PresetBeforeOnly))
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides metrics.addr)")

	return cmd
}

func runFollow(ctx context.Context, opts *FollowOptions, cmd *cobra.Command) error {
	cfg := opts.config()
	logger := opts.logger()
	redisCfg := opts.Redis.resolve(cfg.Redis)
	metricsAddr := cfg.Metrics.Addr
	if opts.MetricsAddr != "" {
		metricsAddr = opts.MetricsAddr
	}

	policy, err := resolvePolicy(cfg.Policy, opts.Policy)
	if err != nil {
		return opts.fail(cmd, ExitCommandError, CodeBadArgument, "invalid policy", err)
	}

	st, err := openStore(opts.Store.resolve(cfg.Store), logger)
	if err != nil {
		return opts.fail(cmd, ExitCommandError, CodeStore, "failed to open store", err)
	}
	defer st.Close()

	client := eventbus.NewRedisClient(redisCfg.Addr)
	defer client.Close()

	if err := eventbus.EnsureGroup(ctx, client, redisCfg); err != nil {
		return opts.fail(cmd, ExitCommandError, CodeTransport, "failed to prepare consumer group", err)
	}

	sub, err := eventbus.NewRedisSubscriber(client, redisCfg, logger)
	if err != nil {
		return opts.fail(cmd, ExitCommandError, CodeTransport, "failed to subscribe", err)
	}
	defer sub.Close()

	state := chain.NewState()
	pipeline := ingest.New(st, state, policy, ingest.WithLogger(logger))
	head, err := pipeline.Resume(ctx, state)
	if err != nil {
		return opts.fail(cmd, ExitCommandError, CodeStore, "failed to resume from store", err)
	}
	host := chain.NewHost(state, pipeline, chain.WithHostLogger(logger), chain.WithHead(head))
	source := &eventbus.Source{
		Subscriber: sub,
		Topic:      redisCfg.Stream,
		Host:       host,
		Logger:     logger,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, groupCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		defer stop()
		return source.Run(groupCtx)
	})
	if metricsAddr != "" {
		serveMetrics(groupCtx, eg, metricsAddr, logger)
	}

	err = eg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return opts.fail(cmd, ExitCommandError, CodeIngestHalted, "ingestion halted", err)
	}

	result := FollowResult{Head: host.Head(), Stats: pipeline.Stats()}
	if opts.Format == "json" {
		return opts.formatter(cmd).SuccessWithSession(pipeline.SessionID(), result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stopped at block %d after creating %d record(s)\n",
		result.Head, result.Stats.Created)
	return nil
}

// serveMetrics runs the Prometheus endpoint in eg until ctx is done.
func serveMetrics(ctx context.Context, eg *errgroup.Group, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	eg.Go(func() error {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// PublishOptions holds flags for the publish command.
type PublishOptions struct {
	*RootOptions
	Redis  RedisFlags
	Blocks string
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PublishOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a block log to a redis stream",
		Long: `Publish every block of a block log to a redis stream, one message per
block, in order. A follow command consuming the stream ingests them.

Examples:
  commenthistory publish --redis-addr localhost:6379 --stream blocks --blocks ./blocks.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(opts, cmd)
		},
	}

	opts.Redis.bind(cmd, false)
	cmd.Flags().StringVar(&opts.Blocks, "blocks", "", "path to block log, .yaml or .jsonl (required)")
	_ = cmd.MarkFlagRequired("blocks")

	return cmd
}

func runPublish(opts *PublishOptions, cmd *cobra.Command) error {
	redisCfg := opts.Redis.resolve(opts.config().Redis)
	logger := opts.logger()

	blocks, err := chain.LoadBlocks(opts.Blocks)
	if err != nil {
		return opts.fail(cmd, ExitCommandError, CodeBadArgument, "failed to load blocks", err)
	}

	client := eventbus.NewRedisClient(redisCfg.Addr)
	defer client.Close()

	pub, err := eventbus.NewRedisPublisher(client, logger)
	if err != nil {
		return opts.fail(cmd, ExitCommandError, CodeTransport, "failed to create publisher", err)
	}
	defer pub.Close()

	if err := eventbus.PublishBlocks(pub, redisCfg.Stream, blocks); err != nil {
		return opts.fail(cmd, ExitCommandError, CodeTransport, "failed to publish blocks", err)
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(map[string]any{
			"stream": redisCfg.Stream,
			"blocks": len(blocks),
		})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Published %d block(s) to %s\n", len(blocks), redisCfg.Stream)
	return nil
}
