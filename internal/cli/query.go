package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abitmore/steem/internal/history"
	"github.com/abitmore/steem/internal/query"
)

// QueryOptions holds flags shared by the read-only commands.
type QueryOptions struct {
	*RootOptions
	Store StoreFlags
}

// RecordsResult is the JSON payload of history and list.
type RecordsResult struct {
	Author   string           `json:"author"`
	Permlink string           `json:"permlink"`
	Records  []history.Record `json:"records"`
}

// openQuery opens the configured store read-side and returns a service over
// it with a function that closes the store.
func (o *QueryOptions) openQuery(cmd *cobra.Command) (*query.Service, func(), error) {
	st, err := openExistingStore(o.Store.resolve(o.config().Store), o.logger())
	if err != nil {
		return nil, nil, o.fail(cmd, ExitCommandError, CodeStore, "failed to open store", err)
	}
	return query.New(st), func() { _ = st.Close() }, nil
}

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	QueryOptions
	Oldest  string
	Newest  string
	Limit   uint32
	Content bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{QueryOptions: QueryOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "history AUTHOR PERMLINK",
		Short: "Show an item's edit history, newest first",
		Long: `Show the records of one item ordered by time, newest first.

Records whose block has not been finalized sort as newest and are included
unless --newest is given. Times are RFC 3339 or Unix seconds.

When the configured policy is minimal, records carry no time; the command
then lists by sequence like list and ignores --oldest and --newest.

Examples:
  commenthistory history --db ./history.db alice post1
  commenthistory history --db ./history.db alice post1 --oldest 2016-03-24T16:00:00Z --limit 10
  commenthistory history --db ./history.db alice post1 --content --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd, args)
		},
	}

	opts.Store.bind(cmd)
	cmd.Flags().StringVar(&opts.Oldest, "oldest", "", "oldest record time to include")
	cmd.Flags().StringVar(&opts.Newest, "newest", "", "newest record time to include")
	cmd.Flags().Uint32Var(&opts.Limit, "limit", 100, "maximum number of records")
	cmd.Flags().BoolVar(&opts.Content, "content", false, "include content snapshots")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command, args []string) error {
	oldest, err := query.ParseTime(opts.Oldest)
	if err != nil {
		return opts.fail(cmd, ExitCommandError, CodeBadArgument, "invalid --oldest", err)
	}
	newest, err := query.ParseTime(opts.Newest)
	if err != nil {
		return opts.fail(cmd, ExitCommandError, CodeBadArgument, "invalid --newest", err)
	}

	svc, closeStore, err := opts.openQuery(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	var records []history.Record
	if opts.config().Policy.Minimal() {
		// Records carry no time under the minimal policy.
		opts.formatter(cmd).VerboseLog("minimal policy: listing by sequence, bounds ignored")
		records, err = svc.List(cmd.Context(), args[0], args[1])
		if err == nil && uint32(len(records)) > opts.Limit {
			records = records[:opts.Limit]
		}
	} else {
		records, err = svc.History(cmd.Context(), query.HistoryRequest{
			Author:      args[0],
			Permlink:    args[1],
			Oldest:      oldest,
			Newest:      newest,
			Limit:       opts.Limit,
			WithContent: opts.Content,
		})
	}
	if err != nil {
		return opts.fail(cmd, ExitCommandError, CodeStore, "history query failed", err)
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(RecordsResult{Author: args[0], Permlink: args[1], Records: records})
	}
	writeRecordsText(cmd.OutOrStdout(), records)
	return nil
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record AUTHOR PERMLINK BLOCK TRX OP",
		Short: "Show the record of one operation",
		Long: `Show the record created by the operation at an exact sequence.

Exit codes:
  0 - Record found
  1 - No record at that sequence
  2 - Command error

Examples:
  commenthistory record --db ./history.db alice post1 105 1 0`,
		Args:          cobra.ExactArgs(5),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, cmd, args)
		},
	}

	opts.Store.bind(cmd)
	return cmd
}

func runRecord(opts *QueryOptions, cmd *cobra.Command, args []string) error {
	seq, err := parseSequence(args[2], args[3], args[4])
	if err != nil {
		return opts.fail(cmd, ExitCommandError, CodeBadArgument, "invalid sequence", err)
	}

	svc, closeStore, err := opts.openQuery(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	rec, ok, err := svc.Record(cmd.Context(), args[0], args[1], seq)
	if err != nil {
		return opts.fail(cmd, ExitCommandError, CodeStore, "record query failed", err)
	}
	if !ok {
		return outputNotFound(opts.formatter(cmd),
			fmt.Sprintf("no record for %s/%s at %s", args[0], args[1], seq))
	}
	return outputRecord(opts.RootOptions, cmd, rec)
}

// NewAtCommand creates the at command.
func NewAtCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "at AUTHOR PERMLINK TIME",
		Short: "Show the record in effect at a time",
		Long: `Show the record with the greatest time not after TIME. Among records
sharing that time, the most recently created one wins. TIME is RFC 3339,
Unix seconds, or "latest" for the newest record whether finalized or not.

Exit codes:
  0 - Record found
  1 - TIME precedes the item's first record
  2 - Command error

Examples:
  commenthistory at --db ./history.db alice post1 1970-01-01T00:20:00Z
  commenthistory at --db ./history.db alice post1 latest`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAt(opts, cmd, args)
		},
	}

	opts.Store.bind(cmd)
	return cmd
}

func runAt(opts *QueryOptions, cmd *cobra.Command, args []string) error {
	var at string
	if args[2] != "latest" {
		at = args[2]
	}
	t, err := query.ParseTime(at)
	if err != nil {
		return opts.fail(cmd, ExitCommandError, CodeBadArgument, "invalid time", err)
	}

	svc, closeStore, err := opts.openQuery(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	rec, ok, err := svc.ContentAt(cmd.Context(), args[0], args[1], t)
	if err != nil {
		return opts.fail(cmd, ExitCommandError, CodeStore, "content query failed", err)
	}
	if !ok {
		return outputNotFound(opts.formatter(cmd),
			fmt.Sprintf("no record for %s/%s at %s", args[0], args[1], args[2]))
	}
	return outputRecord(opts.RootOptions, cmd, rec)
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list AUTHOR PERMLINK",
		Short: "List an item's operations by sequence",
		Long: `List every record of one item, highest sequence first, without time or
content. This is the only listing available when ingestion ran with the
minimal policy.

Examples:
  commenthistory list --db ./history.db alice post1`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd, args)
		},
	}

	opts.Store.bind(cmd)
	return cmd
}

func runList(opts *QueryOptions, cmd *cobra.Command, args []string) error {
	svc, closeStore, err := opts.openQuery(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := svc.List(cmd.Context(), args[0], args[1])
	if err != nil {
		return opts.fail(cmd, ExitCommandError, CodeStore, "list query failed", err)
	}

	if opts.Format == "json" {
		return opts.formatter(cmd).Success(RecordsResult{Author: args[0], Permlink: args[1], Records: records})
	}
	w := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(w, "No records found.")
		return nil
	}
	for _, r := range records {
		fmt.Fprintf(w, "%s %s %s\n", r.Key(), r.Seq, r.OpType)
	}
	fmt.Fprintf(w, "%d record(s)\n", len(records))
	return nil
}

func outputRecord(opts *RootOptions, cmd *cobra.Command, rec history.Record) error {
	if opts.Format == "json" {
		return opts.formatter(cmd).Success(rec)
	}
	writeRecordText(cmd.OutOrStdout(), rec)
	return nil
}

func outputNotFound(formatter *OutputFormatter, message string) error {
	_ = formatter.Error(CodeNotFound, message, nil)
	return NewExitError(ExitFailure, message)
}
