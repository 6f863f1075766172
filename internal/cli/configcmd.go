package cli

import (
	"github.com/spf13/cobra"
)

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults and the --config file are applied.
Text output is YAML suitable as a starting config file.

Examples:
  commenthistory config > indexer.yaml
  commenthistory config --config ./indexer.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.config()
			if rootOpts.Format == "json" {
				return rootOpts.formatter(cmd).Success(cfg)
			}
			out, err := cfg.Marshal()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to render config", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
