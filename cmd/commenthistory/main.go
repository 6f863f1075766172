// Command commenthistory indexes comment edit history and answers queries
// over it.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/abitmore/steem/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
