package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/abitmore/steem/internal/config"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "commenthistory", cmd.Use)
	assert.Contains(t, cmd.Long, "edit history")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"replay", "history", "record", "at", "list", "follow", "publish", "config", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "", configFlag.DefValue)
}

func TestStoreFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"replay", "history", "record", "at", "list", "follow"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.NotNil(t, sub.Flags().Lookup("db"))
			assert.NotNil(t, sub.Flags().Lookup("backend"))
		})
	}
}

func TestFollowCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	follow, _, err := cmd.Find([]string{"follow"})
	require.NoError(t, err)

	for _, name := range []string{"redis-addr", "stream", "group", "consumer", "metrics-addr", "policy"} {
		assert.NotNil(t, follow.Flags().Lookup(name), "follow --%s", name)
	}

	publish, _, err := cmd.Find([]string{"publish"})
	require.NoError(t, err)
	assert.NotNil(t, publish.Flags().Lookup("stream"))
	assert.Nil(t, publish.Flags().Lookup("group"), "publishers do not join a consumer group")
}

func TestHistoryCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	history, _, err := cmd.Find([]string{"history"})
	require.NoError(t, err)

	limit := history.Flags().Lookup("limit")
	require.NotNil(t, limit)
	assert.Equal(t, "100", limit.DefValue)
	assert.NotNil(t, history.Flags().Lookup("oldest"))
	assert.NotNil(t, history.Flags().Lookup("newest"))
	assert.NotNil(t, history.Flags().Lookup("content"))
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "config")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestConfigCommand_Defaults(t *testing.T) {
	out, err := execute(t, "config")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, config.Default(), cfg)
}

func TestConfigCommand_LoadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  backend: badger
  path: /var/lib/commenthistory
policy:
  store_timestamp: true
  store_content_before: true
  store_content_after: false
`), 0o644))

	out, err := execute(t, "--config", path, "config")
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, config.BackendBadger, cfg.Store.Backend)
	assert.Equal(t, config.BeforeOnlyPolicy(), cfg.Policy)
	assert.Equal(t, "blocks", cfg.Redis.Stream, "absent keys keep defaults")
}

func TestConfigCommand_BadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  engine: sqlite\n"), 0o644))

	_, err := execute(t, "--config", path, "config")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}
