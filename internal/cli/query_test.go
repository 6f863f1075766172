package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abitmore/steem/internal/config"
	"github.com/abitmore/steem/internal/history"
)

func TestHistory_Golden(t *testing.T) {
	tests := []struct {
		golden string
		policy string
	}{
		{"history_default", config.PresetDefault},
		{"history_before_only", config.PresetBeforeOnly},
	}

	for _, tt := range tests {
		t.Run(tt.golden, func(t *testing.T) {
			dbPath := replayScenario(t, tt.policy)
			out, err := execute(t, "history", "--db", dbPath, "alice", "post1", "--content")
			require.NoError(t, err)
			newGoldie(t).Assert(t, tt.golden, []byte(out))
		})
	}
}

func TestHistory_WithoutContent(t *testing.T) {
	dbPath := replayScenario(t, config.PresetDefault)

	out, err := execute(t, "history", "--db", dbPath, "alice", "post1")
	require.NoError(t, err)
	assert.Equal(t, "alice/post1 105/1/0 comment 1970-01-01T00:33:20Z\n"+
		"alice/post1 100/0/0 comment 1970-01-01T00:16:40Z\n"+
		"2 record(s)\n", out)
}

func TestHistory_BoundsAndLimit(t *testing.T) {
	dbPath := replayScenario(t, config.PresetDefault)

	tests := []struct {
		name  string
		args  []string
		wants []uint32
	}{
		{"newest bound", []string{"--newest", "1500"}, []uint32{100}},
		{"oldest bound", []string{"--oldest", "1970-01-01T00:20:00Z"}, []uint32{105}},
		{"inclusive bounds", []string{"--oldest", "1000", "--newest", "2000"}, []uint32{105, 100}},
		{"limit keeps newest", []string{"--limit", "1"}, []uint32{105}},
		{"zero limit", []string{"--limit", "0"}, nil},
		{"inverted bounds", []string{"--oldest", "2000", "--newest", "1000"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--format", "json", "history", "--db", dbPath, "alice", "post1"}, tt.args...)
			out, err := execute(t, args...)
			require.NoError(t, err)

			var resp struct {
				Data RecordsResult `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &resp))

			var blocks []uint32
			for _, r := range resp.Data.Records {
				blocks = append(blocks, r.Seq.Block)
				assert.Nil(t, r.ContentAfter, "content requires --content")
			}
			assert.Equal(t, tt.wants, blocks)
		})
	}
}

func TestHistory_NoRecords(t *testing.T) {
	dbPath := replayScenario(t, config.PresetDefault)

	out, err := execute(t, "history", "--db", dbPath, "bob", "nothing")
	require.NoError(t, err)
	assert.Equal(t, "No records found.\n", out)
}

func TestRecord_Found(t *testing.T) {
	dbPath := replayScenario(t, config.PresetDefault)

	out, err := execute(t, "--format", "json", "record", "--db", dbPath, "alice", "post1", "105", "1", "0")
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   history.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, history.Sequence{Block: 105, TrxInBlock: 1}, resp.Data.Seq)
	assert.Equal(t, history.OpComment, resp.Data.OpType)
	assert.True(t, resp.Data.Time.Equal(time.Unix(2000, 0)))
	require.NotNil(t, resp.Data.ContentAfter)
	assert.Equal(t, "v2", resp.Data.ContentAfter.Body)
}

func TestRecord_NotFound(t *testing.T) {
	dbPath := replayScenario(t, config.PresetDefault)

	out, err := execute(t, "record", "--db", dbPath, "alice", "post1", "101", "0", "0")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, "Error [E001]: no record for alice/post1 at 101/0/0\n", out)
}

func TestRecord_BadSequence(t *testing.T) {
	dbPath := replayScenario(t, config.PresetDefault)

	_, err := execute(t, "record", "--db", dbPath, "alice", "post1", "105", "1", "70000")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid op_in_trx")
}

func TestAt_Golden(t *testing.T) {
	dbPath := replayScenario(t, config.PresetDefault)

	out, err := execute(t, "at", "--db", dbPath, "alice", "post1", "1970-01-01T00:20:00Z")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "at_between_edits", []byte(out))
}

func TestAt_Cases(t *testing.T) {
	dbPath := replayScenario(t, config.PresetDefault)

	tests := []struct {
		at    string
		block uint32
	}{
		{"latest", 105},
		{"2000", 105},
		{"1999", 100},
		{"1000", 100},
	}

	for _, tt := range tests {
		t.Run(tt.at, func(t *testing.T) {
			out, err := execute(t, "--format", "json", "at", "--db", dbPath, "alice", "post1", tt.at)
			require.NoError(t, err)

			var resp struct {
				Data history.Record `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Equal(t, tt.block, resp.Data.Seq.Block)
		})
	}
}

func TestAt_BeforeFirstRecord(t *testing.T) {
	dbPath := replayScenario(t, config.PresetDefault)

	out, err := execute(t, "--format", "json", "at", "--db", dbPath, "alice", "post1", "999")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotFound, resp.Error.Code)
}

func TestAt_InvalidTime(t *testing.T) {
	dbPath := replayScenario(t, config.PresetDefault)

	_, err := execute(t, "at", "--db", dbPath, "alice", "post1", "yesterday")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "RFC 3339")
}

func TestList_Minimal(t *testing.T) {
	dbPath := replayScenario(t, config.PresetMinimal)

	out, err := execute(t, "list", "--db", dbPath, "alice", "post1")
	require.NoError(t, err)
	newGoldie(t).Assert(t, "list_minimal", []byte(out))
}

func TestList_JSONHasNoTimeOrContent(t *testing.T) {
	dbPath := replayScenario(t, config.PresetDefault)

	out, err := execute(t, "--format", "json", "list", "--db", dbPath, "alice", "post1")
	require.NoError(t, err)

	var resp struct {
		Data RecordsResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Records, 2)
	for _, r := range resp.Data.Records {
		assert.True(t, r.Time.IsZero())
		assert.Nil(t, r.ContentAfter)
	}
}

func TestQuery_StoreErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "missing store",
			args:    []string{"history", "--db", filepath.Join(t.TempDir(), "missing.db"), "alice", "post1"},
			wantErr: "store not found",
		},
		{
			name:    "memory backend",
			args:    []string{"list", "--backend", "memory", "alice", "post1"},
			wantErr: "memory backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestQuery_JSONErrorCodes(t *testing.T) {
	dbPath := replayScenario(t, config.PresetDefault)
	missing := filepath.Join(t.TempDir(), "missing.db")

	tests := []struct {
		name string
		args []string
		exit int
		code string
	}{
		{"invalid sequence", []string{"record", "--db", dbPath, "alice", "post1", "105", "x", "0"}, ExitCommandError, CodeBadArgument},
		{"invalid time", []string{"at", "--db", dbPath, "alice", "post1", "yesterday"}, ExitCommandError, CodeBadArgument},
		{"invalid bound", []string{"history", "--db", dbPath, "alice", "post1", "--oldest", "soon"}, ExitCommandError, CodeBadArgument},
		{"missing store", []string{"list", "--db", missing, "alice", "post1"}, ExitCommandError, CodeStore},
		{"not found", []string{"record", "--db", dbPath, "alice", "post1", "101", "0", "0"}, ExitFailure, CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"--format", "json"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, tt.exit, GetExitCode(err))
			assert.Equal(t, tt.code, errorCode(t, out))
		})
	}
}

func TestHistory_MinimalPolicyListsBySequence(t *testing.T) {
	dbPath := replayScenario(t, config.PresetMinimal)
	cfgPath := filepath.Join(t.TempDir(), "indexer.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
policy:
  store_timestamp: false
  store_content_before: false
  store_content_after: false
  low_memory: true
`), 0o644))

	// Without the minimal config every record has an unset time, which a
	// newest bound excludes.
	out, err := execute(t, "--format", "json", "history", "--db", dbPath, "alice", "post1", "--newest", "5000")
	require.NoError(t, err)
	var resp struct {
		Data RecordsResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Empty(t, resp.Data.Records)

	out, err = execute(t, "--config", cfgPath, "--format", "json", "history", "--db", dbPath, "alice", "post1", "--newest", "5000")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Records, 2)
	assert.Equal(t, uint32(105), resp.Data.Records[0].Seq.Block)
	assert.Equal(t, uint32(100), resp.Data.Records[1].Seq.Block)

	out, err = execute(t, "--config", cfgPath, "--format", "json", "history", "--db", dbPath, "alice", "post1", "--limit", "1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Records, 1)
	assert.Equal(t, uint32(105), resp.Data.Records[0].Seq.Block)
}
