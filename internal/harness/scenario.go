package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/abitmore/steem/internal/chain"
	"github.com/abitmore/steem/internal/config"
	"github.com/abitmore/steem/internal/history"
	"github.com/abitmore/steem/internal/query"
)

// Scenario is one conformance case: a block log, a policy and the history
// expected after replaying it.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Policy is a preset name. Empty means the default preset.
	Policy string `yaml:"policy,omitempty"`

	// BlocksFile points at a block log, relative to the scenario file.
	BlocksFile string `yaml:"blocks_file,omitempty"`

	// Blocks is an inline block log, used when BlocksFile is empty.
	Blocks []chain.Block `yaml:"blocks,omitempty"`

	// Assertions query the history after the replay.
	Assertions []Assertion `yaml:"assertions"`
}

// Assertion checks one query against the replayed history.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Author   string `yaml:"author,omitempty"`
	Permlink string `yaml:"permlink,omitempty"`

	// Count is the expected number of records (record_count).
	Count int `yaml:"count,omitempty"`

	// Seq is "block/trx/op" (record).
	Seq string `yaml:"seq,omitempty"`

	// At is RFC 3339, Unix seconds, or "latest" (content_at).
	At string `yaml:"at,omitempty"`

	// Oldest, Newest and Limit bound a history query. A nil Limit means 100.
	Oldest string  `yaml:"oldest,omitempty"`
	Newest string  `yaml:"newest,omitempty"`
	Limit  *uint32 `yaml:"limit,omitempty"`

	// Expect lists the records the query must return, in order.
	Expect []ExpectRecord `yaml:"expect,omitempty"`
}

// ExpectRecord describes one expected record. Only the fields set are
// checked, apart from Seq which must always match.
type ExpectRecord struct {
	Seq    string `yaml:"seq"`
	OpType string `yaml:"op_type,omitempty"`

	// Time is RFC 3339 or "unset".
	Time string `yaml:"time,omitempty"`

	// Before and After are the expected snapshot bodies.
	Before   *string `yaml:"before,omitempty"`
	After    *string `yaml:"after,omitempty"`
	NoBefore bool    `yaml:"no_before,omitempty"`
	NoAfter  bool    `yaml:"no_after,omitempty"`
}

// Assertion type constants.
const (
	AssertRecordCount = "record_count"
	AssertHistory     = "history"
	AssertContentAt   = "content_at"
	AssertRecord      = "record"
	AssertList        = "list"
)

const defaultHistoryLimit = 100

// LoadScenario reads and parses a scenario YAML file, loading its block log.
// Returns an error if the file doesn't exist, is malformed, contains unknown
// fields, or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.BlocksFile != "" {
		if len(scenario.Blocks) > 0 {
			return nil, fmt.Errorf("invalid scenario: blocks and blocks_file are mutually exclusive")
		}
		blocksPath := scenario.BlocksFile
		if !filepath.IsAbs(blocksPath) {
			blocksPath = filepath.Join(filepath.Dir(path), blocksPath)
		}
		scenario.Blocks, err = chain.LoadBlocks(blocksPath)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", path, err)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Blocks) == 0 {
		return fmt.Errorf("blocks are required and must be non-empty")
	}
	if _, err := s.policy(); err != nil {
		return err
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertRecordCount:
		return nil
	case AssertHistory, AssertList:
	case AssertContentAt:
		if a.At != "latest" {
			if _, err := query.ParseTime(a.At); err != nil {
				return err
			}
		}
	case AssertRecord:
		if _, err := history.ParseSequence(a.Seq); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}

	if a.Author == "" || a.Permlink == "" {
		return fmt.Errorf("%s requires author and permlink", a.Type)
	}
	if (a.Type == AssertContentAt || a.Type == AssertRecord) && len(a.Expect) > 1 {
		return fmt.Errorf("%s expects at most one record", a.Type)
	}
	for j, e := range a.Expect {
		if _, err := history.ParseSequence(e.Seq); err != nil {
			return fmt.Errorf("expect %d: %w", j, err)
		}
	}
	return nil
}

// policy resolves the scenario's preset.
func (s *Scenario) policy() (config.Policy, error) {
	if s.Policy == "" {
		return config.DefaultPolicy(), nil
	}
	return config.PolicyPreset(s.Policy)
}
