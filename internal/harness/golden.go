package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/abitmore/steem/internal/history"
)

// Snapshot is the golden-file form of a scenario run.
type Snapshot struct {
	ScenarioName string           `json:"scenario_name"`
	Trace        []string         `json:"trace"`
	Records      []history.Record `json:"records"`
}

// RunWithGolden runs the scenario and compares its trace and records against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns an error if the replay fails or an assertion does not hold. A
// golden mismatch fails t through goldie.
func RunWithGolden(t *testing.T, s *Scenario) error {
	t.Helper()

	result, err := Run(context.Background(), s)
	if err != nil {
		return err
	}
	if !result.Pass {
		return fmt.Errorf("scenario %s: %w", s.Name, result.Errors[0])
	}

	data, err := MarshalSnapshot(s.Name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, data)

	return nil
}

// MarshalSnapshot renders a run as golden-file bytes.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	data, err := json.MarshalIndent(Snapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		Records:      result.Records,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return append(data, '\n'), nil
}
