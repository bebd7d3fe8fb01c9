package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tonegen/internal/pipeline"
)

// Snapshot renders a result as golden file text: a header line per step
// followed by its rendered code or error.
func Snapshot(result *Result) []byte {
	var buf bytes.Buffer
	for i, s := range result.Steps {
		if i > 0 {
			buf.WriteByte('\n')
		}
		if s.Error != "" {
			fmt.Fprintf(&buf, "// step %d: %s %q\n// error: %s\n", i, s.Intent, s.Description, s.Error)
			continue
		}
		fmt.Fprintf(&buf, "// step %d: %s %q -> %s via %s\n", i, s.Intent, s.Description, s.Structure, s.Template)
		buf.WriteString(s.Rendered)
	}
	return buf.Bytes()
}

// RunWithGolden executes a scenario and compares the rendered code against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Expectation failures are reported through t; the result is returned for
// further checks.
func RunWithGolden(t *testing.T, p *pipeline.Pipeline, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(t.Context(), p, scenario)
	if err != nil {
		return nil, err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Snapshot(result))
}
