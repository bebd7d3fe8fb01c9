package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tonegen/internal/ir"
)

// Scenario defines a conversion scenario: a flow of intents with per-step
// expectations and assertions over the whole run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Patterns marks scenarios written against a pipeline that prefers
	// catalog patterns. Callers build the pipeline accordingly.
	Patterns bool `yaml:"patterns,omitempty"`

	// Flow is run in order through one pipeline, so later steps see the
	// caches earlier steps filled.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the run as a whole.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// FlowStep converts one intent.
type FlowStep struct {
	// Intent is the intent type name (e.g., "GENERATE_SOUND").
	Intent string `yaml:"intent"`

	// Description is the intent's free text.
	Description string `yaml:"description"`

	// Params become the intent's pre-extracted parameters. Numbers are
	// taken as floats.
	Params map[string]any `yaml:"params,omitempty"`

	// Expect checks this step's output. If nil, the step only has to succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies what one step must produce.
type ExpectClause struct {
	Structure   string   `yaml:"structure,omitempty"`
	CodeType    string   `yaml:"code_type,omitempty"`
	Template    string   `yaml:"template,omitempty"`
	FastPath    *bool    `yaml:"fast_path,omitempty"`
	Components  []string `yaml:"components,omitempty"`
	Connections []string `yaml:"connections,omitempty"` // "from->to"
	Contains    []string `yaml:"contains,omitempty"`

	// Error, when set, requires the step to fail with a message containing it.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the run as a whole.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Step is the flow index checked by cache_hit.
	Step int `yaml:"step,omitempty"`

	// Steps are the flow indexes compared by same_output.
	Steps []int `yaml:"steps,omitempty"`

	// Count is the expected number for fast_path_count.
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertCacheHit      = "cache_hit"
	AssertSameOutput    = "same_output"
	AssertFastPathCount = "fast_path_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every *.yaml scenario in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenarios in %s", dir)
	}
	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if step.Intent == "" {
			return fmt.Errorf("flow[%d]: intent is required", i)
		}
		if _, err := ir.ParseIntentType(step.Intent); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
		if step.Description == "" {
			return fmt.Errorf("flow[%d]: description is required", i)
		}
		if step.Expect != nil {
			if err := validateExpect(i, step.Expect); err != nil {
				return err
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], len(s.Flow)); err != nil {
			return err
		}
	}
	return nil
}

func validateExpect(index int, e *ExpectClause) error {
	if e.Structure != "" {
		if _, err := ir.ParseStructureType(e.Structure); err != nil {
			return fmt.Errorf("flow[%d].expect: %w", index, err)
		}
	}
	if e.CodeType != "" {
		if _, err := ir.ParseCodeType(e.CodeType); err != nil {
			return fmt.Errorf("flow[%d].expect: %w", index, err)
		}
	}
	for _, c := range e.Connections {
		if _, _, ok := parseConnection(c); !ok {
			return fmt.Errorf("flow[%d].expect: connection %q must be from->to", index, c)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, steps int) error {
	inRange := func(i int) bool { return i >= 0 && i < steps }

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertCacheHit:
		if !inRange(a.Step) {
			return fmt.Errorf("assertions[%d]: step %d out of range", index, a.Step)
		}
	case AssertSameOutput:
		if len(a.Steps) < 2 {
			return fmt.Errorf("assertions[%d]: same_output needs at least two steps", index)
		}
		for _, i := range a.Steps {
			if !inRange(i) {
				return fmt.Errorf("assertions[%d]: step %d out of range", index, i)
			}
		}
	case AssertFastPathCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for fast_path_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func parseConnection(s string) (from, to string, ok bool) {
	from, to, ok = strings.Cut(s, "->")
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	return from, to, ok && from != "" && to != ""
}
