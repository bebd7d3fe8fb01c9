package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes the step summary to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Steps    []StepResult // All steps for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nSteps:\n")
	for i, s := range e.Steps {
		if s.Error != "" {
			fmt.Fprintf(&buf, "  [%d] %s %q error: %s\n", i, s.Intent, s.Description, s.Error)
			continue
		}
		fmt.Fprintf(&buf, "  [%d] %s %q -> %s via %s (fast_path=%t)\n",
			i, s.Intent, s.Description, s.Structure, s.Template, s.FastPath)
	}
	return buf.String()
}

// assertCacheHit checks that a step was answered from every stage cache.
func assertCacheHit(steps []StepResult, a Assertion) error {
	if a.Step < 0 || a.Step >= len(steps) {
		return &AssertionError{
			Type:     AssertCacheHit,
			Expected: fmt.Sprintf("step %d", a.Step),
			Actual:   fmt.Sprintf("%d steps ran", len(steps)),
			Steps:    steps,
		}
	}
	h := steps[a.Step].Hits
	if !h.All() {
		return &AssertionError{
			Type:     AssertCacheHit,
			Expected: fmt.Sprintf("step %d served from all stage caches", a.Step),
			Actual: fmt.Sprintf("parameter=%t structure=%t code=%t",
				h.Parameter, h.Structure, h.Code),
			Steps: steps,
		}
	}
	return nil
}

// assertSameOutput checks that the listed steps rendered identical code.
func assertSameOutput(steps []StepResult, a Assertion) error {
	for _, i := range a.Steps {
		if i < 0 || i >= len(steps) {
			return &AssertionError{
				Type:     AssertSameOutput,
				Expected: fmt.Sprintf("steps %v", a.Steps),
				Actual:   fmt.Sprintf("%d steps ran", len(steps)),
				Steps:    steps,
			}
		}
	}
	first := a.Steps[0]
	for _, i := range a.Steps[1:] {
		if steps[i].Rendered != steps[first].Rendered || steps[i].Error != "" || steps[first].Error != "" {
			return &AssertionError{
				Type:     AssertSameOutput,
				Expected: fmt.Sprintf("step %d renders the same code as step %d", i, first),
				Actual:   "output differs",
				Steps:    steps,
			}
		}
	}
	return nil
}

// assertFastPathCount checks how many steps used a catalog pattern.
func assertFastPathCount(result *Result, a Assertion) error {
	if n := result.FastPathCount(); n != a.Count {
		return &AssertionError{
			Type:     AssertFastPathCount,
			Expected: fmt.Sprintf("%d fast path steps", a.Count),
			Actual:   fmt.Sprintf("%d fast path steps", n),
			Steps:    result.Steps,
		}
	}
	return nil
}

// EvaluateAssertions runs every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertCacheHit:
			err = assertCacheHit(result.Steps, a)
		case AssertSameOutput:
			err = assertSameOutput(result.Steps, a)
		case AssertFastPathCount:
			err = assertFastPathCount(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}
