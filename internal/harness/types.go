package harness

import "github.com/roach88/tonegen/internal/pipeline"

// StepResult is what one flow step produced.
type StepResult struct {
	Intent      string             `json:"intent"`
	Description string             `json:"description"`
	Structure   string             `json:"structure,omitempty"`
	Components  []string           `json:"components,omitempty"`
	Connections []string           `json:"connections,omitempty"`
	CodeType    string             `json:"code_type,omitempty"`
	Template    string             `json:"template,omitempty"`
	FastPath    bool               `json:"fast_path"`
	Hits        pipeline.StageHits `json:"cache_hits"`
	Rendered    string             `json:"rendered,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Steps holds one entry per flow step, in order.
	Steps []StepResult `json:"steps"`

	// Errors contains expectation and assertion failures.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// FastPathCount returns how many steps used a catalog pattern.
func (r *Result) FastPathCount() int {
	n := 0
	for _, s := range r.Steps {
		if s.FastPath {
			n++
		}
	}
	return n
}
