package catalog

import (
	_ "embed"
	"fmt"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed catalog.cue
var builtinSource []byte

// BuiltinFilename names the embedded definitions in error positions.
const BuiltinFilename = "catalog.cue"

// Definition is one catalog entry as authored.
type Definition struct {
	Key         string   `json:"-"`
	Name        string   `json:"name"`
	PatternType string   `json:"pattern_type"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	SynthName   string   `json:"synth_name"`
	Parameters  []string `json:"parameters"`
	Source      string   `json:"source"`
}

// HasParameter reports whether the pattern declares the named argument.
func (d Definition) HasParameter(name string) bool {
	return slices.Contains(d.Parameters, name)
}

// DefinitionError reports an invalid catalog file.
type DefinitionError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *DefinitionError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ParseDefinitions compiles CUE catalog source and returns its version and
// entries sorted by key. Every entry must satisfy #Pattern and be concrete.
func ParseDefinitions(filename string, src []byte) (string, []Definition, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return "", nil, formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return "", nil, formatCUEError(err)
	}

	versionVal := v.LookupPath(cue.ParsePath("version"))
	if !versionVal.Exists() {
		return "", nil, &DefinitionError{Field: "version", Message: "version is required", Pos: v.Pos()}
	}
	version, err := versionVal.String()
	if err != nil {
		return "", nil, formatCUEError(err)
	}

	patternsVal := v.LookupPath(cue.ParsePath("patterns"))
	if !patternsVal.Exists() {
		return "", nil, &DefinitionError{Field: "patterns", Message: "at least one pattern is required", Pos: v.Pos()}
	}
	iter, err := patternsVal.Fields()
	if err != nil {
		return "", nil, formatCUEError(err)
	}

	var defs []Definition
	seen := map[[2]string]string{}
	for iter.Next() {
		var d Definition
		if err := iter.Value().Decode(&d); err != nil {
			return "", nil, formatCUEError(err)
		}
		d.Key = iter.Label()
		id := [2]string{d.Name, d.PatternType}
		if other, dup := seen[id]; dup {
			return "", nil, &DefinitionError{
				Field:   "patterns." + d.Key + ".name",
				Message: fmt.Sprintf("%s %q already used by %s", d.PatternType, d.Name, other),
				Pos:     iter.Value().Pos(),
			}
		}
		seen[id] = d.Key
		defs = append(defs, d)
	}
	if len(defs) == 0 {
		return "", nil, &DefinitionError{Field: "patterns", Message: "at least one pattern is required", Pos: patternsVal.Pos()}
	}

	slices.SortFunc(defs, func(a, b Definition) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return version, defs, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &DefinitionError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
