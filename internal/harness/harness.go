package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/tonegen/internal/ir"
	"github.com/roach88/tonegen/internal/pipeline"
)

// Run executes a scenario through p and returns the result.
//
// Step failures and unmet expectations are collected in the result rather
// than returned. Run only returns an error for a malformed step or a
// cancelled context.
func Run(ctx context.Context, p *pipeline.Pipeline, scenario *Scenario) (*Result, error) {
	if p == nil {
		return nil, fmt.Errorf("harness: nil pipeline")
	}
	result := NewResult()

	for i, step := range scenario.Flow {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		intent, err := buildIntent(step)
		if err != nil {
			return nil, fmt.Errorf("flow[%d]: %w", i, err)
		}

		sr := StepResult{Intent: step.Intent, Description: step.Description}
		res, convErr := p.Convert(ctx, intent)
		if convErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			sr.Error = convErr.Error()
		} else {
			fillStep(&sr, res)
		}
		result.Steps = append(result.Steps, sr)

		for _, msg := range checkExpect(step.Expect, sr) {
			result.AddError(fmt.Sprintf("flow[%d] %s %q: %s", i, step.Intent, step.Description, msg))
		}
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func fillStep(sr *StepResult, res *pipeline.Result) {
	sr.Structure = res.Structure.Type.String()
	sr.Components = res.Structure.ComponentNames()
	for _, c := range res.Structure.Connections {
		sr.Connections = append(sr.Connections, c.From+"->"+c.To)
	}
	sr.CodeType = res.Code.Type.String()
	sr.FastPath = res.FastPath
	if res.FastPath {
		sr.Template = res.Pattern
	} else {
		sr.Template, _ = ir.AsString(res.Code.Metadata["template"])
	}
	sr.Hits = res.Hits
	sr.Rendered = res.Rendered
}

// checkExpect returns one message per unmet expectation.
func checkExpect(e *ExpectClause, sr StepResult) []string {
	if e == nil {
		if sr.Error != "" {
			return []string{"unexpected error: " + sr.Error}
		}
		return nil
	}

	if e.Error != "" {
		switch {
		case sr.Error == "":
			return []string{fmt.Sprintf("expected error containing %q, step succeeded", e.Error)}
		case !strings.Contains(sr.Error, e.Error):
			return []string{fmt.Sprintf("expected error containing %q, got %q", e.Error, sr.Error)}
		}
		return nil
	}
	if sr.Error != "" {
		return []string{"unexpected error: " + sr.Error}
	}

	var msgs []string
	mismatch := func(field, want, got string) {
		if want != "" && want != got {
			msgs = append(msgs, fmt.Sprintf("%s: expected %s, got %s", field, want, got))
		}
	}
	mismatch("structure", e.Structure, sr.Structure)
	mismatch("code_type", e.CodeType, sr.CodeType)
	mismatch("template", e.Template, sr.Template)

	if e.FastPath != nil && *e.FastPath != sr.FastPath {
		msgs = append(msgs, fmt.Sprintf("fast_path: expected %t, got %t", *e.FastPath, sr.FastPath))
	}
	if e.Components != nil {
		want := slices.Sorted(slices.Values(e.Components))
		if !slices.Equal(want, sr.Components) {
			msgs = append(msgs, fmt.Sprintf("components: expected %v, got %v", want, sr.Components))
		}
	}
	if e.Connections != nil {
		want := make([]string, len(e.Connections))
		for i, c := range e.Connections {
			from, to, _ := parseConnection(c)
			want[i] = from + "->" + to
		}
		if !slices.Equal(want, sr.Connections) {
			msgs = append(msgs, fmt.Sprintf("connections: expected %v, got %v", want, sr.Connections))
		}
	}
	for _, s := range e.Contains {
		if !strings.Contains(sr.Rendered, s) {
			msgs = append(msgs, fmt.Sprintf("rendered code does not contain %q", s))
		}
	}
	return msgs
}

func buildIntent(step FlowStep) (*ir.IntentLevel, error) {
	t, err := ir.ParseIntentType(step.Intent)
	if err != nil {
		return nil, err
	}
	intent := ir.NewIntentLevel(t, step.Description)
	if len(step.Params) > 0 {
		params, err := convertParams(step.Params)
		if err != nil {
			return nil, fmt.Errorf("params: %w", err)
		}
		intent.SetMetadata(ir.MetadataExtractedParameters, params)
	}
	return intent, nil
}

// convertParams converts YAML-parsed params to an IRObject.
func convertParams(params map[string]any) (ir.IRObject, error) {
	result := make(ir.IRObject, len(params))
	for key, val := range params {
		irVal, err := convertToIRValue(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		result[key] = irVal
	}
	return result, nil
}

// convertToIRValue converts a YAML-parsed value to an IRValue. Numbers are
// floats, matching how parameters are given on the command line.
func convertToIRValue(val any) (ir.IRValue, error) {
	switch v := val.(type) {
	case nil:
		return nil, fmt.Errorf("null values are not allowed")
	case string:
		return ir.IRString(v), nil
	case int:
		return ir.IRFloat(float64(v)), nil
	case int64:
		return ir.IRFloat(float64(v)), nil
	case float64:
		return ir.IRFloat(v), nil
	case bool:
		return ir.IRBool(v), nil
	case []any:
		arr := make(ir.IRArray, len(v))
		for i, elem := range v {
			irElem, err := convertToIRValue(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = irElem
		}
		return arr, nil
	case map[string]any:
		return convertParams(v)
	default:
		return nil, fmt.Errorf("unsupported type %T", val)
	}
}
