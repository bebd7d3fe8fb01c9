package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tonegen/internal/convert"
	"github.com/roach88/tonegen/internal/ir"
	"github.com/roach88/tonegen/internal/pipeline"
)

// GenerateOptions holds flags for the generate command.
type GenerateOptions struct {
	*RootOptions
	IntentType string
	Params     []string
	NoPatterns bool
}

// GenerateResult is the JSON payload of the generate command.
type GenerateResult struct {
	IntentType string             `json:"intent_type"`
	Structure  string             `json:"structure"`
	Template   string             `json:"template"`
	CodeType   string             `json:"code_type"`
	FastPath   bool               `json:"fast_path"`
	Pattern    string             `json:"pattern,omitempty"`
	Hits       pipeline.StageHits `json:"cache_hits"`
	Code       string             `json:"code"`
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GenerateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "generate <description>",
		Short: "Generate SuperCollider code for a sound intent",
		Long: `Convert a described intent into SuperCollider code.

The description selects defaults such as waveform or effect type. Explicit
parameters given with --param override them.

Example:
  tonegen generate "440Hz sine wave"
  tonegen generate --type APPLY_EFFECT "long echo" --param delaytime=0.75
  tonegen generate "bright saw" --param frequency=220 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.IntentType, "type", "t", ir.IntentGenerateSound.String(), "intent type")
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil,
		"explicit parameter as name=value, repeatable ("+strings.Join(knownParameters(), ", ")+", ...)")
	cmd.Flags().BoolVar(&opts.NoPatterns, "no-patterns", false, "always use generic templates")

	return cmd
}

func runGenerate(opts *GenerateOptions, description string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	intent, err := buildIntent(opts.IntentType, description, opts.Params)
	if err != nil {
		_ = formatter.Error(ErrCodeInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid intent", err)
	}

	return withApp(opts.RootOptions, func(a *app) error {
		p := a.pipeline
		if opts.NoPatterns {
			if p, err = pipeline.New(
				pipeline.WithLogger(a.logger),
				pipeline.WithCapacities(a.cfg.Cache.Capacities()),
			); err != nil {
				return WrapExitError(ExitCommandError, "failed to build pipeline", err)
			}
		}

		formatter.VerboseLog("Converting %s intent: %q", intent.Type, intent.Description)
		res, err := p.Convert(cmd.Context(), intent)
		if err != nil {
			_ = formatter.Error(ErrCodeConversion, err.Error(), nil)
			return WrapExitError(ExitFailure, "conversion failed", err)
		}

		template, _ := ir.AsString(res.Code.Metadata["template"])
		if res.FastPath {
			template = res.Pattern
		}
		formatter.VerboseLog("Structure %s, template %s, fast path %t", res.Structure.Type, template, res.FastPath)

		if formatter.Format == "json" {
			return formatter.Success(GenerateResult{
				IntentType: intent.Type.String(),
				Structure:  res.Structure.Type.String(),
				Template:   template,
				CodeType:   res.Code.Type.String(),
				FastPath:   res.FastPath,
				Pattern:    res.Pattern,
				Hits:       res.Hits,
				Code:       res.Rendered,
			})
		}
		fmt.Fprintln(formatter.Writer, res.Rendered)
		return nil
	})
}

// buildIntent parses the intent type and name=value parameters. Numeric
// values become floats; anything else is kept as text.
func buildIntent(typeName, description string, params []string) (*ir.IntentLevel, error) {
	t, err := ir.ParseIntentType(strings.ToUpper(typeName))
	if err != nil {
		return nil, err
	}
	intent := ir.NewIntentLevel(t, description)
	if len(params) == 0 {
		return intent, nil
	}

	extracted := ir.IRObject{}
	for _, kv := range params {
		name, raw, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("parameter %q: expected name=value", kv)
		}
		raw = strings.TrimSpace(raw)
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			extracted[name] = ir.IRFloat(f)
		} else {
			extracted[name] = ir.IRString(raw)
		}
	}
	intent.SetMetadata(ir.MetadataExtractedParameters, extracted)
	return intent, nil
}

// knownParameters lists the parameter names the converters understand, for
// help output.
func knownParameters() []string {
	return []string{
		convert.ParamFrequency, convert.ParamAmplitude, convert.ParamDuration,
		convert.ParamWaveform, convert.ParamEffectType, convert.ParamAttack,
		convert.ParamDecay, convert.ParamSustain, convert.ParamRelease,
		convert.ParamMix, convert.ParamDelayTime,
	}
}
