package convert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/tonegen/internal/ir"
)

// Parameter names shared by the stages.
const (
	ParamFrequency      = "frequency"
	ParamAmplitude      = "amplitude"
	ParamDuration       = "duration"
	ParamWaveform       = "waveform"
	ParamEffectType     = "effect_type"
	ParamMix            = "mix"
	ParamRoom           = "room"
	ParamDamp           = "damp"
	ParamDelayTime      = "delaytime"
	ParamDecay          = "decay"
	ParamInputSound     = "input_sound"
	ParamNotes          = "notes"
	ParamNoteDuration   = "dur"
	ParamRepeats        = "repeats"
	ParamAttack         = "attack"
	ParamSustain        = "sustain"
	ParamRelease        = "release"
	ParamInstrumentType = "instrument_type"
	ParamNote           = "note"
	ParamVelocity       = "velocity"
)

// KeywordSet maps a category value to the words that imply it.
type KeywordSet struct {
	Value    string
	Keywords []string
}

// Category is a discriminating parameter that can be inferred from the
// description when no explicit value is given.
type Category struct {
	Parameter string
	Sets      []KeywordSet
	Fallback  string
}

// Infer scans description for the keyword sets in order. The first set with
// a matching keyword wins; matching is case-insensitive.
func (c Category) Infer(description string) string {
	lower := strings.ToLower(description)
	for _, set := range c.Sets {
		for _, kw := range set.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return set.Value
			}
		}
	}
	return c.Fallback
}

var waveformCategory = Category{
	Parameter: ParamWaveform,
	Sets: []KeywordSet{
		{Value: "sine", Keywords: []string{"sine", "正弦波", "サイン"}},
		{Value: "saw", Keywords: []string{"sawtooth", "saw", "ノコギリ波", "のこぎり"}},
		{Value: "square", Keywords: []string{"square", "pulse", "矩形波"}},
		{Value: "triangle", Keywords: []string{"triangle", "三角波"}},
		{Value: "pad", Keywords: []string{"pad", "パッド"}},
	},
	Fallback: "sine",
}

var effectCategory = Category{
	Parameter: ParamEffectType,
	Sets: []KeywordSet{
		{Value: "reverb", Keywords: []string{"reverb", "リバーブ", "残響"}},
		{Value: "delay", Keywords: []string{"delay", "echo", "ディレイ", "エコー"}},
	},
	Fallback: "reverb",
}

// categoryFor returns the discriminating category an intent type implies.
func categoryFor(t ir.IntentType) (Category, bool) {
	switch t {
	case ir.IntentGenerateSound, ir.IntentGenerateInstrument:
		return waveformCategory, true
	case ir.IntentGenerateEffect, ir.IntentApplyEffect:
		return effectCategory, true
	case ir.IntentUnknown, ir.IntentGenerateAmbient, ir.IntentCreateMelody, ir.IntentCreateChord,
		ir.IntentCreateRhythm, ir.IntentCreateSequence, ir.IntentModifySound,
		ir.IntentControlPlayback, ir.IntentAdjustParameter, ir.IntentComplex:
		return Category{}, false
	}
	return Category{}, false
}

func hz(f float64) ir.ParameterValue      { return ir.Static(ir.IRFloat(f), "Hz") }
func seconds(f float64) ir.ParameterValue { return ir.Static(ir.IRFloat(f), "s") }
func scalar(f float64) ir.ParameterValue  { return ir.Static(ir.IRFloat(f), "") }

// DefaultNotes is the default melody used by sequence intents.
func DefaultNotes() ir.IRArray {
	return ir.IRArray{ir.IRFloat(440), ir.IRFloat(493.88), ir.IRFloat(523.25), ir.IRFloat(587.33), ir.IRFloat(659.25)}
}

// DefaultParameters returns a fresh copy of the defaults for an intent type.
func DefaultParameters(t ir.IntentType) map[string]ir.ParameterValue {
	switch t {
	case ir.IntentGenerateSound:
		return map[string]ir.ParameterValue{
			ParamFrequency: hz(440),
			ParamAmplitude: ir.Range(ir.IRFloat(0.5), 0, 1, ""),
			ParamDuration:  seconds(1.0),
		}
	case ir.IntentGenerateInstrument:
		return map[string]ir.ParameterValue{
			ParamInstrumentType: ir.Static(ir.IRString("piano"), ""),
			ParamNote:           ir.Static(ir.IRString("A4"), ""),
			ParamFrequency:      hz(440),
			ParamAmplitude:      ir.Range(ir.IRFloat(0.7), 0, 1, ""),
			ParamVelocity:       ir.Range(ir.IRFloat(0.7), 0, 1, ""),
			ParamDuration:       seconds(1.0),
		}
	case ir.IntentGenerateEffect, ir.IntentApplyEffect:
		return map[string]ir.ParameterValue{
			ParamMix:       ir.Range(ir.IRFloat(0.33), 0, 1, ""),
			ParamRoom:      ir.Range(ir.IRFloat(0.5), 0, 1, ""),
			ParamDamp:      ir.Range(ir.IRFloat(0.5), 0, 1, ""),
			ParamDelayTime: seconds(0.5),
			ParamDecay:     seconds(4.0),
		}
	case ir.IntentCreateSequence, ir.IntentCreateMelody:
		return map[string]ir.ParameterValue{
			ParamNotes:        {ValueType: ir.ValueSequence, Value: DefaultNotes(), Unit: "Hz"},
			ParamNoteDuration: seconds(0.25),
			ParamAmplitude:    scalar(0.5),
			ParamRepeats:      ir.Static(ir.IRInt(1), ""),
		}
	case ir.IntentUnknown, ir.IntentGenerateAmbient, ir.IntentCreateChord, ir.IntentCreateRhythm,
		ir.IntentModifySound, ir.IntentControlPlayback, ir.IntentAdjustParameter, ir.IntentComplex:
		return map[string]ir.ParameterValue{}
	}
	return map[string]ir.ParameterValue{}
}

// IntentConverter turns an intent into its parameter set.
type IntentConverter struct {
	defaults   func(ir.IntentType) map[string]ir.ParameterValue
	categories func(ir.IntentType) (Category, bool)
}

// NewIntentConverter returns a converter using the built-in defaults table.
func NewIntentConverter() *IntentConverter {
	return &IntentConverter{defaults: DefaultParameters, categories: categoryFor}
}

// Convert derives parameters: defaults for the intent type, overlaid by
// explicit parameters from the intent metadata, plus an inferred category
// parameter when none is present.
func (c *IntentConverter) Convert(ctx context.Context, in *ir.IntentLevel) (*ir.ParameterLevel, error) {
	const src, dst = ir.LevelIntent, ir.LevelParameter
	if err := ctx.Err(); err != nil {
		return nil, fail(src, dst, err)
	}
	if in == nil {
		return nil, fail(src, dst, errors.New("nil intent"))
	}
	if err := in.Validate(); err != nil {
		return nil, fail(src, dst, err)
	}

	out := ir.NewParameterLevel(in.Type.String())
	for name, v := range c.defaults(in.Type) {
		out.Set(name, v)
	}

	explicit := in.ExtractedParameters()
	for _, name := range explicit.SortedKeys() {
		v, err := ir.ParameterValueFromStructured(explicit[name])
		if err != nil {
			return nil, failf(src, dst, "extracted parameter %q: %w", name, err)
		}
		out.Set(name, v)
	}

	if cat, ok := c.categories(in.Type); ok && !out.Has(cat.Parameter) {
		out.Set(cat.Parameter, ir.Static(ir.IRString(cat.Infer(in.Description)), ""))
	}

	if err := out.Validate(); err != nil {
		return nil, fail(src, dst, fmt.Errorf("no usable parameters for %s: %w", in.Type, err))
	}
	return out, nil
}
