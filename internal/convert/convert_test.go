package convert

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tonegen/internal/ir"
)

func runStages(t *testing.T, in *ir.IntentLevel) (*ir.ParameterLevel, *ir.StructureLevel, *ir.CodeLevel) {
	t.Helper()
	ctx := context.Background()

	p, err := NewIntentConverter().Convert(ctx, in)
	require.NoError(t, err)
	s, err := NewParameterConverter().Convert(ctx, p)
	require.NoError(t, err)
	c, err := NewCodeConverter().Convert(ctx, s)
	require.NoError(t, err)
	return p, s, c
}

func TestSineIntentEndToEnd(t *testing.T) {
	p, s, c := runStages(t, ir.NewIntentLevel(ir.IntentGenerateSound, "440Hz sine wave"))

	freq, ok := p.Get(ParamFrequency)
	require.True(t, ok)
	assert.Equal(t, ir.IRFloat(440), freq.Value)
	assert.Equal(t, "Hz", freq.Unit)
	amp, _ := p.Get(ParamAmplitude)
	assert.Equal(t, ir.IRFloat(0.5), amp.Value)
	dur, _ := p.Get(ParamDuration)
	assert.Equal(t, ir.IRFloat(1.0), dur.Value)
	wave, _ := p.Get(ParamWaveform)
	assert.Equal(t, ir.IRString("sine"), wave.Value)

	assert.Equal(t, ir.StructureSynthDef, s.Type)
	assert.Equal(t, []string{"amplitude", "envelope", "oscillator", "output"}, s.ComponentNames())
	assert.Equal(t, []ir.Connection{
		{From: "oscillator", To: "envelope"},
		{From: "envelope", To: "amplitude"},
		{From: "amplitude", To: "output"},
	}, s.Connections)
	assert.Equal(t, ir.IRString("basic_sine"), s.Metadata["template_name"])

	assert.Equal(t, ir.CodeSynth, c.Type)
	out, err := c.Render()
	require.NoError(t, err)
	assert.Contains(t, out, "440")
	assert.Contains(t, out, "0.5")
	assert.Contains(t, out, "SinOsc")
	assert.Contains(t, out, "Env.linen(0.01, 0.98, 0.01)")
}

func TestWaveformInference(t *testing.T) {
	tests := []struct {
		description string
		waveform    string
		primitive   string
	}{
		{"bright sawtooth lead", "saw", "Saw.ar"},
		{"hollow square tone", "square", "Pulse.ar"},
		{"soft triangle", "triangle", "LFTri.ar"},
		{"warm evolving pad", "pad", "LPF.ar"},
		{"something pleasant", "sine", "SinOsc.ar"},
		{"SINE at 220Hz", "sine", "SinOsc.ar"},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			p, _, c := runStages(t, ir.NewIntentLevel(ir.IntentGenerateSound, tt.description))
			wave, _ := p.Get(ParamWaveform)
			assert.Equal(t, ir.IRString(tt.waveform), wave.Value)

			out, err := c.Render()
			require.NoError(t, err)
			assert.Contains(t, out, tt.primitive)
		})
	}
}

func TestExtractedParametersOverrideDefaults(t *testing.T) {
	in := ir.NewIntentLevel(ir.IntentGenerateSound, "a tone")
	in.SetMetadata(ir.MetadataExtractedParameters, ir.IRObject{
		ParamFrequency: ir.IRObject{"value_type": ir.IRString("static"), "value": ir.IRFloat(220), "unit": ir.IRString("Hz")},
		ParamWaveform:  ir.IRString("square"),
	})

	p, s, c := runStages(t, in)
	freq, _ := p.Get(ParamFrequency)
	assert.Equal(t, ir.IRFloat(220), freq.Value)
	assert.Equal(t, ir.IRString("basic_square"), s.Metadata["template_name"])

	out, err := c.Render()
	require.NoError(t, err)
	assert.Contains(t, out, "Pulse.ar(220, 0.5, 0.5)")
}

func TestEffectIntent(t *testing.T) {
	t.Run("reverb", func(t *testing.T) {
		_, s, c := runStages(t, ir.NewIntentLevel(ir.IntentApplyEffect, "add some reverb"))
		assert.Equal(t, ir.StructureEffectChain, s.Type)
		assert.Equal(t, ir.IRString("effect_reverb"), s.Metadata["template_name"])

		out, err := c.Render()
		require.NoError(t, err)
		assert.Contains(t, out, "FreeVerb.ar(input, 0.33, 0.5, 0.5)")
		assert.Contains(t, out, "var input = ~input_sound.value;")
	})

	t.Run("delay", func(t *testing.T) {
		_, s, c := runStages(t, ir.NewIntentLevel(ir.IntentApplyEffect, "long echo tail"))
		assert.Equal(t, ir.IRString("effect_delay"), s.Metadata["template_name"])

		out, err := c.Render()
		require.NoError(t, err)
		assert.Contains(t, out, "CombL.ar(input, 2.0, 0.5, 4)")
	})

	t.Run("input sound becomes a reference", func(t *testing.T) {
		in := ir.NewIntentLevel(ir.IntentApplyEffect, "reverb on my drums")
		in.SetMetadata(ir.MetadataExtractedParameters, ir.IRObject{
			ParamInputSound: ir.IRString("~drums"),
		})
		_, s, c := runStages(t, in)
		assert.Equal(t, []ir.Connection{{From: "input", To: "effect"}, {From: "effect", To: "output"}}, s.Connections)

		v := c.Variables[ParamInputSound]
		assert.False(t, v.Literal)
		assert.Equal(t, ir.IRString("~drums"), v.Value)
	})
}

func TestSequenceIntent(t *testing.T) {
	_, s, c := runStages(t, ir.NewIntentLevel(ir.IntentCreateSequence, "simple melody"))
	assert.Equal(t, ir.StructurePattern, s.Type)
	assert.Equal(t, ir.CodePattern, c.Type)

	out, err := c.Render()
	require.NoError(t, err)
	assert.Contains(t, out, `\freq, Pseq([440, 493.88, 523.25, 587.33, 659.25], 1)`)
	assert.Contains(t, out, `\dur, 0.25`)
}

func TestParameterConverterTieBreak(t *testing.T) {
	// Equal scores resolve to the lexicographically smallest template name,
	// regardless of registration order.
	templates := []StructureTemplate{
		{Name: "zeta", Type: ir.StructureSynthDef, Required: []string{ParamFrequency}},
		{Name: "alpha", Type: ir.StructureSynthDef, Required: []string{ParamFrequency}},
		{Name: "mid", Type: ir.StructureSynthDef, Required: []string{ParamFrequency}},
	}
	p := ir.NewParameterLevel("")
	p.Set(ParamFrequency, hz(440))

	for _, order := range [][]int{{0, 1, 2}, {2, 1, 0}, {1, 0, 2}} {
		reg := []StructureTemplate{templates[order[0]], templates[order[1]], templates[order[2]]}
		got, ok := NewParameterConverter(reg...).Select(p)
		require.True(t, ok)
		assert.Equal(t, "alpha", got.Name)
	}
}

func TestParameterConverterScoring(t *testing.T) {
	templates := []StructureTemplate{
		{Name: "a_plain", Type: ir.StructureSynthDef, Required: []string{ParamFrequency}},
		{Name: "b_enveloped", Type: ir.StructureSynthDef, Required: []string{ParamFrequency},
			Optional: []string{ParamAttack, ParamRelease}},
		{Name: "c_needs_more", Type: ir.StructureSynthDef, Required: []string{ParamFrequency, ParamNotes}},
	}
	p := ir.NewParameterLevel("")
	p.Set(ParamFrequency, hz(440))
	p.Set(ParamAttack, seconds(0.1))

	got, ok := NewParameterConverter(templates...).Select(p)
	require.True(t, ok)
	assert.Equal(t, "b_enveloped", got.Name)
}

func TestParameterConverterDiscriminator(t *testing.T) {
	p := ir.NewParameterLevel("")
	p.Set(ParamFrequency, hz(440))
	p.Set(ParamAmplitude, scalar(0.5))
	p.Set(ParamDuration, seconds(1))
	p.Set(ParamWaveform, ir.Static(ir.IRString("triangle"), ""))

	got, ok := NewParameterConverter().Select(p)
	require.True(t, ok)
	assert.Equal(t, "basic_triangle", got.Name)
}

func TestPadUsesADSR(t *testing.T) {
	in := ir.NewIntentLevel(ir.IntentGenerateSound, "lush pad")
	in.SetMetadata(ir.MetadataExtractedParameters, ir.IRObject{
		ParamAttack:  ir.IRFloat(2),
		ParamRelease: ir.IRFloat(3),
	})
	_, s, c := runStages(t, in)
	assert.Equal(t, ir.IRString("pad_sound"), s.Metadata["template_name"])

	env, ok := s.Component("envelope")
	require.True(t, ok)
	kind, _ := env.Field("type")
	assert.Equal(t, ir.IRString("adsr"), kind)

	out, err := c.Render()
	require.NoError(t, err)
	assert.Contains(t, out, "Env.adsr(2, 0.2, 0.7, 3)")
}

func TestConversionErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid intent", func(t *testing.T) {
		_, err := NewIntentConverter().Convert(ctx, ir.NewIntentLevel(ir.IntentGenerateSound, ""))
		var ce *ConversionError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, ir.LevelIntent, ce.Source)
		assert.Equal(t, ir.LevelParameter, ce.Target)
		assert.True(t, ir.IsValidationError(err))
	})

	t.Run("intent without defaults", func(t *testing.T) {
		_, err := NewIntentConverter().Convert(ctx, ir.NewIntentLevel(ir.IntentCreateChord, "C major"))
		assert.True(t, IsConversionError(err))
	})

	t.Run("no template matches", func(t *testing.T) {
		p := ir.NewParameterLevel("")
		p.Set("cutoff", hz(1000))
		_, err := NewParameterConverter().Convert(ctx, p)
		var ce *ConversionError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, ir.LevelParameter, ce.Source)
		assert.Equal(t, ir.LevelStructure, ce.Target)
	})

	t.Run("no code template", func(t *testing.T) {
		s := ir.NewStructureLevel(ir.StructureBus)
		s.AddComponent(ir.StructureComponent{ComponentType: "bus", Name: "bus", Value: ir.IRInt(0)})
		_, err := NewCodeConverter().Convert(ctx, s)
		var ce *ConversionError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, ir.LevelCode, ce.Target)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewIntentConverter().Convert(cctx, ir.NewIntentLevel(ir.IntentGenerateSound, "sine"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCategoryInfer(t *testing.T) {
	assert.Equal(t, "delay", effectCategory.Infer("Echo, echo"))
	assert.Equal(t, "reverb", effectCategory.Infer("make it wet"))
	assert.Equal(t, "saw", waveformCategory.Infer("ノコギリ波の音"))
}

func TestUnknownVariantFallsBack(t *testing.T) {
	s := ir.NewStructureLevel(ir.StructureSynthDef)
	s.AddComponent(ir.StructureComponent{ComponentType: "oscillator", Name: "oscillator",
		Value: ir.IRObject{"type": ir.IRString("noise"), "frequency": ir.IRFloat(330)}})

	c, err := NewCodeConverter().Convert(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("synth_sine"), c.Metadata["template"])

	out, err := c.Render()
	require.NoError(t, err)
	assert.Contains(t, out, "SinOsc.ar(330, 0, 0.5)")
}
