package convert

import "github.com/roach88/tonegen/internal/ir"

// CodeTemplate is a SuperCollider source template for one structure variant.
type CodeTemplate struct {
	Name     string
	CodeType ir.CodeType
	Source   string
}

type templateKey struct {
	structure ir.StructureType
	variant   string
}

const sineSynth = `s.waitForBoot({
    {
        // {freq}Hz sine oscillator
        var sig = SinOsc.ar({freq}, 0, {amp});
        // linen envelope avoids clicks at the edges
        sig = sig * EnvGen.kr(Env.linen(0.01, {duration}, 0.01), doneAction: 2);
        sig ! 2
    }.play;
});
`

const sawSynth = `s.waitForBoot({
    {
        // {freq}Hz sawtooth
        var sig = Saw.ar({freq}, {amp});
        sig = sig * EnvGen.kr(Env.linen(0.01, {duration}, 0.01), doneAction: 2);
        sig ! 2
    }.play;
});
`

const squareSynth = `s.waitForBoot({
    {
        // {freq}Hz square wave
        var sig = Pulse.ar({freq}, 0.5, {amp});
        sig = sig * EnvGen.kr(Env.linen(0.01, {duration}, 0.01), doneAction: 2);
        sig ! 2
    }.play;
});
`

const triangleSynth = `s.waitForBoot({
    {
        // {freq}Hz triangle wave
        var sig = LFTri.ar({freq}, 0, {amp});
        sig = sig * EnvGen.kr(Env.linen(0.01, {duration}, 0.01), doneAction: 2);
        sig ! 2
    }.play;
});
`

const padSynth = `s.waitForBoot({
    {
        // detuned sine pairs an octave apart
        var sig = SinOsc.ar([{freq}, {freq}*1.005], 0, {amp}) + SinOsc.ar([{freq}*0.5, {freq}*0.501], 0, {amp}*0.5);
        sig = LPF.ar(sig, 1000);
        sig = sig * EnvGen.kr(Env.adsr({attack}, {decay}, {sustain}, {release}), 1, doneAction: 2);
        sig
    }.play;
});
`

const reverbEffect = `s.waitForBoot({
    ~input_sound = ~input_sound ? { WhiteNoise.ar(0.2) };
    {
        var input = {input_sound}.value;
        var wet = FreeVerb.ar(input, {mix}, {room}, {damp});
        wet ! 2
    }.play;
});
`

const delayEffect = `s.waitForBoot({
    ~input_sound = ~input_sound ? { WhiteNoise.ar(0.2) };
    {
        var input = {input_sound}.value;
        var delayed = CombL.ar(input, 2.0, {delaytime}, {decay});
        var sig = (input * (1 - {mix})) + (delayed * {mix});
        sig ! 2
    }.play;
});
`

const sequencePattern = `s.waitForBoot({
    Pbind(
        \instrument, \default,
        \freq, Pseq({notes}, {repeats}),
        \dur, {dur},
        \amp, {amp}
    ).play;
});
`

// defaultCodeTemplates is the built-in code registry. fallbackVariants names
// the variant used when a structure's discriminator has no template.
var (
	defaultCodeTemplates = map[templateKey]CodeTemplate{
		{ir.StructureSynthDef, "sine"}:     {Name: "synth_sine", CodeType: ir.CodeSynth, Source: sineSynth},
		{ir.StructureSynthDef, "saw"}:      {Name: "synth_saw", CodeType: ir.CodeSynth, Source: sawSynth},
		{ir.StructureSynthDef, "square"}:   {Name: "synth_square", CodeType: ir.CodeSynth, Source: squareSynth},
		{ir.StructureSynthDef, "triangle"}: {Name: "synth_triangle", CodeType: ir.CodeSynth, Source: triangleSynth},
		{ir.StructureSynthDef, "pad"}:      {Name: "synth_pad", CodeType: ir.CodeSynth, Source: padSynth},
		{ir.StructureEffectChain, "reverb"}: {Name: "effect_reverb", CodeType: ir.CodeEffect, Source: reverbEffect},
		{ir.StructureEffectChain, "delay"}:  {Name: "effect_delay", CodeType: ir.CodeEffect, Source: delayEffect},
		{ir.StructurePattern, "sequence"}:   {Name: "pattern_sequence", CodeType: ir.CodePattern, Source: sequencePattern},
		{ir.StructurePbind, "sequence"}:     {Name: "pattern_sequence", CodeType: ir.CodePattern, Source: sequencePattern},
	}

	fallbackVariants = map[ir.StructureType]string{
		ir.StructureSynthDef:    "sine",
		ir.StructureEffectChain: "reverb",
		ir.StructurePattern:     "sequence",
		ir.StructurePbind:       "sequence",
	}
)

// variableDefaults fills placeholders the structure does not supply.
func variableDefaults() map[string]ir.CodeVariable {
	return map[string]ir.CodeVariable{
		"freq":        ir.Literal("freq", ir.IRFloat(440)),
		"amp":         ir.Literal("amp", ir.IRFloat(0.5)),
		"duration":    ir.Literal("duration", ir.IRFloat(1.0)),
		"attack":      ir.Literal("attack", ir.IRFloat(1)),
		"decay":       ir.Literal("decay", ir.IRFloat(0.2)),
		"sustain":     ir.Literal("sustain", ir.IRFloat(0.7)),
		"release":     ir.Literal("release", ir.IRFloat(2)),
		"mix":         ir.Literal("mix", ir.IRFloat(0.33)),
		"room":        ir.Literal("room", ir.IRFloat(0.5)),
		"damp":        ir.Literal("damp", ir.IRFloat(0.5)),
		"delaytime":   ir.Literal("delaytime", ir.IRFloat(0.5)),
		"notes":       ir.Literal("notes", DefaultNotes()),
		"dur":         ir.Literal("dur", ir.IRFloat(0.25)),
		"repeats":     ir.Literal("repeats", ir.IRInt(1)),
		"input_sound": inputReference(ir.IRString("WhiteNoise.ar(0.2)")),
	}
}

// effectDecayDefault differs from the envelope decay default above.
const effectDecayDefault = 4.0

func inputReference(sound ir.IRValue) ir.CodeVariable {
	return ir.Reference("~input_sound", sound)
}
