package convert

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/tonegen/internal/ir"
)

// StructureTemplate describes a structure the parameter stage can build.
type StructureTemplate struct {
	Name          string
	Type          ir.StructureType
	Required      []string
	Optional      []string
	Discriminator string // parameter name, empty when the template has none
	Variant       string // value the discriminator must hold when present
}

// Eligible reports whether every required parameter is present and the
// discriminator, if the input carries it, matches the template's variant.
func (t StructureTemplate) Eligible(p *ir.ParameterLevel) bool {
	for _, name := range t.Required {
		if !p.Has(name) {
			return false
		}
	}
	if t.Discriminator == "" {
		return true
	}
	v, ok := p.Get(t.Discriminator)
	if !ok {
		return true
	}
	s, isString := ir.AsString(v.Value)
	return isString && s == t.Variant
}

// Score is |required| + |optional present|.
func (t StructureTemplate) Score(p *ir.ParameterLevel) int {
	score := len(t.Required)
	for _, name := range t.Optional {
		if p.Has(name) {
			score++
		}
	}
	return score
}

// DefaultStructureTemplates returns the built-in structure registry.
func DefaultStructureTemplates() []StructureTemplate {
	synthReq := []string{ParamFrequency, ParamAmplitude, ParamDuration}
	return []StructureTemplate{
		{Name: "basic_sine", Type: ir.StructureSynthDef, Required: synthReq,
			Optional: []string{"phase"}, Discriminator: ParamWaveform, Variant: "sine"},
		{Name: "basic_saw", Type: ir.StructureSynthDef, Required: synthReq,
			Optional: []string{"phase"}, Discriminator: ParamWaveform, Variant: "saw"},
		{Name: "basic_square", Type: ir.StructureSynthDef, Required: synthReq,
			Optional: []string{"phase", "width"}, Discriminator: ParamWaveform, Variant: "square"},
		{Name: "basic_triangle", Type: ir.StructureSynthDef, Required: synthReq,
			Optional: []string{"phase"}, Discriminator: ParamWaveform, Variant: "triangle"},
		{Name: "pad_sound", Type: ir.StructureSynthDef, Required: []string{ParamFrequency, ParamAmplitude},
			Optional: []string{ParamAttack, ParamDecay, ParamSustain, ParamRelease}, Discriminator: ParamWaveform, Variant: "pad"},
		{Name: "effect_reverb", Type: ir.StructureEffectChain, Required: []string{ParamMix, ParamRoom},
			Optional: []string{ParamDamp, ParamInputSound}, Discriminator: ParamEffectType, Variant: "reverb"},
		{Name: "effect_delay", Type: ir.StructureEffectChain, Required: []string{ParamDelayTime, ParamDecay, ParamMix},
			Optional: []string{ParamInputSound}, Discriminator: ParamEffectType, Variant: "delay"},
		{Name: "sequence_basic", Type: ir.StructurePattern, Required: []string{ParamNotes, ParamNoteDuration},
			Optional: []string{ParamAmplitude, ParamRepeats}},
	}
}

// ParameterConverter selects a structure template and builds its components.
type ParameterConverter struct {
	templates []StructureTemplate
}

// NewParameterConverter returns a converter over the given templates, or the
// built-in registry when none are given. Templates are kept in name order:
// among equally scored templates the lexicographically smallest name wins.
func NewParameterConverter(templates ...StructureTemplate) *ParameterConverter {
	if len(templates) == 0 {
		templates = DefaultStructureTemplates()
	}
	sorted := slices.Clone(templates)
	slices.SortStableFunc(sorted, func(a, b StructureTemplate) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return &ParameterConverter{templates: sorted}
}

// Templates returns the registry in selection order.
func (c *ParameterConverter) Templates() []StructureTemplate {
	return slices.Clone(c.templates)
}

// Select returns the highest scoring eligible template.
func (c *ParameterConverter) Select(p *ir.ParameterLevel) (StructureTemplate, bool) {
	var best StructureTemplate
	bestScore := -1
	for _, t := range c.templates {
		if !t.Eligible(p) {
			continue
		}
		if s := t.Score(p); s > bestScore {
			best, bestScore = t, s
		}
	}
	return best, bestScore >= 0
}

// Convert builds the structure for a parameter set.
func (c *ParameterConverter) Convert(ctx context.Context, p *ir.ParameterLevel) (*ir.StructureLevel, error) {
	const src, dst = ir.LevelParameter, ir.LevelStructure
	if err := ctx.Err(); err != nil {
		return nil, fail(src, dst, err)
	}
	if p == nil {
		return nil, fail(src, dst, errors.New("nil parameters"))
	}
	if err := p.Validate(); err != nil {
		return nil, fail(src, dst, err)
	}

	tmpl, ok := c.Select(p)
	if !ok {
		return nil, failf(src, dst, "no structure template matches parameters %v", p.Names())
	}

	out := ir.NewStructureLevel(tmpl.Type)
	if err := buildComponents(out, p, tmpl); err != nil {
		return nil, fail(src, dst, fmt.Errorf("template %s: %w", tmpl.Name, err))
	}
	out.SourceParameters = p.Names()
	out.Metadata = ir.IRObject{"template_name": ir.IRString(tmpl.Name)}

	if err := out.Validate(); err != nil {
		return nil, fail(src, dst, err)
	}
	return out, nil
}

// buildComponents dispatches on the template's structure type. Adding a
// structure type means adding a case here.
func buildComponents(out *ir.StructureLevel, p *ir.ParameterLevel, t StructureTemplate) error {
	switch t.Type {
	case ir.StructureSynthDef:
		return buildSynthDef(out, p, t)
	case ir.StructureEffectChain:
		return buildEffectChain(out, p, t)
	case ir.StructurePattern, ir.StructurePbind:
		return buildPattern(out, p)
	case ir.StructureUnknown, ir.StructureFunction, ir.StructureEffectNode, ir.StructureNodeGraph,
		ir.StructureBus, ir.StructureEnvelope, ir.StructureControlRate, ir.StructureComposite,
		ir.StructureCustom:
		return fmt.Errorf("no component builder for %s", t.Type)
	}
	return fmt.Errorf("no component builder for %s", t.Type)
}

// chain connects the named components that exist, in order.
func chain(out *ir.StructureLevel, names ...string) {
	var prev string
	for _, n := range names {
		if _, ok := out.Component(n); !ok {
			continue
		}
		if prev != "" {
			out.Connect(prev, n)
		}
		prev = n
	}
}

func component(kind string, value ir.IRValue) ir.StructureComponent {
	return ir.StructureComponent{ComponentType: kind, Name: kind, Value: value}
}

func stringParam(p *ir.ParameterLevel, name, fallback string) string {
	if v, ok := p.Get(name); ok {
		if s, ok := ir.AsString(v.Value); ok && s != "" {
			return s
		}
	}
	return fallback
}

func buildSynthDef(out *ir.StructureLevel, p *ir.ParameterLevel, t StructureTemplate) error {
	waveform := stringParam(p, ParamWaveform, t.Variant)
	if waveform == "" {
		waveform = "sine"
	}
	osc := ir.IRObject{"type": ir.IRString(waveform)}
	if f, ok := p.Get(ParamFrequency); ok {
		osc["frequency"] = ir.CloneValue(f.Value)
		osc["unit"] = ir.IRString(f.Unit)
	}
	out.AddComponent(component("oscillator", osc))

	env, err := envelopeFor(p)
	if err != nil {
		return err
	}
	if env != nil {
		out.AddComponent(component("envelope", env))
	}

	if a, ok := p.Get(ParamAmplitude); ok {
		out.AddComponent(component("amplitude", ir.IRObject{"value": ir.CloneValue(a.Value)}))
	}
	out.AddComponent(component("output", ir.IRObject{"channels": ir.IRInt(2), "doneAction": ir.IRInt(2)}))

	chain(out, "oscillator", "envelope", "amplitude", "output")
	return nil
}

// Envelope constants for the linen envelope derived from a bare duration.
const (
	linenAttack     = 0.01
	linenRelease    = 0.01
	minLinenSustain = 0.01
)

// envelopeFor returns explicit ADSR stages when any are given, otherwise a
// linen envelope spanning the duration, otherwise nil.
func envelopeFor(p *ir.ParameterLevel) (ir.IRObject, error) {
	env := ir.IRObject{}
	for _, stage := range []string{ParamAttack, ParamDecay, ParamSustain, ParamRelease} {
		if v, ok := p.Get(stage); ok {
			env[stage] = ir.CloneValue(v.Value)
		}
	}
	if len(env) > 0 {
		env["type"] = ir.IRString("adsr")
		return env, nil
	}

	d, ok := p.Get(ParamDuration)
	if !ok {
		return nil, nil
	}
	dur, ok := d.Float()
	if !ok {
		return nil, fmt.Errorf("duration must be numeric, got %T", d.Value)
	}
	sustain := minLinenSustain
	if dur > linenAttack+linenRelease {
		sustain = dur - (linenAttack + linenRelease)
	}
	return ir.IRObject{
		"type":    ir.IRString("linen"),
		"attack":  ir.IRFloat(linenAttack),
		"sustain": ir.IRFloat(sustain),
		"release": ir.IRFloat(linenRelease),
	}, nil
}

// effectParameters lists the parameters each effect kind consumes.
var effectParameters = map[string][]string{
	"reverb": {ParamMix, ParamRoom, ParamDamp},
	"delay":  {ParamDelayTime, ParamDecay, ParamMix},
}

func buildEffectChain(out *ir.StructureLevel, p *ir.ParameterLevel, t StructureTemplate) error {
	kind := stringParam(p, ParamEffectType, t.Variant)
	if kind == "" {
		kind = "reverb"
	}
	names, ok := effectParameters[kind]
	if !ok {
		return fmt.Errorf("unknown effect type %q", kind)
	}
	params := ir.IRObject{}
	for _, n := range names {
		if v, ok := p.Get(n); ok {
			params[n] = ir.CloneValue(v.Value)
		}
	}

	if in, ok := p.Get(ParamInputSound); ok {
		out.AddComponent(component("input", ir.IRObject{"sound": ir.CloneValue(in.Value)}))
	}
	out.AddComponent(component("effect", ir.IRObject{"type": ir.IRString(kind), "parameters": params}))
	out.AddComponent(component("output", ir.IRObject{"channels": ir.IRInt(2)}))

	chain(out, "input", "effect", "output")
	return nil
}

func buildPattern(out *ir.StructureLevel, p *ir.ParameterLevel) error {
	seq := ir.IRObject{}
	for _, n := range []string{ParamNotes, ParamNoteDuration, ParamRepeats} {
		if v, ok := p.Get(n); ok {
			seq[n] = ir.CloneValue(v.Value)
		}
	}
	if _, ok := seq[ParamNotes]; !ok {
		return errors.New("pattern requires notes")
	}
	out.AddComponent(component("sequence", seq))
	if a, ok := p.Get(ParamAmplitude); ok {
		out.AddComponent(component("amplitude", ir.IRObject{"value": ir.CloneValue(a.Value)}))
	}
	out.AddComponent(component("output", ir.IRObject{"channels": ir.IRInt(2)}))

	chain(out, "sequence", "amplitude", "output")
	return nil
}
