package convert

import (
	"context"
	"errors"
	"maps"

	"github.com/roach88/tonegen/internal/ir"
)

// CodeConverter picks a code template for a structure and binds its variables.
type CodeConverter struct {
	templates map[templateKey]CodeTemplate
	fallbacks map[ir.StructureType]string
}

// NewCodeConverter returns a converter over the built-in templates.
func NewCodeConverter() *CodeConverter {
	return &CodeConverter{
		templates: maps.Clone(defaultCodeTemplates),
		fallbacks: maps.Clone(fallbackVariants),
	}
}

// Discriminator returns the variant name of a structure: the oscillator type
// for synths, the effect type for effect chains, "sequence" for patterns.
func Discriminator(s *ir.StructureLevel) string {
	switch s.Type {
	case ir.StructureSynthDef:
		return componentString(s, "oscillator", "type")
	case ir.StructureEffectChain:
		return componentString(s, "effect", "type")
	case ir.StructurePattern, ir.StructurePbind:
		return "sequence"
	case ir.StructureUnknown, ir.StructureFunction, ir.StructureEffectNode, ir.StructureNodeGraph,
		ir.StructureBus, ir.StructureEnvelope, ir.StructureControlRate, ir.StructureComposite,
		ir.StructureCustom:
		return ""
	}
	return ""
}

func componentString(s *ir.StructureLevel, component, field string) string {
	c, ok := s.Component(component)
	if !ok {
		return ""
	}
	v, ok := c.Field(field)
	if !ok {
		return ""
	}
	str, _ := ir.AsString(v)
	return str
}

// Template returns the code template for a structure, falling back to the
// structure type's default variant.
func (c *CodeConverter) Template(s *ir.StructureLevel) (CodeTemplate, bool) {
	if t, ok := c.templates[templateKey{s.Type, Discriminator(s)}]; ok {
		return t, true
	}
	fb, ok := c.fallbacks[s.Type]
	if !ok {
		return CodeTemplate{}, false
	}
	t, ok := c.templates[templateKey{s.Type, fb}]
	return t, ok
}

// VariablesFor extracts the template variables a structure supplies.
func VariablesFor(s *ir.StructureLevel) map[string]ir.CodeVariable {
	vars := map[string]ir.CodeVariable{}
	bind := func(placeholder, component, field string) {
		comp, ok := s.Component(component)
		if !ok {
			return
		}
		if v, ok := comp.Field(field); ok {
			vars[placeholder] = ir.Literal(placeholder, ir.CloneValue(v))
		}
	}

	bind("freq", "oscillator", "frequency")
	bind("amp", "amplitude", "value")

	if env, ok := s.Component("envelope"); ok {
		if kind, _ := env.Field("type"); ir.Equal(kind, ir.IRString("linen")) {
			bind("duration", "envelope", "sustain")
		} else {
			for _, stage := range []string{ParamAttack, ParamDecay, ParamSustain, ParamRelease} {
				bind(stage, "envelope", stage)
			}
		}
	}

	if eff, ok := s.Component("effect"); ok {
		if params, ok := eff.Field("parameters"); ok {
			if obj, ok := params.(ir.IRObject); ok {
				for _, k := range obj.SortedKeys() {
					vars[k] = ir.Literal(k, ir.CloneValue(obj[k]))
				}
			}
		}
	}
	if in, ok := s.Component("input"); ok {
		if sound, ok := in.Field("sound"); ok {
			vars[ParamInputSound] = inputReference(ir.CloneValue(sound))
		}
	}

	bind("notes", "sequence", ParamNotes)
	bind("dur", "sequence", ParamNoteDuration)
	bind("repeats", "sequence", ParamRepeats)
	return vars
}

// Convert chooses a template and binds every placeholder, from the structure
// where it supplies a value and from defaults otherwise.
func (c *CodeConverter) Convert(ctx context.Context, s *ir.StructureLevel) (*ir.CodeLevel, error) {
	const src, dst = ir.LevelStructure, ir.LevelCode
	if err := ctx.Err(); err != nil {
		return nil, fail(src, dst, err)
	}
	if s == nil {
		return nil, fail(src, dst, errors.New("nil structure"))
	}
	if err := s.Validate(); err != nil {
		return nil, fail(src, dst, err)
	}

	tmpl, ok := c.Template(s)
	if !ok {
		return nil, failf(src, dst, "no code template for %s", s.Type)
	}

	out := ir.NewCodeLevel(tmpl.CodeType, tmpl.Source)
	supplied := VariablesFor(s)
	defaults := variableDefaults()
	for _, name := range ir.Placeholders(tmpl.Source) {
		if v, ok := supplied[name]; ok {
			out.SetVariable(name, v)
			continue
		}
		if name == ParamDecay && s.Type == ir.StructureEffectChain {
			out.SetVariable(name, ir.Literal(name, ir.IRFloat(effectDecayDefault)))
			continue
		}
		if v, ok := defaults[name]; ok {
			out.SetVariable(name, v)
		}
	}
	out.SourceStructure = s.Type.String()
	out.Metadata = ir.IRObject{
		"template":          ir.IRString(tmpl.Name),
		"source_parameters": ir.FromStrings(s.SourceParameters),
	}

	if err := out.Validate(); err != nil {
		return nil, fail(src, dst, err)
	}
	return out, nil
}
