package ir

import (
	"fmt"
	"math"
	"slices"
)

// ParameterValue is a single typed sound parameter.
type ParameterValue struct {
	ValueType ValueType
	Value     IRValue
	Unit      string
	Min       *float64
	Max       *float64
	Metadata  IRObject
}

// Static returns a static parameter value with an optional unit.
func Static(v IRValue, unit string) ParameterValue {
	return ParameterValue{ValueType: ValueStatic, Value: v, Unit: unit}
}

// Range returns a range parameter bounded by [lo, hi].
func Range(v IRValue, lo, hi float64, unit string) ParameterValue {
	return ParameterValue{ValueType: ValueRange, Value: v, Unit: unit, Min: &lo, Max: &hi}
}

// Validate checks the parameter value invariants.
func (p ParameterValue) Validate() error {
	if !p.ValueType.Valid() {
		return newValidationError(LevelParameter, "value_type", "unknown value type %q", p.ValueType)
	}
	if p.Value == nil {
		return newValidationError(LevelParameter, "value", "must be present")
	}
	if _, isNull := p.Value.(IRNull); isNull {
		return newValidationError(LevelParameter, "value", "must be present")
	}
	for _, b := range []*float64{p.Min, p.Max} {
		if b != nil && (math.IsNaN(*b) || math.IsInf(*b, 0)) {
			return newValidationError(LevelParameter, "bounds", "non-finite bound %v", *b)
		}
	}
	if p.ValueType == ValueRange {
		if p.Min == nil || p.Max == nil {
			return newValidationError(LevelParameter, "bounds", "range requires min and max")
		}
		if *p.Min > *p.Max {
			return newValidationError(LevelParameter, "bounds", "min %v greater than max %v", *p.Min, *p.Max)
		}
	}
	return nil
}

// Float returns the numeric value, if any.
func (p ParameterValue) Float() (float64, bool) {
	return AsFloat(p.Value)
}

// ToStructured converts the value to its generic structured form.
func (p ParameterValue) ToStructured() IRObject {
	obj := IRObject{"value_type": IRString(p.ValueType)}
	if p.Value != nil {
		obj["value"] = CloneValue(p.Value)
	}
	if p.Unit != "" {
		obj["unit"] = IRString(p.Unit)
	}
	if p.Min != nil {
		obj["min_value"] = IRFloat(*p.Min)
	}
	if p.Max != nil {
		obj["max_value"] = IRFloat(*p.Max)
	}
	putMetadata(obj, p.Metadata)
	return obj
}

// ParameterValueFromStructured rebuilds a value from its structured form.
// A bare scalar is accepted as a static value.
func ParameterValueFromStructured(raw IRValue) (ParameterValue, error) {
	obj, ok := raw.(IRObject)
	if !ok {
		if raw == nil {
			return ParameterValue{}, fmt.Errorf("parameter value: missing")
		}
		return ParameterValue{ValueType: ValueStatic, Value: raw}, nil
	}

	var p ParameterValue
	vt, err := getString(obj, "value_type")
	if err != nil {
		return p, err
	}
	if vt == "" {
		vt = string(ValueStatic)
	}
	p.ValueType = ValueType(vt)
	if v, ok := obj["value"]; ok {
		p.Value = CloneValue(v)
	}
	if p.Unit, err = getString(obj, "unit"); err != nil {
		return p, err
	}
	if f, ok, err := getFloat(obj, "min_value"); err != nil {
		return p, err
	} else if ok {
		p.Min = &f
	}
	if f, ok, err := getFloat(obj, "max_value"); err != nil {
		return p, err
	} else if ok {
		p.Max = &f
	}
	if p.Metadata, err = getObject(obj, keyMetadata); err != nil {
		return p, err
	}
	return p, nil
}

// ParameterLevel is the named parameter set derived from an intent.
type ParameterLevel struct {
	Parameters   map[string]ParameterValue
	SourceIntent string

	validity validity
}

// NewParameterLevel creates an empty parameter level.
func NewParameterLevel(sourceIntent string) *ParameterLevel {
	return &ParameterLevel{Parameters: map[string]ParameterValue{}, SourceIntent: sourceIntent}
}

// Set adds or replaces a parameter and drops the cached validation result.
func (l *ParameterLevel) Set(name string, v ParameterValue) {
	if l.Parameters == nil {
		l.Parameters = map[string]ParameterValue{}
	}
	l.Parameters[name] = v
	l.validity.reset()
}

// Get returns the named parameter.
func (l *ParameterLevel) Get(name string) (ParameterValue, bool) {
	p, ok := l.Parameters[name]
	return p, ok
}

// Has reports whether the named parameter is present.
func (l *ParameterLevel) Has(name string) bool {
	_, ok := l.Parameters[name]
	return ok
}

// Names returns the parameter names in sorted order.
func (l *ParameterLevel) Names() []string {
	names := make([]string, 0, len(l.Parameters))
	for n := range l.Parameters {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Invalidate drops the cached validation result.
func (l *ParameterLevel) Invalidate() { l.validity.reset() }

// Validate checks the parameter level invariants.
func (l *ParameterLevel) Validate() error {
	if len(l.Parameters) == 0 {
		return newValidationError(LevelParameter, "parameters", "at least one parameter is required")
	}
	for _, name := range l.Names() {
		if name == "" {
			return newValidationError(LevelParameter, "parameters", "empty parameter name")
		}
		if err := l.Parameters[name].Validate(); err != nil {
			return withPrefix(err, LevelParameter, "parameters."+name)
		}
	}
	return nil
}

// IsValid reports whether Validate succeeds, caching the answer.
func (l *ParameterLevel) IsValid() bool {
	return l.validity.check(l.Validate)
}

// ToStructured converts the level to its generic structured form.
func (l *ParameterLevel) ToStructured() IRObject {
	if l == nil {
		return nil
	}
	params := make(IRObject, len(l.Parameters))
	for name, p := range l.Parameters {
		params[name] = p.ToStructured()
	}
	obj := IRObject{
		keyLevel:     IRString(LevelParameter),
		"parameters": params,
	}
	if l.SourceIntent != "" {
		obj["source_intent"] = IRString(l.SourceIntent)
	}
	return obj
}

// ParameterFromStructured rebuilds a parameter level from its structured form.
func ParameterFromStructured(obj IRObject) (*ParameterLevel, error) {
	if err := checkLevel(obj, LevelParameter); err != nil {
		return nil, err
	}
	src, err := getString(obj, "source_intent")
	if err != nil {
		return nil, err
	}
	l := NewParameterLevel(src)
	params, err := getObject(obj, "parameters")
	if err != nil {
		return nil, err
	}
	for name, raw := range params {
		p, err := ParameterValueFromStructured(raw)
		if err != nil {
			return nil, fmt.Errorf("parameters.%s: %w", name, err)
		}
		l.Parameters[name] = p
	}
	return l, nil
}
