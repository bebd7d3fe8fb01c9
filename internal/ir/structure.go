package ir

import (
	"fmt"
	"slices"
)

// StructureComponent is one structural role of a sound: an oscillator, an
// envelope, an effect unit, an output bus.
type StructureComponent struct {
	ComponentType string
	Name          string
	Value         IRValue
	Metadata      IRObject
}

// Validate checks the component invariants.
func (c StructureComponent) Validate() error {
	if c.ComponentType == "" {
		return newValidationError(LevelStructure, "component_type", "must not be empty")
	}
	if c.Name == "" {
		return newValidationError(LevelStructure, "name", "must not be empty")
	}
	if c.Value == nil {
		return newValidationError(LevelStructure, "value", "must be present")
	}
	return nil
}

// Field returns a named entry of an object-valued component.
func (c StructureComponent) Field(key string) (IRValue, bool) {
	obj, ok := c.Value.(IRObject)
	if !ok {
		return nil, false
	}
	v, ok := obj[key]
	return v, ok
}

// ToStructured converts the component to its generic structured form.
func (c StructureComponent) ToStructured() IRObject {
	obj := IRObject{
		"component_type": IRString(c.ComponentType),
		"name":           IRString(c.Name),
	}
	if c.Value != nil {
		obj["value"] = CloneValue(c.Value)
	}
	putMetadata(obj, c.Metadata)
	return obj
}

func componentFromStructured(raw IRValue) (StructureComponent, error) {
	var c StructureComponent
	obj, ok := raw.(IRObject)
	if !ok {
		return c, fmt.Errorf("expected object, got %T", raw)
	}
	var err error
	if c.ComponentType, err = getString(obj, "component_type"); err != nil {
		return c, err
	}
	if c.Name, err = getString(obj, "name"); err != nil {
		return c, err
	}
	if v, ok := obj["value"]; ok {
		c.Value = CloneValue(v)
	}
	if c.Metadata, err = getObject(obj, keyMetadata); err != nil {
		return c, err
	}
	return c, nil
}

// Connection routes the output of one component into another.
type Connection struct {
	From string
	To   string
}

// StructureLevel describes the components of a sound and how they connect.
type StructureLevel struct {
	Type             StructureType
	Components       map[string]StructureComponent
	Connections      []Connection
	SourceParameters []string
	Metadata         IRObject

	validity validity
}

// NewStructureLevel creates an empty structure of the given type.
func NewStructureLevel(t StructureType) *StructureLevel {
	return &StructureLevel{Type: t, Components: map[string]StructureComponent{}}
}

// AddComponent adds or replaces a component keyed by its name.
func (l *StructureLevel) AddComponent(c StructureComponent) {
	if l.Components == nil {
		l.Components = map[string]StructureComponent{}
	}
	l.Components[c.Name] = c
	l.validity.reset()
}

// Connect appends a connection from one component to another.
func (l *StructureLevel) Connect(from, to string) {
	l.Connections = append(l.Connections, Connection{From: from, To: to})
	l.validity.reset()
}

// Component returns the named component.
func (l *StructureLevel) Component(name string) (StructureComponent, bool) {
	c, ok := l.Components[name]
	return c, ok
}

// ComponentNames returns the component names in sorted order.
func (l *StructureLevel) ComponentNames() []string {
	names := make([]string, 0, len(l.Components))
	for n := range l.Components {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Invalidate drops the cached validation result.
func (l *StructureLevel) Invalidate() { l.validity.reset() }

// Validate checks the structure invariants.
func (l *StructureLevel) Validate() error {
	if !l.Type.Valid() {
		return newValidationError(LevelStructure, "structure_type", "unrecognized structure type %d", int(l.Type))
	}
	if len(l.Components) == 0 && !l.Type.AllowsEmpty() {
		return newValidationError(LevelStructure, "components", "%s requires at least one component", l.Type)
	}
	for _, name := range l.ComponentNames() {
		if err := l.Components[name].Validate(); err != nil {
			return withPrefix(err, LevelStructure, "components."+name)
		}
	}
	for i, conn := range l.Connections {
		if _, ok := l.Components[conn.From]; !ok {
			return newValidationError(LevelStructure, fmt.Sprintf("connections[%d]", i), "unknown source component %q", conn.From)
		}
		if _, ok := l.Components[conn.To]; !ok {
			return newValidationError(LevelStructure, fmt.Sprintf("connections[%d]", i), "unknown target component %q", conn.To)
		}
	}
	return nil
}

// IsValid reports whether Validate succeeds, caching the answer.
func (l *StructureLevel) IsValid() bool {
	return l.validity.check(l.Validate)
}

// ToStructured converts the level to its generic structured form.
func (l *StructureLevel) ToStructured() IRObject {
	if l == nil {
		return nil
	}
	comps := make(IRObject, len(l.Components))
	for name, c := range l.Components {
		comps[name] = c.ToStructured()
	}
	conns := make(IRArray, len(l.Connections))
	for i, c := range l.Connections {
		conns[i] = IRArray{IRString(c.From), IRString(c.To)}
	}
	obj := IRObject{
		keyLevel:            IRString(LevelStructure),
		"structure_type":    IRString(l.Type.String()),
		"components":        comps,
		"connections":       conns,
		"source_parameters": FromStrings(l.SourceParameters),
	}
	putMetadata(obj, l.Metadata)
	return obj
}

// StructureFromStructured rebuilds a structure level from its structured form.
func StructureFromStructured(obj IRObject) (*StructureLevel, error) {
	if err := checkLevel(obj, LevelStructure); err != nil {
		return nil, err
	}
	typeName, err := getString(obj, "structure_type")
	if err != nil {
		return nil, err
	}
	t, err := ParseStructureType(typeName)
	if err != nil {
		return nil, err
	}
	l := NewStructureLevel(t)

	comps, err := getObject(obj, "components")
	if err != nil {
		return nil, err
	}
	for name, raw := range comps {
		c, err := componentFromStructured(raw)
		if err != nil {
			return nil, fmt.Errorf("components.%s: %w", name, err)
		}
		l.Components[name] = c
	}

	if raw, ok := obj["connections"]; ok {
		arr, ok := raw.(IRArray)
		if !ok {
			return nil, fmt.Errorf("connections: expected array, got %T", raw)
		}
		for i, e := range arr {
			pair, ok := e.(IRArray)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("connections[%d]: expected [from, to]", i)
			}
			from, ok1 := pair[0].(IRString)
			to, ok2 := pair[1].(IRString)
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("connections[%d]: endpoints must be strings", i)
			}
			l.Connections = append(l.Connections, Connection{From: string(from), To: string(to)})
		}
	}

	if l.SourceParameters, err = getStrings(obj, "source_parameters"); err != nil {
		return nil, err
	}
	if l.Metadata, err = getObject(obj, keyMetadata); err != nil {
		return nil, err
	}
	return l, nil
}
