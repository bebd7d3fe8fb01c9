package ir

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// placeholderPattern matches {name} placeholders. SuperCollider braces such
// as "{\n" or "{ |x|" never match because they are not bare identifiers.
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Placeholders returns the distinct placeholder names in a template, sorted.
func Placeholders(template string) []string {
	var names []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		if !slices.Contains(names, m[1]) {
			names = append(names, m[1])
		}
	}
	slices.Sort(names)
	return names
}

// CodeVariable is a value substituted into a code template.
type CodeVariable struct {
	Name     string
	Value    IRValue
	VarType  string
	Literal  bool
	Metadata IRObject
}

// Literal returns a literal variable.
func Literal(name string, v IRValue) CodeVariable {
	return CodeVariable{Name: name, Value: v, Literal: true}
}

// Reference returns a non-literal variable. It renders as its name, which
// the surrounding code is expected to define.
func Reference(name string, v IRValue) CodeVariable {
	return CodeVariable{Name: name, Value: v, VarType: "expression"}
}

// Validate checks the variable invariants.
func (v CodeVariable) Validate() error {
	if v.Name == "" {
		return newValidationError(LevelCode, "name", "must not be empty")
	}
	if v.Literal && v.Value == nil {
		return newValidationError(LevelCode, "value", "literal %q has no value", v.Name)
	}
	return nil
}

// Render returns the source text for the variable.
//
//	numeric literal -> shortest decimal text
//	text literal    -> double-quoted
//	bool literal    -> true / false
//	non-literal     -> the variable's name
func (v CodeVariable) Render() string {
	if !v.Literal {
		return v.Name
	}
	return renderLiteral(v.Value)
}

var scStringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func renderLiteral(val IRValue) string {
	switch x := val.(type) {
	case IRInt:
		return strconv.FormatInt(int64(x), 10)
	case IRFloat:
		return strconv.FormatFloat(float64(x), 'f', -1, 64)
	case IRString:
		return `"` + scStringEscaper.Replace(string(x)) + `"`
	case IRBool:
		return strconv.FormatBool(bool(x))
	case IRArray:
		return renderList(x)
	case IRSet:
		return renderList(IRArray(x))
	case IRObject:
		parts := make([]string, 0, len(x))
		for _, k := range x.SortedKeys() {
			parts = append(parts, k+": "+renderLiteral(x[k]))
		}
		return "(" + strings.Join(parts, ", ") + ")"
	default:
		return "nil"
	}
}

func renderList(arr IRArray) string {
	parts := make([]string, len(arr))
	for i, e := range arr {
		parts[i] = renderLiteral(e)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ToStructured converts the variable to its generic structured form.
func (v CodeVariable) ToStructured() IRObject {
	obj := IRObject{
		"name":       IRString(v.Name),
		"is_literal": IRBool(v.Literal),
	}
	if v.Value != nil {
		obj["value"] = CloneValue(v.Value)
	}
	if v.VarType != "" {
		obj["var_type"] = IRString(v.VarType)
	}
	putMetadata(obj, v.Metadata)
	return obj
}

func variableFromStructured(raw IRValue) (CodeVariable, error) {
	var v CodeVariable
	obj, ok := raw.(IRObject)
	if !ok {
		return v, fmt.Errorf("expected object, got %T", raw)
	}
	var err error
	if v.Name, err = getString(obj, "name"); err != nil {
		return v, err
	}
	if val, ok := obj["value"]; ok {
		v.Value = CloneValue(val)
	}
	if v.VarType, err = getString(obj, "var_type"); err != nil {
		return v, err
	}
	lit, ok := obj["is_literal"].(IRBool)
	if !ok {
		return v, fmt.Errorf("field \"is_literal\": expected bool")
	}
	v.Literal = bool(lit)
	if v.Metadata, err = getObject(obj, keyMetadata); err != nil {
		return v, err
	}
	return v, nil
}

// CodeLevel is a code template plus the variables that fill it.
type CodeLevel struct {
	Type            CodeType
	Template        string
	Variables       map[string]CodeVariable
	SourceStructure string
	Metadata        IRObject

	validity validity
}

// NewCodeLevel creates a code level with no variables.
func NewCodeLevel(t CodeType, template string) *CodeLevel {
	return &CodeLevel{Type: t, Template: template, Variables: map[string]CodeVariable{}}
}

// SetVariable binds a placeholder name to a variable.
func (l *CodeLevel) SetVariable(placeholder string, v CodeVariable) {
	if l.Variables == nil {
		l.Variables = map[string]CodeVariable{}
	}
	l.Variables[placeholder] = v
	l.validity.reset()
}

// Invalidate drops the cached validation result.
func (l *CodeLevel) Invalidate() { l.validity.reset() }

// Validate checks the code level invariants.
func (l *CodeLevel) Validate() error {
	if !l.Type.Valid() {
		return newValidationError(LevelCode, "code_type", "unrecognized code type %d", int(l.Type))
	}
	if strings.TrimSpace(l.Template) == "" {
		return newValidationError(LevelCode, "template", "must not be empty")
	}
	for _, key := range sortedVariableKeys(l.Variables) {
		if err := l.Variables[key].Validate(); err != nil {
			return withPrefix(err, LevelCode, "variables."+key)
		}
	}
	for _, name := range Placeholders(l.Template) {
		if _, ok := l.Variables[name]; !ok {
			return newValidationError(LevelCode, "template", "placeholder {%s} has no variable", name)
		}
	}
	return nil
}

// IsValid reports whether Validate succeeds, caching the answer.
func (l *CodeLevel) IsValid() bool {
	return l.validity.check(l.Validate)
}

// Render substitutes every placeholder with its variable's rendering in a
// single pass, so rendered values are never rescanned for placeholders.
func (l *CodeLevel) Render() (string, error) {
	if err := l.Validate(); err != nil {
		return "", err
	}
	return placeholderPattern.ReplaceAllStringFunc(l.Template, func(m string) string {
		return l.Variables[m[1:len(m)-1]].Render()
	}), nil
}

// ToStructured converts the level to its generic structured form.
func (l *CodeLevel) ToStructured() IRObject {
	if l == nil {
		return nil
	}
	vars := make(IRObject, len(l.Variables))
	for key, v := range l.Variables {
		vars[key] = v.ToStructured()
	}
	obj := IRObject{
		keyLevel:    IRString(LevelCode),
		"code_type": IRString(l.Type.String()),
		"template":  IRString(l.Template),
		"variables": vars,
	}
	if l.SourceStructure != "" {
		obj["source_structure"] = IRString(l.SourceStructure)
	}
	putMetadata(obj, l.Metadata)
	return obj
}

// CodeFromStructured rebuilds a code level from its structured form.
func CodeFromStructured(obj IRObject) (*CodeLevel, error) {
	if err := checkLevel(obj, LevelCode); err != nil {
		return nil, err
	}
	typeName, err := getString(obj, "code_type")
	if err != nil {
		return nil, err
	}
	t, err := ParseCodeType(typeName)
	if err != nil {
		return nil, err
	}
	tmpl, err := getString(obj, "template")
	if err != nil {
		return nil, err
	}
	l := NewCodeLevel(t, tmpl)
	vars, err := getObject(obj, "variables")
	if err != nil {
		return nil, err
	}
	for key, raw := range vars {
		v, err := variableFromStructured(raw)
		if err != nil {
			return nil, fmt.Errorf("variables.%s: %w", key, err)
		}
		l.Variables[key] = v
	}
	if l.SourceStructure, err = getString(obj, "source_structure"); err != nil {
		return nil, err
	}
	if l.Metadata, err = getObject(obj, keyMetadata); err != nil {
		return nil, err
	}
	return l, nil
}

func sortedVariableKeys(m map[string]CodeVariable) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
