package ir

import (
	"fmt"
	"strings"
)

// MetadataExtractedParameters is the intent metadata key under which the
// extractor hands over parameters it already recognised.
const MetadataExtractedParameters = "extracted_parameters"

// IntentLevel is an already-extracted instruction: what the caller wants and
// the text they said it with.
//
// Fields may be set directly while building a value; once it has been
// validated, mutate only through SetMetadata or call Invalidate.
type IntentLevel struct {
	Type        IntentType
	Description string
	Metadata    IRObject
	Confidence  float64

	validity validity
}

// NewIntentLevel creates an intent with full confidence.
func NewIntentLevel(t IntentType, description string) *IntentLevel {
	return &IntentLevel{Type: t, Description: description, Confidence: 1.0}
}

// SetMetadata sets a metadata entry and drops the cached validation result.
func (l *IntentLevel) SetMetadata(key string, v IRValue) {
	if l.Metadata == nil {
		l.Metadata = IRObject{}
	}
	l.Metadata[key] = v
	l.validity.reset()
}

// Invalidate drops the cached validation result.
func (l *IntentLevel) Invalidate() { l.validity.reset() }

// ExtractedParameters returns the pre-extracted parameter object, or nil.
func (l *IntentLevel) ExtractedParameters() IRObject {
	obj, _ := l.Metadata[MetadataExtractedParameters].(IRObject)
	return obj
}

// Validate checks the intent invariants.
func (l *IntentLevel) Validate() error {
	if !l.Type.Valid() {
		return newValidationError(LevelIntent, "intent_type", "unrecognized intent type %d", int(l.Type))
	}
	if strings.TrimSpace(l.Description) == "" {
		return newValidationError(LevelIntent, "description", "must not be empty")
	}
	if !(l.Confidence >= 0 && l.Confidence <= 1) {
		return newValidationError(LevelIntent, "confidence", "%v outside [0, 1]", l.Confidence)
	}
	return nil
}

// IsValid reports whether Validate succeeds, caching the answer.
func (l *IntentLevel) IsValid() bool {
	return l.validity.check(l.Validate)
}

// ToStructured converts the intent to its generic structured form.
func (l *IntentLevel) ToStructured() IRObject {
	if l == nil {
		return nil
	}
	obj := IRObject{
		keyLevel:      IRString(LevelIntent),
		"intent_type": IRString(l.Type.String()),
		"description": IRString(l.Description),
		"confidence":  IRFloat(l.Confidence),
	}
	putMetadata(obj, l.Metadata)
	return obj
}

// IntentFromStructured rebuilds an intent from its structured form.
func IntentFromStructured(obj IRObject) (*IntentLevel, error) {
	if err := checkLevel(obj, LevelIntent); err != nil {
		return nil, err
	}
	typeName, err := getString(obj, "intent_type")
	if err != nil {
		return nil, err
	}
	t, err := ParseIntentType(typeName)
	if err != nil {
		return nil, err
	}
	desc, err := getString(obj, "description")
	if err != nil {
		return nil, err
	}
	md, err := getObject(obj, keyMetadata)
	if err != nil {
		return nil, err
	}
	conf, ok, err := getFloat(obj, "confidence")
	if err != nil {
		return nil, err
	}
	if !ok {
		conf = 1.0
	}
	return &IntentLevel{Type: t, Description: desc, Metadata: md, Confidence: conf}, nil
}

func (l *IntentLevel) String() string {
	return fmt.Sprintf("Intent(%s, %q)", l.Type, l.Description)
}
