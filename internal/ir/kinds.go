package ir

import "fmt"

// IntentType is the closed set of request kinds an instruction can express.
type IntentType int

const (
	IntentUnknown IntentType = iota
	IntentGenerateSound
	IntentGenerateInstrument
	IntentGenerateEffect
	IntentGenerateAmbient
	IntentCreateMelody
	IntentCreateChord
	IntentCreateRhythm
	IntentCreateSequence
	IntentApplyEffect
	IntentModifySound
	IntentControlPlayback
	IntentAdjustParameter
	IntentComplex
)

var intentTypeNames = [...]string{
	IntentUnknown:            "UNKNOWN",
	IntentGenerateSound:      "GENERATE_SOUND",
	IntentGenerateInstrument: "GENERATE_INSTRUMENT",
	IntentGenerateEffect:     "GENERATE_EFFECT",
	IntentGenerateAmbient:    "GENERATE_AMBIENT",
	IntentCreateMelody:       "CREATE_MELODY",
	IntentCreateChord:        "CREATE_CHORD",
	IntentCreateRhythm:       "CREATE_RHYTHM",
	IntentCreateSequence:     "CREATE_SEQUENCE",
	IntentApplyEffect:        "APPLY_EFFECT",
	IntentModifySound:        "MODIFY_SOUND",
	IntentControlPlayback:    "CONTROL_PLAYBACK",
	IntentAdjustParameter:    "ADJUST_PARAMETER",
	IntentComplex:            "COMPLEX",
}

// Valid reports whether t is one of the declared variants.
func (t IntentType) Valid() bool {
	return t >= 0 && int(t) < len(intentTypeNames)
}

func (t IntentType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("IntentType(%d)", int(t))
	}
	return intentTypeNames[t]
}

// IntentTypes returns every variant in declaration order.
func IntentTypes() []IntentType {
	out := make([]IntentType, len(intentTypeNames))
	for i := range intentTypeNames {
		out[i] = IntentType(i)
	}
	return out
}

// ParseIntentType resolves a variant name such as "GENERATE_SOUND".
func ParseIntentType(s string) (IntentType, error) {
	for i, name := range intentTypeNames {
		if name == s {
			return IntentType(i), nil
		}
	}
	return IntentUnknown, fmt.Errorf("unknown intent type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t IntentType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid intent type %d", int(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *IntentType) UnmarshalText(b []byte) error {
	v, err := ParseIntentType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ValueType classifies how a ParameterValue should be interpreted.
type ValueType string

const (
	ValueStatic   ValueType = "static"
	ValueRange    ValueType = "range"
	ValueDynamic  ValueType = "dynamic"
	ValueEnvelope ValueType = "envelope"
	ValueSequence ValueType = "sequence"
)

// Valid reports whether v is one of the declared value types.
func (v ValueType) Valid() bool {
	switch v {
	case ValueStatic, ValueRange, ValueDynamic, ValueEnvelope, ValueSequence:
		return true
	}
	return false
}

// StructureType is the kind of sound structure a StructureLevel describes.
type StructureType int

const (
	StructureUnknown StructureType = iota
	StructureSynthDef
	StructureFunction
	StructurePattern
	StructurePbind
	StructureEffectChain
	StructureEffectNode
	StructureNodeGraph
	StructureBus
	StructureEnvelope
	StructureControlRate
	StructureComposite
	StructureCustom
)

var structureTypeNames = [...]string{
	StructureUnknown:     "UNKNOWN",
	StructureSynthDef:    "SYNTH_DEF",
	StructureFunction:    "FUNCTION",
	StructurePattern:     "PATTERN",
	StructurePbind:       "PBIND",
	StructureEffectChain: "EFFECT_CHAIN",
	StructureEffectNode:  "EFFECT_NODE",
	StructureNodeGraph:   "NODE_GRAPH",
	StructureBus:         "BUS",
	StructureEnvelope:    "ENVELOPE",
	StructureControlRate: "CONTROL_RATE",
	StructureComposite:   "COMPOSITE",
	StructureCustom:      "CUSTOM",
}

// Valid reports whether t is one of the declared variants.
func (t StructureType) Valid() bool {
	return t >= 0 && int(t) < len(structureTypeNames)
}

func (t StructureType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("StructureType(%d)", int(t))
	}
	return structureTypeNames[t]
}

// AllowsEmpty reports whether a structure of this type may have no components.
func (t StructureType) AllowsEmpty() bool {
	return t == StructureCustom || t == StructureUnknown
}

// StructureTypes returns every variant in declaration order.
func StructureTypes() []StructureType {
	out := make([]StructureType, len(structureTypeNames))
	for i := range structureTypeNames {
		out[i] = StructureType(i)
	}
	return out
}

// ParseStructureType resolves a variant name such as "SYNTH_DEF".
func ParseStructureType(s string) (StructureType, error) {
	for i, name := range structureTypeNames {
		if name == s {
			return StructureType(i), nil
		}
	}
	return StructureUnknown, fmt.Errorf("unknown structure type %q", s)
}

// CodeType is the kind of code a CodeLevel produces.
type CodeType int

const (
	CodeUnknown CodeType = iota
	CodeSynth
	CodePattern
	CodeEffect
	CodeSequence
	CodeSynthDef
	CodeControl
	CodeRoutine
	CodeTask
	CodeServer
	CodeFunction
	CodeComposite
	CodeCustom
)

var codeTypeNames = [...]string{
	CodeUnknown:   "UNKNOWN",
	CodeSynth:     "SYNTH",
	CodePattern:   "PATTERN",
	CodeEffect:    "EFFECT",
	CodeSequence:  "SEQUENCE",
	CodeSynthDef:  "SYNTHDEF",
	CodeControl:   "CONTROL",
	CodeRoutine:   "ROUTINE",
	CodeTask:      "TASK",
	CodeServer:    "SERVER",
	CodeFunction:  "FUNCTION",
	CodeComposite: "COMPOSITE",
	CodeCustom:    "CUSTOM",
}

// Valid reports whether t is one of the declared variants.
func (t CodeType) Valid() bool {
	return t >= 0 && int(t) < len(codeTypeNames)
}

func (t CodeType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("CodeType(%d)", int(t))
	}
	return codeTypeNames[t]
}

// ParseCodeType resolves a variant name such as "SYNTH".
func ParseCodeType(s string) (CodeType, error) {
	for i, name := range codeTypeNames {
		if name == s {
			return CodeType(i), nil
		}
	}
	return CodeUnknown, fmt.Errorf("unknown code type %q", s)
}
