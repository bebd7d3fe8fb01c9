// Package convert implements the three pure conversion stages of the IR
// pipeline:
//
//	IntentConverter    IntentLevel    -> ParameterLevel
//	ParameterConverter ParameterLevel -> StructureLevel
//	CodeConverter      StructureLevel -> CodeLevel
//
// Every stage validates its input, computes its output without side effects
// and validates the output. Any failure is returned as a *ConversionError
// naming both levels and wrapping the cause.
//
// Converters are safe for concurrent use; their registries are fixed at
// construction.
package convert
