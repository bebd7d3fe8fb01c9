// Package ir provides the staged intermediate representation used by tonegen.
//
// An instruction is refined through four levels:
//
//	IntentLevel -> ParameterLevel -> StructureLevel -> CodeLevel
//
// Every level validates itself, caches the result until it is mutated, and
// round-trips through a generic structured form (IRObject) without loss.
// CodeLevel additionally renders SuperCollider source text.
//
// This package imports nothing internal. Key constraints:
//   - Values are the sealed IRValue sum type; floats must be finite
//   - Canonical encoding (MarshalCanonical) is the only input to cache keys
//     and content IDs
//   - All structured keys use snake_case
package ir
