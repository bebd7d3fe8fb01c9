package ir

// Version constants for the IR schema and the generator.
const (
	// IRVersion is the IR schema version.
	IRVersion = "1"

	// GeneratorVersion is the tonegen code generator version.
	GeneratorVersion = "0.1.0"
)
