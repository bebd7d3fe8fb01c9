// Package pattern compiles named, typed SuperCollider code templates into
// PrecompiledPatterns.
//
// Compilation is a deterministic textual pass. The same (type, source) pair
// always yields the same compiled code and the same ContentID, which the
// store uses as its primary identity.
package pattern

import (
	"time"

	"github.com/roach88/tonegen/internal/ir"
)

// Pattern types with a dedicated optimization pass. Other types compile to
// their source unchanged.
const (
	TypeSynthDef = "synth_def"
	TypePattern  = "pattern"
	TypeEffect   = "effect"
)

// PrecompiledPattern is a code template together with its compiled form.
type PrecompiledPattern struct {
	ID              string // row id assigned by the store; empty until saved
	Name            string
	PatternType     string
	SourceCode      string
	CompiledCode    string
	Metadata        ir.IRObject
	ContentID       string
	CompiledAt      time.Time
	CompileDuration time.Duration
	CreatedAt       time.Time
	LastUsedAt      time.Time // zero until first read through the store
}

// Clone returns a deep copy.
func (p *PrecompiledPattern) Clone() *PrecompiledPattern {
	if p == nil {
		return nil
	}
	c := *p
	c.Metadata = p.Metadata.Clone()
	return &c
}
