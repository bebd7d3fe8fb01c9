package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roach88/tonegen/internal/ir"
	"github.com/roach88/tonegen/internal/pattern"
	"github.com/roach88/tonegen/internal/store"
)

func newTestCatalog(t *testing.T, opts ...Option) (*Catalog, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "catalog.db"), store.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	c, err := New(s, opts...)
	require.NoError(t, err)
	return c, s
}

func TestParseDefinitions_Builtin(t *testing.T) {
	version, defs, err := ParseDefinitions(BuiltinFilename, builtinSource)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)
	require.Len(t, defs, 10)

	keys := make([]string, len(defs))
	for i, d := range defs {
		keys[i] = d.Key
	}
	assert.Equal(t, []string{
		"basic_sequence", "delay", "rain", "random_sequence", "reverb",
		"saw", "sine", "square", "triangle", "wind",
	}, keys)

	sine := defs[6]
	assert.Equal(t, "basic_sine", sine.Name)
	assert.Equal(t, pattern.TypeSynthDef, sine.PatternType)
	assert.Equal(t, "basicSine", sine.SynthName)
	assert.True(t, sine.HasParameter("freq"))
	assert.False(t, sine.HasParameter("width"))
	assert.Contains(t, sine.Source, `SynthDef(\basicSine`)

	// Patterns without synth or parameters take the schema defaults.
	seq := defs[0]
	assert.Empty(t, seq.SynthName)
	assert.Empty(t, seq.Parameters)
}

func TestParseDefinitions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax error", `version: "1"` + "\npatterns: {"},
		{"missing version", `patterns: a: {name: "a", pattern_type: "effect", category: "effect", description: "", source: "x"}`},
		{"bad pattern type", `version: "1"
#Pattern: {name: string, pattern_type: "synth_def" | "effect" | "pattern", category: string, description: string, source: string}
patterns: [string]: #Pattern
patterns: a: {name: "a", pattern_type: "bogus", category: "effect", description: "", source: "x"}`},
		{"incomplete", `version: "1"
patterns: a: {name: string, pattern_type: "effect", category: "effect", description: "", source: "x"}`},
		{"no patterns", `version: "1"`},
		{"duplicate name", `version: "1"
patterns: a: {name: "x", pattern_type: "effect", category: "effect", description: "", source: "x"}
patterns: b: {name: "x", pattern_type: "effect", category: "effect", description: "", source: "y"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseDefinitions("bad.cue", []byte(tt.src))
			require.Error(t, err)
		})
	}
}

func TestParseDefinitions_DuplicateHasPosition(t *testing.T) {
	src := `version: "1"
patterns: a: {name: "x", pattern_type: "effect", category: "effect", description: "", source: "x"}
patterns: b: {name: "x", pattern_type: "effect", category: "effect", description: "", source: "y"}`
	_, _, err := ParseDefinitions("dup.cue", []byte(src))

	var defErr *DefinitionError
	require.ErrorAs(t, err, &defErr)
	assert.Equal(t, "patterns.b.name", defErr.Field)
	assert.Contains(t, defErr.Error(), "already used by a")
}

func TestInitialize_Idempotent(t *testing.T) {
	c, s := newTestCatalog(t)
	ctx := context.Background()

	first, err := c.Initialize(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", first.Version)
	assert.Equal(t, 10, first.Total)
	assert.Equal(t, 10, first.Succeeded)
	assert.Zero(t, first.Failed)
	for _, e := range first.Entries {
		assert.Equal(t, StatusCompiled, e.Status, e.Key)
		assert.Len(t, e.ContentID, 64, e.Key)
	}

	second, err := c.Initialize(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 10, second.Succeeded)
	for i, e := range second.Entries {
		assert.Equal(t, StatusExisting, e.Status, e.Key)
		assert.Equal(t, first.Entries[i].ContentID, e.ContentID, e.Key)
	}

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestInitialize_ForceRecompiles(t *testing.T) {
	c, s := newTestCatalog(t)
	ctx := context.Background()

	_, err := c.Initialize(ctx, false)
	require.NoError(t, err)

	forced, err := c.Initialize(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 10, forced.Succeeded)
	for _, e := range forced.Entries {
		assert.Equal(t, StatusCompiled, e.Status, e.Key)
	}

	byType, err := s.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		pattern.TypeSynthDef: 6,
		pattern.TypeEffect:   2,
		pattern.TypePattern:  2,
	}, byType)
}

func TestInitialize_ChangedSourceReplaces(t *testing.T) {
	v1 := `version: "1"
patterns: tone: {name: "tone", pattern_type: "synth_def", category: "basic_waveform", description: "", source: "SinOsc.ar(440)"}`
	v2 := `version: "2"
patterns: tone: {name: "tone", pattern_type: "synth_def", category: "basic_waveform", description: "", source: "SinOsc.ar(880)"}`

	c1, s := newTestCatalog(t, WithSource("v1.cue", []byte(v1)))
	ctx := context.Background()
	r1, err := c1.Initialize(ctx, false)
	require.NoError(t, err)

	c2, err := New(s, WithSource("v2.cue", []byte(v2)))
	require.NoError(t, err)
	r2, err := c2.Initialize(ctx, false)
	require.NoError(t, err)

	require.Len(t, r2.Entries, 1)
	assert.Equal(t, StatusCompiled, r2.Entries[0].Status)
	assert.NotEqual(t, r1.Entries[0].ContentID, r2.Entries[0].ContentID)

	got, err := s.FindByName(ctx, "tone", pattern.TypeSynthDef)
	require.NoError(t, err)
	assert.Equal(t, r2.Entries[0].ContentID, got.ContentID)
	assert.Contains(t, got.CompiledCode, "880")

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInitialize_RecordsFailures(t *testing.T) {
	// Every entry compiles, so failures come from the store.
	c, s := newTestCatalog(t)
	require.NoError(t, s.Close())

	report, err := c.Initialize(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Failed)
	assert.Zero(t, report.Succeeded)
	for _, e := range report.Entries {
		assert.Equal(t, StatusFailed, e.Status)
		assert.NotEmpty(t, e.Error)
	}
}

func TestInitialize_CancelledContext(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := c.Initialize(ctx, false)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Entries)
}

func TestCatalog_Lookups(t *testing.T) {
	c, _ := newTestCatalog(t)

	d, ok := c.Entry("reverb")
	require.True(t, ok)
	assert.Equal(t, "basic_reverb", d.Name)
	assert.Equal(t, pattern.TypeEffect, d.PatternType)

	_, ok = c.Entry("missing")
	assert.False(t, ok)

	assert.Equal(t, []string{"ambient", "basic_waveform", "effect", "pattern"}, c.Categories())

	waves := c.ByCategory("basic_waveform")
	require.Len(t, waves, 4)
	assert.Equal(t, "saw", waves[0].Key)
	assert.Empty(t, c.ByCategory("nope"))

	// Returned slices are copies.
	d.Parameters[0] = "changed"
	again, _ := c.Entry("reverb")
	assert.Equal(t, "in", again.Parameters[0])
}

func TestCompiledPattern_LazyCompile(t *testing.T) {
	c, s := newTestCatalog(t)
	ctx := context.Background()

	p, err := c.CompiledPattern(ctx, "wind")
	require.NoError(t, err)
	assert.Equal(t, "wind", p.Name)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, ir.IRString("windSound"), p.Metadata["synth_name"])

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	again, err := c.CompiledPattern(ctx, "wind")
	require.NoError(t, err)
	assert.Equal(t, p.ContentID, again.ContentID)

	_, err = c.CompiledPattern(ctx, "nope")
	assert.True(t, store.IsNotFound(err))
}

func TestCatalog_Stats(t *testing.T) {
	c, _ := newTestCatalog(t)
	ctx := context.Background()

	before, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.False(t, before.Initialized)
	assert.Zero(t, before.Stored)
	assert.Equal(t, 10, before.Entries)
	assert.Equal(t, 2, before.ByCategory["ambient"])
	assert.Equal(t, 6, before.ByType[pattern.TypeSynthDef])

	_, err = c.Initialize(ctx, false)
	require.NoError(t, err)

	after, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.True(t, after.Initialized)
	assert.Equal(t, 10, after.Stored)
	assert.Equal(t, 2, after.StoredByType[pattern.TypeEffect])
	assert.Equal(t, 10, after.Compiler.TotalCompiled)
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
