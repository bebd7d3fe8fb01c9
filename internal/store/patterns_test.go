package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tonegen/internal/ir"
	"github.com/roach88/tonegen/internal/pattern"
	"github.com/roach88/tonegen/internal/testutil"
)

const reverbSource = `{ |in| FreeVerb.ar(In.ar(in, 2), 0.33, 0.5, 0.5) }`

func TestSave_CompileTwiceLeavesOneRow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := compileTestPattern(t, "reverb", pattern.TypeEffect, reverbSource)
	second := compileTestPattern(t, "reverb", pattern.TypeEffect, reverbSource)
	require.Equal(t, first.ContentID, second.ContentID)
	require.Equal(t, first.CompiledCode, second.CompiledCode)

	a, err := s.Save(ctx, first)
	require.NoError(t, err)
	b, err := s.Save(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, 1, rowCount(t, s, first.ContentID))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSave_AssignsIDAndTimes(t *testing.T) {
	s, clock := createClockedStore(t)
	ctx := context.Background()
	p := compileTestPattern(t, "reverb", pattern.TypeEffect, reverbSource)

	saved, err := s.Save(ctx, p)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.True(t, saved.CreatedAt.Equal(testutil.Epoch))
	assert.True(t, saved.LastUsedAt.IsZero())
	assert.Empty(t, p.ID, "input is not mutated")

	clock.Advance(time.Hour)
	again, err := s.Save(ctx, p)
	require.NoError(t, err)
	assert.True(t, again.CreatedAt.Equal(testutil.Epoch))
	assert.True(t, again.LastUsedAt.Equal(testutil.Epoch.Add(time.Hour)))
}

func TestSave_Conflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, compileTestPattern(t, "reverb", pattern.TypeEffect, reverbSource))
	require.NoError(t, err)

	_, err = s.Save(ctx, compileTestPattern(t, "reverb", pattern.TypeEffect, "FreeVerb.ar(in, 1)"))
	var ce *ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "reverb", ce.Name)
	assert.Equal(t, pattern.TypeEffect, ce.PatternType)
	assert.True(t, IsConflict(err))

	// Same name under a different type is a different pattern.
	_, err = s.Save(ctx, compileTestPattern(t, "reverb", pattern.TypeSynthDef, "FreeVerb.ar(in, 1)"))
	assert.NoError(t, err)
}

func TestSave_RejectsIncompletePattern(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Save(context.Background(), &pattern.PrecompiledPattern{Name: "x"})
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "save", se.Op)
}

func TestSaveTx_RollbackLeavesNoRow(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	p := compileTestPattern(t, "reverb", pattern.TypeEffect, reverbSource)

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	_, err = s.SaveTx(ctx, tx, p)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	_, err = s.GetByID(ctx, p.ContentID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveTx_SeveralWritesCommitTogether(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	for i := range 3 {
		p := compileTestPattern(t, fmt.Sprintf("p%d", i), pattern.TypePattern, fmt.Sprintf("Pseq([%d])", i))
		_, err := s.SaveTx(ctx, tx, p)
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestReplace(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	old := compileTestPattern(t, "reverb", pattern.TypeEffect, reverbSource)
	_, err := s.Save(ctx, old)
	require.NoError(t, err)
	_, err = s.GetByID(ctx, old.ContentID)
	require.NoError(t, err)

	next := compileTestPattern(t, "reverb", pattern.TypeEffect, "FreeVerb.ar(in, 1)")
	_, err = s.Replace(ctx, next)
	require.NoError(t, err)

	_, err = s.GetByID(ctx, old.ContentID)
	assert.ErrorIs(t, err, ErrNotFound, "replaced pattern must not be served from cache")

	got, err := s.FindByName(ctx, "reverb", pattern.TypeEffect)
	require.NoError(t, err)
	assert.Equal(t, next.ContentID, got.ContentID)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetByID_FrontCache(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	p := compileTestPattern(t, "reverb", pattern.TypeEffect, reverbSource)
	_, err := s.Save(ctx, p)
	require.NoError(t, err)

	got, err := s.GetByID(ctx, p.ContentID)
	require.NoError(t, err)
	assert.Equal(t, p.CompiledCode, got.CompiledCode)
	assert.Equal(t, p.Metadata, got.Metadata)
	assert.False(t, got.LastUsedAt.IsZero())

	_, err = s.GetByID(ctx, p.ContentID)
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, uint64(1), stats.CacheHits)
	assert.Equal(t, uint64(1), stats.CacheMisses)
	assert.Equal(t, 1, stats.CacheLen)

	// Saving invalidates the entry.
	_, err = s.Save(ctx, p)
	require.NoError(t, err)
	_, err = s.GetByID(ctx, p.ContentID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.Stats().CacheMisses)
}

func TestGetByID_ReturnsCopies(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	p := compileTestPattern(t, "reverb", pattern.TypeEffect, reverbSource)
	_, err := s.Save(ctx, p)
	require.NoError(t, err)

	a, err := s.GetByID(ctx, p.ContentID)
	require.NoError(t, err)
	a.Metadata["category"] = ir.IRString("mutated")

	b, err := s.GetByID(ctx, p.ContentID)
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("test"), b.Metadata["category"])
}

func TestGetByID_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetByID(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}

func TestEvictCache(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	p := compileTestPattern(t, "reverb", pattern.TypeEffect, reverbSource)
	_, err := s.Save(ctx, p)
	require.NoError(t, err)
	_, err = s.GetByID(ctx, p.ContentID)
	require.NoError(t, err)
	require.Equal(t, 1, s.Stats().CacheLen)

	s.EvictCache()
	assert.Equal(t, 0, s.Stats().CacheLen)

	// The durable row survives eviction.
	_, err = s.GetByID(ctx, p.ContentID)
	assert.NoError(t, err)
}

func TestFindByName_MostRecentlyUsed(t *testing.T) {
	s, clock := createClockedStore(t)
	ctx := context.Background()

	synth := compileTestPattern(t, "sine", pattern.TypeSynthDef, "SinOsc.ar(440)")
	pat := compileTestPattern(t, "sine", pattern.TypePattern, "Pbind(\\freq, 440)")
	_, err := s.Save(ctx, synth)
	require.NoError(t, err)
	_, err = s.Save(ctx, pat)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = s.GetByID(ctx, pat.ContentID)
	require.NoError(t, err)

	got, err := s.FindByName(ctx, "sine", "")
	require.NoError(t, err)
	assert.Equal(t, pat.ContentID, got.ContentID)

	got, err = s.FindByName(ctx, "sine", pattern.TypeSynthDef)
	require.NoError(t, err)
	assert.Equal(t, synth.ContentID, got.ContentID)

	_, err = s.FindByName(ctx, "saw", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindByType_SingleBulkRead(t *testing.T) {
	s, clock := createClockedStore(t)
	ctx := context.Background()

	for i := range 5 {
		_, err := s.Save(ctx, compileTestPattern(t, fmt.Sprintf("effect%d", i), pattern.TypeEffect, fmt.Sprintf("FreeVerb.ar(in, 0.%d)", i)))
		require.NoError(t, err)
	}
	for i := range 2 {
		_, err := s.Save(ctx, compileTestPattern(t, fmt.Sprintf("synth%d", i), pattern.TypeSynthDef, fmt.Sprintf("SinOsc.ar(%d)", 100+i)))
		require.NoError(t, err)
	}

	clock.Advance(time.Hour)
	before := s.Stats()
	got, err := s.FindByType(ctx, pattern.TypeEffect)
	require.NoError(t, err)
	after := s.Stats()

	require.Len(t, got, 5)
	assert.Equal(t, uint64(1), after.Reads-before.Reads, "one bulk read")
	assert.Equal(t, uint64(1), after.Writes-before.Writes, "one bulk touch")
	for i, p := range got {
		assert.Equal(t, fmt.Sprintf("effect%d", i), p.Name)
		assert.True(t, p.LastUsedAt.Equal(testutil.Epoch.Add(time.Hour)))
	}

	none, err := s.FindByType(ctx, "ambient")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	p := compileTestPattern(t, "reverb", pattern.TypeEffect, reverbSource)
	_, err := s.Save(ctx, p)
	require.NoError(t, err)
	_, err = s.GetByID(ctx, p.ContentID)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, p.ContentID))
	_, err = s.GetByID(ctx, p.ContentID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.Delete(ctx, p.ContentID), ErrNotFound)
}

func TestDeleteUnusedOlderThan(t *testing.T) {
	s, clock := createClockedStore(t)
	ctx := context.Background()

	used := compileTestPattern(t, "used", pattern.TypeEffect, "FreeVerb.ar(in, 0.1)")
	idle := compileTestPattern(t, "idle", pattern.TypeEffect, "FreeVerb.ar(in, 0.2)")
	_, err := s.Save(ctx, used)
	require.NoError(t, err)
	_, err = s.Save(ctx, idle)
	require.NoError(t, err)

	clock.Advance(10 * 24 * time.Hour)
	_, err = s.GetByID(ctx, used.ContentID)
	require.NoError(t, err)

	clock.Advance(25 * 24 * time.Hour)
	n, err := s.DeleteUnusedOlderThan(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 0, s.Stats().CacheLen)

	_, err = s.GetByID(ctx, idle.ContentID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetByID(ctx, used.ContentID)
	assert.NoError(t, err)

	_, err = s.DeleteUnusedOlderThan(ctx, -1)
	assert.Error(t, err)
}

func TestCountByType(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	_, err := s.Save(ctx, compileTestPattern(t, "a", pattern.TypeEffect, "FreeVerb.ar(in, 0.1)"))
	require.NoError(t, err)
	_, err = s.Save(ctx, compileTestPattern(t, "b", pattern.TypeEffect, "FreeVerb.ar(in, 0.2)"))
	require.NoError(t, err)
	_, err = s.Save(ctx, compileTestPattern(t, "c", pattern.TypePattern, "Pseq([1])"))
	require.NoError(t, err)

	counts, err := s.CountByType(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{pattern.TypeEffect: 2, pattern.TypePattern: 1}, counts)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Name)
	assert.Equal(t, "c", all[2].Name)
}

func TestConcurrentSavesOfSamePattern(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	p := compileTestPattern(t, "reverb", pattern.TypeEffect, reverbSource)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Save(ctx, p)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, rowCount(t, s, p.ContentID))
}

func TestSave_SameSourceKeepsStoredName(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	alpha := compileTestPattern(t, "alpha", pattern.TypeEffect, reverbSource)
	beta := compileTestPattern(t, "beta", pattern.TypeEffect, reverbSource)
	require.Equal(t, alpha.ContentID, beta.ContentID)

	first, err := s.Save(ctx, alpha)
	require.NoError(t, err)
	second, err := s.Save(ctx, beta)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "alpha", second.Name)
	assert.Equal(t, pattern.TypeEffect, second.PatternType)

	got, err := s.FindByName(ctx, second.Name, second.PatternType)
	require.NoError(t, err)
	assert.Equal(t, alpha.ContentID, got.ContentID)

	_, err = s.FindByName(ctx, "beta", pattern.TypeEffect)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, rowCount(t, s, alpha.ContentID))
}

func TestGetByID_SaveDuringReadIsNotCached(t *testing.T) {
	clock := testutil.NewManualClock(time.Time{})
	var during func()
	now := func() time.Time {
		if f := during; f != nil {
			during = nil
			f()
		}
		return clock.Now()
	}
	s := createTestStore(t, WithClock(now))
	ctx := context.Background()

	p := compileTestPattern(t, "reverb", pattern.TypeEffect, reverbSource)
	_, err := s.Save(ctx, p)
	require.NoError(t, err)

	updated := p.Clone()
	updated.Metadata["category"] = ir.IRString("updated")

	// GetByID consults the clock after its SELECT and before it fills the
	// cache; a save committed there must not leave the old row cached.
	during = func() {
		_, err := s.Save(ctx, updated)
		require.NoError(t, err)
	}
	stale, err := s.GetByID(ctx, p.ContentID)
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("test"), stale.Metadata["category"])
	assert.Equal(t, 0, s.Stats().CacheLen)

	fresh, err := s.GetByID(ctx, p.ContentID)
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("updated"), fresh.Metadata["category"])
	assert.Equal(t, 1, s.Stats().CacheLen)
}

func TestFill_DroppedAfterInvalidation(t *testing.T) {
	s := createTestStore(t)
	p := compileTestPattern(t, "reverb", pattern.TypeEffect, reverbSource)

	gen := s.cacheGen()
	s.invalidate(p.ContentID)
	s.fill(gen, p)
	assert.Equal(t, 0, s.Stats().CacheLen)

	s.fill(s.cacheGen(), p)
	assert.Equal(t, 1, s.Stats().CacheLen)

	gen = s.cacheGen()
	s.EvictCache()
	s.fill(gen, p)
	assert.Equal(t, 0, s.Stats().CacheLen)
}

func TestFindByName_FillsFrontCache(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	p := compileTestPattern(t, "reverb", pattern.TypeEffect, reverbSource)
	_, err := s.Save(ctx, p)
	require.NoError(t, err)

	_, err = s.FindByName(ctx, "reverb", pattern.TypeEffect)
	require.NoError(t, err)
	require.Equal(t, 1, s.Stats().CacheLen)

	reads := s.Stats().Reads
	got, err := s.GetByID(ctx, p.ContentID)
	require.NoError(t, err)
	assert.Equal(t, p.CompiledCode, got.CompiledCode)
	assert.Equal(t, reads, s.Stats().Reads)
	assert.Equal(t, uint64(1), s.Stats().CacheHits)
}

func TestBeginTx_HoldsTheConnection(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	p := compileTestPattern(t, "reverb", pattern.TypeEffect, reverbSource)

	tx, err := s.BeginTx(ctx)
	require.NoError(t, err)
	_, err = s.SaveTx(ctx, tx, p)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = s.Count(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, tx.Commit())
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
