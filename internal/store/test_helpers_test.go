package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/roach88/tonegen/internal/ir"
	"github.com/roach88/tonegen/internal/pattern"
	"github.com/roach88/tonegen/internal/testutil"
)

// createTestStore creates a new store in a temp dir for testing.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createClockedStore creates a store whose times come from a manual clock.
func createClockedStore(t *testing.T) (*Store, *testutil.ManualClock) {
	t.Helper()
	clock := testutil.NewManualClock(time.Time{})
	return createTestStore(t, WithClock(clock.Now)), clock
}

// compileTestPattern compiles a pattern with fixed metadata.
func compileTestPattern(t *testing.T, name, patternType, source string) *pattern.PrecompiledPattern {
	t.Helper()
	p, err := pattern.NewCompiler().Compile(context.Background(), name, patternType, source,
		ir.IRObject{"category": ir.IRString("test"), "gain": ir.IRFloat(0.5)})
	if err != nil {
		t.Fatalf("Compile() failed: %v", err)
	}
	return p
}

func rowCount(t *testing.T, s *Store, contentID string) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM patterns WHERE content_id = ?", contentID).Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}
