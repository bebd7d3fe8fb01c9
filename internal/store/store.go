package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/roach88/tonegen/internal/pattern"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on patterns.pattern_type for bulk lookups
const currentSchemaVersion = 1

// DefaultCacheSize bounds the front cache when no size is given.
const DefaultCacheSize = 100

// Store provides durable storage for precompiled patterns.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db     *sql.DB
	cache  *lru.Cache[string, *pattern.PrecompiledPattern]
	now    func() time.Time
	logger *zap.Logger

	cacheSize int

	// cacheMu orders front cache fills against invalidations. gen counts
	// invalidations; a fill read before the latest one is dropped.
	cacheMu sync.Mutex
	gen     uint64

	reads       atomic.Uint64
	writes      atomic.Uint64
	cacheHits   atomic.Uint64
	cacheMisses atomic.Uint64
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source for created_at and last_used_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithCacheSize bounds the in-process cache fronting GetByID.
func WithCacheSize(n int) Option {
	return func(s *Store) { s.cacheSize = n }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{now: time.Now, logger: zap.NewNop(), cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(s)
	}
	if s.cacheSize <= 0 {
		s.cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *pattern.PrecompiledPattern](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create pattern cache: %w", err)
	}
	s.cache = cache

	// Open database (creates file if doesn't exist)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection works
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time. Every write runs in an
	// explicit transaction that owns this single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s.db = db
	s.logger.Debug("pattern store opened", zap.String("path", path), zap.Int("cache_size", s.cacheSize))
	return s, nil
}

// Close closes the database connection.
// Should be called when the store is no longer needed.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// BeginTx starts a transaction for use with SaveTx. The caller owns it and
// must commit or roll back.
//
// The store holds a single database connection and the transaction owns it.
// Until the transaction ends, every other Store method blocks until its
// context is done; inside the transaction use SaveTx or tx directly.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StorageError{Op: "begin", Err: err}
	}
	return tx, nil
}

// EvictCache drops every entry from the in-process cache. The durable table
// is untouched.
func (s *Store) EvictCache() {
	n := s.purgeCache()
	s.logger.Debug("pattern cache evicted", zap.Int("entries", n))
}

// cacheGen returns the invalidation generation. Take it before reading a
// row that will be passed to fill.
func (s *Store) cacheGen() uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.gen
}

// fill caches p unless an invalidation happened since gen was taken.
func (s *Store) fill(gen uint64, p *pattern.PrecompiledPattern) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.gen == gen {
		s.cache.Add(p.ContentID, p.Clone())
	}
}

func (s *Store) invalidate(contentIDs ...string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gen++
	for _, id := range contentIDs {
		s.cache.Remove(id)
	}
}

func (s *Store) purgeCache() int {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gen++
	n := s.cache.Len()
	s.cache.Purge()
	return n
}

// Stats counts database round trips and front-cache activity.
type Stats struct {
	Reads         uint64 `json:"reads" yaml:"reads"`
	Writes        uint64 `json:"writes" yaml:"writes"`
	CacheHits     uint64 `json:"cache_hits" yaml:"cache_hits"`
	CacheMisses   uint64 `json:"cache_misses" yaml:"cache_misses"`
	CacheLen      int    `json:"cache_len" yaml:"cache_len"`
	CacheCapacity int    `json:"cache_capacity" yaml:"cache_capacity"`
}

// Stats returns the current counters.
func (s *Store) Stats() Stats {
	return Stats{
		Reads:         s.reads.Load(),
		Writes:        s.writes.Load(),
		CacheHits:     s.cacheHits.Load(),
		CacheMisses:   s.cacheMisses.Load(),
		CacheLen:      s.cache.Len(),
		CacheCapacity: s.cacheSize,
	}
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes pattern_type so FindByType is a single indexed scan.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_patterns_type
		ON patterns(pattern_type)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
