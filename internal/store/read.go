package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/tonegen/internal/pattern"
)

const patternColumns = `id, name, pattern_type, content_id, source_code, compiled_code, metadata,
	compilation_time, created_at, last_used_at`

// GetByID returns the pattern with the given content_id. Results are served
// from the front cache when present; a database read also refreshes the
// row's last-used time.
func (s *Store) GetByID(ctx context.Context, contentID string) (*pattern.PrecompiledPattern, error) {
	if p, ok := s.cache.Get(contentID); ok {
		s.cacheHits.Add(1)
		return p.Clone(), nil
	}
	s.cacheMisses.Add(1)
	gen := s.cacheGen()

	s.reads.Add(1)
	row := s.db.QueryRowContext(ctx, `
		SELECT `+patternColumns+`
		FROM patterns
		WHERE content_id = ?
	`, contentID)
	p, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", contentID, ErrNotFound)
	}
	if err != nil {
		return nil, translate("get", "", "", err)
	}

	if err := s.touch(ctx, p); err != nil {
		return nil, err
	}
	s.fill(gen, p)
	return p, nil
}

// FindByName returns the most recently used pattern named name. An empty
// patternType matches any type. The result also refreshes the front cache.
func (s *Store) FindByName(ctx context.Context, name, patternType string) (*pattern.PrecompiledPattern, error) {
	query := `SELECT ` + patternColumns + ` FROM patterns WHERE name = ?`
	args := []any{name}
	if patternType != "" {
		query += ` AND pattern_type = ?`
		args = append(args, patternType)
	}
	query += ` ORDER BY last_used_at DESC NULLS LAST, created_at DESC LIMIT 1`
	gen := s.cacheGen()

	s.reads.Add(1)
	p, err := scanPattern(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, translate("find by name", name, patternType, err)
	}

	if err := s.touch(ctx, p); err != nil {
		return nil, err
	}
	s.fill(gen, p)
	return p, nil
}

// FindByType returns every pattern of a type, ordered by name, and marks
// them used. It issues exactly one SELECT and at most one UPDATE, in a
// single transaction, however many rows match.
func (s *Store) FindByType(ctx context.Context, patternType string) ([]*pattern.PrecompiledPattern, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StorageError{Op: "find by type", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	s.reads.Add(1)
	rows, err := tx.QueryContext(ctx, `
		SELECT `+patternColumns+`
		FROM patterns
		WHERE pattern_type = ?
		ORDER BY name ASC, content_id ASC
	`, patternType)
	if err != nil {
		return nil, translate("find by type", "", patternType, err)
	}
	patterns, err := collect(rows)
	if err != nil {
		return nil, translate("find by type", "", patternType, err)
	}

	if len(patterns) > 0 {
		now := s.now()
		s.writes.Add(1)
		if _, err := tx.ExecContext(ctx, `
			UPDATE patterns SET last_used_at = ? WHERE pattern_type = ?
		`, encodeTime(now), patternType); err != nil {
			return nil, translate("find by type", "", patternType, err)
		}
		ids := make([]string, len(patterns))
		for i, p := range patterns {
			p.LastUsedAt = now
			ids[i] = p.ContentID
		}
		s.invalidate(ids...)
	}

	if err := tx.Commit(); err != nil {
		return nil, translate("find by type", "", patternType, err)
	}
	return patterns, nil
}

// List returns every stored pattern ordered by type then name. It does not
// touch last-used times.
func (s *Store) List(ctx context.Context) ([]*pattern.PrecompiledPattern, error) {
	s.reads.Add(1)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+patternColumns+`
		FROM patterns
		ORDER BY pattern_type ASC, name ASC
	`)
	if err != nil {
		return nil, translate("list", "", "", err)
	}
	patterns, err := collect(rows)
	if err != nil {
		return nil, translate("list", "", "", err)
	}
	return patterns, nil
}

// Count returns the number of stored patterns.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	s.reads.Add(1)
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM patterns`).Scan(&n); err != nil {
		return 0, translate("count", "", "", err)
	}
	return n, nil
}

// CountByType returns the number of stored patterns per pattern type.
func (s *Store) CountByType(ctx context.Context) (map[string]int, error) {
	s.reads.Add(1)
	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern_type, COUNT(*) FROM patterns GROUP BY pattern_type
	`)
	if err != nil {
		return nil, translate("count by type", "", "", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, translate("count by type", "", "", err)
		}
		counts[t] = n
	}
	if err := rows.Err(); err != nil {
		return nil, translate("count by type", "", "", err)
	}
	return counts, nil
}

// touch records a read of p.
func (s *Store) touch(ctx context.Context, p *pattern.PrecompiledPattern) error {
	now := s.now()
	s.writes.Add(1)
	if _, err := s.db.ExecContext(ctx, `
		UPDATE patterns SET last_used_at = ? WHERE content_id = ?
	`, encodeTime(now), p.ContentID); err != nil {
		return translate("touch", p.Name, p.PatternType, err)
	}
	p.LastUsedAt = now
	return nil
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPattern(row scanner) (*pattern.PrecompiledPattern, error) {
	var (
		p        pattern.PrecompiledPattern
		md       string
		compiled int64
		created  int64
		lastUsed sql.NullInt64
	)
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.PatternType,
		&p.ContentID,
		&p.SourceCode,
		&p.CompiledCode,
		&md,
		&compiled,
		&created,
		&lastUsed,
	)
	if err != nil {
		return nil, err
	}
	if p.Metadata, err = unmarshalMetadata(md); err != nil {
		return nil, err
	}
	p.CompiledAt = decodeTime(compiled)
	p.CreatedAt = decodeTime(created)
	p.LastUsedAt = decodeNullTime(lastUsed)
	return &p, nil
}

func collect(rows *sql.Rows) ([]*pattern.PrecompiledPattern, error) {
	defer rows.Close()

	patterns := []*pattern.PrecompiledPattern{}
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patterns: %w", err)
	}
	return patterns, nil
}
