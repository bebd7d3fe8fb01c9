package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roach88/tonegen/internal/pattern"
)

// Save upserts a compiled pattern in its own transaction. It returns the
// stored row, with ID and CreatedAt filled in.
//
// A pattern whose content_id is already stored updates that row's compiled
// code, metadata and last-used time; it never adds a second row, and the
// returned pattern carries the stored name and type. A new
// content_id under an existing (name, pattern_type) fails with a
// ConflictError; use Replace to supersede a pattern.
func (s *Store) Save(ctx context.Context, p *pattern.PrecompiledPattern) (*pattern.PrecompiledPattern, error) {
	return s.inTx(ctx, "save", p, func(tx *sql.Tx) (*pattern.PrecompiledPattern, error) {
		return s.SaveTx(ctx, tx, p)
	})
}

// SaveTx is Save inside a caller-owned transaction.
func (s *Store) SaveTx(ctx context.Context, tx *sql.Tx, p *pattern.PrecompiledPattern) (*pattern.PrecompiledPattern, error) {
	if err := validatePattern(p); err != nil {
		return nil, err
	}
	md, err := marshalMetadata(p.Metadata)
	if err != nil {
		return nil, &StorageError{Op: "save", Err: err}
	}
	now := s.now()
	saved := p.Clone()

	var (
		id, name, patternType string
		created               int64
	)
	s.reads.Add(1)
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, pattern_type, created_at FROM patterns WHERE content_id = ?
	`, p.ContentID).Scan(&id, &name, &patternType, &created)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		rowID, err := uuid.NewV7()
		if err != nil {
			return nil, &StorageError{Op: "save", Err: fmt.Errorf("generate id: %w", err)}
		}
		saved.ID = rowID.String()
		saved.CreatedAt = now
		saved.LastUsedAt = time.Time{}
		s.writes.Add(1)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO patterns
			(id, name, pattern_type, content_id, source_code, compiled_code, metadata, compilation_time, created_at, last_used_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		`,
			saved.ID,
			p.Name,
			p.PatternType,
			p.ContentID,
			p.SourceCode,
			p.CompiledCode,
			md,
			encodeTime(p.CompiledAt),
			encodeTime(now),
		)
		if err != nil {
			return nil, translate("save", p.Name, p.PatternType, err)
		}

	case err != nil:
		return nil, translate("save", p.Name, p.PatternType, err)

	default:
		saved.ID = id
		saved.Name = name
		saved.PatternType = patternType
		saved.CreatedAt = decodeTime(created)
		saved.LastUsedAt = now
		s.writes.Add(1)
		_, err = tx.ExecContext(ctx, `
			UPDATE patterns
			SET compiled_code = ?, metadata = ?, compilation_time = ?, last_used_at = ?
			WHERE content_id = ?
		`,
			p.CompiledCode,
			md,
			encodeTime(p.CompiledAt),
			encodeTime(now),
			p.ContentID,
		)
		if err != nil {
			return nil, translate("save", p.Name, p.PatternType, err)
		}
	}

	s.invalidate(p.ContentID)
	return saved, nil
}

// Replace deletes the pattern stored under p's (name, pattern_type), if any,
// and saves p, in one transaction.
func (s *Store) Replace(ctx context.Context, p *pattern.PrecompiledPattern) (*pattern.PrecompiledPattern, error) {
	if err := validatePattern(p); err != nil {
		return nil, err
	}
	return s.inTx(ctx, "replace", p, func(tx *sql.Tx) (*pattern.PrecompiledPattern, error) {
		s.writes.Add(1)
		rows, err := tx.QueryContext(ctx, `
			DELETE FROM patterns WHERE name = ? AND pattern_type = ?
			RETURNING content_id
		`, p.Name, p.PatternType)
		if err != nil {
			return nil, translate("replace", p.Name, p.PatternType, err)
		}
		var removed []string
		for rows.Next() {
			var cid string
			if err := rows.Scan(&cid); err != nil {
				rows.Close()
				return nil, translate("replace", p.Name, p.PatternType, err)
			}
			removed = append(removed, cid)
		}
		if err := rows.Close(); err != nil {
			return nil, translate("replace", p.Name, p.PatternType, err)
		}
		s.invalidate(removed...)
		return s.SaveTx(ctx, tx, p)
	})
}

// Delete removes a pattern by content_id.
func (s *Store) Delete(ctx context.Context, contentID string) error {
	s.writes.Add(1)
	res, err := s.db.ExecContext(ctx, `DELETE FROM patterns WHERE content_id = ?`, contentID)
	if err != nil {
		return translate("delete", "", "", err)
	}
	s.invalidate(contentID)
	n, err := res.RowsAffected()
	if err != nil {
		return translate("delete", "", "", err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s: %w", contentID, ErrNotFound)
	}
	s.logger.Debug("pattern deleted", zap.String("content_id", contentID))
	return nil
}

// DeleteUnusedOlderThan removes patterns not used in the last days days.
// Patterns never read count from their creation time. Returns the number
// of rows removed.
func (s *Store) DeleteUnusedOlderThan(ctx context.Context, days int) (int64, error) {
	if days < 0 {
		return 0, fmt.Errorf("delete unused: days must be non-negative, got %d", days)
	}
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	s.writes.Add(1)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM patterns
		WHERE COALESCE(last_used_at, created_at) < ?
	`, encodeTime(cutoff))
	if err != nil {
		return 0, translate("delete unused", "", "", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, translate("delete unused", "", "", err)
	}
	if n > 0 {
		s.purgeCache()
	}
	s.logger.Info("unused patterns removed", zap.Int64("rows", n), zap.Int("days", days))
	return n, nil
}

// inTx runs fn in a fresh transaction: commit on success, rollback on error.
func (s *Store) inTx(ctx context.Context, op string, p *pattern.PrecompiledPattern,
	fn func(*sql.Tx) (*pattern.PrecompiledPattern, error)) (*pattern.PrecompiledPattern, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	saved, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, translate(op, p.Name, p.PatternType, err)
	}
	s.invalidate(p.ContentID)
	s.logger.Debug("pattern saved",
		zap.String("op", op),
		zap.String("pattern", p.Name),
		zap.String("type", p.PatternType),
		zap.String("content_id", p.ContentID))
	return saved, nil
}

func validatePattern(p *pattern.PrecompiledPattern) error {
	switch {
	case p == nil:
		return &StorageError{Op: "save", Err: errors.New("nil pattern")}
	case p.Name == "", p.PatternType == "", p.ContentID == "":
		return &StorageError{Op: "save", Err: errors.New("name, pattern type and content id are required")}
	}
	return nil
}
