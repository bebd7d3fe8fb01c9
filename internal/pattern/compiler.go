package pattern

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/tonegen/internal/ir"
)

// CompilationError reports that a pattern could not be compiled.
type CompilationError struct {
	PatternName string
	Err         error
}

// Error implements the error interface.
func (e *CompilationError) Error() string {
	return fmt.Sprintf("compile pattern %q: %v", e.PatternName, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CompilationError) Unwrap() error {
	return e.Err
}

// IsCompilationError returns true if err wraps a CompilationError.
func IsCompilationError(err error) bool {
	var ce *CompilationError
	return errors.As(err, &ce)
}

// Stats aggregates compile activity.
type Stats struct {
	TotalCompiled int           `json:"total_compiled" yaml:"total_compiled"`
	Failures      int           `json:"failures" yaml:"failures"`
	TotalTime     time.Duration `json:"total_time" yaml:"total_time"`
	AverageTime   time.Duration `json:"average_time" yaml:"average_time"`
}

// Compiler turns source templates into PrecompiledPatterns.
// It is safe for concurrent use.
type Compiler struct {
	now    func() time.Time
	logger *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithClock sets the time source used for CompiledAt and durations.
func WithClock(now func() time.Time) Option {
	return func(c *Compiler) { c.now = now }
}

// WithLogger sets the compiler's logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Compiler) { c.logger = l }
}

// NewCompiler returns a compiler using the wall clock and no logging.
func NewCompiler(opts ...Option) *Compiler {
	c := &Compiler{now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile optimizes source for its pattern type and returns the compiled
// pattern. Compiling the same name, type and source twice yields the same
// ContentID and CompiledCode.
func (c *Compiler) Compile(ctx context.Context, name, patternType, source string, metadata ir.IRObject) (*PrecompiledPattern, error) {
	start := c.now()
	p, err := c.compile(ctx, name, patternType, source, metadata)
	elapsed := c.now().Sub(start)

	c.mu.Lock()
	if err != nil {
		c.stats.Failures++
	} else {
		c.stats.TotalCompiled++
		c.stats.TotalTime += elapsed
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("pattern compile failed", zap.String("pattern", name), zap.Error(err))
		return nil, &CompilationError{PatternName: name, Err: err}
	}
	p.CompiledAt = start
	p.CompileDuration = elapsed
	c.logger.Debug("pattern compiled",
		zap.String("pattern", name),
		zap.String("type", patternType),
		zap.String("content_id", p.ContentID),
		zap.Duration("elapsed", elapsed))
	return p, nil
}

func (c *Compiler) compile(ctx context.Context, name, patternType, source string, metadata ir.IRObject) (*PrecompiledPattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("name must not be empty")
	}
	if strings.TrimSpace(patternType) == "" {
		return nil, errors.New("pattern type must not be empty")
	}
	if strings.TrimSpace(source) == "" {
		return nil, errors.New("source code must not be empty")
	}
	if _, err := ir.MarshalCanonical(metadata); err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}

	id, err := ir.PatternContentID(patternType, source)
	if err != nil {
		return nil, err
	}
	return &PrecompiledPattern{
		Name:         name,
		PatternType:  patternType,
		SourceCode:   source,
		CompiledCode: Optimize(patternType, source),
		Metadata:     metadata.Clone(),
		ContentID:    id,
	}, nil
}

// Optimize applies the textual pass for patternType. It is pure.
func Optimize(patternType, source string) string {
	switch patternType {
	case TypeSynthDef, TypeEffect:
		return foldConstants(strings.TrimSpace(source))
	case TypePattern:
		return strings.TrimSpace(source)
	default:
		return source
	}
}

// Stats returns a snapshot of the compile counters.
func (c *Compiler) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	if s.TotalCompiled > 0 {
		s.AverageTime = s.TotalTime / time.Duration(s.TotalCompiled)
	}
	return s
}
