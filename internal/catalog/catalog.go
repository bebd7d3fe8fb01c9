// Package catalog holds the built-in pattern definitions and keeps their
// compiled forms in the pattern store.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/tonegen/internal/ir"
	"github.com/roach88/tonegen/internal/pattern"
	"github.com/roach88/tonegen/internal/store"
)

// Store is the subset of the pattern store the catalog writes through.
type Store interface {
	FindByName(ctx context.Context, name, patternType string) (*pattern.PrecompiledPattern, error)
	Save(ctx context.Context, p *pattern.PrecompiledPattern) (*pattern.PrecompiledPattern, error)
	Replace(ctx context.Context, p *pattern.PrecompiledPattern) (*pattern.PrecompiledPattern, error)
	Count(ctx context.Context) (int, error)
	CountByType(ctx context.Context) (map[string]int, error)
}

// Status is the outcome of initializing one entry.
type Status string

const (
	StatusExisting Status = "existing"
	StatusCompiled Status = "compiled"
	StatusFailed   Status = "failed"
)

// EntryResult reports what Initialize did with one entry.
type EntryResult struct {
	Key       string `json:"key" yaml:"key"`
	Name      string `json:"name" yaml:"name"`
	Status    Status `json:"status" yaml:"status"`
	ContentID string `json:"content_id,omitempty" yaml:"content_id,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report summarizes an Initialize run.
type Report struct {
	Version   string        `json:"version" yaml:"version"`
	Total     int           `json:"total" yaml:"total"`
	Succeeded int           `json:"succeeded" yaml:"succeeded"`
	Failed    int           `json:"failed" yaml:"failed"`
	Entries   []EntryResult `json:"entries" yaml:"entries"`
}

// Catalog is a fixed, versioned set of pattern definitions.
type Catalog struct {
	version  string
	defs     []Definition
	byKey    map[string]Definition
	store    Store
	compiler *pattern.Compiler
	logger   *zap.Logger

	mu          sync.Mutex
	initialized bool
}

// Option configures a Catalog.
type Option func(*catalogOptions)

type catalogOptions struct {
	logger   *zap.Logger
	compiler *pattern.Compiler
	source   []byte
	filename string
}

// WithLogger sets the catalog's logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *catalogOptions) { o.logger = l }
}

// WithCompiler sets the compiler used for entries. Defaults to a fresh one.
func WithCompiler(c *pattern.Compiler) Option {
	return func(o *catalogOptions) { o.compiler = c }
}

// WithSource replaces the built-in definitions.
func WithSource(filename string, src []byte) Option {
	return func(o *catalogOptions) {
		o.filename = filename
		o.source = src
	}
}

// New loads the catalog definitions. Nothing is compiled until Initialize
// or CompiledPattern.
func New(s Store, opts ...Option) (*Catalog, error) {
	o := catalogOptions{filename: BuiltinFilename, source: builtinSource}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.compiler == nil {
		o.compiler = pattern.NewCompiler(pattern.WithLogger(o.logger))
	}
	if s == nil {
		return nil, errors.New("catalog: store is required")
	}

	version, defs, err := ParseDefinitions(o.filename, o.source)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	byKey := make(map[string]Definition, len(defs))
	for _, d := range defs {
		byKey[d.Key] = d
	}
	return &Catalog{
		version:  version,
		defs:     defs,
		byKey:    byKey,
		store:    s,
		compiler: o.compiler,
		logger:   o.logger,
	}, nil
}

// Version returns the catalog definitions version.
func (c *Catalog) Version() string { return c.version }

// Entry returns the definition stored under key.
func (c *Catalog) Entry(key string) (Definition, bool) {
	d, ok := c.byKey[key]
	if ok {
		d.Parameters = slices.Clone(d.Parameters)
	}
	return d, ok
}

// Entries returns every definition, ordered by key.
func (c *Catalog) Entries() []Definition {
	out := make([]Definition, len(c.defs))
	for i, d := range c.defs {
		d.Parameters = slices.Clone(d.Parameters)
		out[i] = d
	}
	return out
}

// ByCategory returns the definitions in a category, ordered by key.
func (c *Catalog) ByCategory(category string) []Definition {
	var out []Definition
	for _, d := range c.Entries() {
		if d.Category == category {
			out = append(out, d)
		}
	}
	return out
}

// Categories returns the distinct categories, sorted.
func (c *Catalog) Categories() []string {
	var cats []string
	for _, d := range c.defs {
		if !slices.Contains(cats, d.Category) {
			cats = append(cats, d.Category)
		}
	}
	slices.Sort(cats)
	return cats
}

// Initialize compiles every entry and saves it to the store.
//
// Without force, an entry whose stored pattern has the same content is
// reported as existing and not written; one whose source changed is
// replaced. With force, every entry is replaced. A failing entry is
// reported in the Report and does not stop the others.
func (c *Catalog) Initialize(ctx context.Context, force bool) (*Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := &Report{Version: c.version, Total: len(c.defs)}
	for _, d := range c.defs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res := c.initializeEntry(ctx, d, force)
		if res.Status == StatusFailed {
			report.Failed++
			c.logger.Warn("catalog entry failed", zap.String("key", d.Key), zap.String("error", res.Error))
		} else {
			report.Succeeded++
		}
		report.Entries = append(report.Entries, res)
	}
	c.initialized = true

	c.logger.Info("catalog initialized",
		zap.String("version", c.version),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("total", report.Total),
		zap.Bool("force", force))
	return report, nil
}

func (c *Catalog) initializeEntry(ctx context.Context, d Definition, force bool) EntryResult {
	res := EntryResult{Key: d.Key, Name: d.Name}
	failed := func(err error) EntryResult {
		res.Status = StatusFailed
		res.Error = err.Error()
		return res
	}

	p, err := c.compile(ctx, d)
	if err != nil {
		return failed(err)
	}
	res.ContentID = p.ContentID

	if !force {
		existing, err := c.store.FindByName(ctx, d.Name, d.PatternType)
		switch {
		case err == nil && existing.ContentID == p.ContentID:
			res.Status = StatusExisting
			return res
		case err != nil && !store.IsNotFound(err):
			return failed(err)
		case err == nil:
			force = true
		}
	}

	if force {
		_, err = c.store.Replace(ctx, p)
	} else {
		_, err = c.store.Save(ctx, p)
	}
	if err != nil {
		return failed(err)
	}
	res.Status = StatusCompiled
	return res
}

func (c *Catalog) compile(ctx context.Context, d Definition) (*pattern.PrecompiledPattern, error) {
	md := ir.IRObject{
		"catalog_key":     ir.IRString(d.Key),
		"catalog_version": ir.IRString(c.version),
		"category":        ir.IRString(d.Category),
		"description":     ir.IRString(d.Description),
		"parameters":      ir.FromStrings(d.Parameters),
	}
	if d.SynthName != "" {
		md["synth_name"] = ir.IRString(d.SynthName)
	}
	return c.compiler.Compile(ctx, d.Name, d.PatternType, d.Source, md)
}

// CompiledPattern returns the stored compiled form of an entry, compiling
// and saving it first if the store does not have it yet.
func (c *Catalog) CompiledPattern(ctx context.Context, key string) (*pattern.PrecompiledPattern, error) {
	d, ok := c.byKey[key]
	if !ok {
		return nil, fmt.Errorf("catalog entry %q: %w", key, store.ErrNotFound)
	}
	p, err := c.store.FindByName(ctx, d.Name, d.PatternType)
	if err == nil {
		return p, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}

	compiled, err := c.compile(ctx, d)
	if err != nil {
		return nil, err
	}
	return c.store.Save(ctx, compiled)
}

// Stats describes the catalog and what the store holds.
type Stats struct {
	Version      string         `json:"version" yaml:"version"`
	Entries      int            `json:"entries" yaml:"entries"`
	ByCategory   map[string]int `json:"by_category" yaml:"by_category"`
	ByType       map[string]int `json:"by_type" yaml:"by_type"`
	Initialized  bool           `json:"initialized" yaml:"initialized"`
	Stored       int            `json:"stored" yaml:"stored"`
	StoredByType map[string]int `json:"stored_by_type" yaml:"stored_by_type"`
	Compiler     pattern.Stats  `json:"compiler" yaml:"compiler"`
}

// Stats returns catalog counts together with store and compiler counts.
func (c *Catalog) Stats(ctx context.Context) (Stats, error) {
	s := Stats{
		Version:    c.version,
		Entries:    len(c.defs),
		ByCategory: map[string]int{},
		ByType:     map[string]int{},
		Compiler:   c.compiler.Stats(),
	}
	for _, d := range c.defs {
		s.ByCategory[d.Category]++
		s.ByType[d.PatternType]++
	}
	c.mu.Lock()
	s.Initialized = c.initialized
	c.mu.Unlock()

	var err error
	if s.Stored, err = c.store.Count(ctx); err != nil {
		return s, err
	}
	if s.StoredByType, err = c.store.CountByType(ctx); err != nil {
		return s, err
	}
	return s, nil
}
