// Package pipeline runs an intent through the three conversion stages.
//
// Each stage is memoized and its cache is registered with a cache manager,
// if one is given, so memory pressure clears it. When a pattern source is
// configured, a structure whose variant names a catalog entry is rendered by
// instantiating the precompiled pattern instead of the generic template.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/roach88/tonegen/internal/cachemgr"
	"github.com/roach88/tonegen/internal/catalog"
	"github.com/roach88/tonegen/internal/convert"
	"github.com/roach88/tonegen/internal/ir"
	"github.com/roach88/tonegen/internal/memo"
	"github.com/roach88/tonegen/internal/pattern"
)

// Memo names, as reported in Stats.
const (
	StageParameter = "intent_to_parameter"
	StageStructure = "parameter_to_structure"
	StageCode      = "structure_to_code"
)

// PatternSource supplies precompiled patterns for the fast path.
type PatternSource interface {
	Entry(key string) (catalog.Definition, bool)
	CompiledPattern(ctx context.Context, key string) (*pattern.PrecompiledPattern, error)
}

// Capacities bounds each stage's cache and the resolved pattern cache.
// Zero means memo.DefaultCapacity.
type Capacities struct {
	Parameter int
	Structure int
	Code      int
	Pattern   int
}

// Option configures a Pipeline.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	registry   cachemgr.Registry
	patterns   PatternSource
	capacities Capacities
}

// WithLogger sets the pipeline's logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCacheManager registers every stage cache with r.
func WithCacheManager(r cachemgr.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithPatterns enables the fast path over src.
func WithPatterns(src PatternSource) Option {
	return func(o *options) { o.patterns = src }
}

// WithCapacities sets the stage cache sizes.
func WithCapacities(c Capacities) Option {
	return func(o *options) { o.capacities = c }
}

type (
	paramMemo     = memo.Memo[*ir.IntentLevel, *ir.ParameterLevel]
	structureMemo = memo.Memo[*ir.ParameterLevel, *ir.StructureLevel]
	codeMemo      = memo.Memo[*ir.StructureLevel, *ir.CodeLevel]

	// patternCache holds compiled catalog patterns by catalog key.
	patternCache = lru.Cache[string, *pattern.PrecompiledPattern]
)

// Pipeline converts intents to code. It is safe for concurrent use.
type Pipeline struct {
	logger   *zap.Logger
	patterns PatternSource

	toParameter *paramMemo
	toStructure *structureMemo
	toCode      *codeMemo
	resolved    *patternCache
	handles     []*cachemgr.Handle

	conversions    atomic.Uint64
	fastPathHits   atomic.Uint64
	fastPathMisses atomic.Uint64
}

// New builds a pipeline over the built-in converters.
func New(opts ...Option) (*Pipeline, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	params := convert.NewIntentConverter()
	structures := convert.NewParameterConverter(convert.DefaultStructureTemplates()...)
	code := convert.NewCodeConverter()

	p := &Pipeline{logger: o.logger, patterns: o.patterns}
	var err error
	if p.toParameter, err = memo.New[*ir.IntentLevel, *ir.ParameterLevel](StageParameter, o.capacities.Parameter,
		memo.StructuredKey[*ir.IntentLevel], params.Convert); err != nil {
		return nil, err
	}
	if p.toStructure, err = memo.New[*ir.ParameterLevel, *ir.StructureLevel](StageStructure, o.capacities.Structure,
		memo.StructuredKey[*ir.ParameterLevel], structures.Convert); err != nil {
		return nil, err
	}
	if p.toCode, err = memo.New[*ir.StructureLevel, *ir.CodeLevel](StageCode, o.capacities.Code,
		memo.StructuredKey[*ir.StructureLevel], code.Convert); err != nil {
		return nil, err
	}

	if o.patterns != nil {
		size := o.capacities.Pattern
		if size <= 0 {
			size = memo.DefaultCapacity
		}
		if p.resolved, err = lru.New[string, *pattern.PrecompiledPattern](size); err != nil {
			return nil, fmt.Errorf("pattern cache: %w", err)
		}
	}

	if o.registry != nil {
		p.handles = []*cachemgr.Handle{
			cachemgr.RegisterOwner(o.registry, p.toParameter, (*paramMemo).Clear),
			cachemgr.RegisterOwner(o.registry, p.toStructure, (*structureMemo).Clear),
			cachemgr.RegisterOwner(o.registry, p.toCode, (*codeMemo).Clear),
		}
		if p.resolved != nil {
			p.handles = append(p.handles, cachemgr.RegisterOwner(o.registry, p.resolved, (*patternCache).Purge))
		}
	}
	return p, nil
}

// Close unregisters the stage caches from the cache manager.
func (p *Pipeline) Close() {
	for _, h := range p.handles {
		h.Unregister()
	}
}

// StageHits records which stages were served from cache.
type StageHits struct {
	Parameter bool `json:"parameter" yaml:"parameter"`
	Structure bool `json:"structure" yaml:"structure"`
	Code      bool `json:"code" yaml:"code"`
}

// All reports whether every stage hit.
func (h StageHits) All() bool { return h.Parameter && h.Structure && h.Code }

// Result is the output of every stage for one intent. Levels may be shared
// with the stage caches and must not be modified.
type Result struct {
	Parameter *ir.ParameterLevel
	Structure *ir.StructureLevel
	Code      *ir.CodeLevel
	Hits      StageHits
	FastPath  bool
	Pattern   string
	Rendered  string
}

// Convert runs intent through all stages and renders the code.
func (p *Pipeline) Convert(ctx context.Context, intent *ir.IntentLevel) (*Result, error) {
	if intent == nil {
		return nil, errors.New("pipeline: nil intent")
	}
	p.conversions.Add(1)
	var (
		res Result
		err error
	)
	if res.Parameter, res.Hits.Parameter, err = p.toParameter.Call(ctx, intent); err != nil {
		return nil, err
	}
	if res.Structure, res.Hits.Structure, err = p.toStructure.Call(ctx, res.Parameter); err != nil {
		return nil, err
	}
	if res.Code, res.Hits.Code, err = p.toCode.Call(ctx, res.Structure); err != nil {
		return nil, err
	}

	if p.patterns != nil {
		code, name, ok := p.fastPath(ctx, res.Structure, res.Code)
		if ok {
			res.Code, res.FastPath, res.Pattern = code, true, name
		}
	}

	if res.Rendered, err = res.Code.Render(); err != nil {
		return nil, fmt.Errorf("render %s: %w", res.Code.Type, err)
	}

	p.logger.Debug("intent converted",
		zap.Stringer("intent", intent.Type),
		zap.Stringer("structure", res.Structure.Type),
		zap.Bool("parameter_hit", res.Hits.Parameter),
		zap.Bool("structure_hit", res.Hits.Structure),
		zap.Bool("code_hit", res.Hits.Code),
		zap.Bool("fast_path", res.FastPath))
	return &res, nil
}

// ConvertIntentToCode returns only the code level for intent.
func (p *Pipeline) ConvertIntentToCode(ctx context.Context, intent *ir.IntentLevel) (*ir.CodeLevel, error) {
	res, err := p.Convert(ctx, intent)
	if err != nil {
		return nil, err
	}
	return res.Code, nil
}

// fastPath instantiates the catalog pattern matching the structure's variant.
// Variables come from the generic code level, limited to the literals the
// pattern declares as arguments.
func (p *Pipeline) fastPath(ctx context.Context, s *ir.StructureLevel, generic *ir.CodeLevel) (*ir.CodeLevel, string, bool) {
	key := convert.Discriminator(s)
	def, ok := p.patterns.Entry(key)
	if key == "" || !ok || def.SynthName == "" || !matchesStructure(def, s) {
		p.fastPathMisses.Add(1)
		return nil, "", false
	}

	compiled, err := p.resolvePattern(ctx, key)
	if err != nil {
		p.fastPathMisses.Add(1)
		if !errors.Is(err, context.Canceled) {
			p.logger.Warn("pattern fast path unavailable", zap.String("key", key), zap.Error(err))
		}
		return nil, "", false
	}

	var args []string
	vars := map[string]ir.CodeVariable{}
	for _, name := range def.Parameters {
		v, ok := generic.Variables[name]
		if !ok || !v.Literal {
			continue
		}
		args = append(args, `\`+name+", {"+name+"}")
		vars[name] = v
	}

	var b strings.Builder
	b.WriteString("s.waitForBoot({\n")
	b.WriteString(compiled.CompiledCode)
	b.WriteString("\ns.sync;\n")
	fmt.Fprintf(&b, "Synth(\\%s, [%s]);\n", def.SynthName, strings.Join(args, ", "))
	b.WriteString("});")

	out := ir.NewCodeLevel(codeTypeFor(def.PatternType), b.String())
	for name, v := range vars {
		out.SetVariable(name, v)
	}
	out.SourceStructure = s.Type.String()
	out.Metadata = ir.IRObject{
		"pattern":         ir.IRString(compiled.Name),
		"pattern_id":      ir.IRString(compiled.ContentID),
		"catalog_version": metadataValue(compiled.Metadata, "catalog_version"),
	}
	if err := out.Validate(); err != nil {
		p.fastPathMisses.Add(1)
		p.logger.Warn("pattern fast path rejected", zap.String("key", key), zap.Error(err))
		return nil, "", false
	}

	p.fastPathHits.Add(1)
	return out, compiled.Name, true
}

// resolvePattern returns the compiled pattern for a catalog key, going to the
// pattern source only when it is not cached. Cached patterns are shared and
// must not be modified.
func (p *Pipeline) resolvePattern(ctx context.Context, key string) (*pattern.PrecompiledPattern, error) {
	if compiled, ok := p.resolved.Get(key); ok {
		return compiled, nil
	}
	compiled, err := p.patterns.CompiledPattern(ctx, key)
	if err != nil {
		return nil, err
	}
	p.resolved.Add(key, compiled)
	return compiled, nil
}

func matchesStructure(def catalog.Definition, s *ir.StructureLevel) bool {
	switch s.Type {
	case ir.StructureSynthDef:
		return def.PatternType == pattern.TypeSynthDef
	case ir.StructureEffectChain:
		return def.PatternType == pattern.TypeEffect
	default:
		return false
	}
}

func codeTypeFor(patternType string) ir.CodeType {
	switch patternType {
	case pattern.TypeSynthDef:
		return ir.CodeSynthDef
	case pattern.TypeEffect:
		return ir.CodeEffect
	case pattern.TypePattern:
		return ir.CodePattern
	default:
		return ir.CodeUnknown
	}
}

func metadataValue(md ir.IRObject, key string) ir.IRValue {
	if v, ok := md[key]; ok {
		return v
	}
	return ir.IRString("")
}

// Stats reports cache activity for each stage and fast path counts.
type Stats struct {
	Conversions    uint64       `json:"conversions" yaml:"conversions"`
	Stages         []memo.Stats `json:"stages" yaml:"stages"`
	FastPathHits   uint64       `json:"fast_path_hits" yaml:"fast_path_hits"`
	FastPathMisses uint64       `json:"fast_path_misses" yaml:"fast_path_misses"`
	PatternsCached int          `json:"patterns_cached" yaml:"patterns_cached"`
}

// Stats returns a snapshot of pipeline activity.
func (p *Pipeline) Stats() Stats {
	st := Stats{
		Conversions: p.conversions.Load(),
		Stages: []memo.Stats{
			p.toParameter.Stats(),
			p.toStructure.Stats(),
			p.toCode.Stats(),
		},
		FastPathHits:   p.fastPathHits.Load(),
		FastPathMisses: p.fastPathMisses.Load(),
	}
	if p.resolved != nil {
		st.PatternsCached = p.resolved.Len()
	}
	return st
}

// ClearCaches empties every stage cache and forgets resolved patterns.
func (p *Pipeline) ClearCaches() {
	p.toParameter.Clear()
	p.toStructure.Clear()
	p.toCode.Clear()
	if p.resolved != nil {
		p.resolved.Purge()
	}
}
