// Package memo provides bounded, concurrency-safe memoization for the pure
// conversion stages.
//
// Each Memo is keyed by the canonical encoding of its input, so two inputs
// that differ only in construction order share one entry. Lookups report an
// explicit hit flag; callers never infer cache behavior from timing.
//
// Concurrent calls for the same key are collapsed: the function runs once
// and every waiter receives the same result. Errors are returned to all
// waiters but never stored.
package memo

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/tonegen/internal/ir"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 128

// KeyFunc returns the canonical key bytes of an input.
type KeyFunc[In any] func(In) ([]byte, error)

// Func is the memoized computation.
type Func[In, Out any] func(context.Context, In) (Out, error)

type digest = [32]byte

// Memo caches the results of a pure function.
type Memo[In, Out any] struct {
	name     string
	capacity int
	key      KeyFunc[In]
	fn       Func[In, Out]
	cache    *lru.Cache[digest, Out]
	group    singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
}

// New returns a memo named name holding at most capacity results.
func New[In, Out any](name string, capacity int, key KeyFunc[In], fn Func[In, Out]) (*Memo[In, Out], error) {
	if key == nil || fn == nil {
		return nil, fmt.Errorf("memo %s: key and fn are required", name)
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	cache, err := lru.New[digest, Out](capacity)
	if err != nil {
		return nil, fmt.Errorf("memo %s: %w", name, err)
	}
	return &Memo[In, Out]{name: name, capacity: capacity, key: key, fn: fn, cache: cache}, nil
}

// StructuredKey is the KeyFunc for IR levels: the canonical encoding of the
// level's structured form.
func StructuredKey[In ir.Structurer](in In) ([]byte, error) {
	return ir.CanonicalKey(in)
}

// Name returns the memo's name.
func (m *Memo[In, Out]) Name() string { return m.name }

func (m *Memo[In, Out]) digest(in In) (digest, error) {
	raw, err := m.key(in)
	if err != nil {
		return digest{}, err
	}
	h := blake3.New()
	_, _ = h.Write([]byte(m.name))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(raw)
	var d digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// Call returns the cached result for in, computing and storing it on a miss.
// hit is true only when the result came from the cache without running fn.
func (m *Memo[In, Out]) Call(ctx context.Context, in In) (out Out, hit bool, err error) {
	d, err := m.digest(in)
	if err != nil {
		return out, false, fmt.Errorf("memo %s: key: %w", m.name, err)
	}
	if v, ok := m.cache.Get(d); ok {
		m.hits.Add(1)
		return v, true, nil
	}
	m.misses.Add(1)

	// The shared computation must not be cancelled by whichever caller
	// happened to start it; each caller still honors its own ctx.
	ch := m.group.DoChan(string(d[:]), func() (any, error) {
		if v, ok := m.cache.Get(d); ok {
			return v, nil
		}
		v, err := m.fn(context.WithoutCancel(ctx), in)
		if err != nil {
			return nil, err
		}
		m.cache.Add(d, v)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return out, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return out, false, res.Err
		}
		return res.Val.(Out), false, nil
	}
}

// Clear drops every cached result. Counters are kept.
func (m *Memo[In, Out]) Clear() {
	m.cache.Purge()
}

// Len returns the number of cached results.
func (m *Memo[In, Out]) Len() int { return m.cache.Len() }

// Stats is a snapshot of a memo's counters.
type Stats struct {
	Name     string  `json:"name" yaml:"name"`
	Hits     uint64  `json:"hits" yaml:"hits"`
	Misses   uint64  `json:"misses" yaml:"misses"`
	HitRate  float64 `json:"hit_rate" yaml:"hit_rate"`
	Len      int     `json:"len" yaml:"len"`
	Capacity int     `json:"capacity" yaml:"capacity"`
}

// Stats returns the current counters.
func (m *Memo[In, Out]) Stats() Stats {
	s := Stats{
		Name:     m.name,
		Hits:     m.hits.Load(),
		Misses:   m.misses.Load(),
		Len:      m.cache.Len(),
		Capacity: m.capacity,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
