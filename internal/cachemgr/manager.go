// Package cachemgr clears registered caches when process memory runs high.
//
// A Manager samples memory use as a fraction of total system memory. At or
// above the critical threshold every registered eviction callback runs on
// every check. At or above the high threshold callbacks run once, and do not
// run again for high usage until usage has dropped below the low threshold.
//
// Callbacks registered with RegisterOwner hold their owner weakly: once the
// owner is garbage collected the callback is dropped.
package cachemgr

import (
	"fmt"
	"sync"
	"time"
	"weak"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// Registry accepts eviction callbacks.
type Registry interface {
	// Register adds a callback that runs on every eviction.
	Register(evict func()) *Handle
	// RegisterFunc adds a callback that is dropped once it returns false.
	RegisterFunc(evict func() bool) *Handle
}

// Handle removes a registered callback.
type Handle struct {
	once       sync.Once
	unregister func()
}

// Unregister removes the callback. It is safe to call more than once.
func (h *Handle) Unregister() {
	if h == nil || h.unregister == nil {
		return
	}
	h.once.Do(h.unregister)
}

// RegisterOwner registers evict against owner without keeping owner alive.
//
// evict must not capture owner itself; pass a method expression such as
// (*Cache).Clear rather than a method value.
func RegisterOwner[T any](r Registry, owner *T, evict func(*T)) *Handle {
	wp := weak.Make(owner)
	return r.RegisterFunc(func() bool {
		o := wp.Value()
		if o == nil {
			return false
		}
		evict(o)
		return true
	})
}

// Stats is a snapshot of manager activity.
type Stats struct {
	Checks         uint64  `json:"checks" yaml:"checks"`
	HighEvents     uint64  `json:"high_events" yaml:"high_events"`
	CriticalEvents uint64  `json:"critical_events" yaml:"critical_events"`
	Evictions      uint64  `json:"evictions" yaml:"evictions"`
	LastUsage      float64 `json:"last_usage" yaml:"last_usage"`
	PeakUsage      float64 `json:"peak_usage" yaml:"peak_usage"`
	Elevated       bool    `json:"elevated" yaml:"elevated"`
	Monitoring     bool    `json:"monitoring" yaml:"monitoring"`
	Callbacks      int     `json:"callbacks" yaml:"callbacks"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithSampler sets the memory sampler. Defaults to SystemSampler.
func WithSampler(s MemorySampler) Option {
	return func(m *Manager) { m.sampler = s }
}

// WithLogger sets the manager's logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock sets the time source used for check throttling.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager monitors memory and runs eviction callbacks.
// It is safe for concurrent use.
type Manager struct {
	cfg     Config
	sampler MemorySampler
	logger  *zap.Logger
	now     func() time.Time

	// checkMu serializes checks so each one runs callbacks at most once.
	checkMu sync.Mutex

	mu        sync.Mutex
	callbacks map[uint64]func() bool
	nextID    uint64
	elevated  bool
	lastCheck time.Time
	stats     Stats
	stop      chan struct{}
	done      chan struct{}
}

var _ Registry = (*Manager)(nil)

// New returns a Manager. It does not start monitoring.
func New(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		cfg:       cfg,
		sampler:   SystemSampler{},
		logger:    zap.NewNop(),
		now:       time.Now,
		callbacks: map[uint64]func() bool{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config { return m.cfg }

// Register implements Registry.
func (m *Manager) Register(evict func()) *Handle {
	return m.RegisterFunc(func() bool {
		evict()
		return true
	})
}

// RegisterFunc implements Registry.
func (m *Manager) RegisterFunc(evict func() bool) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.callbacks[id] = evict
	return &Handle{unregister: func() { m.remove(id) }}
}

func (m *Manager) remove(ids ...uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.callbacks, id)
	}
}

// Check samples memory and evicts if needed. Calls made within the check
// interval of the previous check return the last usage without sampling.
func (m *Manager) Check() (float64, error) {
	m.mu.Lock()
	last, usage := m.lastCheck, m.stats.LastUsage
	m.mu.Unlock()
	if !last.IsZero() && m.now().Sub(last) < m.cfg.CheckInterval {
		return usage, nil
	}
	return m.check()
}

func (m *Manager) check() (float64, error) {
	m.checkMu.Lock()
	defer m.checkMu.Unlock()

	used, total, err := m.sampler.Sample()
	if err != nil {
		m.logger.Warn("memory sample failed", zap.Error(err))
		return 0, fmt.Errorf("cachemgr: sample memory: %w", err)
	}
	if total == 0 {
		return 0, fmt.Errorf("cachemgr: sampler reported zero total memory")
	}
	usage := float64(used) / float64(total)

	m.mu.Lock()
	m.lastCheck = m.now()
	m.stats.Checks++
	m.stats.LastUsage = usage
	m.stats.PeakUsage = max(m.stats.PeakUsage, usage)

	var evict bool
	switch {
	case usage >= m.cfg.Critical:
		m.stats.CriticalEvents++
		m.elevated = true
		evict = true
	case usage >= m.cfg.High:
		if !m.elevated {
			m.stats.HighEvents++
			m.elevated = true
			evict = true
		}
	case usage < m.cfg.Low:
		m.elevated = false
	}
	m.mu.Unlock()

	if evict {
		m.evict(usage, used, total)
	}
	return usage, nil
}

// evict runs every callback once outside the state lock, then drops
// callbacks whose owner is gone.
func (m *Manager) evict(usage float64, used, total uint64) {
	m.mu.Lock()
	ids := make([]uint64, 0, len(m.callbacks))
	fns := make([]func() bool, 0, len(m.callbacks))
	for id, fn := range m.callbacks {
		ids = append(ids, id)
		fns = append(fns, fn)
	}
	m.stats.Evictions++
	m.mu.Unlock()

	var dead []uint64
	for i, fn := range fns {
		if !fn() {
			dead = append(dead, ids[i])
		}
	}
	if len(dead) > 0 {
		m.remove(dead...)
	}

	m.logger.Info("caches evicted",
		zap.String("usage", fmt.Sprintf("%.1f%%", usage*100)),
		zap.String("used", humanize.IBytes(used)),
		zap.String("total", humanize.IBytes(total)),
		zap.Int("callbacks", len(fns)-len(dead)),
		zap.Int("dropped", len(dead)))
}

// Start begins background monitoring. Calling Start while monitoring is a
// no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.stats.Monitoring = true
	go m.loop(m.stop, m.done)

	m.logger.Info("memory monitor started",
		zap.Duration("interval", m.cfg.CheckInterval),
		zap.Float64("high", m.cfg.High),
		zap.Float64("critical", m.cfg.Critical))
}

// Stop ends background monitoring and waits for the loop to exit. Calling
// Stop when not monitoring is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.stats.Monitoring = false
	m.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	m.logger.Info("memory monitor stopped")
}

func (m *Manager) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Errors are logged by check.
			_, _ = m.check()
		}
	}
}

// Stats returns a snapshot of manager activity.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Elevated = m.elevated
	s.Callbacks = len(m.callbacks)
	return s
}
