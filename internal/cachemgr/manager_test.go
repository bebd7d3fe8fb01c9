package cachemgr

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roach88/tonegen/internal/testutil"
)

func newTestManager(t *testing.T, ratio float64) (*Manager, *testutil.FakeSampler, *testutil.ManualClock) {
	t.Helper()
	sampler := testutil.NewFakeSampler(ratio)
	clock := testutil.NewManualClock(time.Time{})
	m, err := New(DefaultConfig(),
		WithSampler(sampler),
		WithClock(clock.Now),
		WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return m, sampler, clock
}

// counter counts eviction calls.
type counter struct {
	n atomic.Int64
}

func (c *counter) evict() { c.n.Add(1) }

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"low above high", func(c *Config) { c.Low = 0.9 }, true},
		{"high above critical", func(c *Config) { c.High = 0.97 }, true},
		{"critical above one", func(c *Config) { c.Critical = 1.5 }, true},
		{"zero low", func(c *Config) { c.Low = 0 }, true},
		{"zero interval", func(c *Config) { c.CheckInterval = 0 }, true},
		{"critical exactly one", func(c *Config) { c.Critical = 1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{Low: 0.9, High: 0.5, Critical: 0.95, CheckInterval: time.Second})
	require.Error(t, err)
}

func TestCheck_CriticalEvictsEveryCallbackOnce(t *testing.T) {
	m, _, _ := newTestManager(t, 0.96)
	a, b, c := &counter{}, &counter{}, &counter{}
	m.Register(a.evict)
	m.Register(b.evict)
	m.Register(c.evict)

	usage, err := m.Check()
	require.NoError(t, err)
	assert.InDelta(t, 0.96, usage, 1e-6)

	for _, cb := range []*counter{a, b, c} {
		assert.EqualValues(t, 1, cb.n.Load())
	}
	stats := m.Stats()
	assert.EqualValues(t, 1, stats.Evictions)
	assert.EqualValues(t, 1, stats.CriticalEvents)
	assert.EqualValues(t, 0, stats.HighEvents)
	assert.EqualValues(t, 1, stats.Checks)
	assert.True(t, stats.Elevated)
	assert.Equal(t, 3, stats.Callbacks)
}

func TestCheck_CriticalEvictsOnEveryCheck(t *testing.T) {
	m, _, clock := newTestManager(t, 0.99)
	cb := &counter{}
	m.Register(cb.evict)

	for i := 1; i <= 3; i++ {
		_, err := m.Check()
		require.NoError(t, err)
		clock.Advance(DefaultCheckInterval)
		assert.EqualValues(t, i, cb.n.Load())
		assert.EqualValues(t, i, m.Stats().Evictions)
	}
}

func TestCheck_Throttled(t *testing.T) {
	m, sampler, clock := newTestManager(t, 0.96)
	cb := &counter{}
	m.Register(cb.evict)

	_, err := m.Check()
	require.NoError(t, err)

	clock.Advance(DefaultCheckInterval / 2)
	usage, err := m.Check()
	require.NoError(t, err)
	assert.InDelta(t, 0.96, usage, 1e-6)
	assert.Equal(t, 1, sampler.Samples())
	assert.EqualValues(t, 1, cb.n.Load())

	clock.Advance(DefaultCheckInterval / 2)
	_, err = m.Check()
	require.NoError(t, err)
	assert.Equal(t, 2, sampler.Samples())
	assert.EqualValues(t, 2, cb.n.Load())
}

func TestCheck_HighHysteresis(t *testing.T) {
	m, sampler, clock := newTestManager(t, 0.90)
	cb := &counter{}
	m.Register(cb.evict)

	check := func(ratio float64) {
		t.Helper()
		sampler.SetRatio(ratio)
		_, err := m.Check()
		require.NoError(t, err)
		clock.Advance(DefaultCheckInterval)
	}

	check(0.90)
	assert.EqualValues(t, 1, cb.n.Load(), "first high reading evicts")

	check(0.90)
	check(0.88)
	assert.EqualValues(t, 1, cb.n.Load(), "sustained high does not evict again")

	check(0.70)
	check(0.90)
	assert.EqualValues(t, 1, cb.n.Load(), "dropping between low and high keeps the elevated state")

	check(0.50)
	assert.False(t, m.Stats().Elevated)
	check(0.90)
	assert.EqualValues(t, 2, cb.n.Load(), "high after dropping below low evicts")

	stats := m.Stats()
	assert.EqualValues(t, 2, stats.HighEvents)
	assert.EqualValues(t, 2, stats.Evictions)
	assert.EqualValues(t, 7, stats.Checks)
	assert.InDelta(t, 0.90, stats.PeakUsage, 1e-6)
}

func TestCheck_CriticalWhileElevated(t *testing.T) {
	m, sampler, clock := newTestManager(t, 0.90)
	cb := &counter{}
	m.Register(cb.evict)

	_, err := m.Check()
	require.NoError(t, err)
	clock.Advance(DefaultCheckInterval)

	sampler.SetRatio(0.97)
	_, err = m.Check()
	require.NoError(t, err)
	assert.EqualValues(t, 2, cb.n.Load())
	assert.EqualValues(t, 1, m.Stats().CriticalEvents)
}

func TestCheck_BelowHighDoesNothing(t *testing.T) {
	m, _, _ := newTestManager(t, 0.70)
	cb := &counter{}
	m.Register(cb.evict)

	_, err := m.Check()
	require.NoError(t, err)
	assert.Zero(t, cb.n.Load())
	assert.Zero(t, m.Stats().Evictions)
}

func TestCheck_SamplerError(t *testing.T) {
	m, sampler, _ := newTestManager(t, 0.5)
	sampler.SetError(errors.New("boom"))

	_, err := m.Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Zero(t, m.Stats().Checks)
}

func TestHandle_Unregister(t *testing.T) {
	m, _, _ := newTestManager(t, 0.99)
	kept, removed := &counter{}, &counter{}
	m.Register(kept.evict)
	h := m.Register(removed.evict)

	h.Unregister()
	h.Unregister()

	_, err := m.Check()
	require.NoError(t, err)
	assert.EqualValues(t, 1, kept.n.Load())
	assert.Zero(t, removed.n.Load())
	assert.Equal(t, 1, m.Stats().Callbacks)
}

type owner struct {
	buf     [64]byte
	cleared *atomic.Int64
}

func (o *owner) clear() { o.cleared.Add(1) }

func TestRegisterOwner_DroppedAfterCollection(t *testing.T) {
	m, _, clock := newTestManager(t, 0.99)
	var cleared atomic.Int64

	live := &owner{cleared: &cleared}
	RegisterOwner(m, live, (*owner).clear)

	func() {
		gone := &owner{cleared: &cleared}
		RegisterOwner(m, gone, (*owner).clear)
	}()
	require.Equal(t, 2, m.Stats().Callbacks)

	for range 3 {
		runtime.GC()
	}

	_, err := m.Check()
	require.NoError(t, err)
	assert.EqualValues(t, 1, cleared.Load())
	assert.Equal(t, 1, m.Stats().Callbacks)

	clock.Advance(DefaultCheckInterval)
	_, err = m.Check()
	require.NoError(t, err)
	assert.EqualValues(t, 2, cleared.Load())
	runtime.KeepAlive(live)
}

func TestStartStop_Idempotent(t *testing.T) {
	m, _, _ := newTestManager(t, 0.5)

	m.Stop()
	m.Start()
	m.Start()
	assert.True(t, m.Stats().Monitoring)

	m.Stop()
	m.Stop()
	assert.False(t, m.Stats().Monitoring)

	m.Start()
	assert.True(t, m.Stats().Monitoring)
	m.Stop()
}

func TestMonitorLoop_Evicts(t *testing.T) {
	sampler := testutil.NewFakeSampler(0.99)
	cfg := DefaultConfig()
	cfg.CheckInterval = 5 * time.Millisecond
	m, err := New(cfg, WithSampler(sampler), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	evicted := make(chan struct{}, 16)
	m.Register(func() {
		select {
		case evicted <- struct{}{}:
		default:
		}
	})

	m.Start()
	defer m.Stop()

	select {
	case <-evicted:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not evict")
	}
	assert.GreaterOrEqual(t, m.Stats().CriticalEvents, uint64(1))
}

func TestCheck_Concurrent(t *testing.T) {
	m, _, _ := newTestManager(t, 0.99)
	cb := &counter{}
	m.Register(cb.evict)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Check()
		}()
	}
	wg.Wait()

	// The clock does not move, so later callers see the throttle once the
	// first check has recorded its time.
	stats := m.Stats()
	assert.EqualValues(t, stats.Evictions, cb.n.Load())
	assert.GreaterOrEqual(t, stats.Checks, uint64(1))
}

func TestSystemSampler(t *testing.T) {
	used, total, err := SystemSampler{}.Sample()
	if errors.Is(err, ErrUnsupported) {
		t.Skip("total memory not available on this platform")
	}
	require.NoError(t, err)
	assert.Positive(t, total)
	assert.Positive(t, used)
}
