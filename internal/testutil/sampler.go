package testutil

import "sync"

// FakeSampler reports whatever memory reading it was last given.
//
// It satisfies cachemgr.MemorySampler without importing it, so any package
// can drive memory pressure in tests.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeSampler struct {
	mu      sync.Mutex
	used    uint64
	total   uint64
	err     error
	samples int
}

// NewFakeSampler creates a sampler reporting the given usage ratio of a
// 1 GiB machine.
func NewFakeSampler(ratio float64) *FakeSampler {
	s := &FakeSampler{}
	s.SetRatio(ratio)
	return s
}

// SetRatio changes the reported usage to ratio of a 1 GiB total.
func (s *FakeSampler) SetRatio(ratio float64) {
	const total = 1 << 30
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used = uint64(ratio * total)
	s.total = total
	s.err = nil
}

// SetError makes subsequent samples fail with err.
func (s *FakeSampler) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Sample returns the configured reading.
func (s *FakeSampler) Sample() (used, total uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples++
	return s.used, s.total, s.err
}

// Samples returns how many times Sample was called.
func (s *FakeSampler) Samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}
