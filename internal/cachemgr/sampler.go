package cachemgr

import (
	"errors"
	"runtime/metrics"
)

// MemorySampler measures process memory use against total system memory.
type MemorySampler interface {
	Sample() (used, total uint64, err error)
}

// ErrUnsupported is returned by the system sampler where total memory
// cannot be read.
var ErrUnsupported = errors.New("cachemgr: total memory unavailable on this platform")

const (
	metricTotal    = "/memory/classes/total:bytes"
	metricReleased = "/memory/classes/heap/released:bytes"
)

// SystemSampler reports memory the Go runtime holds from the OS, excluding
// heap memory already returned to it.
type SystemSampler struct{}

// Sample implements MemorySampler.
func (SystemSampler) Sample() (used, total uint64, err error) {
	total, err = totalMemory()
	if err != nil {
		return 0, 0, err
	}
	return processMemory(), total, nil
}

func processMemory() uint64 {
	samples := []metrics.Sample{{Name: metricTotal}, {Name: metricReleased}}
	metrics.Read(samples)

	var mapped, released uint64
	if samples[0].Value.Kind() == metrics.KindUint64 {
		mapped = samples[0].Value.Uint64()
	}
	if samples[1].Value.Kind() == metrics.KindUint64 {
		released = samples[1].Value.Uint64()
	}
	if released > mapped {
		return 0
	}
	return mapped - released
}
