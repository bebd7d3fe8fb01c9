package testutil

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeSampler_ReportsRatio(t *testing.T) {
	s := NewFakeSampler(0.5)
	used, total, err := s.Sample()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<30), total)
	assert.Equal(t, total/2, used)
	assert.Equal(t, 1, s.Samples())
}

func TestFakeSampler_Error(t *testing.T) {
	s := NewFakeSampler(0.5)
	boom := errors.New("no meminfo")
	s.SetError(boom)
	_, _, err := s.Sample()
	assert.ErrorIs(t, err, boom)

	// SetRatio clears the error
	s.SetRatio(0.9)
	_, _, err = s.Sample()
	assert.NoError(t, err)
}
