package backoff

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDenseWindowTicksEveryCycle(t *testing.T) {
	s := NewCirclePlusSchedule()
	for i := 0; i < denseWindow; i++ {
		require.True(t, s.Tick(), "cycle %d should attempt rediscovery", i+1)
	}
}

func TestSparseWindowTicksEvery60th(t *testing.T) {
	s := NewCirclePlusSchedule()
	for i := 0; i < denseWindow; i++ {
		s.Tick()
	}
	for i := 1; i <= sparseEvery; i++ {
		got := s.Tick()
		if i == sparseEvery {
			require.True(t, got)
		} else {
			require.False(t, got, "cycle %d past dense window should not retry", i)
		}
	}
}

func TestResetReturnsToDenseWindow(t *testing.T) {
	s := NewCirclePlusSchedule()
	for i := 0; i < denseWindow+30; i++ {
		s.Tick()
	}
	s.Reset()
	require.Equal(t, 0, s.Cycles())
	require.True(t, s.Tick())
}
