package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func steppingClock(step time.Duration) func() time.Time {
	current := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		current = current.Add(step)
		return current
	}
}

func TestAttemptHappyPath(t *testing.T) {
	a := NewAttempt("id-1", "https://example.com/", steppingClock(time.Millisecond))
	require.Equal(t, StageIdle, a.Stage())

	for _, next := range []Stage{StageAcquiring, StageNavigating, StageExtracting, StageReleased} {
		require.NoError(t, a.Advance(next))
	}
	require.True(t, a.Terminal())
	require.True(t, a.Succeeded())

	history := a.History()
	require.Len(t, history, 4)
	require.Equal(t, StageIdle, history[0].From)
	require.Equal(t, StageReleased, history[3].To)
	for _, tr := range history {
		require.Equal(t, time.Millisecond, tr.Took)
	}
}

func TestAttemptErrorPathFromEveryStage(t *testing.T) {
	paths := map[string][]Stage{
		"idle":       {},
		"acquiring":  {StageAcquiring},
		"navigating": {StageAcquiring, StageNavigating},
		"extracting": {StageAcquiring, StageNavigating, StageExtracting},
	}
	for name, prefix := range paths {
		t.Run(name, func(t *testing.T) {
			a := NewAttempt("id", "target", nil)
			for _, next := range prefix {
				require.NoError(t, a.Advance(next))
			}
			a.Fail()
			require.Equal(t, StageReleasingOnError, a.Stage())
			require.NoError(t, a.Advance(StageReleased))
			require.True(t, a.Terminal())
			require.False(t, a.Succeeded())
		})
	}
}

func TestAttemptRejectsIllegalTransitions(t *testing.T) {
	a := NewAttempt("id", "target", nil)
	require.Error(t, a.Advance(StageExtracting))
	require.Error(t, a.Advance(StageReleased), "idle cannot release without the error path")

	require.NoError(t, a.Advance(StageAcquiring))
	require.NoError(t, a.Advance(StageNavigating))
	require.NoError(t, a.Advance(StageExtracting))
	require.NoError(t, a.Advance(StageReleased))
	require.Error(t, a.Advance(StageAcquiring), "released is terminal")
	require.Error(t, a.Advance(StageReleasingOnError))
}

func TestAttemptFailIsIdempotent(t *testing.T) {
	a := NewAttempt("id", "target", nil)
	require.NoError(t, a.Advance(StageAcquiring))
	a.Fail()
	a.Fail()
	require.Len(t, a.History(), 2)
	require.NoError(t, a.Advance(StageReleased))
	a.Fail()
	require.Equal(t, StageReleased, a.Stage())
}
