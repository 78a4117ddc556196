package base

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJobBase_StatusIsZeroBeforeAnyRun(t *testing.T) {
	var j JobBase
	st := j.Status()
	require.True(t, st.LastRunAt.IsZero())
	require.NoError(t, st.Err)
}

func TestJobBase_RecordRunThenStatusReflectsIt(t *testing.T) {
	var j JobBase
	ranAt := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	j.RecordRun(ranAt, 50*time.Millisecond, nil)

	st := j.Status()
	require.Equal(t, ranAt, st.LastRunAt)
	require.Equal(t, 50*time.Millisecond, st.Took)
	require.NoError(t, st.Err)

	failErr := errors.New("disk full")
	j.RecordRun(ranAt.Add(time.Minute), 10*time.Millisecond, failErr)
	st = j.Status()
	require.Equal(t, failErr, st.Err)
}
