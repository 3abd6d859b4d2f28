package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sleepwatch/backend/internal/models"
)

func TestStateAppendAssignsContiguousIndices(t *testing.T) {
	st := NewState(models.Session{ID: "s1", Mode: models.ModeSynthetic})
	stages := []models.Stage{models.StageWake, models.StageN1, models.StageN2, models.StageN2, models.StageREM, models.StageN3}
	for i, stage := range stages {
		ep, err := st.Append(stage, i%2 == 0)
		require.NoError(t, err)
		assert.Equal(t, i, ep.Index)
		assert.Equal(t, i*30, ep.OffsetS)
	}

	snap := st.Snapshot(true)
	assert.Equal(t, len(stages), snap.TotalEpochs)
	assert.Equal(t, models.StageCounts{Wake: 1, N1: 1, N2: 2, N3: 1, REM: 1}, snap.StageCounts)
	assert.Equal(t, 3, snap.ApneaCount)
	for i, e := range snap.Epochs {
		assert.Equal(t, i, e.Index)
	}
	// 3 apneas over 2.5 sleep minutes.
	assert.Equal(t, 72.0, snap.CurrentAHI)
}

func TestStateRejectsAppendAfterEnd(t *testing.T) {
	st := NewState(models.Session{ID: "s1"})
	_, err := st.Append(models.StageN2, false)
	require.NoError(t, err)

	at := time.Date(2026, 10, 16, 7, 0, 0, 0, time.UTC)
	assert.True(t, st.End(at))
	assert.False(t, st.End(at.Add(time.Hour)))

	_, err = st.Append(models.StageN2, false)
	assert.ErrorIs(t, err, ErrInvalidState)

	sess := st.Session()
	assert.Equal(t, models.StatusEnded, sess.Status)
	require.NotNil(t, sess.EndTime)
	assert.Equal(t, at, *sess.EndTime)
	assert.Equal(t, 1, st.Len())
}

func TestStateRejectsInvalidStage(t *testing.T) {
	st := NewState(models.Session{ID: "s1"})
	_, err := st.Append(models.Stage(9), false)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, 0, st.Len())
}

func TestStateSnapshotsAreConsistentUnderConcurrentReads(t *testing.T) {
	st := NewState(models.Session{ID: "s1"})
	const n = 2000

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := st.Snapshot(true)
				apneas := 0
				for i, e := range snap.Epochs {
					if e.Index != i {
						t.Errorf("epoch %d has index %d", i, e.Index)
						return
					}
					if e.IsApnea {
						apneas++
					}
				}
				if snap.StageCounts.Total() != len(snap.Epochs) || snap.ApneaCount != apneas || snap.TotalEpochs != len(snap.Epochs) {
					t.Errorf("inconsistent snapshot: counts=%d epochs=%d apneas=%d/%d",
						snap.StageCounts.Total(), len(snap.Epochs), snap.ApneaCount, apneas)
					return
				}
			}
		}()
	}
	for i := 0; i < n; i++ {
		_, err := st.Append(models.Stage(i%models.NumStages), i%3 == 0)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, n, st.Len())
}
