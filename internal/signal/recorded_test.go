package signal

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sleepwatch/backend/internal/models"
)

// shhsChannels mimics an SHHS record: 125 Hz EEG and a 250 Hz ECG with one
// R wave per second, stored in one-second data records.
func shhsChannels() []testChannel {
	return []testChannel{
		{label: "SaO2", samples: 1, values: func(int, int) int16 { return 95 }},
		{label: "EEG(sec)", samples: 125, values: func(r, i int) int16 {
			return int16(200 * math.Sin(2*math.Pi*10*float64(r*125+i)/125))
		}},
		{label: "ECG", samples: 250, values: func(r, i int) int16 {
			if i == 0 {
				return 1000
			}
			return 0
		}},
	}
}

func writeSubject(t *testing.T, edfPath, annPath string, seconds int) {
	t.Helper()
	writeEDF(t, edfPath, seconds, 1, shhsChannels())
	require.NoError(t, os.MkdirAll(filepath.Dir(annPath), 0o755))
	require.NoError(t, os.WriteFile(annPath, []byte(sampleNSRR), 0o644))
}

func TestRecordedReplaysEpochs(t *testing.T) {
	dir := t.TempDir()
	edfPath := filepath.Join(dir, "rec.edf")
	annPath := filepath.Join(dir, "rec.xml")
	writeSubject(t, edfPath, annPath, 60)

	edf, err := OpenEDF(edfPath)
	require.NoError(t, err)
	ann, err := LoadAnnotations(annPath)
	require.NoError(t, err)
	rec, err := NewRecorded("200001", edf, ann, DefaultSampleRate)
	require.NoError(t, err)
	defer rec.Close()
	assert.Equal(t, "200001", rec.Subject())

	ctx := context.Background()
	w0, err := rec.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, w0.Index)
	assert.Equal(t, DefaultSampleRate, w0.SampleRate)
	assert.Len(t, w0.EEG, SamplesPerEpoch(DefaultSampleRate))
	assert.Len(t, w0.HR, SamplesPerEpoch(DefaultSampleRate))
	assert.Equal(t, Label{Stage: models.StageWake}, *w0.Truth)
	assert.InDelta(t, 60.0, w0.HR[1920], 0.5)

	w1, err := rec.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, w1.Index)
	assert.Equal(t, Label{Stage: models.StageN2, IsApnea: true}, *w1.Truth)

	_, err = rec.Next(ctx)
	assert.ErrorIs(t, err, ErrEndOfStream)
	_, err = rec.Next(ctx)
	assert.ErrorIs(t, err, ErrEndOfStream)
}

func TestRecordedRequiresEEG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "noeeg.edf")
	writeEDF(t, path, 1, 1, []testChannel{{label: "ECG", samples: 1, values: func(int, int) int16 { return 0 }}})
	edf, err := OpenEDF(path)
	require.NoError(t, err)
	defer edf.Close()

	_, err = NewRecorded("x", edf, &Annotations{}, 0)
	assert.ErrorContains(t, err, "no EEG channel")
}

func TestStageHRWithoutECG(t *testing.T) {
	calm := StageHR(models.StageN3, false, DefaultSampleRate)
	event := StageHR(models.StageN3, true, DefaultSampleRate)
	require.Len(t, calm, 3840)
	assert.Less(t, event[1000], calm[1000])
	assert.Greater(t, event[2000], calm[2000])
}
