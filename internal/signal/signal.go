// Package signal produces fixed-duration physiological signal windows for a
// monitoring session, either synthesised or replayed from a recorded corpus.
package signal

import (
	"context"
	"errors"
	"math"

	"github.com/sleepwatch/backend/internal/models"
)

// DefaultSampleRate is the rate every window is delivered at (Hz).
const DefaultSampleRate = 128

var (
	// ErrEndOfStream is returned by Next once a bounded source is exhausted.
	ErrEndOfStream = errors.New("signal: end of stream")
	// ErrSubjectNotFound is returned when a subject reference is not in the corpus.
	ErrSubjectNotFound = errors.New("signal: subject not found")
	// ErrNoCorpus is returned when recorded playback is requested but no corpus is configured.
	ErrNoCorpus = errors.New("signal: no recorded corpus configured")
)

// Label is a known stage/apnea annotation for a window (simulated or scored).
type Label struct {
	Stage   models.Stage
	IsApnea bool
}

// Window is one epoch worth of samples.
type Window struct {
	Index      int
	SampleRate int
	EEG        []float32
	HR         []float32
	Truth      *Label
}

// Source yields consecutive windows for one session. Implementations are not
// safe for concurrent use; a session's processor is the only caller.
type Source interface {
	Next(ctx context.Context) (Window, error)
	Close() error
}

// SamplesPerEpoch returns the number of samples in one epoch at rate.
func SamplesPerEpoch(rate int) int { return rate * models.EpochSeconds }

func normalize(x []float64) []float32 {
	out := make([]float32, len(x))
	if len(x) == 0 {
		return out
	}
	var mean float64
	for _, v := range x {
		mean += v
	}
	mean /= float64(len(x))
	var variance float64
	for _, v := range x {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(x)))
	for i, v := range x {
		if std > 0 {
			out[i] = float32((v - mean) / std)
		} else {
			out[i] = float32(v - mean)
		}
	}
	return out
}

func toFloat32(x []float64) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(v)
	}
	return out
}

// resample linearly interpolates x (taken at rate from) onto n points at rate to.
func resample(x []float64, from, to float64, n int) []float64 {
	out := make([]float64, n)
	if len(x) == 0 {
		return out
	}
	if from == to && len(x) >= n {
		copy(out, x[:n])
		return out
	}
	for i := 0; i < n; i++ {
		pos := float64(i) * from / to
		j := int(pos)
		if j >= len(x)-1 {
			out[i] = x[len(x)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = x[j]*(1-frac) + x[j+1]*frac
	}
	return out
}
