package signal

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sleepwatch/backend/internal/models"
)

// Per-epoch stage transition weights. Rows are the current stage, columns the
// next one; the walk starts awake and cycles Wake→N1→N2→N3/REM.
var stageTransitions = [models.NumStages][models.NumStages]float64{
	models.StageWake: {0.80, 0.20, 0, 0, 0},
	models.StageN1:   {0.05, 0.55, 0.40, 0, 0},
	models.StageN2:   {0.02, 0.03, 0.80, 0.10, 0.05},
	models.StageN3:   {0, 0, 0.15, 0.85, 0},
	models.StageREM:  {0.05, 0.05, 0.10, 0, 0.80},
}

// Apnea likelihood per stage; most frequent in REM and light sleep.
var stageApneaProb = [models.NumStages]float64{
	models.StageWake: 0.05,
	models.StageN1:   0.15,
	models.StageN2:   0.20,
	models.StageN3:   0.10,
	models.StageREM:  0.30,
}

type wave struct{ freq, amp float64 }

var stageWaves = [models.NumStages][]wave{
	models.StageWake: {{10, 0.5}, {20, 0.3}},
	models.StageN1:   {{6, 0.6}, {10, 0.2}},
	models.StageN2:   {{5, 0.4}},
	models.StageN3:   {{1, 0.8}, {2, 0.5}},
	models.StageREM:  {{6, 0.4}, {10, 0.3}, {15, 0.2}},
}

// SyntheticConfig tunes the synthetic generator.
type SyntheticConfig struct {
	SampleRate int
	// ApneaScale multiplies the per-stage apnea probabilities.
	ApneaScale float64
	// MaxEpochs caps the stream; 0 means infinite.
	MaxEpochs int
	// Seed makes the stream reproducible; 0 seeds from the clock.
	Seed uint64
}

// Synthetic generates plausible stage sequences with matching EEG and HR traces.
type Synthetic struct {
	cfg   SyntheticConfig
	rng   *rand.Rand
	stage models.Stage
	index int
}

// NewSynthetic creates a synthetic source.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.ApneaScale < 0 {
		cfg.ApneaScale = 0
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Synthetic{
		cfg:   cfg,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		stage: models.StageWake,
	}
}

// Next returns the next synthetic window.
func (s *Synthetic) Next(ctx context.Context) (Window, error) {
	if err := ctx.Err(); err != nil {
		return Window{}, err
	}
	if s.cfg.MaxEpochs > 0 && s.index >= s.cfg.MaxEpochs {
		return Window{}, ErrEndOfStream
	}
	if s.index > 0 {
		s.stage = s.nextStage(s.stage)
	}
	apnea := s.rng.Float64() < math.Min(1, stageApneaProb[s.stage]*s.cfg.ApneaScale)

	w := Window{
		Index:      s.index,
		SampleRate: s.cfg.SampleRate,
		EEG:        s.eeg(s.stage),
		HR:         s.hr(apnea),
		Truth:      &Label{Stage: s.stage, IsApnea: apnea},
	}
	s.index++
	return w, nil
}

// Close is a no-op.
func (s *Synthetic) Close() error { return nil }

func (s *Synthetic) nextStage(cur models.Stage) models.Stage {
	r := s.rng.Float64()
	var acc float64
	row := stageTransitions[cur]
	for i, p := range row {
		acc += p
		if r < acc {
			return models.Stage(i)
		}
	}
	return cur
}

func (s *Synthetic) eeg(stage models.Stage) []float32 {
	fs := float64(s.cfg.SampleRate)
	n := SamplesPerEpoch(s.cfg.SampleRate)
	x := make([]float64, n)
	for i := range x {
		t := float64(i) / fs
		x[i] = s.rng.NormFloat64() * 0.1
		for _, w := range stageWaves[stage] {
			x[i] += w.amp * math.Sin(2*math.Pi*w.freq*t)
		}
	}
	if stage == models.StageN2 {
		// Three one-second 13 Hz spindles under a Hann taper.
		width := s.cfg.SampleRate
		for k := 0; k < 3; k++ {
			at := s.rng.IntN(n - width)
			for j := 0; j < width; j++ {
				hann := 0.5 - 0.5*math.Cos(2*math.Pi*float64(j)/float64(width-1))
				x[at+j] += 0.8 * math.Sin(2*math.Pi*13*float64(j)/fs) * hann
			}
		}
	}
	return normalize(x)
}

func (s *Synthetic) hr(apnea bool) []float32 {
	fs := float64(s.cfg.SampleRate)
	n := SamplesPerEpoch(s.cfg.SampleRate)
	x := make([]float64, n)
	for i := range x {
		t := float64(i) / fs
		x[i] = 65 + 5*math.Sin(2*math.Pi*0.1*t) + 2*math.Sin(2*math.Pi*0.25*t)
	}
	if apnea {
		applyApneaPattern(x, s.cfg.SampleRate)
	}
	for i := range x {
		x[i] += s.rng.NormFloat64()
	}
	return toFloat32(x)
}

// applyApneaPattern overlays two cycles of bradycardia followed by a one-second
// tachycardic rebound.
func applyApneaPattern(x []float64, rate int) {
	const cycles = 2
	n := len(x)
	for c := 0; c < cycles; c++ {
		start := c * n / cycles
		end := start + n/(cycles*2)
		for i := start; i < end && i < n; i++ {
			x[i] -= 10
		}
		if end < n-rate {
			for i := end; i < end+rate; i++ {
				x[i] += 15
			}
		}
	}
}
