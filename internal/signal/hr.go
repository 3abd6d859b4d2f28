package signal

import (
	"math"

	"github.com/sleepwatch/backend/internal/models"
)

const defaultHeartRate = 70.0

var stageBaseHR = [models.NumStages]float64{
	models.StageWake: 70,
	models.StageN1:   65,
	models.StageN2:   60,
	models.StageN3:   58,
	models.StageREM:  66,
}

// ECGToHR derives a piecewise-constant heart-rate trace (bpm) from raw ECG by
// R-peak detection with a 0.5 s refractory period.
func ECGToHR(ecg []float64, rate float64) []float64 {
	hr := make([]float64, len(ecg))
	for i := range hr {
		hr[i] = defaultHeartRate
	}
	if len(ecg) == 0 || rate <= 0 {
		return hr
	}
	var mean, variance float64
	for _, v := range ecg {
		mean += v
	}
	mean /= float64(len(ecg))
	for _, v := range ecg {
		variance += (v - mean) * (v - mean)
	}
	threshold := mean + 0.5*math.Sqrt(variance/float64(len(ecg)))
	refractory := int(rate * 0.5)

	var peaks []int
	for i := 1; i < len(ecg)-1; i++ {
		if ecg[i] < threshold || ecg[i] < ecg[i-1] || ecg[i] < ecg[i+1] {
			continue
		}
		if n := len(peaks); n > 0 && i-peaks[n-1] < refractory {
			if ecg[i] > ecg[peaks[n-1]] {
				peaks[n-1] = i
			}
			continue
		}
		peaks = append(peaks, i)
	}
	for k := 0; k+1 < len(peaks); k++ {
		bpm := 60 * rate / float64(peaks[k+1]-peaks[k])
		for i := peaks[k]; i < peaks[k+1]; i++ {
			hr[i] = bpm
		}
	}
	return hr
}

// StageHR synthesises a heart-rate trace for recordings without an ECG channel.
func StageHR(stage models.Stage, apnea bool, rate int) []float64 {
	n := SamplesPerEpoch(rate)
	base := defaultHeartRate
	if stage.Valid() {
		base = stageBaseHR[stage]
	}
	x := make([]float64, n)
	for i := range x {
		x[i] = base + 3*math.Sin(2*math.Pi*0.25*float64(i)/float64(rate))
	}
	if apnea {
		for i := n / 4; i < n/2; i++ {
			x[i] -= 8
		}
		for i := n / 2; i < 3*n/4; i++ {
			x[i] += 12
		}
	}
	return x
}
