package signal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/sleepwatch/backend/internal/models"
)

// Recorded replays a scored polysomnography record epoch by epoch. Windows are
// resampled to the output rate and z-normalised per epoch.
type Recorded struct {
	subject string
	edf     *EDFReader
	ann     *Annotations
	rate    int
	eegCh   int
	ecgCh   int
	eegBuf  []float64
	ecgBuf  []float64
	index   int
	done    bool
}

// NewRecorded binds an opened EDF stream and its annotations.
func NewRecorded(subject string, edf *EDFReader, ann *Annotations, rate int) (*Recorded, error) {
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	eeg := edf.Header.FindSignal("EEG")
	if eeg < 0 {
		return nil, fmt.Errorf("subject %s: no EEG channel", subject)
	}
	if edf.Header.Signals[eeg].SamplesPerRecord == 0 {
		return nil, fmt.Errorf("subject %s: EEG channel has no samples", subject)
	}
	return &Recorded{
		subject: subject,
		edf:     edf,
		ann:     ann,
		rate:    rate,
		eegCh:   eeg,
		ecgCh:   edf.Header.FindSignal("ECG"),
	}, nil
}

// Subject returns the corpus reference being replayed.
func (r *Recorded) Subject() string { return r.subject }

// Next returns the next epoch, or ErrEndOfStream once the record is exhausted.
func (r *Recorded) Next(ctx context.Context) (Window, error) {
	if err := ctx.Err(); err != nil {
		return Window{}, err
	}
	if r.done {
		return Window{}, ErrEndOfStream
	}
	h := &r.edf.Header
	eegRate := h.SampleRate(r.eegCh)
	needEEG := int(math.Round(eegRate * models.EpochSeconds))
	needECG := 0
	if r.ecgCh >= 0 {
		needECG = int(math.Round(h.SampleRate(r.ecgCh) * models.EpochSeconds))
	}
	for len(r.eegBuf) < needEEG || len(r.ecgBuf) < needECG {
		rec, err := r.edf.ReadRecord()
		if errors.Is(err, io.EOF) {
			r.done = true
			return Window{}, ErrEndOfStream
		}
		if err != nil {
			return Window{}, fmt.Errorf("subject %s epoch %d: %w", r.subject, r.index, err)
		}
		r.eegBuf = append(r.eegBuf, rec[r.eegCh]...)
		if r.ecgCh >= 0 {
			r.ecgBuf = append(r.ecgBuf, rec[r.ecgCh]...)
		}
	}

	label := r.ann.Label(r.index)
	n := SamplesPerEpoch(r.rate)
	eeg := resample(r.eegBuf[:needEEG], eegRate, float64(r.rate), n)
	r.eegBuf = r.eegBuf[needEEG:]

	var hr []float64
	if r.ecgCh >= 0 {
		ecgRate := h.SampleRate(r.ecgCh)
		hr = resample(ECGToHR(r.ecgBuf[:needECG], ecgRate), ecgRate, float64(r.rate), n)
		r.ecgBuf = r.ecgBuf[needECG:]
	} else {
		hr = StageHR(label.Stage, label.IsApnea, r.rate)
	}

	w := Window{
		Index:      r.index,
		SampleRate: r.rate,
		EEG:        normalize(eeg),
		HR:         toFloat32(hr),
		Truth:      &label,
	}
	r.index++
	return w, nil
}

// Close releases the EDF file.
func (r *Recorded) Close() error { return r.edf.Close() }
