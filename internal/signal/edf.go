package signal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const edfFixedHeader = 256

// EDFSignal describes one channel of an EDF recording.
type EDFSignal struct {
	Label            string
	PhysMin, PhysMax float64
	DigMin, DigMax   int
	SamplesPerRecord int
}

// EDFHeader is the parsed EDF header.
type EDFHeader struct {
	HeaderBytes    int
	NumRecords     int // -1 when unknown
	RecordDuration float64
	Signals        []EDFSignal
}

// SampleRate returns the sampling rate of signal i in Hz.
func (h *EDFHeader) SampleRate(i int) float64 {
	if h.RecordDuration <= 0 {
		return 0
	}
	return float64(h.Signals[i].SamplesPerRecord) / h.RecordDuration
}

// FindSignal returns the index of the first channel whose label contains substr, or -1.
func (h *EDFHeader) FindSignal(substr string) int {
	for i, s := range h.Signals {
		if strings.Contains(strings.ToUpper(s.Label), substr) {
			return i
		}
	}
	return -1
}

// EDFReader streams data records of an EDF file.
type EDFReader struct {
	Header EDFHeader
	r      *bufio.Reader
	closer io.Closer
	raw    []byte
	read   int
}

// OpenEDF opens an EDF file and parses its header.
func OpenEDF(path string) (*EDFReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open edf: %w", err)
	}
	r, err := NewEDFReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewEDFReader parses the header from r and prepares record streaming.
func NewEDFReader(r io.Reader) (*EDFReader, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	h, err := parseEDFHeader(br)
	if err != nil {
		return nil, err
	}
	recordSize := 0
	for _, s := range h.Signals {
		recordSize += s.SamplesPerRecord * 2
	}
	return &EDFReader{Header: *h, r: br, raw: make([]byte, recordSize)}, nil
}

// ReadRecord returns the next data record converted to physical units, one
// slice per signal. It returns io.EOF after the last complete record.
func (e *EDFReader) ReadRecord() ([][]float64, error) {
	if e.Header.NumRecords >= 0 && e.read >= e.Header.NumRecords {
		return nil, io.EOF
	}
	if _, err := io.ReadFull(e.r, e.raw); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	e.read++
	out := make([][]float64, len(e.Header.Signals))
	off := 0
	for i, s := range e.Header.Signals {
		scale := 1.0
		if s.DigMax != s.DigMin {
			scale = (s.PhysMax - s.PhysMin) / float64(s.DigMax-s.DigMin)
		}
		vals := make([]float64, s.SamplesPerRecord)
		for j := range vals {
			d := int16(binary.LittleEndian.Uint16(e.raw[off:]))
			off += 2
			vals[j] = (float64(d)-float64(s.DigMin))*scale + s.PhysMin
		}
		out[i] = vals
	}
	return out, nil
}

// Close releases the underlying file.
func (e *EDFReader) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

func parseEDFHeader(r io.Reader) (*EDFHeader, error) {
	fixed := make([]byte, edfFixedHeader)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, fmt.Errorf("read edf header: %w", err)
	}
	field := func(off, n int) string { return strings.TrimSpace(string(fixed[off : off+n])) }

	h := &EDFHeader{}
	var err error
	if h.HeaderBytes, err = strconv.Atoi(field(184, 8)); err != nil {
		return nil, fmt.Errorf("edf header bytes: %w", err)
	}
	if h.NumRecords, err = strconv.Atoi(field(236, 8)); err != nil {
		return nil, fmt.Errorf("edf record count: %w", err)
	}
	if h.RecordDuration, err = strconv.ParseFloat(field(244, 8), 64); err != nil {
		return nil, fmt.Errorf("edf record duration: %w", err)
	}
	if !(h.RecordDuration > 0) || math.IsInf(h.RecordDuration, 0) {
		return nil, fmt.Errorf("edf record duration %q must be positive", field(244, 8))
	}
	ns, err := strconv.Atoi(field(252, 4))
	if err != nil || ns <= 0 {
		return nil, fmt.Errorf("edf signal count %q", field(252, 4))
	}
	if h.HeaderBytes != edfFixedHeader*(ns+1) {
		return nil, fmt.Errorf("edf header size %d does not match %d signals", h.HeaderBytes, ns)
	}

	ext := make([]byte, edfFixedHeader*ns)
	if _, err := io.ReadFull(r, ext); err != nil {
		return nil, fmt.Errorf("read edf signal headers: %w", err)
	}
	off := 0
	column := func(width int) []string {
		vals := make([]string, ns)
		for i := range vals {
			vals[i] = strings.TrimSpace(string(ext[off+i*width : off+(i+1)*width]))
		}
		off += width * ns
		return vals
	}
	labels := column(16)
	column(80) // transducer
	column(8)  // physical dimension
	physMin := column(8)
	physMax := column(8)
	digMin := column(8)
	digMax := column(8)
	column(80) // prefiltering
	samples := column(8)

	h.Signals = make([]EDFSignal, ns)
	for i := 0; i < ns; i++ {
		s := EDFSignal{Label: labels[i]}
		if s.PhysMin, err = strconv.ParseFloat(physMin[i], 64); err != nil {
			return nil, fmt.Errorf("edf signal %d physical min: %w", i, err)
		}
		if s.PhysMax, err = strconv.ParseFloat(physMax[i], 64); err != nil {
			return nil, fmt.Errorf("edf signal %d physical max: %w", i, err)
		}
		if s.DigMin, err = strconv.Atoi(digMin[i]); err != nil {
			return nil, fmt.Errorf("edf signal %d digital min: %w", i, err)
		}
		if s.DigMax, err = strconv.Atoi(digMax[i]); err != nil {
			return nil, fmt.Errorf("edf signal %d digital max: %w", i, err)
		}
		if s.SamplesPerRecord, err = strconv.Atoi(samples[i]); err != nil {
			return nil, fmt.Errorf("edf signal %d samples per record: %w", i, err)
		}
		if s.SamplesPerRecord < 0 {
			return nil, fmt.Errorf("edf signal %d samples per record %d is negative", i, s.SamplesPerRecord)
		}
		h.Signals[i] = s
	}
	return h, nil
}
