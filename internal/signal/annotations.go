package signal

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sleepwatch/backend/internal/models"
)

// NSRR event concepts mapped to stages. AASM merges stages 3 and 4 into N3.
var nsrrStages = map[string]models.Stage{
	"Wake|0":          models.StageWake,
	"Stage 1 sleep|1": models.StageN1,
	"Stage 2 sleep|2": models.StageN2,
	"Stage 3 sleep|3": models.StageN3,
	"Stage 4 sleep|4": models.StageN3,
	"REM sleep|5":     models.StageREM,
}

var nsrrApneas = map[string]bool{
	"Hypopnea|Hypopnea":                   true,
	"Obstructive apnea|Obstructive Apnea": true,
	"Central apnea|Central Apnea":         true,
	"Mixed apnea|Mixed Apnea":             true,
}

type nsrrDocument struct {
	Events []struct {
		Concept  string  `xml:"EventConcept"`
		Start    float64 `xml:"Start"`
		Duration float64 `xml:"Duration"`
	} `xml:"ScoredEvents>ScoredEvent"`
}

type span struct {
	start, end float64
	stage      models.Stage
}

// Annotations holds scored stage and respiratory events of one recording.
type Annotations struct {
	stages []span
	apneas []span
}

// LoadAnnotations parses an NSRR XML annotation file.
func LoadAnnotations(path string) (*Annotations, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open annotations: %w", err)
	}
	defer f.Close()
	return ParseAnnotations(f)
}

// ParseAnnotations decodes NSRR XML from r.
func ParseAnnotations(r io.Reader) (*Annotations, error) {
	var doc nsrrDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode annotations: %w", err)
	}
	a := &Annotations{}
	for _, ev := range doc.Events {
		sp := span{start: ev.Start, end: ev.Start + ev.Duration}
		if st, ok := nsrrStages[ev.Concept]; ok {
			sp.stage = st
			a.stages = append(a.stages, sp)
		} else if nsrrApneas[ev.Concept] {
			a.apneas = append(a.apneas, sp)
		}
	}
	sort.Slice(a.stages, func(i, j int) bool { return a.stages[i].start < a.stages[j].start })
	sort.Slice(a.apneas, func(i, j int) bool { return a.apneas[i].start < a.apneas[j].start })
	return a, nil
}

// StageAt returns the scored stage covering second t, Wake when unscored.
func (a *Annotations) StageAt(t float64) models.Stage {
	i := sort.Search(len(a.stages), func(i int) bool { return a.stages[i].start > t })
	if i == 0 {
		return models.StageWake
	}
	if sp := a.stages[i-1]; t < sp.end {
		return sp.stage
	}
	return models.StageWake
}

// ApneaDuring reports whether any respiratory event overlaps [from, to).
func (a *Annotations) ApneaDuring(from, to float64) bool {
	for _, sp := range a.apneas {
		if sp.start >= to {
			return false
		}
		if sp.end > from {
			return true
		}
	}
	return false
}

// Label returns the annotation for the epoch at index.
func (a *Annotations) Label(index int) Label {
	from := float64(index * models.EpochSeconds)
	return Label{
		Stage:   a.StageAt(from),
		IsApnea: a.ApneaDuring(from, from+models.EpochSeconds),
	}
}
