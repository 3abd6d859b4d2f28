package signal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sleepwatch/backend/internal/models"
)

const sampleNSRR = `<?xml version="1.0" encoding="UTF-8"?>
<PSGAnnotation>
  <SoftwareVersion>Compumedics</SoftwareVersion>
  <EpochLength>30</EpochLength>
  <ScoredEvents>
    <ScoredEvent>
      <EventType>Stages|Stages</EventType>
      <EventConcept>Wake|0</EventConcept>
      <Start>0</Start>
      <Duration>30</Duration>
    </ScoredEvent>
    <ScoredEvent>
      <EventType>Stages|Stages</EventType>
      <EventConcept>Stage 2 sleep|2</EventConcept>
      <Start>30</Start>
      <Duration>30</Duration>
    </ScoredEvent>
    <ScoredEvent>
      <EventType>Stages|Stages</EventType>
      <EventConcept>Stage 4 sleep|4</EventConcept>
      <Start>60</Start>
      <Duration>30</Duration>
    </ScoredEvent>
    <ScoredEvent>
      <EventType>Stages|Stages</EventType>
      <EventConcept>REM sleep|5</EventConcept>
      <Start>90</Start>
      <Duration>60</Duration>
    </ScoredEvent>
    <ScoredEvent>
      <EventType>Respiratory|Respiratory</EventType>
      <EventConcept>Obstructive apnea|Obstructive Apnea</EventConcept>
      <Start>55.5</Start>
      <Duration>12</Duration>
    </ScoredEvent>
    <ScoredEvent>
      <EventType>Arousals|Arousals</EventType>
      <EventConcept>Arousal|Arousal ()</EventConcept>
      <Start>100</Start>
      <Duration>5</Duration>
    </ScoredEvent>
  </ScoredEvents>
</PSGAnnotation>`

func TestParseAnnotations(t *testing.T) {
	ann, err := ParseAnnotations(strings.NewReader(sampleNSRR))
	require.NoError(t, err)

	assert.Equal(t, Label{Stage: models.StageWake}, ann.Label(0))
	// The apnea starting at 55.5s spans epochs 1 and 2.
	assert.Equal(t, Label{Stage: models.StageN2, IsApnea: true}, ann.Label(1))
	assert.Equal(t, Label{Stage: models.StageN3, IsApnea: true}, ann.Label(2))
	assert.Equal(t, Label{Stage: models.StageREM}, ann.Label(3))
	assert.Equal(t, Label{Stage: models.StageREM}, ann.Label(4))
	// Past the scored range.
	assert.Equal(t, Label{Stage: models.StageWake}, ann.Label(5))
}

func TestParseAnnotationsInvalid(t *testing.T) {
	_, err := ParseAnnotations(strings.NewReader("<PSGAnnotation><ScoredEvents>"))
	assert.Error(t, err)
}
