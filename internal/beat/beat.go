// SPDX-License-Identifier: MIT
/*
Package beat implements beat and tempo detection over the RAW spectral path.

Two interchangeable strategies sit behind the Detector contract: a threshold
state machine with median inter-beat-interval statistics, and a phase-locked
loop driven by spectral-flux onsets with a coarse genre classifier adapting
its gains. Both consume only the raw spectrum; the AGC path would erase the
energy dynamics these detectors depend on.
*/
package beat

import (
	"math"
	"time"
)

// EventType classifies a detected beat by its spectral footprint.
type EventType int

const (
	GenericBeat EventType = iota
	KickBeat
	SnareBeat
	HihatBeat
)

// String returns the event type label.
func (t EventType) String() string {
	switch t {
	case KickBeat:
		return "kick"
	case SnareBeat:
		return "snare"
	case HihatBeat:
		return "hihat"
	default:
		return "beat"
	}
}

// BeatEvent is an emitted beat. Events are not retained by the detectors.
type BeatEvent struct {
	Timestamp  time.Duration // Sample-clock time of the beat.
	Confidence float64       // Detector confidence at emission, in [0,1].
	Energy     float64       // Total raw energy at the beat.
	Strength   float64       // Normalized onset strength, in [0,1].
	Type       EventType
}

// TempoState is the persistent tempo estimate. A BPM of 0 means no tempo is
// currently locked (startup, or after the silence timeout).
type TempoState struct {
	BPM        float64
	Phase      float64 // Position within the current beat period, in [0,1).
	Confidence float64 // In [0,1].
	NextBeat   time.Duration
}

// GenreEstimate is the slowly-decaying genre label maintained by the PLL
// detector. Detectors without a classifier report an empty label.
type GenreEstimate struct {
	Label      string
	Confidence float64
}

// Detector is the single contract both strategies implement. Process
// consumes one tick of the raw magnitude spectrum with its sample-clock
// timestamp, and returns an optional beat event plus the updated tempo
// state. Implementations are stateful, single-threaded, and must never
// panic on malformed input.
type Detector interface {
	Process(spectrum []float64, ts time.Duration) (*BeatEvent, TempoState)
	Tempo() TempoState
	Genre() GenreEstimate
}

// totalRMS is the shared energy measure over a spectrum.
func totalRMS(spectrum []float64) float64 {
	if len(spectrum) == 0 {
		return 0
	}
	var sum float64
	for _, m := range spectrum {
		sum += m * m
	}
	return math.Sqrt(sum / float64(len(spectrum)))
}
