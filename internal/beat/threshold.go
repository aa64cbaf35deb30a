// SPDX-License-Identifier: MIT
package beat

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// ibiHistoryLen is the fixed capacity of the inter-beat-interval ring.
const ibiHistoryLen = 8

// ThresholdConfig holds the tuning for the threshold detector.
type ThresholdConfig struct {
	EnergyThreshold float64       // Total RAW energy floor for a candidate.
	RiseRatio       float64       // Instantaneous rise ratio marking a transient.
	Debounce        time.Duration // Quiet interval before a candidate confirms.
	MinIBI          time.Duration // Shortest plausible inter-beat interval.
	MaxIBI          time.Duration // Longest plausible inter-beat interval.
	SilenceTimeout  time.Duration // No-beat window after which the tempo resets.
}

// DefaultThresholdConfig returns the firmware-derived tuning: 200-2000 ms
// intervals (30-300 BPM raw acceptance), 120 ms debounce, 3 s timeout.
func DefaultThresholdConfig() ThresholdConfig {
	return ThresholdConfig{
		EnergyThreshold: 0.02,
		RiseRatio:       1.5,
		Debounce:        120 * time.Millisecond,
		MinIBI:          200 * time.Millisecond,
		MaxIBI:          2000 * time.Millisecond,
		SilenceTimeout:  3 * time.Second,
	}
}

// Detector states.
const (
	stateIdle = iota
	stateCandidate
)

// ThresholdDetector is the legacy beat detector: a three-step state machine
// (idle, candidate, confirmed) feeding a fixed-length IBI history. BPM is the
// median of the history; the median keeps a single flamed or missed beat from
// dragging the estimate. Confidence is 1/(1+CV), so a perfectly regular
// history converges to 1.
type ThresholdDetector struct {
	cfg ThresholdConfig

	state           int
	lastEnergy      float64
	candidateAt     time.Duration
	candidateEnergy float64
	lastBeatAt      time.Duration
	hasBeat         bool

	ibis     [ibiHistoryLen]float64 // Accepted intervals, milliseconds.
	ibiIdx   int
	ibiCount int
	scratch  []float64 // Sorted copy for the median; reused across ticks.

	tempo TempoState
}

var _ Detector = (*ThresholdDetector)(nil)

// NewThresholdDetector validates the configuration and builds the detector.
func NewThresholdDetector(cfg ThresholdConfig) (*ThresholdDetector, error) {
	if cfg.EnergyThreshold <= 0 {
		return nil, fmt.Errorf("threshold detector: energy threshold must be positive, got %g", cfg.EnergyThreshold)
	}
	if cfg.RiseRatio <= 1 {
		return nil, fmt.Errorf("threshold detector: rise ratio must exceed 1, got %g", cfg.RiseRatio)
	}
	if cfg.MinIBI <= 0 || cfg.MaxIBI <= cfg.MinIBI {
		return nil, fmt.Errorf("threshold detector: IBI bounds invalid: %s..%s", cfg.MinIBI, cfg.MaxIBI)
	}
	if cfg.SilenceTimeout <= 0 {
		return nil, fmt.Errorf("threshold detector: silence timeout must be positive, got %s", cfg.SilenceTimeout)
	}
	return &ThresholdDetector{
		cfg:     cfg,
		scratch: make([]float64, 0, ibiHistoryLen),
	}, nil
}

// Process advances the state machine by one tick.
func (d *ThresholdDetector) Process(spectrum []float64, ts time.Duration) (*BeatEvent, TempoState) {
	energy := totalRMS(spectrum)

	// A transient is an energy level above the floor together with an
	// instantaneous rise against the previous tick.
	transient := energy > d.cfg.EnergyThreshold &&
		(d.lastEnergy == 0 || energy > d.lastEnergy*d.cfg.RiseRatio)

	var event *BeatEvent
	switch d.state {
	case stateIdle:
		if transient {
			d.state = stateCandidate
			d.candidateAt = ts
			d.candidateEnergy = energy
		}
	case stateCandidate:
		if transient && energy > d.candidateEnergy {
			// A louder retrigger restarts the debounce window; the beat
			// timestamp follows the loudest transient in the cluster.
			d.candidateAt = ts
			d.candidateEnergy = energy
		} else if ts-d.candidateAt >= d.cfg.Debounce {
			event = d.confirm(ts)
		}
	}

	// Mandatory silence timeout: a stale estimate must decay, not freeze.
	if d.hasBeat && ts-d.lastBeatAt > d.cfg.SilenceTimeout {
		d.reset()
	}

	d.lastEnergy = energy
	return event, d.tempo
}

// confirm records the candidate as a beat, folds its interval into the
// history, and refreshes the tempo estimate.
func (d *ThresholdDetector) confirm(ts time.Duration) *BeatEvent {
	beatAt := d.candidateAt

	if d.hasBeat {
		ibi := beatAt - d.lastBeatAt
		// Only plausibly-tempo intervals enter the history; doubles from
		// flams and sub-bass rumble fall outside the window.
		if ibi >= d.cfg.MinIBI && ibi <= d.cfg.MaxIBI {
			d.ibis[d.ibiIdx] = float64(ibi.Milliseconds())
			d.ibiIdx = (d.ibiIdx + 1) % ibiHistoryLen
			if d.ibiCount < ibiHistoryLen {
				d.ibiCount++
			}
			d.refreshTempo(beatAt)
		}
	}

	d.lastBeatAt = beatAt
	d.hasBeat = true
	d.state = stateIdle

	strength := math.Min(1, d.candidateEnergy/(d.cfg.EnergyThreshold*4))
	return &BeatEvent{
		Timestamp:  beatAt,
		Confidence: d.tempo.Confidence,
		Energy:     d.candidateEnergy,
		Strength:   strength,
		Type:       GenericBeat,
	}
}

// refreshTempo recomputes BPM and confidence from the IBI history.
func (d *ThresholdDetector) refreshTempo(beatAt time.Duration) {
	d.scratch = append(d.scratch[:0], d.ibis[:d.ibiCount]...)
	sort.Float64s(d.scratch)
	median := stat.Quantile(0.5, stat.Empirical, d.scratch, nil)
	if median <= 0 {
		return
	}

	d.tempo.BPM = 60000 / median
	d.tempo.NextBeat = beatAt + time.Duration(median)*time.Millisecond

	if d.ibiCount < 2 {
		d.tempo.Confidence = 0.5
		return
	}
	mean, std := stat.MeanStdDev(d.ibis[:d.ibiCount], nil)
	cv := std / math.Max(mean, 1e-9)
	d.tempo.Confidence = 1 / (1 + cv)
}

// reset clears the tempo estimate after sustained silence.
func (d *ThresholdDetector) reset() {
	d.state = stateIdle
	d.hasBeat = false
	d.ibiIdx = 0
	d.ibiCount = 0
	d.tempo = TempoState{}
}

// Tempo returns the current tempo estimate.
func (d *ThresholdDetector) Tempo() TempoState {
	return d.tempo
}

// Genre returns an empty estimate; the legacy detector has no classifier.
func (d *ThresholdDetector) Genre() GenreEstimate {
	return GenreEstimate{}
}
