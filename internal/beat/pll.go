// SPDX-License-Identifier: MIT
package beat

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// fluxBandEdges split the spectrum into the four rhythm bands the onset
// stage and the event classifier work with (kick, low body, snare, hats).
var fluxBandEdges = [3]float64{150, 500, 1200}

const (
	defaultFreqHz = 2.0 // 120 BPM starting frequency for an unlocked PLL.

	phaseWindow = 0.15 // Accept beats within this fraction of the predicted phase.

	confidenceDecay = 0.995 // Per-tick decay of the detector confidence.
	confidenceBoost = 0.15  // Scale of the boost on a confirmed beat.

	minFluxTicks = 8 // Flux history samples required before onsets fire.
)

// PLLConfig holds the tuning for the PLL detector.
type PLLConfig struct {
	TickRate       float64       // Pipeline tick rate (Hz).
	MinBPM         float64       // Lower clamp of the tracked tempo.
	MaxBPM         float64       // Upper clamp of the tracked tempo.
	FluxHistory    int           // Rolling flux window for the adaptive onset threshold.
	OnsetK         float64       // Base flux threshold in standard deviations.
	OnsetEnabled   bool          // When false, tempo is tracked but no events are emitted.
	SilenceRMS     float64       // Energy below this counts as silence.
	SilenceTimeout time.Duration // Sustained silence after which the tempo resets.
}

// DefaultPLLConfig returns the standard tuning for a 125 Hz tick.
func DefaultPLLConfig() PLLConfig {
	return PLLConfig{
		TickRate:       125,
		MinBPM:         40,
		MaxBPM:         220,
		FluxHistory:    43,
		OnsetK:         1.5,
		OnsetEnabled:   true,
		SilenceRMS:     0.003,
		SilenceTimeout: 3 * time.Second,
	}
}

// PLLDetector tracks tempo with a phase-locked loop nudged by spectral-flux
// onsets. Each tick the loop advances its phase by the current frequency; an
// onset supplies a phase error that corrects both phase and frequency. Beats
// are only accepted inside a window around the predicted phase, which is
// what rejects off-beat noise the threshold detector would fire on.
type PLLDetector struct {
	cfg      PLLConfig
	binFreqs []float64
	binBand  []int // Bin index to flux band.

	prev     []float64
	havePrev bool

	flux      []float64 // Rolling aggregate flux history.
	fluxIdx   int
	fluxCount int
	bandFlux  [4]float64

	phase  float64 // Position within the beat period, in [0,1).
	freq   float64 // Beat frequency in Hz.
	conf   float64
	locked bool

	lastAudible time.Duration

	genre *GenreClassifier
	tempo TempoState
}

var _ Detector = (*PLLDetector)(nil)

// NewPLLDetector validates the configuration and builds the detector for
// the given bin center frequencies.
func NewPLLDetector(cfg PLLConfig, binFreqs []float64) (*PLLDetector, error) {
	if cfg.TickRate <= 0 {
		return nil, fmt.Errorf("pll detector: tick rate must be positive, got %g", cfg.TickRate)
	}
	if cfg.MinBPM <= 0 || cfg.MaxBPM <= cfg.MinBPM {
		return nil, fmt.Errorf("pll detector: tempo range invalid: %g-%g BPM", cfg.MinBPM, cfg.MaxBPM)
	}
	if cfg.FluxHistory < minFluxTicks {
		return nil, fmt.Errorf("pll detector: flux history %d below minimum %d", cfg.FluxHistory, minFluxTicks)
	}
	if len(binFreqs) == 0 {
		return nil, fmt.Errorf("pll detector: bin frequencies required")
	}
	if cfg.SilenceTimeout <= 0 {
		return nil, fmt.Errorf("pll detector: silence timeout must be positive, got %s", cfg.SilenceTimeout)
	}

	d := &PLLDetector{
		cfg:      cfg,
		binFreqs: append([]float64(nil), binFreqs...),
		binBand:  make([]int, len(binFreqs)),
		prev:     make([]float64, len(binFreqs)),
		flux:     make([]float64, cfg.FluxHistory),
		freq:     defaultFreqHz,
		genre:    NewGenreClassifier(),
	}
	for i, f := range binFreqs {
		band := 0
		for _, edge := range fluxBandEdges {
			if f >= edge {
				band++
			}
		}
		d.binBand[i] = band
	}
	return d, nil
}

// Process advances the loop by one tick.
func (d *PLLDetector) Process(spectrum []float64, ts time.Duration) (*BeatEvent, TempoState) {
	dt := 1 / d.cfg.TickRate
	params := d.genre.params()

	flux := d.measureFlux(spectrum)
	energy := totalRMS(spectrum)
	if energy > d.cfg.SilenceRMS {
		d.lastAudible = ts
	}

	// Advance the loop.
	d.phase += d.freq * dt
	if d.phase >= 1 {
		d.phase -= math.Floor(d.phase)
	}

	// Adaptive onset threshold over the rolling flux history, with the
	// dominant genre steering sensitivity.
	mean, std := stat.MeanStdDev(d.flux[:max(d.fluxCount, 2)], nil)
	k := d.cfg.OnsetK * (params.onsetK / 1.5)
	onset := d.fluxCount >= minFluxTicks && flux > mean+k*std && flux > 1e-6

	var event *BeatEvent
	if onset {
		// Signed distance from the nearest predicted beat boundary.
		err := d.phase
		if err > 0.5 {
			err -= 1
		}

		d.phase -= params.phaseGain * err
		d.phase -= math.Floor(d.phase)
		d.freq -= params.freqGain * err
		d.freq = clampFreq(d.freq, d.cfg.MinBPM/60, d.cfg.MaxBPM/60)
		d.locked = true

		// Beats are accepted only near the predicted phase; everything else
		// is treated as syncopation or noise and corrects the loop without
		// emitting.
		if math.Abs(err) <= phaseWindow && d.cfg.OnsetEnabled {
			strength := math.Min(1, (flux-mean)/math.Max(std*4, 1e-9))
			d.conf = math.Min(1, d.conf+confidenceBoost*(0.5+strength))
			event = &BeatEvent{
				Timestamp:  ts,
				Confidence: d.conf,
				Energy:     energy,
				Strength:   strength,
				Type:       d.classifyEvent(),
			}
		}
	}

	d.conf *= confidenceDecay

	// Silence timeout: decay to an unlocked state rather than freezing the
	// last tempo forever.
	if d.locked && ts-d.lastAudible > d.cfg.SilenceTimeout {
		d.locked = false
		d.conf = 0
		d.phase = 0
	}

	d.genre.Observe(
		spectralCentroid(spectrum, d.binFreqs),
		spectralRolloff(spectrum, d.binFreqs),
		d.currentBPM(),
		d.conf,
	)

	d.tempo = TempoState{
		BPM:        d.currentBPM(),
		Phase:      d.phase,
		Confidence: d.conf,
		NextBeat:   ts + time.Duration((1-d.phase)/d.freq*float64(time.Second)),
	}
	return event, d.tempo
}

// measureFlux computes the positive-only spectral flux against the previous
// tick, aggregated and per rhythm band, and folds it into the history.
func (d *PLLDetector) measureFlux(spectrum []float64) float64 {
	var flux float64
	d.bandFlux = [4]float64{}
	n := min(len(spectrum), len(d.prev))
	for i := 0; i < n; i++ {
		delta := spectrum[i] - d.prev[i]
		if delta > 0 && d.havePrev {
			flux += delta
			d.bandFlux[d.binBand[i]] += delta
		}
		d.prev[i] = spectrum[i]
	}
	d.havePrev = true

	d.flux[d.fluxIdx] = flux
	d.fluxIdx = (d.fluxIdx + 1) % len(d.flux)
	if d.fluxCount < len(d.flux) {
		d.fluxCount++
	}
	return flux
}

// classifyEvent names the beat by its dominant flux band.
func (d *PLLDetector) classifyEvent() EventType {
	best, bestFlux := 0, d.bandFlux[0]
	for i, f := range d.bandFlux {
		if f > bestFlux {
			best, bestFlux = i, f
		}
	}
	switch best {
	case 0:
		return KickBeat
	case 2:
		return SnareBeat
	case 3:
		return HihatBeat
	default:
		return GenericBeat
	}
}

func (d *PLLDetector) currentBPM() float64 {
	if !d.locked {
		return 0
	}
	return d.freq * 60
}

// Tempo returns the current tempo estimate.
func (d *PLLDetector) Tempo() TempoState {
	return d.tempo
}

// Genre returns the dominant genre estimate.
func (d *PLLDetector) Genre() GenreEstimate {
	return d.genre.Dominant()
}

func clampFreq(f, lo, hi float64) float64 {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}
