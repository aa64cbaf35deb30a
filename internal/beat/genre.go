// SPDX-License-Identifier: MIT
package beat

import "math"

// genreProfile describes one coarse genre: where its spectral mass sits,
// what tempo range it lives in, how regular its rhythm tends to be, and how
// the PLL should behave while it dominates. The profiles are deliberately
// broad; the classifier only needs to steer detector sensitivity, not name
// records.
type genreProfile struct {
	name       string
	centroidHz float64 // Typical spectral centroid.
	rolloffHz  float64 // Typical 85% energy rolloff.
	bpm        float64 // Center of the typical tempo range.
	bpmSpread  float64 // Tolerated deviation around it.
	regularity float64 // Typical rhythm regularity (tempo confidence).

	// PLL adaptation while this genre dominates.
	onsetK    float64 // Flux threshold in standard deviations.
	phaseGain float64
	freqGain  float64
}

var genreProfiles = []genreProfile{
	{
		name:       "electronic",
		centroidHz: 600, rolloffHz: 1600,
		bpm: 128, bpmSpread: 20, regularity: 0.9,
		onsetK: 1.2, phaseGain: 0.30, freqGain: 0.06,
	},
	{
		name:       "rock",
		centroidHz: 800, rolloffHz: 1800,
		bpm: 120, bpmSpread: 35, regularity: 0.7,
		onsetK: 1.5, phaseGain: 0.25, freqGain: 0.05,
	},
	{
		name:       "hiphop",
		centroidHz: 400, rolloffHz: 1200,
		bpm: 90, bpmSpread: 20, regularity: 0.8,
		onsetK: 1.3, phaseGain: 0.25, freqGain: 0.04,
	},
	{
		name:       "acoustic",
		centroidHz: 700, rolloffHz: 1500,
		bpm: 100, bpmSpread: 40, regularity: 0.5,
		onsetK: 1.8, phaseGain: 0.18, freqGain: 0.03,
	},
	{
		name:       "ambient",
		centroidHz: 500, rolloffHz: 1000,
		bpm: 70, bpmSpread: 40, regularity: 0.2,
		onsetK: 2.2, phaseGain: 0.12, freqGain: 0.02,
	},
}

// genreSmoothing is the per-observation blend into the running scores. Small
// on purpose: the estimate should ride out a bridge or a breakdown.
const genreSmoothing = 0.02

// GenreClassifier scores coarse spectral features and rhythm statistics
// against the fixed profile set and keeps a slowly-moving dominant estimate.
type GenreClassifier struct {
	scores   []float64
	estimate GenreEstimate
}

// NewGenreClassifier starts with all profiles equally unlikely.
func NewGenreClassifier() *GenreClassifier {
	return &GenreClassifier{scores: make([]float64, len(genreProfiles))}
}

// Observe folds one tick of features into the running scores. A zero BPM
// (no tempo lock) skips the tempo term rather than penalizing every profile.
func (g *GenreClassifier) Observe(centroidHz, rolloffHz, bpm, regularity float64) {
	best, bestScore := -1, 0.0
	for i, p := range genreProfiles {
		score := closeness(centroidHz, p.centroidHz, p.centroidHz) *
			closeness(rolloffHz, p.rolloffHz, p.rolloffHz)
		if bpm > 0 {
			score *= closeness(bpm, p.bpm, p.bpmSpread)
			score *= closeness(regularity, p.regularity, 0.5)
		}
		g.scores[i] += genreSmoothing * (score - g.scores[i])
		if best == -1 || g.scores[i] > bestScore {
			best, bestScore = i, g.scores[i]
		}
	}
	g.estimate = GenreEstimate{
		Label:      genreProfiles[best].name,
		Confidence: math.Min(1, bestScore),
	}
}

// closeness maps the distance between value and center onto (0,1], with
// spread controlling how fast the score falls off.
func closeness(value, center, spread float64) float64 {
	d := (value - center) / math.Max(spread, 1e-9)
	return math.Exp(-0.5 * d * d)
}

// Dominant returns the current estimate.
func (g *GenreClassifier) Dominant() GenreEstimate {
	return g.estimate
}

// params returns the PLL tuning for the dominant genre, or the rock profile
// as a middle-of-the-road default before anything dominates.
func (g *GenreClassifier) params() genreProfile {
	for _, p := range genreProfiles {
		if p.name == g.estimate.Label {
			return p
		}
	}
	return genreProfiles[1]
}

// spectralCentroid is the magnitude-weighted mean frequency. Bins beyond the
// known frequency table are ignored, whatever length the spectrum claims.
func spectralCentroid(spectrum, binFreqs []float64) float64 {
	n := min(len(spectrum), len(binFreqs))
	var weighted, total float64
	for i := 0; i < n; i++ {
		weighted += spectrum[i] * binFreqs[i]
		total += spectrum[i]
	}
	if total <= 0 {
		return 0
	}
	return weighted / total
}

// spectralRolloff is the frequency below which 85% of the magnitude sits.
func spectralRolloff(spectrum, binFreqs []float64) float64 {
	n := min(len(spectrum), len(binFreqs))
	if n == 0 {
		return 0
	}
	var total float64
	for i := 0; i < n; i++ {
		total += spectrum[i]
	}
	if total <= 0 {
		return 0
	}
	target := total * 0.85
	var acc float64
	for i := 0; i < n; i++ {
		acc += spectrum[i]
		if acc >= target {
			return binFreqs[i]
		}
	}
	return binFreqs[n-1]
}
