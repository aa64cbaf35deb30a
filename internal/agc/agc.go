// SPDX-License-Identifier: MIT
/*
Package agc implements the four-band cochlear-inspired automatic gain
controller. Each band tracks its own energy statistics and adapts its
attack/release speed to the signal's variance: transient content gets fast
response, sustained tones get slow smoothing. Two cross-band coupling
mechanisms keep adjacent bands from drifting apart and "swimming".

The controller produces the perceptually normalized spectrum for the
visualization path only. It never feeds beat detection, and its output buffer
is never the raw input buffer.
*/
package agc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Tuning constants shared by all bands. The per-band time constants and gain
// ceilings come from Config; these shape behaviors that proved stable across
// hardware targets and are not worth exposing per deployment.
const (
	historyLen = 8 // Energy history samples per band.

	minGain = 0.1 // Lower gain clamp for every band.

	gateMargin     = 1.5  // Band RMS within this multiple of the noise floor holds neutral gain.
	noiseFloorRise = 0.02 // Per-tick rise rate of the noise floor during silence.
	noiseFloorMin  = 1e-6 // Noise floor never decays below this.

	ceilingAttack    = 0.5  // Fast one-pole coefficient when peak exceeds the ceiling.
	ceilingDecay     = 0.01 // Slow one-pole coefficient when peak falls below it.
	ceilingFloorMult = 4.0  // Ceiling never drops below this multiple of the noise floor.

	varianceGain = 4.0 // Scales normalized variance into the time-constant speedup.
	maxSpeedup   = 4.0 // Upper bound on the variance-driven speedup.

	couplingPasses = 4 // Max sweeps of the divergence correction.

	epsilon = 1e-9 // Floors every denominator.
)

// BandConfig holds the per-band tuning.
type BandConfig struct {
	Name      string
	LowHz     float64 // Inclusive lower edge.
	HighHz    float64 // Exclusive upper edge.
	AttackMs  float64 // Base attack time constant.
	ReleaseMs float64 // Base release time constant.
	MaxGain   float64 // Upper gain clamp.
}

// Config holds the controller parameters.
type Config struct {
	Bands           []BandConfig
	TickRate        float64 // Pipeline tick rate (Hz), used to derive one-pole coefficients.
	TargetLevel     float64 // Output level the gain law drives each band toward.
	CompressionTh   float64 // Normalized drive above which ratio compression applies.
	CompressionRt   float64 // Compression ratio (e.g. 3 for 3:1).
	ExpansionExp    float64 // Soft-knee exponent lifting quiet content below the threshold.
	Coupling        float64 // Neighbor-mean blend factor for target gains.
	MaxDivergenceDB float64 // Adjacent-band gain difference limit.
	SilenceRMS      float64 // Band RMS below which noise-floor tracking engages.
}

// BandState is the per-band adaptive state. It persists across ticks and is
// mutated only by the controller that owns it.
type BandState struct {
	Name string
	bins []int // Bin indices belonging to this band (static).

	Gain       float64 // Current smoothed gain.
	TargetGain float64 // Gain the smoother is heading toward.
	RMS        float64 // RMS energy over the band's bins, this tick.
	Peak       float64 // Peak bin magnitude, this tick.
	NoiseFloor float64 // Slowly-rising minimum observed during silence.
	Ceiling    float64 // Fast-attack/slow-decay envelope of the peak level.
	Mean       float64 // Mean of the energy history.
	Variance   float64 // Variance of the energy history.

	history   [historyLen]float64
	histIdx   int
	histCount int

	attackBase  float64 // One-pole coefficients derived from the configured ms.
	releaseBase float64
	attack      float64 // Variance-adjusted coefficients used this tick.
	release     float64
	maxGain     float64
}

// BandSnapshot is a copy of the observable band state for diagnostics.
type BandSnapshot struct {
	Name       string
	Bins       int
	Gain       float64
	TargetGain float64
	RMS        float64
	Peak       float64
	NoiseFloor float64
	Ceiling    float64
	Variance   float64
}

// MultibandAGC is the four-band gain controller. Single-threaded: Process is
// invoked exactly once per tick by the pipeline.
type MultibandAGC struct {
	cfg     Config
	bands   []BandState
	targets []float64 // Scratch for the coupling stage.
}

// New builds the controller and the static frequency-to-band table from the
// known bin center frequencies. Band boundary errors fail construction.
func New(cfg Config, binFreqs []float64) (*MultibandAGC, error) {
	if len(cfg.Bands) == 0 {
		return nil, fmt.Errorf("agc: at least one band required")
	}
	if cfg.TickRate <= 0 {
		return nil, fmt.Errorf("agc: tick rate must be positive, got %g", cfg.TickRate)
	}
	if cfg.CompressionRt < 1 {
		return nil, fmt.Errorf("agc: compression ratio must be >= 1, got %g", cfg.CompressionRt)
	}
	if cfg.MaxDivergenceDB <= 0 {
		return nil, fmt.Errorf("agc: max divergence must be positive, got %g", cfg.MaxDivergenceDB)
	}

	a := &MultibandAGC{
		cfg:     cfg,
		bands:   make([]BandState, len(cfg.Bands)),
		targets: make([]float64, len(cfg.Bands)),
	}

	prev := math.Inf(-1)
	for i, bc := range cfg.Bands {
		if bc.HighHz <= bc.LowHz {
			return nil, fmt.Errorf("agc: band %q edges inverted (%g..%g Hz)", bc.Name, bc.LowHz, bc.HighHz)
		}
		if bc.LowHz < prev {
			return nil, fmt.Errorf("agc: band %q overlaps previous band", bc.Name)
		}
		if bc.MaxGain <= minGain {
			return nil, fmt.Errorf("agc: band %q max gain %g below floor %g", bc.Name, bc.MaxGain, minGain)
		}
		prev = bc.HighHz

		b := &a.bands[i]
		b.Name = bc.Name
		b.Gain = 1.0
		b.TargetGain = 1.0
		b.NoiseFloor = cfg.SilenceRMS
		b.Ceiling = cfg.SilenceRMS * ceilingFloorMult
		b.attackBase = onePole(bc.AttackMs, cfg.TickRate)
		b.releaseBase = onePole(bc.ReleaseMs, cfg.TickRate)
		b.maxGain = bc.MaxGain

		// Static frequency-to-band table, built once.
		for k, f := range binFreqs {
			if f >= bc.LowHz && f < bc.HighHz {
				b.bins = append(b.bins, k)
			}
		}
	}

	return a, nil
}

// onePole converts a time constant in milliseconds to a per-tick smoothing
// coefficient.
func onePole(ms, tickRate float64) float64 {
	if ms <= 0 {
		return 1
	}
	return 1 - math.Exp(-1000/(ms*tickRate))
}

// Process computes per-band gains from the raw spectrum and writes the
// conditioned spectrum into out. The two slices must be distinct storage:
// aliasing them would contaminate the raw path feeding beat detection.
func (a *MultibandAGC) Process(raw, out []float64) error {
	if len(out) != len(raw) {
		return fmt.Errorf("agc: output length %d does not match input length %d", len(out), len(raw))
	}
	if len(raw) > 0 && &raw[0] == &out[0] {
		return fmt.Errorf("agc: raw and conditioned buffers are aliased")
	}

	for i := range a.bands {
		b := &a.bands[i]
		if len(b.bins) == 0 {
			// No active bins: hold neutral gain.
			b.Gain, b.TargetGain = 1.0, 1.0
			a.targets[i] = 1.0
			continue
		}
		b.measure(raw)
		b.adaptTimeConstants()
		b.trackFloorAndCeiling(a.cfg.SilenceRMS)
		a.targets[i] = b.targetGain(&a.cfg)
	}

	a.coupleTargets()

	// Asymmetric one-pole smoothing toward the coupled target: the attack
	// coefficient applies when gain rises, release when it falls.
	for i := range a.bands {
		b := &a.bands[i]
		b.TargetGain = a.targets[i]
		coeff := b.release
		if b.TargetGain > b.Gain {
			coeff = b.attack
		}
		b.Gain += coeff * (b.TargetGain - b.Gain)
	}

	a.limitDivergence()

	// Apply band gains bin by bin. Unmapped bins pass through at unity.
	copy(out, raw)
	for i := range a.bands {
		b := &a.bands[i]
		for _, k := range b.bins {
			out[k] = raw[k] * b.Gain
		}
	}
	return nil
}

// measure computes RMS and peak over the band's bins and folds the energy
// into the rolling history.
func (b *BandState) measure(raw []float64) {
	var sum, peak float64
	for _, k := range b.bins {
		m := raw[k]
		sum += m * m
		if m > peak {
			peak = m
		}
	}
	b.RMS = math.Sqrt(sum / float64(len(b.bins)))
	b.Peak = peak

	b.history[b.histIdx] = b.RMS * b.RMS
	b.histIdx = (b.histIdx + 1) % historyLen
	if b.histCount < historyLen {
		b.histCount++
	}
	b.Mean, b.Variance = stat.MeanVariance(b.history[:b.histCount], nil)
	if b.histCount < 2 {
		b.Variance = 0
	}
}

// adaptTimeConstants scales the base attack/release coefficients by the
// normalized variance of the energy history. High variance means transient
// content and a faster controller; low variance means a sustained tone and a
// smoother one.
func (b *BandState) adaptTimeConstants() {
	normVar := b.Variance / math.Max(b.Mean*b.Mean, epsilon)
	speedup := 1 + varianceGain*normVar
	if speedup > maxSpeedup {
		speedup = maxSpeedup
	}
	b.attack = math.Min(1, b.attackBase*speedup)
	b.release = math.Min(1, b.releaseBase*speedup)
}

// trackFloorAndCeiling updates the noise floor (a slowly-rising minimum seen
// during silence) and the dynamic ceiling (fast-attack/slow-decay envelope of
// the peak, floored at a multiple of the noise floor).
func (b *BandState) trackFloorAndCeiling(silenceRMS float64) {
	if b.RMS < silenceRMS {
		if b.RMS < b.NoiseFloor {
			b.NoiseFloor = b.RMS
		} else {
			b.NoiseFloor += noiseFloorRise * (b.RMS - b.NoiseFloor)
		}
		if b.NoiseFloor < noiseFloorMin {
			b.NoiseFloor = noiseFloorMin
		}
	}

	if b.Peak > b.Ceiling {
		b.Ceiling += ceilingAttack * (b.Peak - b.Ceiling)
	} else {
		b.Ceiling += ceilingDecay * (b.Peak - b.Ceiling)
	}
	floor := math.Max(b.NoiseFloor*ceilingFloorMult, epsilon)
	if b.Ceiling < floor {
		b.Ceiling = floor
	}
}

// targetGain evaluates the gain law for the current measurements:
// gate at the noise floor, soft-knee power expansion for quiet content,
// ratio compression above the threshold.
func (b *BandState) targetGain(cfg *Config) float64 {
	if b.RMS <= b.NoiseFloor*gateMargin || b.RMS < cfg.SilenceRMS {
		return 1.0 // Gate: no gain riding on silence or floor-level noise.
	}

	n := b.RMS / math.Max(b.Ceiling, epsilon)
	var shaped float64
	if n >= cfg.CompressionTh {
		shaped = cfg.CompressionTh + (n-cfg.CompressionTh)/cfg.CompressionRt
	} else {
		// Power-law knee: exponent < 1 lifts quiet content toward the
		// threshold without amplifying floor-level noise (gated above).
		shaped = cfg.CompressionTh * math.Pow(n/cfg.CompressionTh, cfg.ExpansionExp)
	}

	target := cfg.TargetLevel * shaped / math.Max(b.RMS, epsilon)
	return clamp(target, minGain, b.maxGain)
}

// coupleTargets blends each band's target toward the mean of its immediate
// neighbors. This runs before smoothing; the post-smoothing divergence limit
// is the second, harder mechanism.
func (a *MultibandAGC) coupleTargets() {
	if a.cfg.Coupling <= 0 || len(a.bands) < 2 {
		return
	}
	c := a.cfg.Coupling
	prev := a.targets[0]
	for i := range a.targets {
		var neighbors float64
		switch i {
		case 0:
			neighbors = a.targets[1]
		case len(a.targets) - 1:
			neighbors = prev
		default:
			neighbors = (prev + a.targets[i+1]) / 2
		}
		prev = a.targets[i]
		a.targets[i] = (1-c)*a.targets[i] + c*neighbors
	}
}

// limitDivergence applies the symmetric correction whenever adjacent bands
// exceed the configured dB divergence, pulling both toward their geometric
// mean and re-clamping. A changed pair can re-expose its other neighbor, so
// the sweep repeats until stable (bounded).
func (a *MultibandAGC) limitDivergence() {
	limit := math.Pow(10, a.cfg.MaxDivergenceDB/20)
	sqrtLimit := math.Sqrt(limit)

	for pass := 0; pass < couplingPasses; pass++ {
		changed := false
		for i := 0; i+1 < len(a.bands); i++ {
			g1, g2 := a.bands[i].Gain, a.bands[i+1].Gain
			hi, lo := math.Max(g1, g2), math.Min(g1, g2)
			if hi <= lo*limit {
				continue
			}
			gm := math.Sqrt(hi * lo)
			hi = gm * sqrtLimit
			lo = gm / sqrtLimit
			if g1 >= g2 {
				g1, g2 = hi, lo
			} else {
				g1, g2 = lo, hi
			}
			a.bands[i].Gain = clamp(g1, minGain, a.bands[i].maxGain)
			a.bands[i+1].Gain = clamp(g2, minGain, a.bands[i+1].maxGain)
			changed = true
		}
		if !changed {
			return
		}
	}
}

// Bands returns a diagnostic copy of the per-band state.
func (a *MultibandAGC) Bands() []BandSnapshot {
	snaps := make([]BandSnapshot, len(a.bands))
	for i := range a.bands {
		b := &a.bands[i]
		snaps[i] = BandSnapshot{
			Name:       b.Name,
			Bins:       len(b.bins),
			Gain:       b.Gain,
			TargetGain: b.TargetGain,
			RMS:        b.RMS,
			Peak:       b.Peak,
			NoiseFloor: b.NoiseFloor,
			Ceiling:    b.Ceiling,
			Variance:   b.Variance,
		}
	}
	return snaps
}

// NumBands returns the number of configured bands.
func (a *MultibandAGC) NumBands() int {
	return len(a.bands)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
