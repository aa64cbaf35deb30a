// SPDX-License-Identifier: MIT
/*
Package dsp implements the Goertzel spectral engine: a bank of single-bin
resonators tuned to musically spaced center frequencies. Unlike an FFT, each
bin carries its own integration window, so low notes get the long windows
they need for frequency resolution while high notes stay temporally tight.

Real-time constraints:
- All tables (Q14 coefficients, Q15 Hann window) are precomputed
- The per-tick path performs no allocation
- Expensive low bins are interlaced across ticks (recomputed every other
  tick); this is a deliberate CPU/latency tradeoff
*/
package dsp

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/window"

	"lightbeat/pkg/bitint"
)

// Fixed-point formats for the precomputed tables. The resonator recurrence
// runs in int64 with Q14 coefficients and Q15 windowed samples; magnitudes
// are converted to float64 only at readout.
const (
	coeffShift  = 14 // Q14 Goertzel coefficients
	windowShift = 15 // Q15 Hann window values
	hannLUTSize = 2048
)

// semitoneRatio is 2^(1/12), the spacing between adjacent bin frequencies.
var semitoneRatio = math.Pow(2, 1.0/12.0)

// Config holds the spectral engine parameters. All fields are fixed after
// construction; the calibration divisor in particular is load-bearing for
// every downstream threshold and must only change together with them.
type Config struct {
	Bins          int     // Number of magnitude bins.
	BaseFrequency float64 // Center frequency of bin 0 (Hz).
	SampleRate    float64 // Input sample rate (Hz).
	HopSize       int     // Samples delivered per tick.
	MinWindow     int     // Shortest per-bin integration window (samples).
	MaxWindow     int     // Longest per-bin integration window (samples).
	Interlace     int     // Bins with windows >= this recompute every other tick (0 disables).
	Calibration   float64 // Magnitude divisor.
	HFCompLinear  float64 // Linear term of the high-frequency compensation curve.
	HFCompQuad    float64 // Quadratic term of the high-frequency compensation curve.
}

// bin holds the precomputed state for one Goertzel resonator.
type bin struct {
	freq     float64 // Center frequency (Hz).
	window   int     // Integration window length (samples).
	coeff    int64   // 2*cos(2*pi*freq/sampleRate) in Q14.
	lutStep  int     // Hann LUT stride for this window length.
	norm     float64 // Magnitude normalization (window length and Hann gain).
	comp     float64 // High-frequency compensation gain.
	deferred bool    // Recomputed only on even ticks.
}

// SpectralEngine converts fixed-size sample windows into N per-bin magnitude
// estimates. It is a stateful single-threaded transform: exactly one caller
// invokes Process once per tick.
type SpectralEngine struct {
	cfg  Config
	bins []bin

	hann []int64 // Q15 Hann lookup table, shared by all bins.

	// Sample history ring. Capacity is the next power of 2 above the longest
	// window so index wrapping is a mask, not a division.
	history []int64 // Samples stored windowed-ready in Q15.
	mask    int
	head    int

	mags []float64 // Last computed magnitude per bin.
	tick uint64
}

// NewSpectralEngine precomputes the resonator bank and lookup tables.
// Invalid geometry is a configuration error and fails construction.
func NewSpectralEngine(cfg Config) (*SpectralEngine, error) {
	if cfg.Bins <= 0 {
		return nil, fmt.Errorf("spectral engine: bins must be positive, got %d", cfg.Bins)
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("spectral engine: sample rate must be positive, got %g", cfg.SampleRate)
	}
	if cfg.HopSize <= 0 {
		return nil, fmt.Errorf("spectral engine: hop size must be positive, got %d", cfg.HopSize)
	}
	if cfg.MinWindow <= 0 || cfg.MaxWindow < cfg.MinWindow {
		return nil, fmt.Errorf("spectral engine: window bounds invalid: min %d, max %d",
			cfg.MinWindow, cfg.MaxWindow)
	}
	if cfg.MaxWindow > hannLUTSize {
		return nil, fmt.Errorf("spectral engine: max window %d exceeds Hann table size %d",
			cfg.MaxWindow, hannLUTSize)
	}
	if cfg.Calibration <= 0 {
		return nil, fmt.Errorf("spectral engine: calibration divisor must be positive, got %g", cfg.Calibration)
	}
	top := cfg.BaseFrequency * math.Pow(semitoneRatio, float64(cfg.Bins-1))
	if top >= cfg.SampleRate/2 {
		return nil, fmt.Errorf("spectral engine: top bin %.1f Hz exceeds Nyquist (%.1f Hz)",
			top, cfg.SampleRate/2)
	}

	e := &SpectralEngine{
		cfg:  cfg,
		bins: make([]bin, cfg.Bins),
		hann: buildHannLUT(),
		mags: make([]float64, cfg.Bins),
	}

	capacity := bitint.NextPowerOfTwo(cfg.MaxWindow)
	e.history = make([]int64, capacity)
	e.mask = capacity - 1

	for k := range e.bins {
		freq := cfg.BaseFrequency * math.Pow(semitoneRatio, float64(k))

		// Window sized to resolve this bin from its semitone neighbors,
		// clamped so low bins stay affordable and high bins stay responsive.
		ideal := cfg.SampleRate / (freq * (semitoneRatio - 1))
		n := int(math.Round(ideal))
		if n < cfg.MinWindow {
			n = cfg.MinWindow
		}
		if n > cfg.MaxWindow {
			n = cfg.MaxWindow
		}

		w := 2 * math.Pi * freq / cfg.SampleRate
		x := float64(k) / float64(cfg.Bins-1)

		e.bins[k] = bin{
			freq:    freq,
			window:  n,
			coeff:   int64(math.Round(2 * math.Cos(w) * (1 << coeffShift))),
			lutStep: hannLUTSize / n,
			// Resonator peak for amplitude A is A*n/2 scaled by the Hann
			// coherent gain of 0.5, so 4/n recovers A.
			norm: 4.0 / float64(n),
			comp: 1 + cfg.HFCompLinear*x + cfg.HFCompQuad*x*x,
			deferred: cfg.Interlace > 0 && n >= cfg.Interlace,
		}
	}

	return e, nil
}

// buildHannLUT precomputes the shared Q15 Hann table. Per-bin windows sample
// it at a stride of hannLUTSize/windowLength.
func buildHannLUT() []int64 {
	coeffs := make([]float64, hannLUTSize)
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	window.Hann(coeffs)

	lut := make([]int64, hannLUTSize)
	for i, c := range coeffs {
		lut[i] = int64(math.Round(c * (1 << windowShift)))
	}
	return lut
}

// Process consumes one hop-sized sample window and writes the current
// magnitude estimate for every bin into out. It is a pure function of the
// accumulated sample history: malformed or short input zeroes the output and
// leaves the history untouched, it never fails mid-stream.
func (e *SpectralEngine) Process(samples []int32, out []float64) {
	if len(samples) != e.cfg.HopSize {
		for i := range out {
			out[i] = 0
		}
		return
	}

	// Append the hop to the history ring. Samples are pre-shifted to Q15 so
	// the per-bin loops multiply against the Q15 Hann table directly.
	for _, s := range samples {
		e.history[e.head&e.mask] = int64(s >> 16)
		e.head++
	}

	for k := range e.bins {
		b := &e.bins[k]
		// Interlacing: long-window bins keep their previous estimate on odd
		// ticks. Their windows span many hops, so the estimate is still
		// current to within one tick.
		if b.deferred && e.tick&1 == 1 {
			continue
		}
		e.mags[k] = e.resonate(b)
	}
	e.tick++

	copy(out, e.mags)
}

// resonate runs one Goertzel pass over the most recent b.window samples.
func (e *SpectralEngine) resonate(b *bin) float64 {
	var s1, s2 int64
	start := e.head - b.window
	for i := 0; i < b.window; i++ {
		x := e.history[(start+i)&e.mask]
		windowed := (x * e.hann[i*b.lutStep]) >> windowShift
		s0 := ((b.coeff*s1)>>coeffShift - s2) + windowed
		s2 = s1
		s1 = s0
	}

	c := float64(b.coeff) / (1 << coeffShift)
	f1, f2 := float64(s1), float64(s2)
	power := f1*f1 + f2*f2 - c*f1*f2
	if power < 0 {
		power = 0
	}
	return math.Sqrt(power) * b.norm / e.cfg.Calibration * b.comp
}

// NumBins returns the number of magnitude bins.
func (e *SpectralEngine) NumBins() int {
	return e.cfg.Bins
}

// BinFrequency returns the center frequency (Hz) of bin k, or 0 for an
// out-of-range index.
func (e *SpectralEngine) BinFrequency(k int) float64 {
	if k < 0 || k >= len(e.bins) {
		return 0
	}
	return e.bins[k].freq
}

// BinFrequencies returns a copy of all bin center frequencies, used to build
// the static frequency-to-band tables downstream.
func (e *SpectralEngine) BinFrequencies() []float64 {
	freqs := make([]float64, len(e.bins))
	for k := range e.bins {
		freqs[k] = e.bins[k].freq
	}
	return freqs
}

// BinWindow returns the integration window length (samples) of bin k.
func (e *SpectralEngine) BinWindow(k int) int {
	if k < 0 || k >= len(e.bins) {
		return 0
	}
	return e.bins[k].window
}

// SampleRate returns the configured sample rate (Hz).
func (e *SpectralEngine) SampleRate() float64 {
	return e.cfg.SampleRate
}
