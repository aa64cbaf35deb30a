package dsp

import (
	"math"
	"testing"

	"lightbeat/pkg/synth"
)

func testConfig() Config {
	return Config{
		Bins:          64,
		BaseFrequency: 55.0,
		SampleRate:    16000,
		HopSize:       128,
		MinWindow:     64,
		MaxWindow:     2048,
		Interlace:     512,
		Calibration:   32768.0,
		HFCompLinear:  0.35,
		HFCompQuad:    1.8,
	}
}

func TestNewSpectralEngineRejectsBadConfig(t *testing.T) {
	tests := []struct {
		desc   string
		mutate func(*Config)
	}{
		{"zero bins", func(c *Config) { c.Bins = 0 }},
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"zero hop", func(c *Config) { c.HopSize = 0 }},
		{"zero-length window", func(c *Config) { c.MinWindow = 0 }},
		{"inverted windows", func(c *Config) { c.MaxWindow = 32 }},
		{"window beyond table", func(c *Config) { c.MaxWindow = 4096 }},
		{"zero calibration", func(c *Config) { c.Calibration = 0 }},
		{"top bin above nyquist", func(c *Config) { c.BaseFrequency = 4000 }},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := NewSpectralEngine(cfg); err == nil {
				t.Errorf("expected constructor error for %s", tt.desc)
			}
		})
	}
}

func TestBinGeometry(t *testing.T) {
	e, err := NewSpectralEngine(testConfig())
	if err != nil {
		t.Fatal(err)
	}

	if got := e.BinFrequency(0); math.Abs(got-55.0) > 1e-9 {
		t.Errorf("bin 0 frequency: got %g, want 55", got)
	}
	// Bin 12 is one octave up.
	if got := e.BinFrequency(12); math.Abs(got-110.0) > 1e-6 {
		t.Errorf("bin 12 frequency: got %g, want 110", got)
	}
	// Windows shrink monotonically (modulo clamping) as frequency rises.
	if e.BinWindow(0) < e.BinWindow(63) {
		t.Errorf("low bin window %d should not be shorter than high bin window %d",
			e.BinWindow(0), e.BinWindow(63))
	}
	if e.BinWindow(0) != 2048 {
		t.Errorf("lowest bin should clamp to max window, got %d", e.BinWindow(0))
	}
}

func TestSinePeaksAtTunedBin(t *testing.T) {
	cfg := testConfig()
	e, err := NewSpectralEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}

	// 440 Hz is bin 36: 55 * 2^(36/12).
	const wantBin = 36
	buf := synth.Sine(cfg.HopSize*40, cfg.SampleRate, 440, 0.8)
	out := make([]float64, cfg.Bins)
	for _, hop := range synth.Hops(buf, cfg.HopSize) {
		e.Process(hop, out)
	}

	peak := synth.PeakBin(out, wantBin-6, wantBin+6)
	if peak != wantBin {
		t.Errorf("peak bin: got %d (%.1f Hz), want %d (440 Hz)", peak, e.BinFrequency(peak), wantBin)
	}
	if out[wantBin] < 0.2 {
		t.Errorf("tuned bin magnitude too small: %g", out[wantBin])
	}
	// Distant bins stay well below the tuned bin.
	if out[wantBin] < 4*out[wantBin-6] || out[wantBin] < 4*out[wantBin+6] {
		t.Errorf("selectivity too poor: tuned %g, -6 %g, +6 %g",
			out[wantBin], out[wantBin-6], out[wantBin+6])
	}
}

func TestFullScaleCalibration(t *testing.T) {
	cfg := testConfig()
	e, err := NewSpectralEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}

	// A full-scale sine at a bin center should land near 1.0 after the
	// calibration divisor (high-frequency compensation adds a little).
	buf := synth.Sine(cfg.HopSize*40, cfg.SampleRate, 440, 1.0)
	out := make([]float64, cfg.Bins)
	for _, hop := range synth.Hops(buf, cfg.HopSize) {
		e.Process(hop, out)
	}
	if out[36] < 0.5 || out[36] > 2.5 {
		t.Errorf("full-scale magnitude out of calibration range: %g", out[36])
	}
}

func TestMalformedInputZeroesBins(t *testing.T) {
	cfg := testConfig()
	e, err := NewSpectralEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}

	out := make([]float64, cfg.Bins)

	// Prime with signal so the bins are nonzero.
	buf := synth.Sine(cfg.HopSize*20, cfg.SampleRate, 440, 0.8)
	for _, hop := range synth.Hops(buf, cfg.HopSize) {
		e.Process(hop, out)
	}
	if out[36] == 0 {
		t.Fatal("expected nonzero magnitude after priming")
	}

	// Short window: zeroed output, no panic.
	e.Process(make([]int32, cfg.HopSize/2), out)
	for i, m := range out {
		if m != 0 {
			t.Fatalf("bin %d not zeroed on short input: %g", i, m)
		}
	}

	// Empty window behaves the same.
	e.Process(nil, out)
	for i, m := range out {
		if m != 0 {
			t.Fatalf("bin %d not zeroed on empty input: %g", i, m)
		}
	}
}

func TestInterlacedBinsSkipOddTicks(t *testing.T) {
	cfg := testConfig()
	e, err := NewSpectralEngine(cfg)
	if err != nil {
		t.Fatal(err)
	}

	// Find one deferred and one per-tick bin.
	deferredBin, liveBin := -1, -1
	for k := 0; k < cfg.Bins; k++ {
		if e.bins[k].deferred && deferredBin == -1 {
			deferredBin = k
		}
		if !e.bins[k].deferred {
			liveBin = k
		}
	}
	if deferredBin == -1 || liveBin == -1 {
		t.Fatal("config should produce both deferred and per-tick bins")
	}

	out0 := make([]float64, cfg.Bins)
	out1 := make([]float64, cfg.Bins)

	// Tick 0: silence. Tick 1: loud broadband step. The deferred bin must
	// hold its tick-0 estimate; the live bin reacts immediately.
	e.Process(synth.Silence(cfg.HopSize), out0)
	loud := synth.Sine(cfg.HopSize, cfg.SampleRate, e.BinFrequency(liveBin), 1.0)
	e.Process(loud, out1)

	if out1[deferredBin] != out0[deferredBin] {
		t.Errorf("deferred bin recomputed on odd tick: %g -> %g",
			out0[deferredBin], out1[deferredBin])
	}
	if out1[liveBin] == out0[liveBin] {
		t.Errorf("live bin did not update on odd tick")
	}
}
