// SPDX-License-Identifier: MIT
package pipeline

import (
	"testing"
	"time"

	"lightbeat/internal/beat"
	"lightbeat/internal/config"
	"lightbeat/internal/dsp"
	"lightbeat/internal/metrics"
	"lightbeat/pkg/synth"
)

func testOrchestrator(t *testing.T, mutate func(*config.Config)) *Orchestrator {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	o, err := New(cfg, metrics.NewRecorder())
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Spectral.Bins = 0
	if _, err := New(cfg, nil); err == nil {
		t.Error("expected constructor error for zero bins")
	}

	cfg = config.Default()
	cfg.AGC.Bands = nil
	if _, err := New(cfg, nil); err == nil {
		t.Error("expected constructor error for missing bands")
	}
}

// The RAW path must deliver exactly what the spectral engine computed, no
// matter how many ticks the gain controller has processed alongside it.
func TestRawPathIsBitIdentical(t *testing.T) {
	cfg := config.Default()
	o := testOrchestrator(t, nil)

	// An independent engine with identical geometry is the reference.
	ref, err := dsp.NewSpectralEngine(dsp.Config{
		Bins:          cfg.Spectral.Bins,
		BaseFrequency: cfg.Spectral.BaseFrequency,
		SampleRate:    cfg.Audio.SampleRate,
		HopSize:       cfg.Audio.HopSize,
		MinWindow:     cfg.Spectral.MinWindow,
		MaxWindow:     cfg.Spectral.MaxWindow,
		Interlace:     cfg.Spectral.Interlace,
		Calibration:   cfg.Spectral.Calibration,
		HFCompLinear:  cfg.Spectral.HFCompLinear,
		HFCompQuad:    cfg.Spectral.HFCompQuad,
	})
	if err != nil {
		t.Fatal(err)
	}
	want := make([]float64, ref.NumBins())

	signal := synth.Sine(cfg.Audio.HopSize*200, cfg.Audio.SampleRate, 440, 0.8)
	var snap Snapshot
	for _, hop := range synth.Hops(signal, cfg.Audio.HopSize) {
		if err := o.ProcessWindow(hop); err != nil {
			t.Fatal(err)
		}
		ref.Process(hop, want)

		o.Conditioner().RawSnapshot(&snap)
		if snap.Conditioned {
			t.Fatal("raw tap reported a conditioned frame")
		}
		for k, m := range snap.Magnitudes {
			if m != want[k] {
				t.Fatalf("tick %d bin %d: raw path %v, reference %v", snap.Tick, k, m, want[k])
			}
		}
	}
}

func TestConditionedPathIsSeparateStorage(t *testing.T) {
	cfg := config.Default()
	o := testOrchestrator(t, nil)

	signal := synth.Sine(cfg.Audio.HopSize*100, cfg.Audio.SampleRate, 220, 0.05)
	var raw, cond Snapshot
	for _, hop := range synth.Hops(signal, cfg.Audio.HopSize) {
		if err := o.ProcessWindow(hop); err != nil {
			t.Fatal(err)
		}
	}

	o.Conditioner().RawSnapshot(&raw)
	o.Conditioner().ConditionedSnapshot(&cond)
	if !cond.Conditioned {
		t.Error("conditioned tap lost its provenance flag")
	}
	if raw.Tick != cond.Tick {
		t.Errorf("taps out of step: raw tick %d, conditioned tick %d", raw.Tick, cond.Tick)
	}
	if &raw.Magnitudes[0] == &cond.Magnitudes[0] {
		t.Fatal("raw and conditioned snapshots share storage")
	}
}

func TestSnapshotGenerationsAreMonotonic(t *testing.T) {
	cfg := config.Default()
	o := testOrchestrator(t, nil)

	var snap Snapshot
	var lastGen uint64
	hop := synth.Silence(cfg.Audio.HopSize)
	for i := 0; i < 50; i++ {
		if err := o.ProcessWindow(hop); err != nil {
			t.Fatal(err)
		}
		gen := o.Conditioner().RawSnapshot(&snap)
		if gen <= lastGen {
			t.Fatalf("generation did not advance: %d after %d", gen, lastGen)
		}
		if gen != snap.Generation {
			t.Fatalf("returned generation %d disagrees with snapshot %d", gen, snap.Generation)
		}
		lastGen = gen
	}
}

func TestTimestampsFollowTheSampleClock(t *testing.T) {
	cfg := config.Default()
	o := testOrchestrator(t, nil)

	hop := synth.Silence(cfg.Audio.HopSize)
	var snap Snapshot
	var last time.Duration = -1
	for i := 0; i < 20; i++ {
		if err := o.ProcessWindow(hop); err != nil {
			t.Fatal(err)
		}
		o.Conditioner().RawSnapshot(&snap)

		want := time.Duration(float64(i) * float64(cfg.Audio.HopSize) / cfg.Audio.SampleRate * float64(time.Second))
		if snap.Timestamp != want {
			t.Errorf("tick %d: timestamp %s, want %s", i, snap.Timestamp, want)
		}
		if snap.Timestamp <= last {
			t.Fatalf("timestamps not monotonic at tick %d", i)
		}
		last = snap.Timestamp
	}
}

// Short or missing hops zero the spectrum for the tick; they never error and
// never disturb health.
func TestShortHopDegradesToSilence(t *testing.T) {
	cfg := config.Default()
	o := testOrchestrator(t, nil)

	if err := o.ProcessWindow(synth.Silence(cfg.Audio.HopSize / 2)); err != nil {
		t.Fatalf("short hop errored: %v", err)
	}
	var snap Snapshot
	o.Conditioner().RawSnapshot(&snap)
	for k, m := range snap.Magnitudes {
		if m != 0 {
			t.Fatalf("bin %d nonzero after malformed hop: %v", k, m)
		}
	}
	if h := o.Health(); !h.Healthy || h.TotalFailures != 0 {
		t.Errorf("malformed input must not count as a stage failure: %+v", h)
	}
}

func TestReportCarriesTheTickSummary(t *testing.T) {
	cfg := config.Default()
	o := testOrchestrator(t, nil)

	if o.Report() != nil {
		t.Fatal("report before the first tick should be nil")
	}

	signal := synth.Sine(cfg.Audio.HopSize*50, cfg.Audio.SampleRate, 440, 0.5)
	for _, hop := range synth.Hops(signal, cfg.Audio.HopSize) {
		if err := o.ProcessWindow(hop); err != nil {
			t.Fatal(err)
		}
	}

	r := o.Report()
	if r == nil {
		t.Fatal("no report after processing")
	}
	if r.Tick != o.Ticks()-1 {
		t.Errorf("report tick %d, want %d", r.Tick, o.Ticks()-1)
	}
	if len(r.Bands) != len(cfg.AGC.Bands) {
		t.Errorf("report bands: got %d, want %d", len(r.Bands), len(cfg.AGC.Bands))
	}
	if r.RawRMS <= 0 {
		t.Error("report raw RMS should be positive on a loud tone")
	}
	if !r.Healthy {
		t.Error("report should be healthy on clean input")
	}
}

func TestBeatDisabledSkipsTheStage(t *testing.T) {
	o := testOrchestrator(t, func(c *config.Config) { c.Beat.Enabled = false })

	h := o.Health()
	for _, s := range h.Stages {
		if s.Name == "beat" {
			t.Fatal("beat stage registered while disabled")
		}
	}
	if err := o.ProcessWindow(synth.Silence(config.Default().Audio.HopSize)); err != nil {
		t.Fatal(err)
	}
	if r := o.Report(); r.Tempo.BPM != 0 {
		t.Errorf("tempo should stay idle with beat detection disabled, got %.2f", r.Tempo.BPM)
	}
}

// The raw frames ping-pong, so the spectral stage starts each tick on a
// frame that still carries beat annotations from two ticks ago. Those must
// be cleared up front: a bypassed beat stage may never surface stale tempo
// or genre as current.
func TestSpectralStageClearsStaleBeatAnnotations(t *testing.T) {
	cfg := config.Default()
	o := testOrchestrator(t, nil)

	in := &Frame{
		Samples:    synth.Silence(cfg.Audio.HopSize),
		SampleRate: cfg.Audio.SampleRate,
	}
	out := &Frame{
		Magnitudes: make([]float64, o.NumBins()),
		Beat:       &beat.BeatEvent{Confidence: 1},
		Tempo:      beat.TempoState{BPM: 120, Confidence: 1},
		Genre:      beat.GenreEstimate{Label: "electronic", Confidence: 0.9},
	}
	if err := o.spectral.Process(in, out); err != nil {
		t.Fatal(err)
	}
	if out.Beat != nil {
		t.Error("stale beat event survived the spectral stage")
	}
	if out.Tempo != (beat.TempoState{}) {
		t.Errorf("stale tempo survived the spectral stage: %+v", out.Tempo)
	}
	if out.Genre != (beat.GenreEstimate{}) {
		t.Errorf("stale genre survived the spectral stage: %+v", out.Genre)
	}
}

func TestBeatStageRefusesConditionedInput(t *testing.T) {
	o := testOrchestrator(t, func(c *config.Config) { c.Beat.Mode = "pll" })
	in := &Frame{Conditioned: true, Magnitudes: make([]float64, o.NumBins())}
	if err := o.beat.Process(in, in); err == nil {
		t.Error("beat stage accepted a conditioned frame")
	}
}
