package beat

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

const testTick = 10 * time.Millisecond // 100 Hz test tick

// quietSpectrum and beatSpectrum are the two tick shapes the detector tests
// alternate between: a low floor and a bass-heavy burst.
func quietSpectrum() []float64 {
	s := make([]float64, 64)
	for i := range s {
		s[i] = 0.001
	}
	return s
}

func beatSpectrum() []float64 {
	s := quietSpectrum()
	for i := 0; i < 16; i++ {
		s[i] = 0.5
	}
	return s
}

// runTrain feeds beats at every beatEvery ticks for total ticks and returns
// the emitted events and final tempo.
func runTrain(t *testing.T, d Detector, beatEvery, total int) ([]BeatEvent, TempoState) {
	t.Helper()
	var events []BeatEvent
	var tempo TempoState
	for tick := 0; tick < total; tick++ {
		spec := quietSpectrum()
		if tick%beatEvery == 0 {
			spec = beatSpectrum()
		}
		ev, ts := d.Process(spec, time.Duration(tick)*testTick)
		if ev != nil {
			events = append(events, *ev)
		}
		tempo = ts
	}
	return events, tempo
}

func TestThresholdRejectsBadConfig(t *testing.T) {
	tests := []struct {
		desc   string
		mutate func(*ThresholdConfig)
	}{
		{"zero threshold", func(c *ThresholdConfig) { c.EnergyThreshold = 0 }},
		{"rise ratio at unity", func(c *ThresholdConfig) { c.RiseRatio = 1 }},
		{"inverted IBI bounds", func(c *ThresholdConfig) { c.MinIBI, c.MaxIBI = c.MaxIBI, c.MinIBI }},
		{"zero timeout", func(c *ThresholdConfig) { c.SilenceTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			cfg := DefaultThresholdConfig()
			tt.mutate(&cfg)
			if _, err := NewThresholdDetector(cfg); err == nil {
				t.Errorf("expected constructor error for %s", tt.desc)
			}
		})
	}
}

func TestImpulseTrainAt120BPM(t *testing.T) {
	d, err := NewThresholdDetector(DefaultThresholdConfig())
	if err != nil {
		t.Fatal(err)
	}

	// Beats every 500 ms for 5 seconds: 10 beats, 9 exact intervals.
	events, tempo := runTrain(t, d, 50, 500)

	if len(events) < 8 {
		t.Fatalf("expected at least 8 confirmed beats, got %d", len(events))
	}
	if math.Abs(tempo.BPM-120) > 1 {
		t.Errorf("BPM: got %.2f, want 120 +/- 1", tempo.BPM)
	}
	if tempo.Confidence <= 0.9 {
		t.Errorf("confidence with zero jitter: got %.3f, want > 0.9", tempo.Confidence)
	}
	if tempo.NextBeat <= events[len(events)-1].Timestamp {
		t.Errorf("predicted next beat %s not after last beat %s",
			tempo.NextBeat, events[len(events)-1].Timestamp)
	}
}

func TestSilenceTimeoutResetsTempo(t *testing.T) {
	d, err := NewThresholdDetector(DefaultThresholdConfig())
	if err != nil {
		t.Fatal(err)
	}

	_, tempo := runTrain(t, d, 50, 500)
	if tempo.BPM == 0 {
		t.Fatal("expected a locked tempo before the silence")
	}

	// 3.5 s of sustained silence: past the 3 s timeout the estimate must
	// reset, and no beat may fire.
	silence := make([]float64, 64)
	base := 500 * testTick
	for tick := 0; tick < 350; tick++ {
		ev, ts := d.Process(silence, base+time.Duration(tick)*testTick)
		if ev != nil {
			t.Fatalf("beat fired during silence at %s", ev.Timestamp)
		}
		tempo = ts
	}
	if tempo.BPM != 0 {
		t.Errorf("BPM should reset after silence timeout, got %.2f", tempo.BPM)
	}
	if tempo.Confidence != 0 {
		t.Errorf("confidence should reset after silence timeout, got %.3f", tempo.Confidence)
	}
}

func TestNoiseThenAbruptSilence(t *testing.T) {
	d, err := NewThresholdDetector(DefaultThresholdConfig())
	if err != nil {
		t.Fatal(err)
	}

	// 100 ticks of moderate uniform noise, whatever beats it may fake.
	rng := rand.New(rand.NewSource(7))
	spec := make([]float64, 64)
	var ts time.Duration
	for tick := 0; tick < 100; tick++ {
		for i := range spec {
			spec[i] = rng.Float64() * 0.1
		}
		ts = time.Duration(tick) * testTick
		d.Process(spec, ts)
	}

	// Abrupt silence for 3.5 s.
	silence := make([]float64, 64)
	var tempo TempoState
	for tick := 0; tick < 350; tick++ {
		_, tempo = d.Process(silence, ts+time.Duration(tick+1)*testTick)
	}
	if tempo.BPM != 0 {
		t.Errorf("BPM should be at its idle default after the window, got %.2f", tempo.BPM)
	}
}

func TestImplausibleIntervalsRejected(t *testing.T) {
	d, err := NewThresholdDetector(DefaultThresholdConfig())
	if err != nil {
		t.Fatal(err)
	}

	// Beats 2.5 s apart: confirmed as events, but beyond the 2 s maximum
	// IBI, so the history stays empty and no tempo is reported.
	events, tempo := runTrain(t, d, 250, 1500)
	if len(events) == 0 {
		t.Fatal("expected confirmed beats")
	}
	if tempo.BPM != 0 {
		t.Errorf("implausible intervals must not produce a tempo, got %.2f BPM", tempo.BPM)
	}
}

func TestMalformedSpectrumIsQuiet(t *testing.T) {
	d, err := NewThresholdDetector(DefaultThresholdConfig())
	if err != nil {
		t.Fatal(err)
	}
	ev, tempo := d.Process(nil, 0)
	if ev != nil {
		t.Error("nil spectrum should not produce a beat")
	}
	if tempo.BPM != 0 {
		t.Errorf("nil spectrum should not produce a tempo, got %.2f", tempo.BPM)
	}
}
