// SPDX-License-Identifier: MIT
package pipeline

import (
	"fmt"
	"sync/atomic"
	"time"

	"lightbeat/internal/agc"
	"lightbeat/internal/beat"
	"lightbeat/internal/config"
	"lightbeat/internal/dsp"
	applog "lightbeat/internal/log"
	"lightbeat/internal/metrics"
)

// FeatureReport is the per-tick summary composed for delivery consumers:
// everything a renderer or diagnostic needs in one small immutable value.
type FeatureReport struct {
	Tick      uint64             `json:"tick"`
	Timestamp time.Duration      `json:"timestamp"`
	RawRMS    float64            `json:"rawRMS"`
	CondRMS   float64            `json:"condRMS"`
	Bands     []agc.BandSnapshot `json:"bands"`
	Tempo     beat.TempoState    `json:"tempo"`
	Genre     beat.GenreEstimate `json:"genre"`
	Beat      *beat.BeatEvent    `json:"beat,omitempty"`
	Transient float64            `json:"transient"`
	Healthy   bool               `json:"healthy"`
}

// Orchestrator drives the fixed stage order once per acquisition tick:
// spectral analysis, beat detection on the RAW path, gain conditioning into
// separate storage, then snapshot publication. Frames are ping-ponged across
// ticks so the stage path allocates nothing per tick; publication swaps in
// small immutable copies for off-cadence readers.
type Orchestrator struct {
	cfg  *config.Config
	sink metrics.Sink

	spectral *spectralStage
	beat     *beatStage // nil when beat detection is disabled
	agcStage *agcStage
	agc      *agc.MultibandAGC
	engine   *dsp.SpectralEngine

	conditioner *DualPathConditioner
	oracle      *TransientOracle
	health      *PipelineHealth

	raw  [2]Frame
	cond [2]Frame
	src  Frame

	tick     uint64
	hop      int
	rate     float64
	wasHealthy bool

	report atomic.Pointer[FeatureReport]
}

// New assembles the pipeline from a validated configuration. Any constructor
// failure here is a configuration error: the pipeline does not start.
func New(cfg *config.Config, sink metrics.Sink) (*Orchestrator, error) {
	if sink == nil {
		sink = metrics.Nop{}
	}

	engine, err := dsp.NewSpectralEngine(dsp.Config{
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
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	bands := make([]agc.BandConfig, len(cfg.AGC.Bands))
	for i, b := range cfg.AGC.Bands {
		bands[i] = agc.BandConfig{
			Name:      b.Name,
			LowHz:     b.LowHz,
			HighHz:    b.HighHz,
			AttackMs:  b.AttackMs,
			ReleaseMs: b.ReleaseMs,
			MaxGain:   b.MaxGain,
		}
	}
	controller, err := agc.New(agc.Config{
		Bands:           bands,
		TickRate:        cfg.TickRate(),
		TargetLevel:     cfg.AGC.TargetLevel,
		CompressionTh:   cfg.AGC.CompressionTh,
		CompressionRt:   cfg.AGC.CompressionRt,
		ExpansionExp:    cfg.AGC.ExpansionExp,
		Coupling:        cfg.AGC.Coupling,
		MaxDivergenceDB: cfg.AGC.MaxDivergenceDB,
		SilenceRMS:      cfg.AGC.SilenceRMS,
	}, engine.BinFrequencies())
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	o := &Orchestrator{
		cfg:         cfg,
		sink:        sink,
		spectral:    &spectralStage{engine: engine},
		agcStage:    &agcStage{agc: controller},
		agc:         controller,
		engine:      engine,
		conditioner: NewDualPathConditioner(),
		oracle:      NewTransientOracle(),
		hop:         cfg.Audio.HopSize,
		rate:        cfg.Audio.SampleRate,
		wasHealthy:  true,
	}

	if cfg.Beat.Enabled {
		det, err := newDetector(cfg, engine.BinFrequencies())
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
		o.beat = &beatStage{det: det}
	}

	stageNames := []string{o.spectral.Name(), o.agcStage.Name()}
	if o.beat != nil {
		stageNames = append(stageNames, o.beat.Name())
	}
	o.health = newPipelineHealth(stageNames)

	for i := range o.raw {
		o.raw[i].Magnitudes = make([]float64, engine.NumBins())
		o.cond[i].Magnitudes = make([]float64, engine.NumBins())
	}
	return o, nil
}

// newDetector builds the configured beat detection strategy.
func newDetector(cfg *config.Config, binFreqs []float64) (beat.Detector, error) {
	switch cfg.Beat.Mode {
	case "pll":
		pc := beat.DefaultPLLConfig()
		pc.TickRate = cfg.TickRate()
		pc.MinBPM = cfg.Beat.MinBPM
		pc.MaxBPM = cfg.Beat.MaxBPM
		pc.OnsetK = cfg.Beat.OnsetK
		pc.OnsetEnabled = cfg.Beat.OnsetEnabled
		pc.SilenceTimeout = cfg.Beat.SilenceTimeout
		return beat.NewPLLDetector(pc, binFreqs)
	default:
		tc := beat.DefaultThresholdConfig()
		tc.EnergyThreshold = cfg.Beat.EnergyTh
		tc.RiseRatio = cfg.Beat.RiseRatio
		tc.Debounce = cfg.Beat.Debounce
		tc.SilenceTimeout = cfg.Beat.SilenceTimeout
		return beat.NewThresholdDetector(tc)
	}
}

// ProcessWindow advances the pipeline by one tick over the given hop. The
// returned error is reserved for critical-stage failure; non-critical
// failures degrade into health state and a bypassed stage.
func (o *Orchestrator) ProcessWindow(samples []int32) error {
	idx := int(o.tick & 1)
	raw := &o.raw[idx]
	cond := &o.cond[idx]

	o.src.Tick = o.tick
	o.src.Timestamp = sampleClock(o.tick, o.hop, o.rate)
	o.src.SampleRate = o.rate
	o.src.Samples = samples
	o.tick++

	failed := false

	if err := o.spectral.Process(&o.src, raw); err != nil {
		// Critical: the tick cannot proceed without a spectrum.
		o.health.recordFailure(o.spectral.Name(), err, false)
		o.health.finishTick(true)
		o.sink.Count("pipeline.spectral.failure")
		o.noteHealthTransition()
		return fmt.Errorf("pipeline: %w", err)
	}
	o.health.recordStageSuccess(o.spectral.Name())

	// Beat detection consumes the RAW path before anything conditions it.
	if o.beat != nil {
		if err := o.beat.Process(raw, raw); err != nil {
			o.health.recordFailure(o.beat.Name(), err, true)
			o.sink.Count("pipeline.beat.failure")
			failed = true
		} else {
			o.health.recordStageSuccess(o.beat.Name())
		}
	}

	if err := o.agcStage.Process(raw, cond); err != nil {
		// Bypass: conditioned output degrades to the raw spectrum at unity
		// gain rather than stale or corrupt bins.
		cond.CopyFrom(raw)
		cond.Conditioned = true
		o.health.recordFailure(o.agcStage.Name(), err, true)
		o.sink.Count("pipeline.agc.failure")
		failed = true
	} else {
		o.health.recordStageSuccess(o.agcStage.Name())
	}
	cond.Beat = raw.Beat
	cond.Tempo = raw.Tempo
	cond.Genre = raw.Genre

	o.oracle.Observe(raw.RMS, cond.RMS)

	o.conditioner.PublishRaw(raw)
	o.conditioner.PublishConditioned(cond)
	o.health.finishTick(failed)
	o.publishReport(raw, cond)
	o.noteHealthTransition()

	o.sink.Count("pipeline.tick")
	o.sink.Gauge("pipeline.raw_rms", raw.RMS)
	o.sink.Gauge("pipeline.cond_rms", cond.RMS)
	o.sink.Gauge("pipeline.transient", o.oracle.Confidence())
	o.sink.Gauge("pipeline.bpm", raw.Tempo.BPM)
	return nil
}

// publishReport composes the per-tick feature summary. The report is a fresh
// immutable value swapped in atomically; readers on any cadence get a
// consistent copy.
func (o *Orchestrator) publishReport(raw, cond *Frame) {
	r := &FeatureReport{
		Tick:      raw.Tick,
		Timestamp: raw.Timestamp,
		RawRMS:    raw.RMS,
		CondRMS:   cond.RMS,
		Bands:     o.agc.Bands(),
		Tempo:     raw.Tempo,
		Genre:     raw.Genre,
		Beat:      raw.Beat,
		Transient: o.oracle.Confidence(),
		Healthy:   o.health.snapshot().Healthy,
	}
	o.report.Store(r)
}

// noteHealthTransition logs healthy/unhealthy edges. The tick loop itself
// never logs.
func (o *Orchestrator) noteHealthTransition() {
	healthy := !o.health.unhealthy
	if healthy == o.wasHealthy {
		return
	}
	o.wasHealthy = healthy
	if healthy {
		applog.Infof("pipeline recovered: %d total failures", o.health.TotalFailures)
	} else {
		applog.Warnf("pipeline unhealthy: stage %s, last error: %s",
			o.health.LastStage, o.health.LastError)
	}
}

// Report returns the latest per-tick feature summary, or nil before the
// first tick. Safe to call from any goroutine.
func (o *Orchestrator) Report() *FeatureReport {
	return o.report.Load()
}

// Conditioner exposes the snapshot taps for off-cadence readers.
func (o *Orchestrator) Conditioner() *DualPathConditioner {
	return o.conditioner
}

// Health returns a copy of the pipeline health state.
func (o *Orchestrator) Health() HealthSnapshot {
	return o.health.snapshot()
}

// NumBins returns the spectrum width.
func (o *Orchestrator) NumBins() int {
	return o.engine.NumBins()
}

// BinFrequencies returns a copy of the bin center frequencies.
func (o *Orchestrator) BinFrequencies() []float64 {
	return o.engine.BinFrequencies()
}

// Ticks returns the number of processed ticks.
func (o *Orchestrator) Ticks() uint64 {
	return o.tick
}
