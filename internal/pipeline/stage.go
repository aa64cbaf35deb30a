// SPDX-License-Identifier: MIT
package pipeline

import (
	"fmt"
	"math"
	"time"

	"lightbeat/internal/agc"
	"lightbeat/internal/beat"
	"lightbeat/internal/dsp"
)

// Stage is the uniform per-tick contract. Process reads in, writes out, and
// returns an error on failure; it must never panic. Critical stages abort the
// tick on failure; non-critical stages are bypassed (input passed through
// unchanged) and tracked in the pipeline health.
type Stage interface {
	Name() string
	Critical() bool
	Process(in, out *Frame) error
}

// spectralStage adapts the Goertzel engine: samples in, raw magnitudes out.
type spectralStage struct {
	engine *dsp.SpectralEngine
}

var _ Stage = (*spectralStage)(nil)

func (s *spectralStage) Name() string   { return "spectral" }
func (s *spectralStage) Critical() bool { return true }

func (s *spectralStage) Process(in, out *Frame) error {
	out.Tick = in.Tick
	out.Timestamp = in.Timestamp
	out.SampleRate = in.SampleRate
	out.Conditioned = false
	// The output frame is reused from two ticks ago; its beat annotations are
	// stale until the beat stage runs and must not survive a bypassed tick.
	out.Beat = nil
	out.Tempo = beat.TempoState{}
	out.Genre = beat.GenreEstimate{}
	s.engine.Process(in.Samples, out.Magnitudes)
	out.RMS = totalRMS(out.Magnitudes)
	return nil
}

// agcStage adapts the multiband controller: raw magnitudes in, conditioned
// magnitudes out. The two frames are distinct storage; the controller itself
// rejects aliased buffers.
type agcStage struct {
	agc *agc.MultibandAGC
}

var _ Stage = (*agcStage)(nil)

func (s *agcStage) Name() string   { return "agc" }
func (s *agcStage) Critical() bool { return false }

func (s *agcStage) Process(in, out *Frame) error {
	out.Tick = in.Tick
	out.Timestamp = in.Timestamp
	out.SampleRate = in.SampleRate
	out.Conditioned = true
	if err := s.agc.Process(in.Magnitudes, out.Magnitudes); err != nil {
		return fmt.Errorf("agc stage: %w", err)
	}
	out.RMS = totalRMS(out.Magnitudes)
	return nil
}

// beatStage adapts a beat detector. It consumes the RAW frame only and
// annotates the output frame with the event and tempo state; magnitudes pass
// through untouched.
type beatStage struct {
	det beat.Detector
}

var _ Stage = (*beatStage)(nil)

func (s *beatStage) Name() string   { return "beat" }
func (s *beatStage) Critical() bool { return false }

func (s *beatStage) Process(in, out *Frame) error {
	if in.Conditioned {
		return fmt.Errorf("beat stage: refusing conditioned input")
	}
	event, tempo := s.det.Process(in.Magnitudes, in.Timestamp)
	out.Beat = event
	out.Tempo = tempo
	out.Genre = s.det.Genre()
	return nil
}

// totalRMS mirrors the detectors' energy measure so frame RMS and beat energy
// agree.
func totalRMS(mags []float64) float64 {
	if len(mags) == 0 {
		return 0
	}
	var sum float64
	for _, m := range mags {
		sum += m * m
	}
	return math.Sqrt(sum / float64(len(mags)))
}

// sampleClock converts a tick index to the sample-clock timestamp of the
// first sample in its hop.
func sampleClock(tick uint64, hop int, sampleRate float64) time.Duration {
	seconds := float64(tick) * float64(hop) / sampleRate
	return time.Duration(seconds * float64(time.Second))
}
