// SPDX-License-Identifier: MIT
/*
Package pipeline sequences the feature extraction stages: spectral analysis,
dual-path conditioning, multiband gain control, and beat detection. One
fixed-rate producer drives ProcessWindow once per tick; every stage is a
stateful single-threaded transform behind the Stage contract.

Off-cadence consumers never touch the live frames. They read the
generation-counted snapshot taps owned by the DualPathConditioner.
*/
package pipeline

import (
	"time"

	"lightbeat/internal/beat"
)

// Frame is the structured buffer handed between stages. Two raw and two
// conditioned frames exist, ping-ponged across ticks; stages must treat their
// input frame as read-only.
type Frame struct {
	Tick       uint64
	Timestamp  time.Duration // Sample-clock time of the first sample in the hop.
	SampleRate float64

	Samples    []int32   // Input hop; populated on the source side only.
	Magnitudes []float64 // Per-bin magnitudes.
	RMS        float64   // Total RMS over Magnitudes.
	Conditioned bool     // False on the RAW path, true after the AGC.

	Beat  *beat.BeatEvent // Non-nil only on a tick that confirmed a beat.
	Tempo beat.TempoState
	Genre beat.GenreEstimate
}

// CopyFrom deep-copies src into f, reusing f's magnitude storage when the
// lengths match.
func (f *Frame) CopyFrom(src *Frame) {
	f.Tick = src.Tick
	f.Timestamp = src.Timestamp
	f.SampleRate = src.SampleRate
	f.Samples = src.Samples
	if len(f.Magnitudes) != len(src.Magnitudes) {
		f.Magnitudes = make([]float64, len(src.Magnitudes))
	}
	copy(f.Magnitudes, src.Magnitudes)
	f.RMS = src.RMS
	f.Conditioned = src.Conditioned
	f.Beat = src.Beat
	f.Tempo = src.Tempo
	f.Genre = src.Genre
}
