// SPDX-License-Identifier: MIT
package pipeline

import (
	"sync/atomic"
	"time"

	"lightbeat/internal/beat"
)

// Snapshot is the stable copy an off-cadence reader receives from a Tap.
// Generation increments once per published tick; a reader polling slower than
// the tick rate sees gaps, a reader polling faster sees repeats, and either
// way the magnitudes are internally consistent.
type Snapshot struct {
	Generation  uint64
	Tick        uint64
	Timestamp   time.Duration
	RMS         float64
	Conditioned bool
	Magnitudes  []float64

	Tempo beat.TempoState
	Genre beat.GenreEstimate
}

// Tap retains the latest published frame for readers on another cadence.
// Each Publish builds a fresh immutable Snapshot and swaps it in atomically;
// a published value is never written again, so any number of readers copy
// from it without ordering against the tick loop. Neither side can block the
// other.
type Tap struct {
	cur atomic.Pointer[Snapshot]
	gen uint64 // Writer-owned; readers see it through the snapshot.
}

// NewTap returns an empty tap.
func NewTap() *Tap {
	return &Tap{}
}

// Publish retains a copy of the frame under the next generation. Must only
// be called from the tick loop.
func (t *Tap) Publish(f *Frame) {
	t.gen++
	s := &Snapshot{
		Generation:  t.gen,
		Tick:        f.Tick,
		Timestamp:   f.Timestamp,
		RMS:         f.RMS,
		Conditioned: f.Conditioned,
		Magnitudes:  append([]float64(nil), f.Magnitudes...),
		Tempo:       f.Tempo,
		Genre:       f.Genre,
	}
	t.cur.Store(s)
}

// Snapshot copies the latest published frame into dst and returns its
// generation. dst's magnitude storage is reused when it fits. A zero
// generation means nothing has been published yet.
func (t *Tap) Snapshot(dst *Snapshot) uint64 {
	s := t.cur.Load()
	if s == nil {
		dst.Generation = 0
		return 0
	}
	mags := dst.Magnitudes
	if len(mags) != len(s.Magnitudes) {
		mags = make([]float64, len(s.Magnitudes))
	}
	copy(mags, s.Magnitudes)
	*dst = *s
	dst.Magnitudes = mags
	return dst.Generation
}

// Generation returns the latest published generation without copying.
func (t *Tap) Generation() uint64 {
	if s := t.cur.Load(); s != nil {
		return s.Generation
	}
	return 0
}
