// SPDX-License-Identifier: MIT
package pipeline

// DualPathConditioner forks the spectral output into the two logical paths:
// the untouched RAW spectrum feeding beat detection, and the AGC-conditioned
// spectrum feeding visualization. The paths always live in distinct storage;
// the conditioner's job is to retain a versioned snapshot of each so readers
// on another cadence never touch a live, soon-to-be-reused frame.
type DualPathConditioner struct {
	raw  *Tap
	cond *Tap
}

// NewDualPathConditioner allocates both taps.
func NewDualPathConditioner() *DualPathConditioner {
	return &DualPathConditioner{
		raw:  NewTap(),
		cond: NewTap(),
	}
}

// PublishRaw retains the RAW frame for off-cadence readers.
func (c *DualPathConditioner) PublishRaw(f *Frame) {
	c.raw.Publish(f)
}

// PublishConditioned retains the conditioned frame for off-cadence readers.
func (c *DualPathConditioner) PublishConditioned(f *Frame) {
	c.cond.Publish(f)
}

// RawSnapshot copies the latest RAW frame into dst and returns its
// generation.
func (c *DualPathConditioner) RawSnapshot(dst *Snapshot) uint64 {
	return c.raw.Snapshot(dst)
}

// ConditionedSnapshot copies the latest conditioned frame into dst and
// returns its generation.
func (c *DualPathConditioner) ConditionedSnapshot(dst *Snapshot) uint64 {
	return c.cond.Snapshot(dst)
}
