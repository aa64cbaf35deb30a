// SPDX-License-Identifier: MIT
package pipeline

import "math"

// Oracle smoothing: fast fold-in of new acceleration, slow decay back toward
// quiet.
const (
	oracleAttack = 0.4
	oracleDecay  = 0.05

	// oracleScale maps ratio acceleration onto [0,1] confidence. The AGC
	// reacts within a few ticks of a transient, so accelerations of a few
	// tenths per tick squared are already decisive.
	oracleScale = 4.0
)

// TransientOracle derives a transient confidence signal from how the
// conditioned/raw energy ratio accelerates. The absolute ratio is useless
// here: boosting quiet content is the controller doing its job, so a large
// ratio says nothing. A transient shows up as the controller being yanked,
// which is the second difference of the ratio.
type TransientOracle struct {
	ratio     float64
	delta     float64
	haveRatio bool
	haveDelta bool

	confidence float64
}

// NewTransientOracle returns an oracle at rest.
func NewTransientOracle() *TransientOracle {
	return &TransientOracle{}
}

// Observe folds one tick of raw and conditioned energy into the oracle.
func (o *TransientOracle) Observe(rawRMS, condRMS float64) {
	if rawRMS <= 0 {
		// Silence: nothing to measure, decay toward rest.
		o.confidence *= 1 - oracleDecay
		o.haveRatio = false
		o.haveDelta = false
		return
	}

	ratio := condRMS / rawRMS
	if !o.haveRatio {
		o.ratio = ratio
		o.haveRatio = true
		return
	}

	delta := ratio - o.ratio
	o.ratio = ratio
	if !o.haveDelta {
		o.delta = delta
		o.haveDelta = true
		return
	}

	accel := delta - o.delta
	o.delta = delta

	target := math.Min(1, math.Abs(accel)*oracleScale)
	if target > o.confidence {
		o.confidence += oracleAttack * (target - o.confidence)
	} else {
		o.confidence += oracleDecay * (target - o.confidence)
	}
}

// Confidence returns the current transient confidence in [0,1].
func (o *TransientOracle) Confidence() float64 {
	return o.confidence
}
