// SPDX-License-Identifier: MIT
package pipeline

import "testing"

// A steady gain ratio carries no transient information, no matter how large
// the ratio is. Only acceleration of the ratio counts.
func TestOracleIgnoresSteadyRatio(t *testing.T) {
	o := NewTransientOracle()
	// The controller boosting a quiet signal 6x, steadily.
	for i := 0; i < 200; i++ {
		o.Observe(0.01, 0.06)
	}
	if c := o.Confidence(); c > 0.01 {
		t.Errorf("steady ratio produced confidence %v", c)
	}
}

func TestOracleIgnoresLinearRatioDrift(t *testing.T) {
	o := NewTransientOracle()
	// Ratio climbing at a constant rate: first difference is constant, second
	// difference is zero.
	ratio := 1.0
	for i := 0; i < 200; i++ {
		o.Observe(0.01, 0.01*ratio)
		ratio += 0.002
	}
	if c := o.Confidence(); c > 0.05 {
		t.Errorf("linear drift produced confidence %v", c)
	}
}

func TestOracleFiresOnRatioAcceleration(t *testing.T) {
	o := NewTransientOracle()
	for i := 0; i < 100; i++ {
		o.Observe(0.01, 0.06)
	}

	// A transient: raw energy jumps, the controller has not caught up, the
	// ratio is yanked down hard for one tick.
	o.Observe(0.08, 0.09)

	if c := o.Confidence(); c < 0.3 {
		t.Errorf("transient produced confidence %v, want >= 0.3", c)
	}

	// And it decays back toward rest once the ratio settles.
	for i := 0; i < 400; i++ {
		o.Observe(0.08, 0.09)
	}
	if c := o.Confidence(); c > 0.05 {
		t.Errorf("confidence failed to decay after the transient: %v", c)
	}
}

func TestOracleTreatsSilenceAsRest(t *testing.T) {
	o := NewTransientOracle()
	for i := 0; i < 50; i++ {
		o.Observe(0.01, 0.06)
	}
	o.Observe(0.08, 0.09) // transient
	for i := 0; i < 500; i++ {
		o.Observe(0, 0)
	}
	if c := o.Confidence(); c > 0.01 {
		t.Errorf("confidence survived sustained silence: %v", c)
	}
}
