// Package synth generates deterministic test signals: steady tones, tone
// bursts at a fixed musical interval, uniform noise, and silence. Everything
// returns int32 PCM in the range the capture layer delivers.
package synth

import (
	"math"
	"math/rand"
)

// Sine returns n samples of a sine wave at the given frequency and
// amplitude (0.0-1.0 of full scale).
func Sine(n int, sampleRate, frequency, amplitude float64) []int32 {
	buffer := make([]int32, n)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = int32(math.Sin(2*math.Pi*frequency*t) * amplitude * math.MaxInt32)
	}
	return buffer
}

// Silence returns n zero samples.
func Silence(n int) []int32 {
	return make([]int32, n)
}

// Noise returns n samples of uniform noise at the given amplitude, seeded
// for reproducibility.
func Noise(n int, amplitude float64, seed int64) []int32 {
	rng := rand.New(rand.NewSource(seed))
	buffer := make([]int32, n)
	for i := range buffer {
		buffer[i] = int32((rng.Float64()*2 - 1) * amplitude * math.MaxInt32)
	}
	return buffer
}

// ToneBursts returns n samples containing short sine bursts repeating every
// intervalMs milliseconds, with silence in between. Each burst lasts burstMs
// milliseconds. This is the canonical periodic-impulse input for tempo tests:
// bursts every 500 ms correspond to 120 BPM.
func ToneBursts(n int, sampleRate, frequency, amplitude float64, intervalMs, burstMs float64) []int32 {
	buffer := make([]int32, n)
	intervalSamples := int(sampleRate * intervalMs / 1000)
	burstSamples := int(sampleRate * burstMs / 1000)
	if intervalSamples <= 0 {
		return buffer
	}
	for i := range buffer {
		if i%intervalSamples < burstSamples {
			t := float64(i) / sampleRate
			buffer[i] = int32(math.Sin(2*math.Pi*frequency*t) * amplitude * math.MaxInt32)
		}
	}
	return buffer
}

// Hops splits buffer into hop-sized windows, dropping any short tail.
func Hops(buffer []int32, hop int) [][]int32 {
	if hop <= 0 {
		return nil
	}
	var windows [][]int32
	for start := 0; start+hop <= len(buffer); start += hop {
		windows = append(windows, buffer[start:start+hop])
	}
	return windows
}

// PeakBin returns the index of the largest magnitude in [startBin, endBin].
func PeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}
	if startBin < 0 {
		startBin = 0
	}
	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]
	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}
	return peakBin
}
