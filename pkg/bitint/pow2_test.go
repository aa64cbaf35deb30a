package bitint

import "testing"

func TestNextPowerOfTwo(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{-8, 1},  // Negative input
		{0, 1},   // Zero input
		{1, 1},   // Smallest power of 2
		{2, 2},   // Power of 2 preserved
		{3, 4},   // Round up
		{4, 4},   // Power of 2 preserved
		{5, 8},   // Round up
		{63, 64}, // Just below a power
		{64, 64}, // Exact power
		{65, 128},
		{1000, 1024},
	}

	for _, tt := range tests {
		if got := NextPowerOfTwo(tt.input); got != tt.expected {
			t.Errorf("NextPowerOfTwo(%d) = %d, want %d", tt.input, got, tt.expected)
		}
	}
}

func TestIsPowerOfTwo(t *testing.T) {
	tests := []struct {
		input    int
		expected bool
	}{
		{-4, false},
		{0, false},
		{1, true},
		{2, true},
		{3, false},
		{64, true},
		{65, false},
		{1 << 20, true},
	}

	for _, tt := range tests {
		if got := IsPowerOfTwo(tt.input); got != tt.expected {
			t.Errorf("IsPowerOfTwo(%d) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}
