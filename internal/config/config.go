// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main application configuration, loaded from YAML.
type Config struct {
	Debug    bool   `yaml:"debug"`             // Enable debug mode (verbose logging).
	LogLevel string `yaml:"log_level"`         // Logging level ("debug", "info", "warn", "error").
	Command  string `yaml:"command,omitempty"` // One-off command instead of running the engine (e.g. "list").

	AnalyzeFile string `yaml:"-"` // WAV path for the analyze command; set from the CLI only.

	Audio     AudioConfig     `yaml:"audio"`     // Capture settings.
	Spectral  SpectralConfig  `yaml:"spectral"`  // Goertzel spectral engine settings.
	AGC       AGCConfig       `yaml:"agc"`       // Multiband gain controller settings.
	Beat      BeatConfig      `yaml:"beat"`      // Beat/tempo detection settings.
	Transport TransportConfig `yaml:"transport"` // Feature delivery settings.
}

// AudioConfig holds settings for the acquisition side of the pipeline.
type AudioConfig struct {
	InputDevice int     `yaml:"input_device"` // PortAudio device index (-1 for default).
	SampleRate  float64 `yaml:"sample_rate"`  // Sample rate in Hz.
	HopSize     int     `yaml:"hop_size"`     // Samples per tick; tick rate = sample_rate / hop_size.
}

// SpectralConfig holds settings for the Goertzel spectral engine.
type SpectralConfig struct {
	Bins          int     `yaml:"bins"`            // Number of magnitude bins.
	BaseFrequency float64 `yaml:"base_frequency"`  // Center frequency of bin 0 (Hz).
	MinWindow     int     `yaml:"min_window"`      // Shortest per-bin integration window (samples).
	MaxWindow     int     `yaml:"max_window"`      // Longest per-bin integration window (samples).
	Interlace     int     `yaml:"interlace_above"` // Bins with windows >= this update every other tick (0 disables).
	Calibration   float64 `yaml:"calibration"`     // Magnitude divisor; every downstream threshold assumes it.
	HFCompLinear  float64 `yaml:"hf_comp_linear"`  // Linear term of the high-frequency compensation curve.
	HFCompQuad    float64 `yaml:"hf_comp_quad"`    // Quadratic term of the high-frequency compensation curve.
}

// BandConfig holds per-band AGC tuning.
type BandConfig struct {
	Name      string  `yaml:"name"`       // Band label (diagnostics only).
	LowHz     float64 `yaml:"low_hz"`     // Inclusive lower band edge.
	HighHz    float64 `yaml:"high_hz"`    // Exclusive upper band edge.
	AttackMs  float64 `yaml:"attack_ms"`  // Base attack time constant.
	ReleaseMs float64 `yaml:"release_ms"` // Base release time constant.
	MaxGain   float64 `yaml:"max_gain"`   // Upper gain clamp for this band.
}

// AGCConfig holds settings for the multiband gain controller.
type AGCConfig struct {
	Bands           []BandConfig `yaml:"bands"`             // Contiguous ascending band edges.
	TargetLevel     float64      `yaml:"target_level"`      // Normalized level the gain law aims for.
	CompressionTh   float64      `yaml:"compression_th"`    // Normalized threshold above which compression applies.
	CompressionRt   float64      `yaml:"compression_ratio"` // Compression ratio above the threshold (e.g. 3 for 3:1).
	ExpansionExp    float64      `yaml:"expansion_exp"`     // Soft-knee exponent for quiet content below the threshold.
	Coupling        float64      `yaml:"coupling"`          // Neighbor-mean blend factor applied to target gains.
	MaxDivergenceDB float64      `yaml:"max_divergence_db"` // Adjacent-band gain difference limit after smoothing.
	SilenceRMS      float64      `yaml:"silence_rms"`       // Band RMS below which noise-floor tracking engages.
}

// BeatConfig holds settings for beat and tempo detection.
type BeatConfig struct {
	Enabled        bool          `yaml:"enabled"`         // Disable to bypass beat detection entirely.
	Mode           string        `yaml:"mode"`            // Detector strategy: "threshold" or "pll".
	MinBPM         float64       `yaml:"min_bpm"`         // Lower tempo bound.
	MaxBPM         float64       `yaml:"max_bpm"`         // Upper tempo bound.
	EnergyTh       float64       `yaml:"energy_th"`       // Threshold detector: total energy floor for a candidate.
	RiseRatio      float64       `yaml:"rise_ratio"`      // Threshold detector: instantaneous rise ratio for a transient.
	Debounce       time.Duration `yaml:"debounce"`        // Threshold detector: retrigger window before confirming.
	SilenceTimeout time.Duration `yaml:"silence_timeout"` // No-beat window after which the tempo state resets.
	OnsetK         float64       `yaml:"onset_k"`         // PLL detector: flux threshold in standard deviations.
	OnsetEnabled   bool          `yaml:"onset_enabled"`   // PLL detector: disable to track tempo without emitting beats.
}

// TransportConfig holds settings for delivering features to consumers.
type TransportConfig struct {
	WSEnabled   bool          `yaml:"ws_enabled"`   // Serve features to websocket clients.
	WSAddr      string        `yaml:"ws_addr"`      // Websocket listen address (e.g. ":8080").
	UDPEnabled  bool          `yaml:"udp_enabled"`  // Publish binary feature packets over UDP.
	UDPTarget   string        `yaml:"udp_target"`   // UDP target address (e.g. "127.0.0.1:9090").
	UDPInterval time.Duration `yaml:"udp_interval"` // Interval between UDP packets.
}

// Default returns the built-in configuration. The numeric values are the
// firmware-derived starting points; all of them are tunable.
func Default() *Config {
	return &Config{
		Debug:    false,
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice: -1,
			SampleRate:  16000,
			HopSize:     128, // 125 Hz tick
		},
		Spectral: SpectralConfig{
			Bins:          64,
			BaseFrequency: 55.0, // A1, semitone spacing upward
			MinWindow:     64,
			MaxWindow:     2048,
			Interlace:     512,
			Calibration:   32768.0,
			HFCompLinear:  0.35,
			HFCompQuad:    1.8,
		},
		AGC: AGCConfig{
			Bands: []BandConfig{
				{Name: "bass", LowHz: 0, HighHz: 150, AttackMs: 40, ReleaseMs: 400, MaxGain: 8.0},
				{Name: "lowMid", LowHz: 150, HighHz: 500, AttackMs: 30, ReleaseMs: 350, MaxGain: 8.0},
				{Name: "highMid", LowHz: 500, HighHz: 1200, AttackMs: 20, ReleaseMs: 300, MaxGain: 6.0},
				{Name: "treble", LowHz: 1200, HighHz: 24000, AttackMs: 15, ReleaseMs: 250, MaxGain: 6.0},
			},
			TargetLevel:     0.6,
			CompressionTh:   0.7,
			CompressionRt:   3.0,
			ExpansionExp:    0.6,
			Coupling:        0.2,
			MaxDivergenceDB: 12.0,
			SilenceRMS:      0.003,
		},
		Beat: BeatConfig{
			Enabled:        true,
			Mode:           "threshold",
			MinBPM:         40,
			MaxBPM:         220,
			EnergyTh:       0.02,
			RiseRatio:      1.5,
			Debounce:       120 * time.Millisecond,
			SilenceTimeout: 3 * time.Second,
			OnsetK:         1.5,
			OnsetEnabled:   true,
		},
		Transport: TransportConfig{
			WSEnabled:   false,
			WSAddr:      ":8080",
			UDPEnabled:  false,
			UDPTarget:   "127.0.0.1:9090",
			UDPInterval: 80 * time.Millisecond, // ~12 Hz diagnostic cadence
		},
	}
}

// Load loads configuration from a YAML file at path. If path is empty it
// searches the default location ("config.yaml") and falls back to built-in
// defaults. Environment overrides are applied after the file, and the final
// configuration is validated before use.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors that must abort startup.
// Everything caught here is a configuration error in the fail-fast class:
// the pipeline does not start on any of them.
func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive, got %g", c.Audio.SampleRate)
	}
	if c.Audio.HopSize <= 0 {
		return fmt.Errorf("audio.hop_size must be positive, got %d", c.Audio.HopSize)
	}
	if c.Spectral.Bins <= 0 {
		return fmt.Errorf("spectral.bins must be positive, got %d", c.Spectral.Bins)
	}
	if c.Spectral.BaseFrequency <= 0 {
		return fmt.Errorf("spectral.base_frequency must be positive, got %g", c.Spectral.BaseFrequency)
	}
	if c.Spectral.MinWindow <= 0 || c.Spectral.MaxWindow < c.Spectral.MinWindow {
		return fmt.Errorf("spectral window bounds invalid: min %d, max %d",
			c.Spectral.MinWindow, c.Spectral.MaxWindow)
	}
	if c.Spectral.Calibration <= 0 {
		return fmt.Errorf("spectral.calibration must be positive, got %g", c.Spectral.Calibration)
	}

	if len(c.AGC.Bands) == 0 {
		return fmt.Errorf("agc.bands must not be empty")
	}
	prev := 0.0
	for i, b := range c.AGC.Bands {
		if b.HighHz <= b.LowHz {
			return fmt.Errorf("agc band %q: high_hz %g not above low_hz %g", b.Name, b.HighHz, b.LowHz)
		}
		if i > 0 && b.LowHz != prev {
			return fmt.Errorf("agc band %q: low_hz %g does not continue from previous high_hz %g",
				b.Name, b.LowHz, prev)
		}
		if b.MaxGain <= 0 {
			return fmt.Errorf("agc band %q: max_gain must be positive, got %g", b.Name, b.MaxGain)
		}
		if b.AttackMs <= 0 || b.ReleaseMs <= 0 {
			return fmt.Errorf("agc band %q: attack/release must be positive", b.Name)
		}
		prev = b.HighHz
	}
	if c.AGC.Coupling < 0 || c.AGC.Coupling > 1 {
		return fmt.Errorf("agc.coupling must be in [0,1], got %g", c.AGC.Coupling)
	}
	if c.AGC.MaxDivergenceDB <= 0 {
		return fmt.Errorf("agc.max_divergence_db must be positive, got %g", c.AGC.MaxDivergenceDB)
	}
	if c.AGC.CompressionRt < 1 {
		return fmt.Errorf("agc.compression_ratio must be >= 1, got %g", c.AGC.CompressionRt)
	}

	if c.Beat.Mode != "threshold" && c.Beat.Mode != "pll" {
		return fmt.Errorf("beat.mode must be \"threshold\" or \"pll\", got %q", c.Beat.Mode)
	}
	if c.Beat.MinBPM <= 0 || c.Beat.MaxBPM <= c.Beat.MinBPM {
		return fmt.Errorf("beat tempo range invalid: %g-%g BPM", c.Beat.MinBPM, c.Beat.MaxBPM)
	}
	if c.Beat.SilenceTimeout <= 0 {
		return fmt.Errorf("beat.silence_timeout must be positive, got %s", c.Beat.SilenceTimeout)
	}

	if c.Transport.UDPEnabled && c.Transport.UDPInterval <= 0 {
		return fmt.Errorf("transport.udp_interval must be positive when UDP is enabled")
	}
	return nil
}

// TickRate returns the pipeline tick rate in Hz.
func (c *Config) TickRate() float64 {
	return c.Audio.SampleRate / float64(c.Audio.HopSize)
}

// applyEnvOverrides applies ENV_* overrides after file loading, matching the
// deployment convention of the delivery targets.
func (c *Config) applyEnvOverrides() {
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Debug = bVal
		}
	}
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			c.Transport.UDPEnabled = bVal
		}
	}
	if val, ok := os.LookupEnv("ENV_UDP_TARGET"); ok {
		c.Transport.UDPTarget = val
	}
	if val, ok := os.LookupEnv("ENV_UDP_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			c.Transport.UDPInterval = dur
		}
	}
	if val, ok := os.LookupEnv("ENV_WS_ADDR"); ok {
		c.Transport.WSAddr = val
	}
}
