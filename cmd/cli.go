// SPDX-License-Identifier: MIT
// Package cmd parses the command line into a validated configuration.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"lightbeat/internal/config"
)

// ParseArgs builds the configuration from the config file and command line.
// Precedence: built-in defaults, then the YAML file, then environment
// overrides, then explicitly set flags.
func ParseArgs() (*config.Config, error) {
	var (
		cfg        *config.Config
		configPath string

		device     int
		sampleRate float64
		hopSize    int
		logLevel   string
		debug      bool
		wsEnabled  bool
		wsAddr     string
		udpEnabled bool
		udpTarget  string
		beatMode   string
	)

	rootCmd := &cobra.Command{
		Use:           "lightbeat",
		Short:         "Real-time musical feature extraction for light control",
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded

			flags := cmd.Root().PersistentFlags()
			if flags.Changed("device") {
				cfg.Audio.InputDevice = device
			}
			if flags.Changed("sample-rate") {
				cfg.Audio.SampleRate = sampleRate
			}
			if flags.Changed("hop") {
				cfg.Audio.HopSize = hopSize
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if flags.Changed("debug") {
				cfg.Debug = debug
			}
			if flags.Changed("ws") {
				cfg.Transport.WSEnabled = wsEnabled
			}
			if flags.Changed("ws-addr") {
				cfg.Transport.WSAddr = wsAddr
			}
			if flags.Changed("udp") {
				cfg.Transport.UDPEnabled = udpEnabled
			}
			if flags.Changed("udp-target") {
				cfg.Transport.UDPTarget = udpTarget
			}
			if flags.Changed("beat-mode") {
				cfg.Beat.Mode = beatMode
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Command = ""
			return nil
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available audio input devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Command = "list"
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "analyze <file.wav>",
		Short: "Run a WAV file through the pipeline and print a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Command = "analyze"
			cfg.AnalyzeFile = args[0]
			return nil
		},
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a YAML config file")
	pf.IntVarP(&device, "device", "d", -1, "Input device ID ('list' shows available devices)")
	pf.Float64VarP(&sampleRate, "sample-rate", "s", 16000, "Sample rate in Hz")
	pf.IntVarP(&hopSize, "hop", "b", 128, "Samples per tick (tick rate = sample rate / hop)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.BoolVarP(&debug, "debug", "v", false, "Enable debug logging")
	pf.BoolVar(&wsEnabled, "ws", false, "Serve features to websocket clients")
	pf.StringVar(&wsAddr, "ws-addr", ":8080", "Websocket listen address")
	pf.BoolVar(&udpEnabled, "udp", false, "Publish binary feature packets over UDP")
	pf.StringVar(&udpTarget, "udp-target", "127.0.0.1:9090", "UDP target address")
	pf.StringVar(&beatMode, "beat-mode", "threshold", "Beat detector strategy (threshold, pll)")

	rootCmd.SetArgs(os.Args[1:])
	if err := rootCmd.Execute(); err != nil {
		return nil, err
	}
	return cfg, nil
}
