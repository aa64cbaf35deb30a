// SPDX-License-Identifier: MIT
package capture

import (
	"fmt"
	"runtime"

	"github.com/gordonklaus/portaudio"

	"lightbeat/internal/config"
	applog "lightbeat/internal/log"
	"lightbeat/internal/pipeline"
)

// Engine owns the live input stream. Each PortAudio callback delivers one
// hop, which drives exactly one pipeline tick. Capture is mono: the feature
// pipeline has no concept of stereo.
type Engine struct {
	cfg    *config.Config
	orch   *pipeline.Orchestrator
	device *portaudio.DeviceInfo
	stream *portaudio.Stream
	buffer []int32 // Pre-allocated hop buffer; the callback never allocates.
}

// NewEngine resolves the configured input device and prepares the stream
// buffers. PortAudio must already be initialized.
func NewEngine(cfg *config.Config, orch *pipeline.Orchestrator) (*Engine, error) {
	device, err := InputDevice(cfg.Audio.InputDevice)
	if err != nil {
		return nil, err
	}

	applog.Infof("capture: input device %q (%.0f Hz default, latency %.2f ms)",
		device.Name, device.DefaultSampleRate,
		device.DefaultLowInputLatency.Seconds()*1000)

	return &Engine{
		cfg:    cfg,
		orch:   orch,
		device: device,
		buffer: make([]int32, cfg.Audio.HopSize),
	}, nil
}

// Start opens and starts the input stream. The callback runs on a PortAudio
// thread until Stop.
func (e *Engine) Start() error {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: 1,
			Device:   e.device,
			Latency:  e.device.DefaultLowInputLatency,
		},
		FramesPerBuffer: e.cfg.Audio.HopSize,
		SampleRate:      e.cfg.Audio.SampleRate,
	}

	stream, err := portaudio.OpenStream(params, e.processInput)
	if err != nil {
		return fmt.Errorf("capture: open stream: %w", err)
	}
	e.stream = stream

	if err := e.stream.Start(); err != nil {
		e.stream.Close()
		e.stream = nil
		return fmt.Errorf("capture: start stream: %w", err)
	}
	applog.Infof("capture: stream started (%g Hz, hop %d)",
		e.cfg.Audio.SampleRate, e.cfg.Audio.HopSize)
	return nil
}

// processInput is the capture callback: one hop in, one pipeline tick out.
// Runs on a dedicated OS thread with pre-allocated buffers only; critical
// failures surface through the pipeline health, not through logging here.
func (e *Engine) processInput(in []int32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	copy(e.buffer, in)
	_ = e.orch.ProcessWindow(e.buffer)
}

// Stop stops and closes the stream.
func (e *Engine) Stop() error {
	if e.stream == nil {
		return nil
	}
	if err := e.stream.Stop(); err != nil {
		return fmt.Errorf("capture: stop stream: %w", err)
	}
	if err := e.stream.Close(); err != nil {
		return fmt.Errorf("capture: close stream: %w", err)
	}
	e.stream = nil
	applog.Infof("capture: stream stopped")
	return nil
}
