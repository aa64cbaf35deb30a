// SPDX-License-Identifier: MIT
package main

import (
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"lightbeat/cmd"
	"lightbeat/internal/capture"
	"lightbeat/internal/config"
	applog "lightbeat/internal/log"
	"lightbeat/internal/metrics"
	"lightbeat/internal/pipeline"
	"lightbeat/internal/transport"
	"lightbeat/internal/transport/udp"
)

// reportInterval is the cadence of the websocket/logging feature feed. The
// pipeline ticks at 125 Hz; visualization clients need nothing near that.
const reportInterval = 33 * time.Millisecond

// main runs in three phases:
//
//  1. Startup (cold): parse arguments, configure logging, initialize
//     PortAudio, execute one-off commands.
//  2. Capture (hot): the PortAudio callback drives one pipeline tick per hop;
//     delivery goroutines read snapshots on their own cadence.
//  3. Shutdown (cold): stop the stream, stop publishers, close transports.
func main() {
	// ==================== STARTUP ====================

	// One thread for the capture callback, one for delivery and I/O.
	runtime.GOMAXPROCS(2)

	cfg, err := cmd.ParseArgs()
	if err != nil {
		applog.Fatalf("%v", err)
	}
	configureLogging(cfg)

	switch cfg.Command {
	case "list":
		if err := capture.Initialize(); err != nil {
			applog.Fatalf("%v", err)
		}
		defer capture.Terminate()
		if err := capture.ListDevices(); err != nil {
			applog.Fatalf("%v", err)
		}
		return
	case "analyze":
		summary, err := capture.Analyze(cfg.AnalyzeFile, cfg, metrics.Nop{})
		if err != nil {
			applog.Fatalf("%v", err)
		}
		summary.Print()
		return
	}

	if err := capture.Initialize(); err != nil {
		applog.Fatalf("%v", err)
	}
	defer capture.Terminate()

	orch, err := pipeline.New(cfg, metrics.Nop{})
	if err != nil {
		applog.Fatalf("%v", err)
	}

	engine, err := capture.NewEngine(cfg, orch)
	if err != nil {
		applog.Fatalf("%v", err)
	}

	// ==================== CAPTURE ====================

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	feed := newFeed(cfg, orch)
	feed.start()

	if err := engine.Start(); err != nil {
		applog.Fatalf("%v", err)
	}
	applog.Infof("lightbeat running at %.1f Hz tick, beat mode %q; Ctrl-C to stop",
		cfg.TickRate(), cfg.Beat.Mode)

	<-done

	// ==================== SHUTDOWN ====================

	if err := engine.Stop(); err != nil {
		applog.Errorf("stopping capture: %v", err)
	}
	feed.stop()

	h := orch.Health()
	applog.Infof("processed %d ticks, %d stage failures", orch.Ticks(), h.TotalFailures)
}

// feed owns the delivery side: the websocket/logging report pump and the UDP
// snapshot publisher.
type feed struct {
	out      transport.Transport
	orch     *pipeline.Orchestrator
	udpPub   *udp.Publisher
	udpSend  *udp.Sender
	stopPump chan struct{}
}

func newFeed(cfg *config.Config, orch *pipeline.Orchestrator) *feed {
	f := &feed{orch: orch, stopPump: make(chan struct{})}

	if cfg.Transport.WSEnabled {
		f.out = transport.NewWebSocketTransport(cfg.Transport.WSAddr)
	} else {
		f.out = transport.NewLoggingTransport()
	}

	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewSender(cfg.Transport.UDPTarget)
		if err != nil {
			applog.Fatalf("%v", err)
		}
		pub, err := udp.NewPublisher(cfg.Transport.UDPInterval, sender, orch.Conditioner())
		if err != nil {
			applog.Fatalf("%v", err)
		}
		f.udpSend = sender
		f.udpPub = pub
	}
	return f
}

func (f *feed) start() {
	if f.udpPub != nil {
		f.udpPub.Start()
	}
	go func() {
		ticker := time.NewTicker(reportInterval)
		defer ticker.Stop()
		var lastTick uint64
		for {
			select {
			case <-ticker.C:
				r := f.orch.Report()
				if r == nil || r.Tick == lastTick {
					continue
				}
				lastTick = r.Tick
				f.out.Send(r)
			case <-f.stopPump:
				return
			}
		}
	}()
}

func (f *feed) stop() {
	close(f.stopPump)
	if f.udpPub != nil {
		f.udpPub.Stop()
	}
	if f.udpSend != nil {
		f.udpSend.Close()
	}
	f.out.Close()
}

func configureLogging(cfg *config.Config) {
	if cfg.Debug {
		applog.SetLevel(applog.LevelDebug)
		return
	}
	if level, ok := applog.ParseLevel(cfg.LogLevel); ok {
		applog.SetLevel(level)
	}
}
