// Package metrics defines the sink interface the pipeline reports into.
// The firmware this engine descends from kept static debug counters and wrote
// straight to the console; here every stage gets an injected Sink instead so
// the core stays testable off-hardware. The default sink discards everything.
package metrics

// Sink receives counters and gauges from pipeline stages. Implementations
// must be cheap and non-blocking: Count and Gauge are called from the tick
// loop.
type Sink interface {
	// Count increments the named counter by one.
	Count(name string)
	// Gauge records the current value of a named quantity.
	Gauge(name string, value float64)
}

// Nop is a Sink that discards all observations.
type Nop struct{}

func (Nop) Count(string)          {}
func (Nop) Gauge(string, float64) {}

var _ Sink = Nop{}

// Recorder is a Sink that retains observations in memory, for tests and
// one-off diagnostics. Not safe for concurrent use.
type Recorder struct {
	Counters map[string]int
	Gauges   map[string]float64
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		Counters: make(map[string]int),
		Gauges:   make(map[string]float64),
	}
}

func (r *Recorder) Count(name string) {
	r.Counters[name]++
}

func (r *Recorder) Gauge(name string, value float64) {
	r.Gauges[name] = value
}

var _ Sink = (*Recorder)(nil)
