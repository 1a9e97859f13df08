// Package alerts provides the shared alert stream used by every
// pipeline component for threshold breaches. Alerts are never errors:
// they are recorded in a bounded buffer, logged at a severity-mapped
// level, and fanned out to optional sinks (console, webhook).
package alerts

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Severity levels, ordered from least to most urgent.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert describes a single threshold breach emitted by a component.
type Alert struct {
	Timestamp time.Time      `json:"timestamp"`
	Severity  Severity       `json:"severity"`
	Component string         `json:"component"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
}

// Sink delivers alerts to an external consumer. Delivery failures are
// the sink's problem; the dispatcher never blocks on them.
type Sink interface {
	Deliver(alert Alert) error
	Name() string
}

// DispatcherConfig bounds the recent-alert buffer and throttles sink
// fan-out so an alert storm cannot saturate downstream consumers.
type DispatcherConfig struct {
	BufferSize     int     `yaml:"buffer_size" default:"500" validate:"gt=0"`
	SinkRatePerSec float64 `yaml:"sink_rate_per_sec" default:"10"`
	SinkBurst      int     `yaml:"sink_burst" default:"20"`
	QueueSize      int     `yaml:"queue_size" default:"256" validate:"gt=0"`
}

// DefaultDispatcherConfig returns the standard dispatcher settings.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{BufferSize: 500, SinkRatePerSec: 10, SinkBurst: 20, QueueSize: 256}
}

// Dispatcher owns the bounded recent-alert ring and the registered
// sinks. Sink delivery happens on a dispatcher-owned goroutine, so
// emitters (which may hold component locks) never wait on sink I/O.
// All methods are safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	recent   []Alert
	next     int
	full     bool
	sinks    []Sink
	limiter  *rate.Limiter
	dropped  int64
	observer func(Alert)

	queue     chan Alert
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDispatcher creates a dispatcher with the given config and starts
// its delivery goroutine.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 500
	}
	if cfg.SinkRatePerSec <= 0 {
		cfg.SinkRatePerSec = 10
	}
	if cfg.SinkBurst <= 0 {
		cfg.SinkBurst = 20
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	d := &Dispatcher{
		recent:  make([]Alert, cfg.BufferSize),
		limiter: rate.NewLimiter(rate.Limit(cfg.SinkRatePerSec), cfg.SinkBurst),
		queue:   make(chan Alert, cfg.QueueSize),
		done:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.drain()
	return d
}

// AddSink registers a delivery sink.
func (d *Dispatcher) AddSink(s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, s)
}

// SetObserver registers a callback invoked on every emitted alert,
// outside the sink rate limit. Used for metrics counting.
func (d *Dispatcher) SetObserver(fn func(Alert)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = fn
}

// Emit records an alert and enqueues it for sink delivery. Recording
// always succeeds; delivery is rate limited and best-effort, and Emit
// never waits on a sink.
func (d *Dispatcher) Emit(alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	d.mu.Lock()
	d.recent[d.next] = alert
	d.next = (d.next + 1) % len(d.recent)
	if !d.full && d.next == 0 {
		d.full = true
	}
	haveSinks := len(d.sinks) > 0
	observer := d.observer
	d.mu.Unlock()

	logAlert(alert)
	if observer != nil {
		observer(alert)
	}

	if !haveSinks {
		return
	}
	if !d.limiter.Allow() {
		d.countDropped()
		return
	}
	select {
	case d.queue <- alert:
	default:
		d.countDropped()
	}
}

// Close flushes queued alerts and stops the delivery goroutine.
// Alerts emitted afterwards are still recorded but no longer reach
// sinks.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) drain() {
	defer d.wg.Done()
	for {
		select {
		case alert := <-d.queue:
			d.deliver(alert)
		case <-d.done:
			for {
				select {
				case alert := <-d.queue:
					d.deliver(alert)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(alert Alert) {
	d.mu.RLock()
	sinks := make([]Sink, len(d.sinks))
	copy(sinks, d.sinks)
	d.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Deliver(alert); err != nil {
			log.Warn().Err(err).Str("sink", s.Name()).Str("alert_type", alert.Type).
				Msg("alert delivery failed")
		}
	}
}

func (d *Dispatcher) countDropped() {
	d.mu.Lock()
	d.dropped++
	d.mu.Unlock()
}

// Recent returns up to n alerts, newest first.
func (d *Dispatcher) Recent(n int) []Alert {
	d.mu.RLock()
	defer d.mu.RUnlock()

	size := d.next
	if d.full {
		size = len(d.recent)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Alert, 0, n)
	for i := 0; i < n; i++ {
		idx := (d.next - 1 - i + len(d.recent)) % len(d.recent)
		out = append(out, d.recent[idx])
	}
	return out
}

// Dropped returns the number of alerts that never reached sinks,
// whether throttled or shed on queue overflow. Dropped alerts are
// still recorded in the recent buffer.
func (d *Dispatcher) Dropped() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dropped
}

func logAlert(a Alert) {
	var evt *zerolog.Event
	switch a.Severity {
	case SeverityCritical:
		evt = log.Error().Str("severity", "critical")
	case SeverityHigh:
		evt = log.Error().Str("severity", "high")
	case SeverityMedium:
		evt = log.Warn().Str("severity", "medium")
	default:
		evt = log.Info().Str("severity", "low")
	}
	evt.Str("component", a.Component).Str("alert_type", a.Type).Msg(a.Message)
}
