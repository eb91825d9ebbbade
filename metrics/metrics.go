package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "turbo_speech"

// AttemptObserver receives one call per HTTP attempt. It must not block.
type AttemptObserver interface {
	ObserveAttempt(method string, status int, outcome string, elapsed time.Duration)
}

// ConnectionObserver receives lifecycle and frame notifications from a connection.
type ConnectionObserver interface {
	ObserveConnection(protocol, event string)
	ObserveFrame(protocol, direction string)
}

type Collector struct {
	attempts    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	connections *prometheus.CounterVec
	frames      *prometheus.CounterVec
}

// NewCollector registers the collector's metrics on reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "attempts_total",
			Help:      "HTTP attempts by method, status code and outcome.",
		}, []string{"method", "code", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of single HTTP attempts.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "connection_events_total",
			Help:      "WebSocket connection lifecycle events by protocol.",
		}, []string{"protocol", "event"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "frames_total",
			Help:      "WebSocket frames by protocol and direction.",
		}, []string{"protocol", "direction"}),
	}
	for _, col := range []prometheus.Collector{c.attempts, c.latency, c.connections, c.frames} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) ObserveAttempt(method string, status int, outcome string, elapsed time.Duration) {
	code := "none"
	if status != 0 {
		code = strconv.Itoa(status)
	}
	c.attempts.WithLabelValues(method, code, outcome).Inc()
	c.latency.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveConnection(protocol, event string) {
	c.connections.WithLabelValues(protocol, event).Inc()
}

func (c *Collector) ObserveFrame(protocol, direction string) {
	c.frames.WithLabelValues(protocol, direction).Inc()
}

// Attempts exposes the attempt counter for tests and custom exporters.
func (c *Collector) Attempts() *prometheus.CounterVec {
	return c.attempts
}

func (c *Collector) Connections() *prometheus.CounterVec {
	return c.connections
}

func (c *Collector) Frames() *prometheus.CounterVec {
	return c.frames
}

type nop struct{}

func (nop) ObserveAttempt(string, int, string, time.Duration) {}
func (nop) ObserveConnection(string, string)                  {}
func (nop) ObserveFrame(string, string)                       {}

// Nop discards everything.
var Nop = nop{}
