// Package metrics counts the traffic to and failures of instruments and
// exposes them to prometheus
package metrics

import (
	"net/http"
	"time"

	"github.com/golab-hw/fgctl/comm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the counters for every instrument of a server
type Collector struct {
	Writes        *prometheus.CounterVec
	Reads         *prometheus.CounterVec
	Timeouts      *prometheus.CounterVec
	LinkErrors    *prometheus.CounterVec
	DeviceErrors  *prometheus.CounterVec
	Violations    *prometheus.CounterVec
	ReadLatencies *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New creates a Collector and registers it with a fresh registry, so
// several collectors may coexist (e.g. in tests)
func New() *Collector {
	reg := prometheus.NewRegistry()
	label := []string{"device"}
	c := &Collector{
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fgctl_commands_written_total",
			Help: "commands written to the instrument",
		}, label),
		Reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fgctl_responses_read_total",
			Help: "responses read from the instrument",
		}, label),
		Timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fgctl_read_timeouts_total",
			Help: "reads which saw no response before the deadline",
		}, label),
		LinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fgctl_link_errors_total",
			Help: "reads or writes which failed for reasons other than a timeout",
		}, label),
		DeviceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fgctl_device_errors_total",
			Help: "entries drained from the instrument error queue",
		}, label),
		Violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fgctl_protocol_violations_total",
			Help: "responses which did not fit their grammar",
		}, label),
		ReadLatencies: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fgctl_read_duration_seconds",
			Help:    "time spent waiting for a response",
			Buckets: prometheus.ExponentialBuckets(1e-3, 4, 8),
		}, label),
		gatherer: reg,
	}
	reg.MustRegister(c.Writes, c.Reads, c.Timeouts, c.LinkErrors,
		c.DeviceErrors, c.Violations, c.ReadLatencies)
	return c
}

// Handler serves the metrics in the prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// DeviceError counts n entries drained from the error queue of device
func (c *Collector) DeviceError(device string, n int) {
	c.DeviceErrors.WithLabelValues(device).Add(float64(n))
}

// Violation counts a response from device that did not fit its grammar
func (c *Collector) Violation(device string) {
	c.Violations.WithLabelValues(device).Inc()
}

// Wrap returns a Transport which counts the traffic through t under the label device
func (c *Collector) Wrap(device string, t comm.Transport) comm.Transport {
	return &instrumented{c: c, device: device, t: t}
}

type instrumented struct {
	c      *Collector
	device string
	t      comm.Transport
}

func (i *instrumented) Write(cmd string) error {
	err := i.t.Write(cmd)
	if err != nil {
		i.c.LinkErrors.WithLabelValues(i.device).Inc()
		return err
	}
	i.c.Writes.WithLabelValues(i.device).Inc()
	return nil
}

func (i *instrumented) Read() (string, error) {
	start := time.Now()
	resp, err := i.t.Read()
	i.c.ReadLatencies.WithLabelValues(i.device).Observe(time.Since(start).Seconds())
	switch {
	case err == nil:
		i.c.Reads.WithLabelValues(i.device).Inc()
	case comm.IsTimeout(err):
		i.c.Timeouts.WithLabelValues(i.device).Inc()
	default:
		i.c.LinkErrors.WithLabelValues(i.device).Inc()
	}
	return resp, err
}
