// SPDX-License-Identifier: MIT
// Package metrics exposes capture, streaming and publishing counters to
// Prometheus.
package metrics

import (
	"net/http"
	"sync"

	"micscope/internal/audio"
	"micscope/internal/stream"
	"micscope/internal/transport"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "micscope"

// CaptureStats is satisfied by *audio.Recorder.
type CaptureStats interface {
	Stats() audio.Stats
}

// PublishStats is satisfied by *transport.Publisher.
type PublishStats interface {
	Stats() transport.PublisherStats
}

var statuses = []stream.Status{
	stream.StatusIdle,
	stream.StatusStarting,
	stream.StatusActive,
	stream.StatusError,
}

// Metrics reads recorder and publisher counters at scrape time and tracks
// streamer status as it changes.
type Metrics struct {
	registry *prometheus.Registry
	recorder CaptureStats

	mu        sync.Mutex
	publisher PublishStats

	blocks     *prometheus.Desc
	sessions   *prometheus.Desc
	failures   *prometheus.Desc
	summaries  *prometheus.Desc
	pulses     *prometheus.Desc
	sendErrors *prometheus.Desc

	status      *prometheus.GaugeVec
	transitions *prometheus.CounterVec
}

// New creates the collector and registers it, together with the Go runtime
// and process collectors, on registry.
func New(registry *prometheus.Registry, rec CaptureStats) (*Metrics, error) {
	m := &Metrics{
		registry: registry,
		recorder: rec,
		blocks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "capture", "blocks_total"),
			"Capture quanta by outcome: delivered to consumers, skipped for missing input, or dropped to backpressure",
			[]string{"result"}, nil,
		),
		sessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "capture", "sessions_total"),
			"Capture sessions that went live",
			nil, nil,
		),
		failures: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "capture", "failures_total"),
			"Failed capture starts and lost devices",
			nil, nil,
		),
		summaries: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "publish", "summaries_total"),
			"Analysis summaries handed to transports",
			nil, nil,
		),
		pulses: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "publish", "pulses_total"),
			"Summaries flagged as pulses",
			nil, nil,
		),
		sendErrors: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "publish", "send_errors_total"),
			"Failed transport sends",
			nil, nil,
		),
		status: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "status",
				Help:      "1 for the current streamer status, 0 otherwise",
			},
			[]string{"status"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "transitions_total",
				Help:      "Streamer status changes by target status",
			},
			[]string{"status"},
		),
	}
	m.setStatus(stream.StatusIdle)

	for _, c := range []prometheus.Collector{
		m,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// AttachPublisher adds publisher counters to future scrapes.
func (m *Metrics) AttachPublisher(p PublishStats) {
	m.mu.Lock()
	m.publisher = p
	m.mu.Unlock()
}

// RecordStatus marks st as current. Register it with Streamer.OnStatus.
func (m *Metrics) RecordStatus(st stream.Status) {
	m.setStatus(st)
	m.transitions.WithLabelValues(st.String()).Inc()
}

func (m *Metrics) setStatus(st stream.Status) {
	for _, s := range statuses {
		v := 0.0
		if s == st {
			v = 1
		}
		m.status.WithLabelValues(s.String()).Set(v)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.blocks
	ch <- m.sessions
	ch <- m.failures
	ch <- m.summaries
	ch <- m.pulses
	ch <- m.sendErrors
	m.status.Describe(ch)
	m.transitions.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	if m.recorder != nil {
		st := m.recorder.Stats()
		counter(ch, m.blocks, st.Capture.Delivered, "delivered")
		counter(ch, m.blocks, st.Capture.Skipped, "skipped")
		counter(ch, m.blocks, st.Capture.Dropped, "dropped")
		counter(ch, m.sessions, st.Sessions)
		counter(ch, m.failures, st.Failures)
	}

	m.mu.Lock()
	p := m.publisher
	m.mu.Unlock()
	if p != nil {
		st := p.Stats()
		counter(ch, m.summaries, st.Published)
		counter(ch, m.pulses, st.Pulses)
		counter(ch, m.sendErrors, st.SendErrors)
	}

	m.status.Collect(ch)
	m.transitions.Collect(ch)
}

func counter(ch chan<- prometheus.Metric, desc *prometheus.Desc, v uint64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
}

var _ prometheus.Collector = (*Metrics)(nil)
