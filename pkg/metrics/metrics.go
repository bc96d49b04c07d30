// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports session and bridge activity to Prometheus.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thermoquad/marquee/pkg/session"
)

const namespace = "marquee"

// NewRegistry creates a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics holds every marquee collector.
type Metrics struct {
	Sends          *prometheus.CounterVec // labels: command, result=sent|cancelled|faulted
	AttemptsFailed *prometheus.CounterVec // labels: cause=timeout|transport|rejected
	CacheHits      prometheus.Counter
	FramesWritten  prometheus.Counter
	SendDuration   prometheus.Histogram
	Connected      prometheus.Gauge

	BridgeLinks  prometheus.Gauge
	BridgeFrames *prometheus.CounterVec // labels: direction
	BridgeBytes  *prometheus.CounterVec // labels: direction
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Logical sends by command and outcome.",
		}, []string{"command", "result"}),
		AttemptsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_failed_total",
			Help:      "Failed send attempts by cause.",
		}, []string{"cause"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Sends skipped because the sign already held the payload.",
		}),
		FramesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_written_total",
			Help:      "Frames written by delivered sends.",
		}),
		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Time from first attempt to delivery.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while the session holds a link.",
		}),
		BridgeLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridge_links",
			Help:      "Bridge links currently open.",
		}),
		BridgeFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_frames_total",
			Help:      "Messages relayed by the bridge.",
		}, []string{"direction"}),
		BridgeBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_bytes_total",
			Help:      "Bytes relayed by the bridge.",
		}, []string{"direction"}),
	}
	reg.MustRegister(m.Sends, m.AttemptsFailed, m.CacheHits, m.FramesWritten, m.SendDuration,
		m.Connected, m.BridgeLinks, m.BridgeFrames, m.BridgeBytes)
	return m
}

// Observe records a session event. Pass it to session.WithEventHandler.
func (m *Metrics) Observe(ev session.Event) {
	switch ev.Kind {
	case session.EventConnected:
		m.Connected.Set(1)
	case session.EventDisconnected:
		m.Connected.Set(0)
	case session.EventAttemptFailed:
		m.AttemptsFailed.WithLabelValues(cause(ev.Err)).Inc()
	case session.EventSent:
		m.Sends.WithLabelValues(ev.Command, "sent").Inc()
		if r := ev.Result; r != nil {
			if r.CacheHit {
				m.CacheHits.Inc()
			}
			m.FramesWritten.Add(float64(r.FramesWritten))
			m.SendDuration.Observe(r.Duration.Seconds())
		}
	case session.EventCancelled:
		m.Sends.WithLabelValues(ev.Command, "cancelled").Inc()
	case session.EventFaulted:
		m.Sends.WithLabelValues(ev.Command, "faulted").Inc()
	}
}

func cause(err error) string {
	switch {
	case errors.Is(err, session.ErrDeviceRejected):
		return "rejected"
	case errors.Is(err, session.ErrTransportTimeout):
		return "timeout"
	default:
		return "transport"
	}
}

// LinkOpened implements wsbridge.Observer.
func (m *Metrics) LinkOpened(string) {
	m.BridgeLinks.Inc()
}

// LinkClosed implements wsbridge.Observer.
func (m *Metrics) LinkClosed(string, error) {
	m.BridgeLinks.Dec()
}

// FrameRelayed implements wsbridge.Observer.
func (m *Metrics) FrameRelayed(direction string, size int) {
	m.BridgeFrames.WithLabelValues(direction).Inc()
	m.BridgeBytes.WithLabelValues(direction).Add(float64(size))
}
