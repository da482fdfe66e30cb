// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons for control-plane envelopes.
const (
	DropMalformed    = "malformed"
	DropUnjoined     = "unjoined"
	DropRateLimited  = "rate_limited"
	DropBackpressure = "backpressure"
)

// Media packet results.
const (
	MediaForwarded  = "forwarded"
	MediaBadHeader  = "bad_header"
	MediaNoTarget   = "no_target"
	MediaUnresolved = "unresolved"
	MediaSendError  = "send_error"
)

// Metrics contains all Prometheus metrics for the relay.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	Envelopes        *prometheus.CounterVec
	EnvelopesDropped *prometheus.CounterVec
	MediaPackets     *prometheus.CounterVec
	MediaBytes       prometheus.Counter
	ActiveCalls      *prometheus.GaugeVec
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Current number of registered control sessions",
		}),
		Envelopes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_envelopes_total",
			Help: "Control-plane envelopes handled, by kind",
		}, []string{"kind"}),
		EnvelopesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_envelopes_dropped_total",
			Help: "Control-plane envelopes dropped, by reason",
		}, []string{"reason"}),
		MediaPackets: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_media_packets_total",
			Help: "Media datagrams received, by outcome",
		}, []string{"result"}),
		MediaBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_media_forwarded_bytes_total",
			Help: "Bytes written to media peers",
		}),
		ActiveCalls: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "relay_active_calls",
			Help: "Current number of calls, by type",
		}, []string{"type"}),
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.ActiveSessions.Dec()
	}
}

func (m *Metrics) Envelope(kind string) {
	if m != nil {
		m.Envelopes.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.EnvelopesDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Media(result string) {
	if m != nil {
		m.MediaPackets.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) MediaSent(n int) {
	if m != nil {
		m.MediaBytes.Add(float64(n))
	}
}

func (m *Metrics) Calls(private, group int) {
	if m != nil {
		m.ActiveCalls.WithLabelValues("private").Set(float64(private))
		m.ActiveCalls.WithLabelValues("group").Set(float64(group))
	}
}
