// Package metrics exports per-port connection statistics to Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records the life of intercepted connections.
type Metrics interface {
	AddConnection(port uint16, dialect string)
	RemoveConnection(port uint16)
	AddError(kind string)
	AddRelayedBytes(sent, received int64)
	ObserveHandshake(seconds float64)
}

// Empty discards everything.
type Empty struct{}

func (Empty) AddConnection(uint16, string) {}
func (Empty) RemoveConnection(uint16)      {}
func (Empty) AddError(string)              {}
func (Empty) AddRelayedBytes(int64, int64) {}
func (Empty) ObserveHandshake(float64)     {}

type Prometheus struct {
	TotalConnection    *prometheus.CounterVec
	CurrentConnection  *prometheus.GaugeVec
	TotalError         *prometheus.CounterVec
	TotalRelayedBytes  *prometheus.CounterVec
	HandshakeDurations prometheus.Histogram
}

// NewPrometheus registers the collectors with reg. Passing
// prometheus.DefaultRegisterer exposes them through promhttp.Handler.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)

	return &Prometheus{
		TotalConnection: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transproxy_connections_total",
			Help: "The total number of intercepted connections",
		}, []string{"port", "dialect"}),
		CurrentConnection: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "transproxy_active_connections",
			Help: "The current number of intercepted connections",
		}, []string{"port"}),
		TotalError: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transproxy_connection_errors_total",
			Help: "The total number of failed connections by failure kind",
		}, []string{"kind"}),
		TotalRelayedBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "transproxy_relayed_bytes_total",
			Help: "The total number of relayed bytes by direction",
		}, []string{"direction"}),
		HandshakeDurations: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "transproxy_handshake_duration_seconds",
			Help:    "Time from accept until the upstream session is ready to relay",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
}

func (p *Prometheus) AddConnection(port uint16, dialect string) {
	label := strconv.Itoa(int(port))
	p.TotalConnection.WithLabelValues(label, dialect).Inc()
	p.CurrentConnection.WithLabelValues(label).Inc()
}

func (p *Prometheus) RemoveConnection(port uint16) {
	p.CurrentConnection.WithLabelValues(strconv.Itoa(int(port))).Dec()
}

func (p *Prometheus) AddError(kind string) {
	p.TotalError.WithLabelValues(kind).Inc()
}

func (p *Prometheus) AddRelayedBytes(sent, received int64) {
	if sent > 0 {
		p.TotalRelayedBytes.WithLabelValues("sent").Add(float64(sent))
	}
	if received > 0 {
		p.TotalRelayedBytes.WithLabelValues("received").Add(float64(received))
	}
}

func (p *Prometheus) ObserveHandshake(seconds float64) {
	p.HandshakeDurations.Observe(seconds)
}
