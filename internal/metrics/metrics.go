// Package metrics exposes Prometheus collectors for the chat server.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"chatter/internal/core"
)

// Metrics holds the collector set. It doubles as a core.Sink so chat
// activity feeds the counters without the store knowing about
// Prometheus.
type Metrics struct {
	reg *prometheus.Registry

	connectionsTotal prometheus.Counter
	messagesTotal    *prometheus.CounterVec
	joinsTotal       *prometheus.CounterVec
	kicksTotal       prometheus.Counter
	activeMembers    *prometheus.GaugeVec
	queuedMembers    *prometheus.GaugeVec
}

// New creates the collector set on its own registry, so tests can build
// as many as they like without registration clashes.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		reg: reg,
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatter_connections_total",
			Help: "Total number of accepted client connections",
		}),
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatter_messages_total",
			Help: "Total number of chat and whisper messages per channel",
		}, []string{"channel"}),
		joinsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatter_joins_total",
			Help: "Total number of admissions and promotions per channel",
		}, []string{"channel"}),
		kicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatter_kicks_total",
			Help: "Total number of admin kicks",
		}),
		activeMembers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatter_active_members",
			Help: "Seated members per channel",
		}, []string{"channel"}),
		queuedMembers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatter_queued_members",
			Help: "Waiting members per channel",
		}, []string{"channel"}),
	}
}

// ConnectionAccepted counts one accepted TCP client.
func (m *Metrics) ConnectionAccepted() {
	m.connectionsTotal.Inc()
}

// Emit implements core.Sink.
func (m *Metrics) Emit(ev core.Event) {
	switch ev.Kind {
	case core.KindChat, core.KindWhisper:
		m.messagesTotal.WithLabelValues(ev.Channel).Inc()
	case core.KindJoin:
		m.joinsTotal.WithLabelValues(ev.Channel).Inc()
	case core.KindKick:
		m.kicksTotal.Inc()
	}
}

// ObserveCounts refreshes the occupancy gauges from one store sample.
func (m *Metrics) ObserveCounts(counts []core.ChannelCount) {
	for _, c := range counts {
		m.activeMembers.WithLabelValues(c.Name).Set(float64(c.Active))
		m.queuedMembers.WithLabelValues(c.Name).Set(float64(c.Queued))
	}
}

// Handler returns the scrape endpoint for this collector set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Sampler yields occupancy snapshots. *core.Store satisfies it.
type Sampler interface {
	Counts() []core.ChannelCount
}

// RunStats refreshes the occupancy gauges on a fixed interval until ctx
// ends, logging one debug line per sample.
func RunStats(ctx context.Context, s Sampler, m *Metrics, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts := s.Counts()
			m.ObserveCounts(counts)
			active, queued := 0, 0
			for _, c := range counts {
				active += c.Active
				queued += c.Queued
			}
			log.Debug().Int("channels", len(counts)).Int("active", active).Int("queued", queued).Msg("occupancy sample")
		}
	}
}
