package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics to track
var (
	AttachedConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "party_attached_connections",
			Help: "Number of live connections attached to party channels",
		},
	)
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "party_playback_commands_total",
			Help: "Playback commands processed, by event type and outcome",
		},
		[]string{"event", "status"},
	)
)

// InitMetrics registers the collectors with the default registry.
func InitMetrics() {
	prometheus.MustRegister(AttachedConnections, CommandsTotal)
}

// ServeMetrics exposes /metrics on its own listener.
func ServeMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Str("module", "metrics").Msg("metrics server stopped")
		}
	}()
}
