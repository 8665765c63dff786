// Package metrics exposes the relay's operational counters as Prometheus
// series (SPEC_FULL.md §4.8, additive to the teacher's spec: the wire
// spec's own GET /metrics returns plain JSON via internal/session.Stats,
// this package backs a separate GET /metrics/prom for scrape-based
// monitoring). Grounded on the go-coffee stack's prometheus/client_golang
// usage, adapted to this relay's own event set.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every counter the relay increments, each registered
// against its own prometheus.Registry so tests can construct isolated
// instances without touching the global default registry.
// SessionsExpired is registered, but the session store's sweeper has no
// reference to the Registry and nothing increments it, so it stays 0.
type Registry struct {
	reg *prometheus.Registry

	SessionsCreated      prometheus.Counter
	SessionsExpired      prometheus.Counter
	RateLimitRejections  prometheus.Counter
	WebsocketConnections *prometheus.CounterVec
	FramesForwarded      prometheus.Counter
	ForwardErrors        prometheus.Counter
}

// New builds a Registry with all series registered and zeroed.
func New() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		reg: reg,
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_created_total",
			Help: "Total number of pairing sessions created.",
		}),
		SessionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_expired_total",
			Help: "Total number of sessions removed by the expiration sweeper.",
		}),
		RateLimitRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_rate_limit_rejections_total",
			Help: "Total number of session-creation requests rejected by the rate limiter.",
		}),
		WebsocketConnections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_websocket_connections_total",
			Help: "Total number of WebSocket connections registered, by role.",
		}, []string{"role"}),
		FramesForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_frames_forwarded_total",
			Help: "Total number of frames forwarded from one peer to the other.",
		}),
		ForwardErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_forward_errors_total",
			Help: "Total number of forward attempts that failed because no peer was attached.",
		}),
	}
	return r
}

// Registerer exposes the underlying prometheus.Registry for wiring into
// promhttp.HandlerFor.
func (r *Registry) Registerer() *prometheus.Registry {
	return r.reg
}
