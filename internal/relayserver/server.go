// Package relayserver implements the relay's HTTP and WebSocket surface
// (spec.md §4.4/§4.5): session admission, the short-link landing page, and
// peer-to-peer frame forwarding. Grounded on the teacher's
// internal/signaling/relayserver.RelayServer, regeneralized from SDP
// offer/answer exchange to opaque-frame pairing and routed through
// gorilla/mux instead of a bare http.ServeMux.
package relayserver

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/artpar/wallet-relay/internal/config"
	"github.com/artpar/wallet-relay/internal/logging"
	"github.com/artpar/wallet-relay/internal/metrics"
	"github.com/artpar/wallet-relay/internal/ratelimit"
	"github.com/artpar/wallet-relay/internal/session"
	"github.com/artpar/wallet-relay/internal/web"
)

// Server wires the session store, rate limiter, metrics and web renderer
// into one HTTP+WS handler. Uptime and session counts are tracked by the
// store itself (session.Stats), not duplicated here.
type Server struct {
	log      *logging.Logger
	store    *session.Store
	limiter  *ratelimit.Limiter
	metrics  *metrics.Registry
	web      *web.Renderer
	upgrader websocket.Upgrader
}

// New builds a Server. store and limiter must already be running (their
// background sweepers are started by their own constructors). cfg is
// accepted for parity with the rest of the ambient stack's constructors
// but the relay's HTTP/WS handling reads its knobs (port, host, TTLs,
// rate limits) upstream, at store/limiter construction time.
func New(cfg config.Config, log *logging.Logger, store *session.Store, limiter *ratelimit.Limiter, reg *metrics.Registry, renderer *web.Renderer) *Server {
	if log == nil {
		log = logging.NewNop()
	}
	return &Server{
		log:     log,
		store:   store,
		limiter: limiter,
		metrics: reg,
		web:     renderer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the full mux.Router, with CORS and request logging applied
// to every route.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/session", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/session/{id}", s.handleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/s/{id}", s.handleShortLink).Methods(http.MethodGet)
	r.HandleFunc("/s/{id}/manifest.json", s.handleManifest).Methods(http.MethodGet)
	r.HandleFunc("/demo/manifest.json", s.handleManifest).Methods(http.MethodGet)
	r.HandleFunc("/bridge/manifest.json", s.handleManifest).Methods(http.MethodGet)
	r.HandleFunc("/landing/manifest.json", s.handleManifest).Methods(http.MethodGet)
	r.HandleFunc("/manifest.json", s.handleManifest).Methods(http.MethodGet)
	r.HandleFunc("/landing", s.handleLanding).Methods(http.MethodGet)
	r.HandleFunc("/bridge", s.handleBridge).Methods(http.MethodGet)
	r.HandleFunc("/demo", s.handleDemo).Methods(http.MethodGet)
	r.HandleFunc("/logo.svg", s.handleLogo).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.Handle("/metrics/prom", promhttp.HandlerFor(s.metrics.Registerer(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})

	return s.loggingMiddleware(corsMiddleware.Handler(r))
}

// loggingMiddleware records method/path/status/latency per request, the
// way go-coffee's web3-wallet-backend LoggerMiddleware does.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Debug("http request",
			zap.String("requestId", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
