package relayserver

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/artpar/wallet-relay/internal/session"
	"github.com/artpar/wallet-relay/internal/web"
)

// createSessionRequest is the optional body accepted by POST /session; it
// is only honored when both name and url are present (spec.md §4.4).
type createSessionRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Icon string `json:"icon,omitempty"`
}

type createSessionResponse struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expiresAt"`
}

type getSessionResponse struct {
	ID        string            `json:"id"`
	Status    session.Status    `json:"status"`
	Metadata  *session.Metadata `json:"metadata,omitempty"`
	ExpiresAt int64             `json:"expiresAt"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleCreateSession implements POST /session. Admission order is
// capacity, then rate limit, then body parse, exactly as spec.md §4.4
// specifies.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.store.IsAtCapacity() {
		writeError(w, http.StatusServiceUnavailable, "Server at capacity")
		return
	}

	ip := clientIP(r)
	if !s.limiter.Check(ip) {
		remaining, resetAt := s.limiter.Info(ip)
		retryAfter := int(math.Ceil(time.Until(resetAt).Seconds()))
		if retryAfter < 0 {
			retryAfter = 0
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		if s.metrics != nil {
			s.metrics.RateLimitRejections.Inc()
		}
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	var meta *session.Metadata
	if r.Body != nil {
		var body createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			if body.Name != "" && body.URL != "" {
				meta = &session.Metadata{Name: body.Name, URL: body.URL, Icon: body.Icon}
			}
		}
	}

	sess, err := s.store.Create(meta)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Server at capacity")
		return
	}
	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
	}

	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		proto = "http"
	}
	url := fmt.Sprintf("%s://%s/s/%s?k=%s", proto, r.Host, sess.ID, sess.Secret)

	writeJSON(w, http.StatusOK, createSessionResponse{
		ID:        sess.ID,
		URL:       url,
		ExpiresAt: sess.ExpiresAt.UnixMilli(),
	})
}

// handleGetSession implements GET /session/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, ok := s.store.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if sess.Terminated {
		writeError(w, http.StatusGone, "Session terminated")
		return
	}
	writeJSON(w, http.StatusOK, getSessionResponse{
		ID:        sess.ID,
		Status:    sess.Status,
		Metadata:  sess.Metadata,
		ExpiresAt: sess.ExpiresAt.UnixMilli(),
	})
}

// handleShortLink implements GET /s/{id} — the wallet-side landing page.
// It never redirects, so a wallet embedding it in an iframe keeps the
// query string (spec.md §4.4).
func (s *Server) handleShortLink(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.store.Get(id); !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := struct{ ID, Key string }{ID: id, Key: r.URL.Query().Get("k")}
	if err := s.web.Render(w, "session", data); err != nil {
		s.log.Error("render session page", zap.Error(err))
	}
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, "landing", nil)
}

func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session query parameter required")
		return
	}
	s.renderPage(w, "bridge", struct{ Session string }{Session: sessionID})
}

func (s *Server) handleDemo(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, "demo", nil)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, "index", nil)
}

func (s *Server) renderPage(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.web.Render(w, name, data); err != nil {
		s.log.Error("render page", zap.String("page", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "render error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"uptime":   stats.Uptime.Seconds(),
		"sessions": stats.TotalSessions,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats())
}

type manifestResponse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IconPath    string `json:"iconPath"`
}

// handleManifest backs GET /manifest.json and its path variants — a
// compatibility affordance for wallets that sandbox the relay as an
// iframe app (spec.md §4.4).
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	proto := r.Header.Get("X-Forwarded-Proto")
	if proto == "" {
		proto = "http"
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, http.StatusOK, manifestResponse{
		Name:        "Wallet Relay",
		Description: "Remote-signer pairing relay",
		IconPath:    fmt.Sprintf("%s://%s/logo.svg", proto, r.Host),
	})
}

// handleLogo serves the embedded brand logo with permissive CORS and a
// 1-day cache (spec.md §4.4).
func (s *Server) handleLogo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(web.Logo())
}
