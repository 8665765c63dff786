package relayserver

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/artpar/wallet-relay/internal/config"
	"github.com/artpar/wallet-relay/internal/logging"
	"github.com/artpar/wallet-relay/internal/metrics"
	"github.com/artpar/wallet-relay/internal/ratelimit"
	"github.com/artpar/wallet-relay/internal/session"
	"github.com/artpar/wallet-relay/internal/web"
)

// newTestServer builds a Server with one-hour TTLs and a rate limit of 10
// session creations per minute (the count TestRateLimitRejectsAfterTenRequests
// relies on), wired to an httptest.Server, and registers cleanup for its
// background goroutines.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	store := session.New(session.Config{
		MaxSessions:   100,
		PendingTTL:    time.Hour,
		ConnectedTTL:  time.Hour,
		SweepInterval: time.Hour,
	}, logging.NewNop())
	t.Cleanup(store.Stop)

	limiter := ratelimit.New(ratelimit.Config{
		WindowMs:      60_000,
		MaxRequests:   10,
		SweepInterval: time.Hour,
	})
	t.Cleanup(limiter.Stop)

	reg := metrics.New()
	renderer := web.New(t.TempDir(), logging.NewNop())

	srv := New(config.Config{}, logging.NewNop(), store, limiter, reg, renderer)
	httpSrv := httptest.NewServer(srv.Router())
	t.Cleanup(httpSrv.Close)

	return srv, httpSrv
}
