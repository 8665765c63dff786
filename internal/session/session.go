// Package session implements the relay's session store (spec.md §3/§4.3):
// an in-memory mapping from session id to session record, pairing exactly
// one DApp and one Mobile connection, with a background expiration
// sweeper and a process-wide capacity cap. Grounded on the teacher's
// internal/signaling/relayserver.RelayServer session map, generalized from
// SDP offer/answer exchange to opaque-frame pairing with the reconnect and
// locking semantics spec.md adds.
package session

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/artpar/wallet-relay/internal/idgen"
	"github.com/artpar/wallet-relay/internal/logging"
	"github.com/artpar/wallet-relay/internal/protocol"
)

// Status values for a Session.
type Status string

const (
	StatusPending      Status = "pending"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Role identifies which side of a pairing a connection plays.
type Role string

const (
	RoleDApp   Role = protocol.RoleDApp
	RoleMobile Role = protocol.RoleMobile
)

// Close codes used when the relay tears down a connection: the store's
// expiry sweep uses CloseExpired, the WS surface uses CloseLockConflict,
// and process shutdown passes CloseGoingAway to CloseAll.
const (
	CloseExpired      = 1000
	CloseLockConflict = 1008
	CloseGoingAway    = 1001
)

// Sentinel errors for Store failures, checked with errors.Is. Only
// ErrAtCapacity is returned today (by Create); RegisterConnection and the
// other operations report failure through their ok results instead of
// ErrNotFound, ErrTerminated or ErrMobileLocked.
var (
	ErrNotFound     = errors.New("session: not found")
	ErrTerminated   = errors.New("session: terminated")
	ErrMobileLocked = errors.New("session: mobile already attached")
	ErrAtCapacity   = errors.New("session: at capacity")
)

// Conn is the borrowed connection handle the store routes frames through.
// The WebSocket surface supplies the concrete implementation; the store
// itself only ever calls Close (when expiring sessions and in CloseAll),
// and never holds its lock while doing so.
type Conn interface {
	WriteJSON(v interface{}) error
	WriteRaw(data []byte) error
	Close(code int, reason string) error
}

// Metadata is the opaque, advisory DApp-supplied display info (spec.md §3).
type Metadata struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Icon string `json:"icon,omitempty"`
}

// Session is one pairing record. All fields are mutated only through Store
// methods, under the Store's single lock.
type Session struct {
	ID           string
	Secret       string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Status       Status
	DApp         Conn
	Mobile       Conn
	MobileLocked bool
	Metadata     *Metadata
	Terminated   bool
	LastActivity time.Time
}

// Config parameterizes Store lifetimes and capacity (spec.md §3/§5).
type Config struct {
	MaxSessions   int
	PendingTTL    time.Duration
	ConnectedTTL  time.Duration
	SweepInterval time.Duration
}

// DefaultConfig mirrors the spec's literal defaults.
func DefaultConfig() Config {
	return Config{
		MaxSessions:   10000,
		PendingTTL:    5 * time.Minute,
		ConnectedTTL:  24 * time.Hour,
		SweepInterval: 60 * time.Second,
	}
}

// Stats is the response shape for stats()/GET /metrics (spec.md §4.3/§4.4).
type Stats struct {
	TotalSessions     int           `json:"totalSessions"`
	PendingSessions   int           `json:"pendingSessions"`
	ConnectedSessions int           `json:"connectedSessions"`
	MaxSessions       int           `json:"maxSessions"`
	Uptime            time.Duration `json:"uptime"`
}

// Store is the process-wide session map. All exported methods are atomic
// with respect to one another (spec.md §5): a single mutex guards the map
// and every Session's fields; connection I/O always happens after the lock
// is released.
type Store struct {
	cfg       Config
	log       *logging.Logger
	startedAt time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Store and starts its background sweeper.
func New(cfg Config, log *logging.Logger) *Store {
	if log == nil {
		log = logging.NewNop()
	}
	s := &Store{
		cfg:       cfg,
		log:       log,
		startedAt: time.Now(),
		sessions:  make(map[string]*Session),
		stopCh:    make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Stop halts the background sweeper. It does not close any connections.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// IsAtCapacity reports whether the store holds MaxSessions sessions already.
func (s *Store) IsAtCapacity() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions) >= s.cfg.MaxSessions
}

// Create allocates a new pending session with a unique id and a fresh
// secret. Callers must check IsAtCapacity first; Create itself re-checks
// under lock and returns ErrAtCapacity on a lost race.
func (s *Store) Create(meta *Metadata) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) >= s.cfg.MaxSessions {
		return nil, ErrAtCapacity
	}

	id, err := idgen.NewID(func(id string) bool {
		_, exists := s.sessions[id]
		return exists
	})
	if err != nil {
		return nil, err
	}
	secret, err := idgen.NewSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &Session{
		ID:           id,
		Secret:       secret,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.PendingTTL),
		Status:       StatusPending,
		Metadata:     meta,
		LastActivity: now,
	}
	s.sessions[id] = sess
	return sess, nil
}

// snapshot returns a value copy of a session for safe reading outside the
// lock (connection handles are interfaces, copied by reference, which is
// fine: callers only read/write through them, never mutate session state
// via them).
func snapshot(sess *Session) Session {
	return *sess
}

// Get returns a point-in-time copy of the session, or false if unknown.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return snapshot(sess), true
}

// Delete removes a session without closing its connections. The sweeper
// (CleanupExpired) removes expired records directly rather than through
// Delete.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// VerifySecret reports whether s matches the session's secret. Unknown ids
// report false.
func (s *Store) VerifySecret(id, secret string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	return constantTimeEqual(sess.Secret, secret)
}

// IsMobileLocked reports the session's mobileLocked flag; false for
// unknown ids.
func (s *Store) IsMobileLocked(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	return sess.MobileLocked
}

// RegisterConnection attaches conn to session id under role. It fails
// (returns false) when the session is unknown, terminated, or when role is
// mobile and another Mobile is already locked in. On success it returns
// the updated session snapshot and whether a Mobile peer was already
// attached before this call (used by the WS surface to decide whether to
// emit dapp_reconnected).
func (s *Store) RegisterConnection(id string, role Role, conn Conn) (sess Session, mobileWasAttached bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.sessions[id]
	if !exists || rec.Terminated {
		return Session{}, false, false
	}
	if role == RoleMobile && rec.MobileLocked && rec.Mobile != nil {
		return Session{}, false, false
	}

	mobileWasAttached = rec.Mobile != nil

	switch role {
	case RoleDApp:
		rec.DApp = conn
	case RoleMobile:
		rec.Mobile = conn
		rec.MobileLocked = true
	}

	now := time.Now()
	rec.LastActivity = now
	if rec.DApp != nil && rec.Mobile != nil {
		rec.Status = StatusConnected
		rec.ExpiresAt = now.Add(s.cfg.ConnectedTTL)
	}

	return snapshot(rec), mobileWasAttached, true
}

// UnregisterConnection clears the role's slot. It is a no-op for unknown
// sessions. Returns the peer's connection handle (if any) so the WS
// surface can notify it after releasing the lock.
func (s *Store) UnregisterConnection(id string, role Role) (peer Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.sessions[id]
	if !exists {
		return nil
	}

	switch role {
	case RoleDApp:
		rec.DApp = nil
		peer = rec.Mobile
	case RoleMobile:
		rec.Mobile = nil
		rec.MobileLocked = false
		peer = rec.DApp
	}
	rec.Status = StatusDisconnected
	rec.LastActivity = time.Now()
	return peer
}

// TerminateSession marks a session terminated and returns the connections
// that were attached, for the caller to close after releasing the lock.
func (s *Store) TerminateSession(id string) (dapp, mobile Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.sessions[id]
	if !exists {
		return nil, nil
	}
	rec.Terminated = true
	rec.Status = StatusDisconnected
	dapp, mobile = rec.DApp, rec.Mobile
	return dapp, mobile
}

// GetPeer returns the opposite-role attachment for id, if any.
func (s *Store) GetPeer(id string, myRole Role) (Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, exists := s.sessions[id]
	if !exists {
		return nil, false
	}
	var peer Conn
	if myRole == RoleDApp {
		peer = rec.Mobile
	} else {
		peer = rec.DApp
	}
	if peer == nil {
		return nil, false
	}
	return peer, true
}

// expiredClose pairs a connection with the close args to apply to it,
// collected under lock and executed after release.
type expiredClose struct {
	conn   Conn
	code   int
	reason string
}

// CleanupExpired removes every session past its ExpiresAt, closing any
// attached connections with a normal-closure code and "Session expired".
func (s *Store) CleanupExpired() {
	now := time.Now()
	var toClose []expiredClose

	s.mu.Lock()
	for id, rec := range s.sessions {
		if now.After(rec.ExpiresAt) {
			if rec.DApp != nil {
				toClose = append(toClose, expiredClose{rec.DApp, CloseExpired, "Session expired"})
			}
			if rec.Mobile != nil {
				toClose = append(toClose, expiredClose{rec.Mobile, CloseExpired, "Session expired"})
			}
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, c := range toClose {
		if err := c.conn.Close(c.code, c.reason); err != nil {
			s.log.Debug("cleanup: close attached connection", zap.Error(err))
		}
	}
}

// CloseAll closes every currently attached connection with the given close
// code and reason, without removing the session records. Used at process
// shutdown (spec.md §4.6), which closes with code 1001.
func (s *Store) CloseAll(code int, reason string) {
	var toClose []Conn

	s.mu.RLock()
	for _, rec := range s.sessions {
		if rec.DApp != nil {
			toClose = append(toClose, rec.DApp)
		}
		if rec.Mobile != nil {
			toClose = append(toClose, rec.Mobile)
		}
	}
	s.mu.RUnlock()

	for _, conn := range toClose {
		_ = conn.Close(code, reason)
	}
}

// Stats returns aggregate counts for GET /health and GET /metrics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		MaxSessions: s.cfg.MaxSessions,
		Uptime:      time.Since(s.startedAt),
	}
	for _, rec := range s.sessions {
		stats.TotalSessions++
		switch rec.Status {
		case StatusPending:
			stats.PendingSessions++
		case StatusConnected:
			stats.ConnectedSessions++
		}
	}
	return stats
}

func (s *Store) sweepLoop() {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CleanupExpired()
		case <-s.stopCh:
			return
		}
	}
}

// constantTimeEqual compares two equal-length strings in constant time to
// avoid leaking secret content via timing (spec.md §4.3's "constant
// equality check"). Strings of different length return false at once, so
// the length check itself is not constant-time.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
