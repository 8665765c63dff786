package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu        sync.Mutex
	written   []interface{}
	closed    bool
	closeCode int
	closeMsg  string
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, v)
	return nil
}

func (f *fakeConn) WriteRaw(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, string(data))
	return nil
}

func (f *fakeConn) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closeCode = code
	f.closeMsg = reason
	return nil
}

func testConfig() Config {
	return Config{
		MaxSessions:   10,
		PendingTTL:    50 * time.Millisecond,
		ConnectedTTL:  time.Hour,
		SweepInterval: time.Hour,
	}
}

func TestCreateProducesPendingSession(t *testing.T) {
	s := New(testConfig(), nil)
	defer s.Stop()

	sess, err := s.Create(&Metadata{Name: "demo"})
	require.NoError(t, err)
	require.Equal(t, StatusPending, sess.Status)
	require.NotEmpty(t, sess.ID)
	require.NotEmpty(t, sess.Secret)

	got, ok := s.Get(sess.ID)
	require.True(t, ok)
	require.Equal(t, sess.ID, got.ID)
}

func TestCreateFailsAtCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 1
	s := New(cfg, nil)
	defer s.Stop()

	_, err := s.Create(nil)
	require.NoError(t, err)
	require.True(t, s.IsAtCapacity())

	_, err = s.Create(nil)
	require.ErrorIs(t, err, ErrAtCapacity)
}

func TestVerifySecretRejectsWrongOrUnknown(t *testing.T) {
	s := New(testConfig(), nil)
	defer s.Stop()

	sess, _ := s.Create(nil)
	require.True(t, s.VerifySecret(sess.ID, sess.Secret))
	require.False(t, s.VerifySecret(sess.ID, "wrong-secret"))
	require.False(t, s.VerifySecret("no-such-id", sess.Secret))
}

func TestRegisterConnectionPairsDappAndMobile(t *testing.T) {
	s := New(testConfig(), nil)
	defer s.Stop()

	sess, _ := s.Create(nil)
	dapp := &fakeConn{}
	mobile := &fakeConn{}

	got, wasAttached, ok := s.RegisterConnection(sess.ID, RoleDApp, dapp)
	require.True(t, ok)
	require.False(t, wasAttached)
	require.Equal(t, StatusPending, got.Status)

	got, wasAttached, ok = s.RegisterConnection(sess.ID, RoleMobile, mobile)
	require.True(t, ok)
	require.False(t, wasAttached)
	require.Equal(t, StatusConnected, got.Status)
	require.True(t, s.IsMobileLocked(sess.ID))
}

func TestRegisterConnectionRejectsSecondMobile(t *testing.T) {
	s := New(testConfig(), nil)
	defer s.Stop()

	sess, _ := s.Create(nil)
	_, _, ok := s.RegisterConnection(sess.ID, RoleMobile, &fakeConn{})
	require.True(t, ok)

	_, _, ok = s.RegisterConnection(sess.ID, RoleMobile, &fakeConn{})
	require.False(t, ok, "a second mobile connection must be refused while the first is locked in")
}

func TestRegisterConnectionReportsDappReconnect(t *testing.T) {
	s := New(testConfig(), nil)
	defer s.Stop()

	sess, _ := s.Create(nil)
	_, _, _ = s.RegisterConnection(sess.ID, RoleMobile, &fakeConn{})

	_, wasAttached, ok := s.RegisterConnection(sess.ID, RoleDApp, &fakeConn{})
	require.True(t, ok)
	require.True(t, wasAttached, "mobile was already attached before this dapp registration")
}

func TestUnregisterConnectionReturnsPeer(t *testing.T) {
	s := New(testConfig(), nil)
	defer s.Stop()

	sess, _ := s.Create(nil)
	dapp := &fakeConn{}
	mobile := &fakeConn{}
	s.RegisterConnection(sess.ID, RoleDApp, dapp)
	s.RegisterConnection(sess.ID, RoleMobile, mobile)

	peer := s.UnregisterConnection(sess.ID, RoleMobile)
	require.Equal(t, dapp, peer)
	require.False(t, s.IsMobileLocked(sess.ID))
}

func TestGetPeerFindsOppositeRole(t *testing.T) {
	s := New(testConfig(), nil)
	defer s.Stop()

	sess, _ := s.Create(nil)
	mobile := &fakeConn{}
	s.RegisterConnection(sess.ID, RoleMobile, mobile)

	_, ok := s.GetPeer(sess.ID, RoleMobile)
	require.False(t, ok, "mobile has no dapp peer registered yet")

	dapp := &fakeConn{}
	s.RegisterConnection(sess.ID, RoleDApp, dapp)

	peer, ok := s.GetPeer(sess.ID, RoleMobile)
	require.True(t, ok)
	require.Equal(t, dapp, peer)

	peer, ok = s.GetPeer(sess.ID, RoleDApp)
	require.True(t, ok)
	require.Equal(t, mobile, peer)
}

func TestTerminateSessionReturnsBothConnections(t *testing.T) {
	s := New(testConfig(), nil)
	defer s.Stop()

	sess, _ := s.Create(nil)
	dapp := &fakeConn{}
	mobile := &fakeConn{}
	s.RegisterConnection(sess.ID, RoleDApp, dapp)
	s.RegisterConnection(sess.ID, RoleMobile, mobile)

	gotDapp, gotMobile := s.TerminateSession(sess.ID)
	require.Equal(t, dapp, gotDapp)
	require.Equal(t, mobile, gotMobile)

	_, _, ok := s.RegisterConnection(sess.ID, RoleDApp, &fakeConn{})
	require.False(t, ok, "a terminated session must refuse further registration")
}

func TestCleanupExpiredClosesConnectionsAndRemovesSession(t *testing.T) {
	cfg := testConfig()
	cfg.PendingTTL = time.Millisecond
	s := New(cfg, nil)
	defer s.Stop()

	sess, _ := s.Create(nil)
	dapp := &fakeConn{}
	s.RegisterConnection(sess.ID, RoleDApp, dapp)

	time.Sleep(10 * time.Millisecond)
	s.CleanupExpired()

	_, ok := s.Get(sess.ID)
	require.False(t, ok)

	dapp.mu.Lock()
	defer dapp.mu.Unlock()
	require.True(t, dapp.closed)
	require.Equal(t, CloseExpired, dapp.closeCode)
}

func TestStatsCountsByStatus(t *testing.T) {
	s := New(testConfig(), nil)
	defer s.Stop()

	pending, _ := s.Create(nil)
	connected, _ := s.Create(nil)
	s.RegisterConnection(connected.ID, RoleDApp, &fakeConn{})
	s.RegisterConnection(connected.ID, RoleMobile, &fakeConn{})

	stats := s.Stats()
	require.Equal(t, 2, stats.TotalSessions)
	require.Equal(t, 1, stats.PendingSessions)
	require.Equal(t, 1, stats.ConnectedSessions)
	require.Equal(t, 10, stats.MaxSessions)
	_ = pending
}
