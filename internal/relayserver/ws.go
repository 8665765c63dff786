package relayserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/artpar/wallet-relay/internal/protocol"
	"github.com/artpar/wallet-relay/internal/session"
)

func marshalFrame(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

const writeMailboxSize = 16

// wsConn adapts a *websocket.Conn to session.Conn, serializing every write
// (relay-originated frames and forwarded frames alike) through a single
// mailbox goroutine, per spec.md §9's single-writer-per-socket rule.
type wsConn struct {
	conn      *websocket.Conn
	outbox    chan outboundFrame
	done      chan struct{}
	closeOnce sync.Once
}

type outboundFrame struct {
	raw       []byte
	closeCode int
	closeMsg  string
	isClose   bool
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{
		conn:   conn,
		outbox: make(chan outboundFrame, writeMailboxSize),
		done:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *wsConn) writeLoop() {
	defer c.conn.Close()
	for {
		select {
		case frame := <-c.outbox:
			if frame.isClose {
				msg := websocket.FormatCloseMessage(frame.closeCode, frame.closeMsg)
				_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
				c.markDone()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame.raw); err != nil {
				c.markDone()
				return
			}
		case <-c.done:
			return
		}
	}
}

// markDone signals that no further writes will succeed; safe to call more
// than once (explicit close, write error, and the read loop's teardown can
// all race to call it).
func (c *wsConn) markDone() {
	c.closeOnce.Do(func() { close(c.done) })
}

// shutdown tells the write loop to stop once the read loop has ended,
// without sending a close frame — the socket is already gone by then.
func (c *wsConn) shutdown() {
	c.markDone()
}

func (c *wsConn) WriteJSON(v interface{}) error {
	data, err := marshalFrame(v)
	if err != nil {
		return err
	}
	return c.WriteRaw(data)
}

func (c *wsConn) WriteRaw(data []byte) error {
	select {
	case c.outbox <- outboundFrame{raw: data}:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	}
}

func (c *wsConn) Close(code int, reason string) error {
	select {
	case c.outbox <- outboundFrame{isClose: true, closeCode: code, closeMsg: reason}:
	case <-c.done:
	}
	return nil
}

// handleWebSocket implements GET /ws?session=<id>&role=<dapp|mobile>[&k=<secret>]
// (spec.md §4.5): handshake validation, registration, ready/dapp_reconnected
// notifications, per-frame forwarding, and close-time teardown.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session")
	role := q.Get("role")

	if sessionID == "" || role == "" {
		writeError(w, http.StatusBadRequest, "session and role are required")
		return
	}
	if role != protocol.RoleDApp && role != protocol.RoleMobile {
		writeError(w, http.StatusBadRequest, "role must be dapp or mobile")
		return
	}
	if _, ok := s.store.Get(sessionID); !ok {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if role == protocol.RoleMobile {
		secret := q.Get("k")
		if secret == "" || !s.store.VerifySecret(sessionID, secret) {
			writeError(w, http.StatusForbidden, "invalid secret")
			return
		}
		if s.store.IsMobileLocked(sessionID) {
			writeError(w, http.StatusConflict, "Mobile already connected")
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	wsc := newWSConn(conn)

	storeRole := session.Role(role)
	_, mobileWasAttached, ok := s.store.RegisterConnection(sessionID, storeRole, wsc)
	if !ok {
		_ = wsc.Close(session.CloseLockConflict, "Session not found or already locked")
		return
	}
	if s.metrics != nil {
		s.metrics.WebsocketConnections.WithLabelValues(role).Inc()
	}

	_ = wsc.WriteJSON(protocol.NewReady())

	if storeRole == session.RoleDApp && mobileWasAttached {
		if peer, ok := s.store.GetPeer(sessionID, storeRole); ok {
			_ = peer.WriteJSON(protocol.NewDappReconnected())
		}
	}

	s.readLoop(wsc, sessionID, storeRole)
}

// readLoop serializes one connection's inbound frames (spec.md §5: message
// handling is serialized per connection) and forwards each verbatim to the
// opposite-role peer.
func (s *Server) readLoop(wsc *wsConn, sessionID string, role session.Role) {
	defer wsc.shutdown()
	defer s.onDisconnect(sessionID, role)

	for {
		_, data, err := wsc.conn.ReadMessage()
		if err != nil {
			return
		}
		s.forward(sessionID, role, data, wsc)
	}
}

// forward relays a frame verbatim to the opposite-role peer, or reports
// -32000 back to the sender (via self) if no peer is attached (spec.md
// §4.5).
func (s *Server) forward(sessionID string, role session.Role, data []byte, self session.Conn) {
	peer, ok := s.store.GetPeer(sessionID, role)
	if !ok {
		_ = self.WriteJSON(protocol.NewPeerNotConnectedError())
		if s.metrics != nil {
			s.metrics.ForwardErrors.Inc()
		}
		return
	}
	if err := peer.WriteRaw(data); err != nil {
		s.log.Debug("forward failed", zap.String("session", sessionID), zap.Error(err))
		return
	}
	if s.metrics != nil {
		s.metrics.FramesForwarded.Inc()
	}
}

// onDisconnect implements the WS close sequence (spec.md §4.5): detach the
// connection from the session, then notify the surviving peer.
func (s *Server) onDisconnect(sessionID string, role session.Role) {
	peer := s.store.UnregisterConnection(sessionID, role)
	if peer != nil {
		_ = peer.WriteJSON(protocol.NewPeerDisconnected())
	}
}
