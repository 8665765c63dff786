package relayserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func wsURL(httpURL, sessionID, role, secret string) string {
	u := "ws" + strings.TrimPrefix(httpURL, "http") + "/ws?session=" + sessionID + "&role=" + role
	if secret != "" {
		u += "&k=" + secret
	}
	return u
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		if resp != nil {
			t.Fatalf("dial %s: %v (status %d)", url, err, resp.StatusCode)
		}
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func createTestSession(t *testing.T, httpSrv string) (id, secret string) {
	t.Helper()
	_, created := postSession(t, httpSrv, nil)

	// Extract the secret from the short-link URL's k query parameter.
	idx := strings.Index(created.URL, "?k=")
	require.GreaterOrEqual(t, idx, 0)
	return created.ID, created.URL[idx+3:]
}

func TestHappyPathTransaction(t *testing.T) {
	_, httpSrv := newTestServer(t)
	id, secret := createTestSession(t, httpSrv.URL)

	dapp := dial(t, wsURL(httpSrv.URL, id, "dapp", ""))
	require.Equal(t, "ready", readFrame(t, dapp)["type"])

	mobile := dial(t, wsURL(httpSrv.URL, id, "mobile", secret))
	require.Equal(t, "ready", readFrame(t, mobile)["type"])

	connectFrame := `{"type":"connect","address":"0xabc","chainId":1}`
	require.NoError(t, mobile.WriteMessage(websocket.TextMessage, []byte(connectFrame)))
	_, got, err := dapp.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, connectFrame, string(got))

	requestFrame := `{"type":"request","id":1,"method":"eth_sendTransaction","params":[{}]}`
	require.NoError(t, dapp.WriteMessage(websocket.TextMessage, []byte(requestFrame)))
	_, got, err = mobile.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, requestFrame, string(got))

	responseFrame := `{"type":"response","id":1,"result":"0xhash"}`
	require.NoError(t, mobile.WriteMessage(websocket.TextMessage, []byte(responseFrame)))
	_, got, err = dapp.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, responseFrame, string(got))
}

func TestMobileLockRejectsSecondAttach(t *testing.T) {
	_, httpSrv := newTestServer(t)
	id, secret := createTestSession(t, httpSrv.URL)
	dial(t, wsURL(httpSrv.URL, id, "mobile", secret))

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(httpSrv.URL, id, "mobile", secret), nil)
	require.Error(t, err)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestBadSecretRejected(t *testing.T) {
	_, httpSrv := newTestServer(t)
	id, _ := createTestSession(t, httpSrv.URL)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(httpSrv.URL, id, "mobile", "WRONGSECRETWRONGSECR"), nil)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPeerAbsentReturnsErrorFrame(t *testing.T) {
	_, httpSrv := newTestServer(t)
	id, _ := createTestSession(t, httpSrv.URL)

	dapp := dial(t, wsURL(httpSrv.URL, id, "dapp", ""))
	readFrame(t, dapp) // ready

	require.NoError(t, dapp.WriteMessage(websocket.TextMessage, []byte(`{"type":"request","id":1,"method":"eth_accounts"}`)))
	frame := readFrame(t, dapp)
	require.Equal(t, "error", frame["type"])
	require.EqualValues(t, -32000, frame["code"])
	require.Equal(t, "Peer not connected", frame["message"])
}

func TestDappReconnectNotifiesMobile(t *testing.T) {
	_, httpSrv := newTestServer(t)
	id, secret := createTestSession(t, httpSrv.URL)

	dapp := dial(t, wsURL(httpSrv.URL, id, "dapp", ""))
	readFrame(t, dapp)
	mobile := dial(t, wsURL(httpSrv.URL, id, "mobile", secret))
	readFrame(t, mobile)

	dapp.Close()
	disconnect := readFrame(t, mobile)
	require.Equal(t, "disconnect", disconnect["type"])
	require.Equal(t, "Peer disconnected", disconnect["reason"])

	dapp2 := dial(t, wsURL(httpSrv.URL, id, "dapp", ""))
	require.Equal(t, "ready", readFrame(t, dapp2)["type"])

	reconnected := readFrame(t, mobile)
	require.Equal(t, "dapp_reconnected", reconnected["type"])
}

func TestMissingSessionOrRoleReturns400(t *testing.T) {
	_, httpSrv := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpSrv.URL, "http")+"/ws?session=AAAA", nil)
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownRoleReturns400(t *testing.T) {
	_, httpSrv := newTestServer(t)
	id, _ := createTestSession(t, httpSrv.URL)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(httpSrv.URL, id, "admin", ""), nil)
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnknownSessionReturns404(t *testing.T) {
	_, httpSrv := newTestServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(httpSrv.URL, "ZZZZ", "dapp", ""), nil)
	require.Error(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
