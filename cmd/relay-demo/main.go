// Command relay-demo plays both the DApp and Mobile roles against a
// running relay over real WebSocket connections, for manually exercising
// the pairing and forwarding flow without a browser or phone. Grounded on
// the teacher's cmd/terminal-tunnel QR display (skip2/go-qrcode), pointed
// at the relay's own short-link URL instead of a terminal-tunnel pairing
// code.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var relayURL string

var rootCmd = &cobra.Command{
	Use:   "relay-demo",
	Short: "Exercise a running wallet relay as both DApp and Mobile",
	RunE:  runDemo,
}

func init() {
	rootCmd.Flags().StringVarP(&relayURL, "relay", "r", "http://localhost:3700", "base URL of the running relay")
}

type createSessionResponse struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expiresAt"`
}

func runDemo(cmd *cobra.Command, args []string) error {
	sess, err := createSession()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	fmt.Printf("session %s created, expires %s\n\n", sess.ID, time.UnixMilli(sess.ExpiresAt))

	qr, err := qrcode.New(sess.URL, qrcode.Low)
	if err == nil {
		fmt.Print(qr.ToSmallString(false))
	}
	fmt.Printf("\n  %s\n\n", sess.URL)

	secret := secretFromURL(sess.URL)

	dappURL := wsBase(relayURL) + "/ws?session=" + sess.ID + "&role=dapp"
	dapp, _, err := websocket.DefaultDialer.Dial(dappURL, nil)
	if err != nil {
		return fmt.Errorf("dapp dial: %w", err)
	}
	defer dapp.Close()
	fmt.Printf("[dapp] %s\n", mustRead(dapp))

	mobileURL := wsBase(relayURL) + "/ws?session=" + sess.ID + "&role=mobile&k=" + secret
	mobile, _, err := websocket.DefaultDialer.Dial(mobileURL, nil)
	if err != nil {
		return fmt.Errorf("mobile dial: %w", err)
	}
	defer mobile.Close()
	fmt.Printf("[mobile] %s\n", mustRead(mobile))

	connectFrame := `{"type":"connect","address":"0xDemoWallet","chainId":1}`
	_ = mobile.WriteMessage(websocket.TextMessage, []byte(connectFrame))
	fmt.Printf("[dapp] received: %s\n", mustRead(dapp))

	requestFrame := `{"type":"request","id":1,"method":"eth_sendTransaction","params":[{}]}`
	_ = dapp.WriteMessage(websocket.TextMessage, []byte(requestFrame))
	fmt.Printf("[mobile] received: %s\n", mustRead(mobile))

	responseFrame := `{"type":"response","id":1,"result":"0xdemoTxHash"}`
	_ = mobile.WriteMessage(websocket.TextMessage, []byte(responseFrame))
	fmt.Printf("[dapp] received: %s\n", mustRead(dapp))

	fmt.Println("\ndemo complete")
	return nil
}

func createSession() (createSessionResponse, error) {
	resp, err := http.Post(strings.TrimRight(relayURL, "/")+"/session",
		"application/json",
		strings.NewReader(`{"name":"relay-demo","url":"https://relay-demo.local"}`))
	if err != nil {
		return createSessionResponse{}, err
	}
	defer resp.Body.Close()

	var out createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return createSessionResponse{}, err
	}
	return out, nil
}

func secretFromURL(url string) string {
	idx := strings.Index(url, "?k=")
	if idx < 0 {
		return ""
	}
	return url[idx+3:]
}

func wsBase(httpURL string) string {
	return "ws" + strings.TrimPrefix(strings.TrimRight(httpURL, "/"), "http")
}

func mustRead(conn *websocket.Conn) string {
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Sprintf("<read error: %v>", err)
	}
	return string(data)
}
