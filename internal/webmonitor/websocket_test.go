package webmonitor

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(f.router)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?clientId=test-client"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", msgType, err)
		}
		if msg.Type == msgType {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload string) {
	t.Helper()
	msg := WSMessage{Type: msgType}
	if payload != "" {
		msg.Payload = json.RawMessage(payload)
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func TestWebSocketWelcomeAndPing(t *testing.T) {
	f := newFixture(t, nil)
	conn := dialWS(t, f)

	welcome := readUntil(t, conn, MsgWelcome)
	if welcome.ClientID != "test-client" {
		t.Errorf("client id = %q", welcome.ClientID)
	}
	if !strings.Contains(string(welcome.Payload), `"threshold":300`) {
		t.Errorf("welcome payload = %s", welcome.Payload)
	}

	send(t, conn, "ping", "")
	readUntil(t, conn, MsgPong)
}

func TestWebSocketFrameRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	conn := dialWS(t, f)
	readUntil(t, conn, MsgWelcome)

	send(t, conn, MsgFrame, frameWithY("222"))
	res := readUntil(t, conn, MsgFrameResult)

	var body struct {
		FrameNumber uint64 `json:"frame_number"`
		Evaluation  struct {
			Series []float64 `json:"series"`
		} `json:"evaluation"`
	}
	if err := json.Unmarshal(res.Payload, &body); err != nil {
		t.Fatal(err)
	}
	if body.FrameNumber != 3 || body.Evaluation.Series[0] != 222 {
		t.Errorf("result = %+v", body)
	}
	if f.metrics.WebSocketClients.Load() != 1 {
		t.Errorf("ws clients gauge = %d", f.metrics.WebSocketClients.Load())
	}
}

func TestWebSocketControlAndAlert(t *testing.T) {
	f := newFixture(t, nil)
	conn := dialWS(t, f)
	readUntil(t, conn, MsgWelcome)

	send(t, conn, MsgControl, `{"threshold": 999}`)
	errMsg := readUntil(t, conn, MsgError)
	if !strings.Contains(string(errMsg.Payload), "out of range") {
		t.Errorf("error payload = %s", errMsg.Payload)
	}

	send(t, conn, MsgControl, `{"enabled": true, "threshold": 100}`)
	controls := readUntil(t, conn, MsgControls)
	if !strings.Contains(string(controls.Payload), `"enabled":true`) {
		t.Errorf("controls payload = %s", controls.Payload)
	}

	send(t, conn, MsgFrame, frameWithY("400"))
	alert := readUntil(t, conn, MsgAlert)
	var a struct {
		Average    float64 `json:"average"`
		DurationMs int64   `json:"duration_ms"`
	}
	if err := json.Unmarshal(alert.Payload, &a); err != nil {
		t.Fatal(err)
	}
	if a.Average != 400 || a.DurationMs != 300 {
		t.Errorf("alert = %+v", a)
	}
}

func TestWebSocketUnknownAndMalformed(t *testing.T) {
	f := newFixture(t, nil)
	conn := dialWS(t, f)
	readUntil(t, conn, MsgWelcome)

	send(t, conn, "DANCE", "")
	readUntil(t, conn, MsgError)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":`)); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, MsgError)

	// The connection survives both.
	send(t, conn, MsgPing, "")
	readUntil(t, conn, MsgPong)
}
