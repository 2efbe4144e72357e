package webmonitor

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dj-oyu/posewatch/internal/broadcast"
	"github.com/dj-oyu/posewatch/internal/engine"
	"github.com/dj-oyu/posewatch/internal/logger"
	"github.com/dj-oyu/posewatch/pkg/types"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsSendBuffer   = 64
)

// WebSocket message types. Clients send FRAME, CONTROL, RESET and PING.
const (
	MsgWelcome     = "WELCOME"
	MsgPing        = "PING"
	MsgPong        = "PONG"
	MsgFrame       = "FRAME"
	MsgFrameResult = "FRAME_RESULT"
	MsgControl     = "CONTROL"
	MsgControls    = "CONTROLS"
	MsgReset       = "RESET"
	MsgAlert       = "ALERT"
	MsgError       = "ERROR"
)

// WSMessage is the envelope for every WebSocket message in both directions.
type WSMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ClientID  string          `json:"client_id,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type wsClient struct {
	conn     *websocket.Conn
	clientID string
	send     chan WSMessage
	done     chan struct{}
	once     sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

// enqueue never blocks the reader; a full queue drops the message.
func (c *wsClient) enqueue(msgType string, payload any) {
	msg := WSMessage{Type: msgType, ClientID: c.clientID, Timestamp: time.Now().Unix()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			logger.Warn("WebSocket", "Encode %s for %s: %v", msgType, c.clientID, err)
			return
		}
		msg.Payload = raw
	}
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		logger.Debug("WebSocket", "Client %s send queue full, dropping %s", c.clientID, msgType)
	}
}

type wsClients struct {
	mu      sync.RWMutex
	clients map[string]*wsClient
}

func newWSClients() *wsClients {
	return &wsClients{clients: make(map[string]*wsClient)}
}

func (w *wsClients) add(c *wsClient) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clients[c.clientID] = c
}

func (w *wsClients) remove(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.clients, id)
}

func (w *wsClients) count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.clients)
}

func (w *wsClients) closeAll() {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, c := range w.clients {
		c.close()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket", "Upgrade failed: %v", err)
		return
	}

	clientID := c.Query("clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	client := &wsClient{
		conn:     conn,
		clientID: clientID,
		send:     make(chan WSMessage, wsSendBuffer),
		done:     make(chan struct{}),
	}
	s.ws.add(client)
	if s.metrics != nil {
		s.metrics.WebSocketClients.Add(1)
	}
	subID, events := s.events.Subscribe()
	logger.Info("WebSocket", "Client %s connected", clientID)

	defer func() {
		s.events.Unsubscribe(subID)
		s.ws.remove(clientID)
		if s.metrics != nil {
			s.metrics.WebSocketClients.Add(-1)
		}
		client.close()
		conn.Close()
		logger.Info("WebSocket", "Client %s disconnected", clientID)
	}()

	go s.writePump(client, events)

	client.enqueue(MsgWelcome, gin.H{
		"message":  "Connected to posewatch",
		"version":  s.cfg.Version,
		"controls": s.engine.Controls(),
	})

	s.readPump(client)
}

func (s *Server) readPump(client *wsClient) {
	conn := client.conn
	conn.SetReadLimit(s.cfg.MaxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket", "Read error for %s: %v", client.clientID, err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			client.enqueue(MsgError, gin.H{"error": "malformed message"})
			continue
		}
		s.dispatch(client, msg)
	}
}

func (s *Server) dispatch(client *wsClient, msg WSMessage) {
	switch strings.ToUpper(msg.Type) {
	case MsgPing:
		client.enqueue(MsgPong, nil)

	case MsgFrame:
		var frame types.PoseFrame
		if err := json.Unmarshal(msg.Payload, &frame); err != nil {
			if s.metrics != nil {
				s.metrics.FrameErrors.Add(1)
			}
			client.enqueue(MsgError, gin.H{"error": "invalid pose frame"})
			return
		}
		ev := s.engine.HandleFrame(frame)
		client.enqueue(MsgFrameResult, gin.H{
			"frame_number": frame.FrameNumber,
			"evaluation":   ev,
		})

	case MsgControl:
		var update engine.ControlUpdate
		if err := json.Unmarshal(msg.Payload, &update); err != nil {
			client.enqueue(MsgError, gin.H{"error": "invalid control update"})
			return
		}
		if _, err := s.engine.Apply(update); err != nil {
			client.enqueue(MsgError, gin.H{"error": err.Error()})
		}
		// Success is echoed to every client through the controls event.

	case MsgReset:
		s.engine.Reset()

	default:
		logger.Debug("WebSocket", "Unknown message type from %s: %s", client.clientID, msg.Type)
		client.enqueue(MsgError, gin.H{"error": "unknown message type " + msg.Type})
	}
}

// writePump owns all writes to the connection.
func (s *Server) writePump(client *wsClient, events <-chan *broadcast.SerializedEvent) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	write := func(msg WSMessage) bool {
		client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return client.conn.WriteJSON(msg) == nil
	}

	for {
		select {
		case <-client.done:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			_ = client.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case msg := <-client.send:
			if !write(msg) {
				return
			}

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			msg, forward := eventMessage(event)
			if !forward {
				continue
			}
			msg.ClientID = client.clientID
			if !write(msg) {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// eventMessage maps broadcast events to WebSocket messages. Chart events are
// skipped because frame senders already get FRAME_RESULT.
func eventMessage(event *broadcast.SerializedEvent) (WSMessage, bool) {
	var msgType string
	switch event.Kind {
	case broadcast.KindAlert:
		msgType = MsgAlert
	case broadcast.KindControls:
		msgType = MsgControls
	default:
		return WSMessage{}, false
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(event.JSONData, &envelope); err != nil {
		return WSMessage{}, false
	}
	return WSMessage{Type: msgType, Payload: envelope.Data, Timestamp: time.Now().Unix()}, true
}
