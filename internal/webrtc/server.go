package webrtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/posewatch/internal/broadcast"
	"github.com/dj-oyu/posewatch/internal/logger"
	"github.com/dj-oyu/posewatch/internal/metrics"
	"github.com/dj-oyu/posewatch/internal/signal"
	"github.com/dj-oyu/posewatch/pkg/types"
)

// PosesLabel is the data channel label the browser opens for pose frames.
const PosesLabel = "poses"

// FrameHandler evaluates one pose frame.
type FrameHandler interface {
	HandleFrame(frame types.PoseFrame) signal.Evaluation
}

// Reply is written back on the data channel for every message.
type Reply struct {
	Type        string             `json:"type"`
	FrameNumber uint64             `json:"frame_number,omitempty"`
	Evaluation  *signal.Evaluation `json:"evaluation,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Client represents a connected WebRTC client
type Client struct {
	id             string
	peerConn       *webrtc.PeerConnection
	send           func(text string) error
	open           atomic.Bool
	framesReceived atomic.Uint64
	framesRejected atomic.Uint64
	closeOnce      sync.Once
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	handler    FrameHandler
	metrics    *metrics.Metrics
}

// NewServer creates a new WebRTC server. m may be nil.
func NewServer(stunServers []string, maxClients int, handler FrameHandler, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	// Data channels only, so no media engine.
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
		handler:    handler,
		metrics:    m,
	}
}

// HandleOffer handles a WebRTC offer and returns an answer
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.SDP == "" {
		return nil, fmt.Errorf("offer has no SDP")
	}

	if n := s.GetClientCount(); n >= s.maxClients {
		return nil, fmt.Errorf("maximum clients reached (%d)", s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:       uuid.NewString(),
		peerConn: peerConn,
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != PosesLabel {
			logger.Warn("WebRTC", "Client %s opened unexpected channel %q, ignoring", client.id, dc.Label())
			return
		}
		client.send = dc.SendText
		dc.OnOpen(func() {
			client.open.Store(true)
			logger.Info("WebRTC", "Client %s pose channel open", client.id)
		})
		dc.OnClose(func() {
			client.open.Store(false)
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			s.handleMessage(client, msg.Data)
		})
	})

	peerConn.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.Debug("WebRTC", "Client %s ICE state: %s", client.id, state.String())

		if state == webrtc.ICEConnectionStateDisconnected ||
			state == webrtc.ICEConnectionStateFailed ||
			state == webrtc.ICEConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (ICE: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)

	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	<-gatherComplete
	logger.Debug("WebRTC", "ICE gathering complete for client %s", client.id)

	if err := s.admit(client); err != nil {
		return nil, err
	}
	logger.Info("WebRTC", "Client %s connected", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("no local description available")
	}

	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return answerJSON, nil
}

// admit registers client once its answer is ready. A state callback that
// fired during gathering found nothing to remove, so a peer that already went
// away is dropped here instead.
func (s *Server) admit(client *Client) error {
	s.addClient(client)
	if client.peerConn == nil {
		return nil
	}
	switch state := client.peerConn.ConnectionState(); state {
	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		s.RemoveClient(client.id)
		return fmt.Errorf("peer connection %s before answer", state)
	}
	return nil
}

func (s *Server) addClient(client *Client) {
	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()
	if s.metrics != nil {
		s.metrics.WebRTCClients.Add(1)
	}
}

// handleMessage decodes one pose frame and replies with its evaluation.
func (s *Server) handleMessage(client *Client, data []byte) {
	var frame types.PoseFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		client.framesRejected.Add(1)
		if s.metrics != nil {
			s.metrics.FrameErrors.Add(1)
		}
		logger.Debug("WebRTC", "Client %s sent malformed frame: %v", client.id, err)
		s.reply(client, Reply{Type: "ERROR", Error: "malformed pose frame"})
		return
	}

	client.framesReceived.Add(1)
	ev := s.handler.HandleFrame(frame)
	s.reply(client, Reply{Type: "FRAME_RESULT", FrameNumber: frame.FrameNumber, Evaluation: &ev})
}

func (s *Server) reply(client *Client, r Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		logger.Warn("WebRTC", "Encode reply for %s: %v", client.id, err)
		return
	}
	s.sendText(client, string(data))
}

func (s *Server) sendText(client *Client, text string) {
	if client.send == nil {
		return
	}
	if err := client.send(text); err != nil {
		logger.Debug("WebRTC", "Send to client %s failed: %v", client.id, err)
	}
}

// Forward relays alert and control events to every open pose channel until
// ctx is done or events is closed.
func (s *Server) Forward(ctx context.Context, events <-chan *broadcast.SerializedEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Kind == broadcast.KindChart {
				// Chart events already go back as FRAME_RESULT replies.
				continue
			}
			s.clientsMu.RLock()
			for _, client := range s.clients {
				if client.open.Load() {
					s.sendText(client, string(event.JSONData))
				}
			}
			s.clientsMu.RUnlock()
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	s.clientsMu.Unlock()
	if !exists {
		return
	}

	client.closeOnce.Do(func() {
		if s.metrics != nil {
			s.metrics.WebRTCClients.Add(-1)
		}
		if client.peerConn != nil {
			client.peerConn.Close()
		}
		logger.Info("WebRTC", "Client %s disconnected (frames: %d, rejected: %d)",
			clientID, client.framesReceived.Load(), client.framesRejected.Load())
	})
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// GetClientStats returns stats for all clients
func (s *Server) GetClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64)
	for id, client := range s.clients {
		stats[id] = map[string]uint64{
			"frames_received": client.framesReceived.Load(),
			"frames_rejected": client.framesRejected.Load(),
		}
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
