package webmonitor

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dj-oyu/posewatch/internal/broadcast"
	"github.com/dj-oyu/posewatch/internal/engine"
	"github.com/dj-oyu/posewatch/internal/logger"
	"github.com/dj-oyu/posewatch/internal/metrics"
	"github.com/dj-oyu/posewatch/pkg/types"
)

// OfferHandler answers WebRTC offers for the pose data channel.
type OfferHandler interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
	GetClientCount() int
}

// Server serves the monitor page, the ingestion endpoints and the chart stream.
type Server struct {
	cfg       Config
	engine    *engine.Engine
	events    *broadcast.Broadcaster
	metrics   *metrics.Metrics
	webrtc    OfferHandler
	ws        *wsClients
	startTime time.Time
	server    *http.Server
}

// NewServer returns a configured monitor server. m and rtc may be nil.
func NewServer(cfg Config, eng *engine.Engine, events *broadcast.Broadcaster, m *metrics.Metrics, rtc OfferHandler) *Server {
	return &Server{
		cfg:       cfg.withDefaults(),
		engine:    eng,
		events:    events,
		metrics:   m,
		webrtc:    rtc,
		ws:        newWSClients(),
		startTime: time.Now(),
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/", s.handleIndex)
	r.GET("/ws", s.handleWebSocket)
	r.GET("/chart", s.handleChart)
	r.GET("/health", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := r.Group("/api")
	api.POST("/frames", s.handleFrame)
	api.GET("/state", s.handleState)
	api.POST("/alert", s.handleAlert)
	api.POST("/reset", s.handleReset)
	api.GET("/chart/stream", s.handleChartStream)
	api.POST("/webrtc/offer", s.handleWebRTCOffer)

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("WebMonitor", "Listening on %s", s.cfg.Addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.ws.closeAll()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.cfg.Version,
		"uptime":  time.Since(s.startTime).String(),
		"frames":  s.engine.Frames(),
	})
}

func (s *Server) handleFrame(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxFrameBytes)

	var frame types.PoseFrame
	if err := c.ShouldBindJSON(&frame); err != nil {
		if s.metrics != nil {
			s.metrics.FrameErrors.Add(1)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pose frame"})
		return
	}

	ev := s.engine.HandleFrame(frame)
	c.JSON(http.StatusOK, gin.H{
		"frame_number": frame.FrameNumber,
		"evaluation":   ev,
	})
}

func (s *Server) handleState(c *gin.Context) {
	ev, chart := s.engine.Latest()
	clients := gin.H{
		"stream":    s.events.ClientCount(),
		"websocket": s.ws.count(),
		"webrtc":    0,
	}
	if s.webrtc != nil {
		clients["webrtc"] = s.webrtc.GetClientCount()
	}

	c.JSON(http.StatusOK, gin.H{
		"controls":   s.engine.Controls(),
		"evaluation": ev,
		"chart":      chart,
		"frames":     s.engine.Frames(),
		"clients":    clients,
		"dropped":    s.events.Dropped(),
		"timestamp":  float64(time.Now().Unix()),
	})
}

func (s *Server) handleAlert(c *gin.Context) {
	var update engine.ControlUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if update.Enabled == nil && update.Threshold == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected enabled and/or threshold"})
		return
	}

	controls, err := s.engine.Apply(update)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrThresholdRange) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error(), "controls": controls})
		return
	}
	c.JSON(http.StatusOK, controls)
}

func (s *Server) handleReset(c *gin.Context) {
	s.engine.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func (s *Server) handleWebRTCOffer(c *gin.Context) {
	if s.webrtc == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "WebRTC is disabled"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, s.cfg.MaxFrameBytes))
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offer data"})
		return
	}

	answer, err := s.webrtc.HandleOffer(body)
	if err != nil {
		logger.Warn("WebMonitor", "WebRTC offer rejected: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", answer)
}
