package webmonitor

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dj-oyu/posewatch/internal/broadcast"
	"github.com/dj-oyu/posewatch/internal/logger"
)

func wantsProtobuf(accept string) bool {
	return strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")
}

func (s *Server) handleChartStream(c *gin.Context) {
	id, eventCh := s.events.Subscribe()
	defer s.events.Unsubscribe(id)

	if s.metrics != nil {
		s.metrics.StreamClients.Add(1)
		defer s.metrics.StreamClients.Add(-1)
	}

	useProtobuf := wantsProtobuf(c.GetHeader("Accept"))

	// New viewers get the current chart before the next tick.
	_, chart := s.engine.Latest()
	initial, err := broadcast.Serialize(broadcast.KindChart, chart)
	if err != nil {
		logger.Warn("SSE", "Serialize initial chart: %v", err)
		initial = nil
	}

	streamEventsFromChannel(c.Writer, c.Request, eventCh, initial, useProtobuf, s.cfg.KeepAlive)
}

// streamEventsFromChannel streams pre-serialized events to an SSE client.
// Data is already serialized in both formats by the broadcaster.
func streamEventsFromChannel(w http.ResponseWriter, r *http.Request, eventCh <-chan *broadcast.SerializedEvent, initial *broadcast.SerializedEvent, useProtobuf bool, keepAlive time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if initial != nil {
		if err := writeEvent(w, initial, useProtobuf); err != nil {
			return
		}
		flusher.Flush()
	}

	keepalive := time.NewTicker(keepAlive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case event, ok := <-eventCh:
			if !ok {
				// Channel closed, client should disconnect
				return
			}
			if err := writeEvent(w, event, useProtobuf); err != nil {
				logger.Debug("SSE", "Client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()
			keepalive.Reset(keepAlive)

		case <-keepalive.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent writes one SSE frame; the event name is the payload kind.
func writeEvent(w http.ResponseWriter, event *broadcast.SerializedEvent, useProtobuf bool) error {
	data := event.JSONData
	if useProtobuf {
		data = event.ProtobufData
	}
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
	return err
}
