// Package tui is a terminal viewer for a running posewatch server. It follows
// the chart stream, draws the five series as bars and rings the terminal bell
// on alerts.
package tui

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/posewatch/internal/broadcast"
	"github.com/dj-oyu/posewatch/internal/engine"
)

// Event is one decoded stream message. Exactly one payload field is set, or
// Err when the stream dropped.
type Event struct {
	Chart    *engine.ChartEvent
	Alert    *engine.AlertEvent
	Controls *engine.Controls
	Err      error
}

// Client talks to the posewatch HTTP API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a Client for baseURL, e.g. http://localhost:8080.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{},
	}
}

// Stream reads the chart stream until ctx is done or the connection drops.
func (c *Client) Stream(ctx context.Context, out chan<- Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/chart/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream status %s", resp.Status)
	}
	return readStream(ctx, resp.Body, out)
}

// StreamLoop keeps Stream running, reporting each drop as an Err event and
// retrying after backoff.
func (c *Client) StreamLoop(ctx context.Context, out chan<- Event, backoff time.Duration) {
	for {
		err := c.Stream(ctx, out)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = io.EOF
		}
		select {
		case out <- Event{Err: err}:
		case <-ctx.Done():
			return
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

func readStream(ctx context.Context, r io.Reader, out chan<- Event) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var data []byte
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: ")...)
		case line == "":
			if len(data) == 0 {
				continue
			}
			ev, ok := decodeEvent(data)
			data = data[:0]
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		// "event:" lines and ": keepalive" comments carry nothing the
		// envelope doesn't.
	}
	return scanner.Err()
}

func decodeEvent(data []byte) (Event, bool) {
	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Event{}, false
	}

	var ev Event
	var target any
	switch envelope.Type {
	case broadcast.KindChart:
		ev.Chart = &engine.ChartEvent{}
		target = ev.Chart
	case broadcast.KindAlert:
		ev.Alert = &engine.AlertEvent{}
		target = ev.Alert
	case broadcast.KindControls:
		ev.Controls = &engine.Controls{}
		target = ev.Controls
	default:
		return Event{}, false
	}
	if err := json.Unmarshal(envelope.Data, target); err != nil {
		return Event{}, false
	}
	return ev, true
}

// Apply posts a control update and returns the resulting controls.
func (c *Client) Apply(ctx context.Context, u engine.ControlUpdate) (engine.Controls, error) {
	var controls engine.Controls
	body, err := json.Marshal(u)
	if err != nil {
		return controls, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/alert", bytes.NewReader(body))
	if err != nil {
		return controls, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return controls, fmt.Errorf("post controls: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return controls, fmt.Errorf("controls rejected (%s): %s", resp.Status, e.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(&controls); err != nil {
		return controls, fmt.Errorf("decode controls: %w", err)
	}
	return controls, nil
}
