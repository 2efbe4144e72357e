// Package broadcast fans serialized events out to stream subscribers.
package broadcast

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/posewatch/internal/logger"
)

// Event kinds published by the engine.
const (
	KindChart    = "chart"
	KindAlert    = "alert"
	KindControls = "controls"
)

// SerializedEvent holds one event pre-serialized in both wire formats, so a
// broadcast to many clients encodes once.
type SerializedEvent struct {
	Kind         string
	JSONData     []byte // {"type": kind, "data": payload}
	ProtobufData []byte // base64 of a google.protobuf.Struct with the same shape
}

// Broadcaster manages fanout of events to multiple stream clients.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	buffer  int
	closed  bool
	dropped uint64
}

// New returns a Broadcaster whose client channels hold buffer events.
func New(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 2
	}
	return &Broadcaster{
		clients: make(map[int]chan *SerializedEvent),
		buffer:  buffer,
	}
}

// Subscribe adds a new client and returns a channel for receiving events.
// The channel is closed by Unsubscribe or Close.
func (b *Broadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *SerializedEvent, b.buffer)
	if b.closed {
		close(ch)
		return id, ch
	}
	b.clients[id] = ch

	logger.Debug("Broadcaster", "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		logger.Debug("Broadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// ClientCount returns the number of subscribers.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Dropped returns how many per-client deliveries were skipped for slow clients.
func (b *Broadcaster) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Publish serializes payload and delivers it to every client without blocking.
// Nothing is encoded when there are no subscribers.
func (b *Broadcaster) Publish(kind string, payload any) error {
	if b.ClientCount() == 0 {
		return nil
	}
	event, err := Serialize(kind, payload)
	if err != nil {
		return err
	}
	b.broadcast(event)
	return nil
}

func (b *Broadcaster) broadcast(event *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.clients {
		select {
		case ch <- event:
		default:
			if event.Kind == KindChart {
				// Client too slow; the next chart supersedes this one.
				b.dropped++
				continue
			}
			b.makeRoom(ch)
			ch <- event
		}
	}
}

// makeRoom frees one slot in a full client channel for a discrete event by
// evicting the oldest queued chart, or the oldest event when none is queued.
// Only broadcast sends on client channels, and it holds b.mu, so the slot
// cannot be taken back before the caller sends.
func (b *Broadcaster) makeRoom(ch chan *SerializedEvent) {
	queued := make([]*SerializedEvent, 0, len(ch))
drain:
	for {
		select {
		case ev := <-ch:
			queued = append(queued, ev)
		default:
			break drain
		}
	}
	if len(queued) < cap(ch) {
		// The client drained some events meanwhile.
		for _, ev := range queued {
			ch <- ev
		}
		return
	}

	victim := 0
	for i, ev := range queued {
		if ev.Kind == KindChart {
			victim = i
			break
		}
	}
	b.dropped++
	for i, ev := range queued {
		if i != victim {
			ch <- ev
		}
	}
}

// Close disconnects every client; later subscribers get a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
	b.closed = true
}

// Serialize encodes payload under kind in JSON and base64 protobuf.
func Serialize(kind string, payload any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(map[string]any{"type": kind, "data": payload})
	if err != nil {
		return nil, fmt.Errorf("json marshal %s event: %w", kind, err)
	}

	// structpb only accepts plain JSON values, so go through the JSON form.
	var generic map[string]any
	if err := json.Unmarshal(jsonData, &generic); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", kind, err)
	}
	st, err := structpb.NewStruct(generic)
	if err != nil {
		return nil, fmt.Errorf("protobuf struct %s event: %w", kind, err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal %s event: %w", kind, err)
	}

	return &SerializedEvent{
		Kind:         kind,
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
