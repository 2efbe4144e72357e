package broadcast

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestPublishReachesSubscribers(t *testing.T) {
	b := New(2)
	id1, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()
	defer b.Unsubscribe(id1)

	if err := b.Publish(KindChart, map[string]any{"series": []float64{1, 2, 3, 4, 5}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for i, ch := range []<-chan *SerializedEvent{ch1, ch2} {
		ev := <-ch
		if ev.Kind != KindChart {
			t.Errorf("client %d kind = %q", i, ev.Kind)
		}
		var decoded struct {
			Type string `json:"type"`
			Data struct {
				Series []float64 `json:"series"`
			} `json:"data"`
		}
		if err := json.Unmarshal(ev.JSONData, &decoded); err != nil {
			t.Fatalf("decode json: %v", err)
		}
		if decoded.Type != KindChart || len(decoded.Data.Series) != 5 {
			t.Errorf("client %d payload = %+v", i, decoded)
		}
	}
}

func TestProtobufMatchesJSON(t *testing.T) {
	ev, err := Serialize(KindAlert, map[string]any{"average": 412.5, "threshold": 300})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(string(ev.ProtobufData))
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	var st structpb.Struct
	if err := proto.Unmarshal(raw, &st); err != nil {
		t.Fatalf("proto unmarshal: %v", err)
	}
	m := st.AsMap()
	if m["type"] != KindAlert {
		t.Errorf("type = %v", m["type"])
	}
	data, ok := m["data"].(map[string]any)
	if !ok || data["average"] != 412.5 {
		t.Errorf("data = %v", m["data"])
	}
}

func TestSlowClientDropsInsteadOfBlocking(t *testing.T) {
	b := New(1)
	_, ch := b.Subscribe()

	for i := 0; i < 5; i++ {
		if err := b.Publish(KindChart, i); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if got := b.Dropped(); got != 4 {
		t.Errorf("dropped = %d, want 4", got)
	}
	if len(ch) != 1 {
		t.Errorf("buffered = %d, want 1", len(ch))
	}
}

func TestUnsubscribeAndClose(t *testing.T) {
	b := New(2)
	id, ch := b.Subscribe()
	b.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}

	_, ch2 := b.Subscribe()
	b.Close()
	if _, ok := <-ch2; ok {
		t.Error("channel still open after Close")
	}
	_, ch3 := b.Subscribe()
	if _, ok := <-ch3; ok {
		t.Error("subscribe after Close returned an open channel")
	}
	if b.ClientCount() != 0 {
		t.Errorf("clients = %d after Close", b.ClientCount())
	}
}

func TestPublishWithoutClientsIsNoop(t *testing.T) {
	b := New(2)
	if err := b.Publish(KindChart, func() {}); err != nil {
		t.Errorf("Publish with no clients returned %v", err)
	}
}

func TestAlertEvictsQueuedChart(t *testing.T) {
	b := New(8)
	_, ch := b.Subscribe()

	for i := 0; i < 8; i++ {
		if err := b.Publish(KindChart, i); err != nil {
			t.Fatalf("Publish chart: %v", err)
		}
	}
	if err := b.Publish(KindAlert, map[string]any{"average": 400}); err != nil {
		t.Fatalf("Publish alert: %v", err)
	}
	if err := b.Publish(KindControls, map[string]any{"threshold": 250}); err != nil {
		t.Fatalf("Publish controls: %v", err)
	}

	if len(ch) != 8 {
		t.Fatalf("buffered = %d, want 8", len(ch))
	}
	var kinds []string
	for len(ch) > 0 {
		kinds = append(kinds, (<-ch).Kind)
	}
	want := []string{KindChart, KindChart, KindChart, KindChart, KindChart, KindChart, KindAlert, KindControls}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds = %v, want %v", kinds, want)
			break
		}
	}
	if got := b.Dropped(); got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}
}

func TestAlertEvictsOldestWhenNoChartQueued(t *testing.T) {
	b := New(2)
	_, ch := b.Subscribe()

	for i := 0; i < 3; i++ {
		if err := b.Publish(KindAlert, i); err != nil {
			t.Fatalf("Publish alert: %v", err)
		}
	}
	first := <-ch
	second := <-ch
	if first.Kind != KindAlert || second.Kind != KindAlert {
		t.Fatalf("kinds = %s, %s", first.Kind, second.Kind)
	}
	var data struct {
		Data int `json:"data"`
	}
	if err := json.Unmarshal(second.JSONData, &data); err != nil || data.Data != 2 {
		t.Errorf("newest alert = %s, %v", second.JSONData, err)
	}
}
