package authcore

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(8)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 8}, sink)

	ctx := context.Background()
	for _, name := range []string{"a", "b", "c"} {
		d.Emit(ctx, AuditEvent{EventType: name, Timestamp: time.Now()})
	}
	d.Close()

	for _, want := range []string{"a", "b", "c"} {
		select {
		case event := <-sink.Events():
			if event.EventType != want {
				t.Fatalf("got %s, want %s", event.EventType, want)
			}
		default:
			t.Fatalf("missing event %s", want)
		}
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{release: block}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		d.Emit(ctx, AuditEvent{EventType: "x"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a full buffer")
	}
	close(block)
	d.Close()
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Emit(ctx context.Context, event AuditEvent) {
	<-s.release
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{
		EventType: "login_password",
		UserID:    "user-1",
		Success:   true,
	})

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("sink output is not JSON: %v", err)
	}
	if decoded["event_type"] != "login_password" {
		t.Fatalf("unexpected event: %v", decoded)
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	if d := newAuditDispatcher(AuditConfig{Enabled: false}, &NoOpSink{}); d != nil {
		t.Fatal("disabled audit should produce a nil dispatcher")
	}
}
