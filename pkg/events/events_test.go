package events

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEvent_Subject(t *testing.T) {
	tests := []struct {
		typ    Type
		prefix string
		want   string
	}{
		{TypeStarted, "relay", "relay.started"},
		{TypeCompleted, "relay", "relay.completed"},
		{TypeFailed, "prod.relay", "prod.relay.failed"},
	}
	for _, tt := range tests {
		if got := New(tt.typ).Subject(tt.prefix); got != tt.want {
			t.Errorf("Subject(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestNew_AssignsIDAndTime(t *testing.T) {
	a, b := New(TypeStarted), New(TypeStarted)
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids %q and %q not unique", a.ID, b.ID)
	}
	if time.Since(a.Time) > time.Minute || a.Time.Location() != time.UTC {
		t.Errorf("time = %v", a.Time)
	}
}

func TestEvent_JSON(t *testing.T) {
	e := New(TypeCompleted)
	e.ThreadID = "thread-1"
	e.Outcome = "partial"
	e.Frames = 4

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	s := string(data)
	for _, want := range []string{`"type":"completed"`, `"thread_id":"thread-1"`, `"outcome":"partial"`, `"frames":4`} {
		if !strings.Contains(s, want) {
			t.Errorf("json %s missing %s", s, want)
		}
	}
	if strings.Contains(s, "error") {
		t.Errorf("empty error field serialized: %s", s)
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), New(TypeStarted)); err != nil {
		t.Error(err)
	}
	if err := p.Close(); err != nil {
		t.Error(err)
	}
}

func TestNewNATSPublisher_RequiresPrefix(t *testing.T) {
	if _, err := NewNATSPublisher(NATSConfig{URL: "nats://127.0.0.1:4222"}); err == nil {
		t.Error("expected error without subject prefix")
	}
}

func TestNATSPublisher_Unreachable(t *testing.T) {
	p, err := NewNATSPublisher(NATSConfig{
		URL:           "nats://127.0.0.1:1",
		SubjectPrefix: "relay",
		ReconnectWait: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewNATSPublisher() error = %v, want background retry", err)
	}

	if err := p.Check(context.Background()); err == nil {
		t.Error("Check() reported ready while disconnected")
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
