//go:build integration

package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("RELAY_TEST_NATS_URL")
	if url == "" {
		t.Skip("RELAY_TEST_NATS_URL not set, skipping integration test")
	}
	return url
}

func TestIntegration_Publish(t *testing.T) {
	url := skipWithoutNATS(t)

	p, err := NewNATSPublisher(NATSConfig{URL: url, Name: "relay-test", SubjectPrefix: "relay.test"})
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer p.Close()

	sub, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("subscriber connect: %v", err)
	}
	defer sub.Close()

	received := make(chan *nats.Msg, 1)
	if _, err := sub.ChanSubscribe("relay.test.>", received); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for p.Check(context.Background()) != nil && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	e := New(TypeCompleted)
	e.ThreadID = "thread-42"
	e.Outcome = "complete"
	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Subject != "relay.test.completed" {
			t.Errorf("subject = %q", msg.Subject)
		}
		if msg.Header.Get(nats.MsgIdHdr) != e.ID {
			t.Errorf("msg id = %q, want %q", msg.Header.Get(nats.MsgIdHdr), e.ID)
		}
		var got Event
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatal(err)
		}
		if got.ThreadID != "thread-42" || got.Outcome != "complete" {
			t.Errorf("event = %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}
