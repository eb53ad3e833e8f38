package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"telemetry-hub/internal/models"
)

func startHub(t *testing.T) (*Hub, chan models.Event, context.CancelFunc) {
	t.Helper()
	h := NewHub()
	events := make(chan models.Event)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx, events)
	t.Cleanup(cancel)
	return h, events, cancel
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg, ok := <-c.Send:
		if !ok {
			t.Fatal("send channel closed")
		}
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
	return nil
}

func TestBroadcastEnvelope(t *testing.T) {
	h, events, _ := startHub(t)
	c := &Client{Hub: h, Send: make(chan []byte, 4)}
	if !h.Register(c) {
		t.Fatal("register failed")
	}

	events <- models.HeartRate{DeviceID: 3, BPM: 61.5, Valid: true}

	var env struct {
		Type    string           `json:"type"`
		Payload models.HeartRate `json:"payload"`
	}
	if err := json.Unmarshal(receive(t, c), &env); err != nil {
		t.Fatalf("invalid message: %v", err)
	}
	if env.Type != "heart_rate" || env.Payload.DeviceID != 3 || env.Payload.BPM != 61.5 {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestSlowClientDropped(t *testing.T) {
	h, events, _ := startHub(t)
	fast := &Client{Hub: h, Send: make(chan []byte, 4)}
	slow := &Client{Hub: h, Send: make(chan []byte)}
	h.Register(fast)
	h.Register(slow)
	if n := h.Clients(); n != 2 {
		t.Fatalf("expected 2 clients, got %d", n)
	}

	events <- models.SpO2Samples{Samples: []int{97}, Value: 97}
	receive(t, fast)

	deadline := time.Now().Add(5 * time.Second)
	for h.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("slow client not removed, clients=%d", h.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, ok := <-slow.Send; ok {
		t.Errorf("slow client send channel still open")
	}
}

func TestStopDisconnectsClients(t *testing.T) {
	h, _, cancel := startHub(t)
	c := &Client{Hub: h, Send: make(chan []byte, 1)}
	h.Register(c)
	cancel()

	select {
	case _, ok := <-c.Send:
		if ok {
			t.Errorf("unexpected message after stop")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("client not disconnected")
	}
	if h.Register(&Client{Hub: h, Send: make(chan []byte, 1)}) {
		t.Errorf("register succeeded on stopped hub")
	}
	h.Unregister(c)
}
