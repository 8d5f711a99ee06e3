package events

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/elfradio/elfradio/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(4)
	a, unsubA := bus.Subscribe()
	b, unsubB := bus.Subscribe()
	defer unsubA()
	defer unsubB()

	bus.Publish(models.NewLogEvent("info", "", "hello"))

	for _, ch := range []<-chan models.StatusEvent{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, models.EventLog, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus(1)
	ch, unsub := bus.Subscribe()
	defer unsub()

	bus.Publish(models.NewLogEvent("info", "", "one"))
	bus.Publish(models.NewLogEvent("info", "", "two"))

	assert.Equal(t, uint64(1), bus.Dropped())
	ev := <-ch
	assert.Equal(t, "one", ev.Payload.(models.LogPayload).Message)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(1)
	ch, unsub := bus.Subscribe()
	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, bus.SubscriberCount())

	bus.Publish(models.NewLogEvent("info", "", "after"))
}

func TestStatusEventJSONRoundTrip(t *testing.T) {
	ev := models.NewHealthEvent(models.EventTtsStatus, models.HealthOk, "done")
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"TtsStatusUpdate"`)
	assert.Contains(t, string(data), `"payload":{"status":"Ok","message":"done"}`)

	var back models.StatusEvent
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ev.Type, back.Type)
	assert.Equal(t, ev.Payload, back.Payload)
}

func TestHubAndClient(t *testing.T) {
	bus := NewBus(16)
	hub := NewHub(bus, quietLogger())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client := NewClient(url, ClientOptions{MaxRetries: 3, Backoff: 10 * time.Millisecond})

	var mu sync.Mutex
	var states []ConnState
	client.OnStateChange(func(s ConnState) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan models.StatusEvent, 4)
	go client.Run(ctx, func(ev models.StatusEvent) { got <- ev })

	require.Eventually(t, func() bool { return bus.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	bus.Publish(models.NewConnEvent(models.EventRadioStatus, models.ConnConnected, ""))

	select {
	case ev := <-got:
		assert.Equal(t, models.EventRadioStatus, ev.Type)
		assert.Equal(t, "Connected", ev.StatusOf())
	case <-time.After(2 * time.Second):
		t.Fatal("client did not receive event")
	}

	mu.Lock()
	assert.Equal(t, []ConnState{StateConnecting, StateConnected}, states)
	mu.Unlock()
}

func TestClientGivesUpAfterMaxRetries(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/ws", ClientOptions{MaxRetries: 2, Backoff: time.Millisecond})
	err := client.Run(context.Background(), func(models.StatusEvent) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, StateDisconnected, client.State())
}
