package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"trademind/internal/broker"
	"trademind/internal/metrics"
	"trademind/internal/model"
)

type recordingRegistry struct {
	mu    sync.Mutex
	subs  []string
	drops []string
}

func (r *recordingRegistry) Subscribe(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, symbol)
}

func (r *recordingRegistry) Unsubscribe(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drops = append(r.drops, symbol)
}

func (r *recordingRegistry) snapshot() (subs, drops []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.subs...), append([]string(nil), r.drops...)
}

type failingBroker struct{}

func (failingBroker) Publish(context.Context, model.StreamMessage) error { return nil }

func (failingBroker) Subscribe(context.Context) (model.Subscription, error) {
	return nil, errors.New("redis down")
}

func (failingBroker) Close() error { return nil }

func newWSServer(t *testing.T, bus model.Broker, reg SymbolRegistry) (*httptest.Server, *Hub) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())
	hub := NewHub(bus, reg, m, log, "*")

	r := mux.NewRouter()
	r.HandleFunc("/ws/candles/{symbol}", hub.HandleWS)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, hub
}

func wsURL(srv *httptest.Server, symbol string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/candles/" + symbol
}

func TestSessionReceivesOwnSymbolOnly(t *testing.T) {
	bus := broker.NewFanout(8)
	defer bus.Close()
	reg := &recordingRegistry{}
	srv, hub := newWSServer(t, bus, reg)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "aapl"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for the session to register so the publishes below reach it.
	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("session never subscribed to the broker")
		}
		time.Sleep(time.Millisecond)
	}

	ctx := context.Background()
	bus.Publish(ctx, model.StreamMessage{Type: "candle", Symbol: "MSFT", Candle: model.Candle{T: 50}})
	bus.Publish(ctx, model.StreamMessage{Type: "candle", Symbol: "AAPL", Candle: model.Candle{T: 100}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg model.StreamMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal %s: %v", payload, err)
	}
	if msg.Symbol != "AAPL" || msg.Candle.T != 100 {
		t.Errorf("got %+v, want the AAPL bar (other symbols filtered)", msg)
	}

	subs, _ := reg.snapshot()
	if len(subs) != 1 || subs[0] != "AAPL" {
		t.Errorf("registry subs = %v, want [AAPL] (upper-cased)", subs)
	}
	if got := hub.ClientCount(); got != 1 {
		t.Errorf("ClientCount = %d, want 1", got)
	}
}

func TestSessionCleanupOnDisconnect(t *testing.T) {
	bus := broker.NewFanout(8)
	defer bus.Close()
	reg := &recordingRegistry{}
	srv, hub := newWSServer(t, bus, reg)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "AAPL"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 0 || bus.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session not cleaned up: clients=%d brokerSubs=%d",
				hub.ClientCount(), bus.SubscriberCount())
		}
		time.Sleep(time.Millisecond)
	}

	_, drops := reg.snapshot()
	if len(drops) != 1 || drops[0] != "AAPL" {
		t.Errorf("registry drops = %v, want [AAPL]", drops)
	}
}

func TestSessionClosesWhenStreamUnavailable(t *testing.T) {
	reg := &recordingRegistry{}
	srv, _ := newWSServer(t, failingBroker{}, reg)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "AAPL"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected an error frame before close, got %v", err)
	}
	var msg struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Type != "error" {
		t.Fatalf("payload %s: err=%v", payload, err)
	}

	// The server closes with an internal-error status.
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseInternalServerErr {
		t.Errorf("close err = %v, want close code %d", err, websocket.CloseInternalServerErr)
	}

	subs, _ := reg.snapshot()
	if len(subs) != 0 {
		t.Errorf("registry subs = %v, want none when the stream is unavailable", subs)
	}
}
