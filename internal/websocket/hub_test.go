package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tourney-sync/internal/cache"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	go hub.Run()
	t.Cleanup(hub.Stop)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, logger, w, r)
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

// change decodes the payload of a cache event message.
func change(t *testing.T, msg Message) CacheChange {
	t.Helper()
	raw, err := json.Marshal(msg.Data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	var c CacheChange
	if err := json.Unmarshal(raw, &c); err != nil {
		t.Fatalf("unmarshal data %s: %v", raw, err)
	}
	return c
}

func subscribe(t *testing.T, hub *Hub, conn *websocket.Conn, f cache.Filter) {
	t.Helper()
	before := hub.Subscriptions()
	if err := conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, Filter: f}); err != nil {
		t.Fatalf("write: %v", err)
	}
	ack := readMessage(t, conn)
	if ack.Type != MessageTypeSubscribed {
		t.Fatalf("ack = %+v", ack)
	}
	waitFor(t, func() bool { return hub.Subscriptions() > before })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestTeamSubscriberReceivesOnlyOverlappingInvalidations(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	subscribe(t, hub, conn, cache.Filter{TournamentID: "T1", TeamID: "7"})

	if got := hub.Watchers(cache.Filter{TournamentID: "T1", TeamID: "8"}); got != 0 {
		t.Fatalf("watchers of another team = %d", got)
	}
	if got := hub.Watchers(cache.Filter{TournamentID: "T1"}); got != 1 {
		t.Fatalf("watchers of the tournament = %d", got)
	}

	ctx := context.Background()
	hub.OnCacheEvent(ctx, cache.Event{Type: cache.EventInvalidated, Filter: cache.Filter{TournamentID: "T2"}, Removed: 4})
	hub.OnCacheEvent(ctx, cache.Event{Type: cache.EventInvalidated, Filter: cache.Filter{TournamentID: "T1", TeamID: "8"}, Removed: 3})
	hub.OnCacheEvent(ctx, cache.Event{Type: cache.EventInvalidated, Filter: cache.Filter{TournamentID: "T1", TeamID: "7"}, Removed: 2, Remote: true})
	hub.OnCacheEvent(ctx, cache.Event{Type: cache.EventInvalidated, Filter: cache.Filter{TournamentID: "T1"}, Removed: 5})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeInvalidated {
		t.Fatalf("message = %+v", msg)
	}
	got := change(t, msg)
	want := CacheChange{Filter: cache.Filter{TournamentID: "T1", TeamID: "7"}, Removed: 2, Remote: true}
	if got != want {
		t.Fatalf("change = %+v, want %+v", got, want)
	}

	// A whole-tournament invalidation also covers the team's rows.
	if got := change(t, readMessage(t, conn)); got.Filter != (cache.Filter{TournamentID: "T1"}) || got.Removed != 5 {
		t.Fatalf("change = %+v", got)
	}
}

func TestGameCodeSubscription(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	subscribe(t, hub, conn, cache.Filter{Service: "GameMaps", GameCode: "SC2"})

	ctx := context.Background()
	hub.OnCacheEvent(ctx, cache.Event{Type: cache.EventInvalidated, Filter: cache.Filter{Service: "GameMaps", GameCode: "WC3"}})
	hub.OnCacheEvent(ctx, cache.Event{Type: cache.EventInvalidated, Filter: cache.Filter{Service: "TournamentInfo"}})
	hub.OnCacheEvent(ctx, cache.Event{Type: cache.EventInvalidated, Filter: cache.Filter{GameCode: "SC2"}, Removed: 1})

	if got := change(t, readMessage(t, conn)); got.Filter != (cache.Filter{GameCode: "SC2"}) {
		t.Fatalf("change = %+v", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	f := cache.Filter{TournamentID: "T1"}
	subscribe(t, hub, conn, f)
	subscribe(t, hub, conn, cache.Filter{TournamentID: "T9"})

	if err := conn.WriteJSON(ClientMessage{Type: MessageTypeUnsubscribe, Filter: f}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if ack := readMessage(t, conn); ack.Type != MessageTypeUnsubscribed {
		t.Fatalf("ack = %+v", ack)
	}
	waitFor(t, func() bool { return hub.Subscriptions() == 1 })

	ctx := context.Background()
	hub.OnCacheEvent(ctx, cache.Event{Type: cache.EventInvalidated, Filter: f, Removed: 1})
	hub.OnCacheEvent(ctx, cache.Event{Type: cache.EventInvalidated, Filter: cache.Filter{TournamentID: "T9"}, Removed: 2})
	if got := change(t, readMessage(t, conn)); got.Filter.TournamentID != "T9" {
		t.Fatalf("change = %+v", got)
	}
}

func TestSubscribeTwiceIsOneSubscription(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	f := cache.Filter{TournamentID: "T1"}
	subscribe(t, hub, conn, f)

	if err := conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe, Filter: f}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readMessage(t, conn)
	// The follow is queued before the ack is sent.
	waitFor(t, func() bool { return len(hub.add) == 0 })
	time.Sleep(10 * time.Millisecond)
	if got := hub.Subscriptions(); got != 1 {
		t.Fatalf("subscriptions = %d", got)
	}
}

func TestUnscopedEventsReachEveryClient(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	waitFor(t, func() bool { return hub.Connections() == 1 })

	hub.OnCacheEvent(context.Background(), cache.Event{Type: cache.EventSwept, Removed: 9})
	if msg := readMessage(t, conn); msg.Type != MessageTypeSwept {
		t.Fatalf("message = %+v", msg)
	}
}

func TestSubscribeRequiresFilter(t *testing.T) {
	_, url := startHub(t)
	conn := dial(t, url)

	if err := conn.WriteJSON(ClientMessage{Type: MessageTypeSubscribe}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MessageTypeError {
		t.Fatalf("message = %+v", msg)
	}
	if err := conn.WriteJSON(map[string]string{"type": "follow"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MessageTypeError {
		t.Fatalf("unknown type message = %+v", msg)
	}

	if err := conn.WriteJSON(ClientMessage{Type: MessageTypePing}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MessageTypePong {
		t.Fatalf("message = %+v", msg)
	}
}
