package pubsubgw

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/cartographer/pkg/kvstore"
)

type fakeSnapshots struct{ data map[string][]byte }

func (f fakeSnapshots) LastSnapshotJSON(networkID string) ([]byte, bool) {
	v, ok := f.data[networkID]
	return v, ok
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGatewaySendsSnapshotOnConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	gw := New(kvstore.New(rdb), fakeSnapshots{data: map[string][]byte{
		"legacy": []byte(`{"snapshot_id":"abc"}`),
	}}, testLogger(), "metrics:topology")

	srv := httptest.NewServer(gw)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(payload), `"snapshot_id":"abc"`) {
		t.Fatalf("payload = %s, want initial snapshot", payload)
	}
}

func TestGatewayBroadcastsBusEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	gw := New(kvstore.New(rdb), fakeSnapshots{data: map[string][]byte{}}, testLogger(), "metrics:topology")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gw.Broadcast(ctx)

	srv := httptest.NewServer(gw)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the subscribe loop time to register before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for gw.ConnectedClients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	event, _ := json.Marshal(map[string]string{"type": "health_update"})
	if err := rdb.Publish(ctx, "metrics:topology", event).Err(); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(payload), "health_update") {
		t.Fatalf("payload = %s, want health_update event", payload)
	}
}
