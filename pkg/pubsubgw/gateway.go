// Package pubsubgw implements the authenticated WebSocket gateway that
// fans bus events (topology, health, speed-test) out to connected clients
// and accepts a small set of client-initiated actions.
package pubsubgw

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wisbric/cartographer/pkg/kvstore"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SnapshotSource supplies the latest in-memory snapshot for a network, sent
// immediately to a newly connected client.
type SnapshotSource interface {
	LastSnapshotJSON(networkID string) ([]byte, bool)
}

// Gateway upgrades HTTP connections to WebSocket and bridges them to the
// shared KV store's pub/sub channels.
type Gateway struct {
	kv        *kvstore.Store
	snapshots SnapshotSource
	logger    *slog.Logger
	channels  []string

	mu      sync.Mutex
	clients map[*client]struct{}
}

// New builds a Gateway subscribing to the given bus channels.
func New(kv *kvstore.Store, snapshots SnapshotSource, logger *slog.Logger, channels ...string) *Gateway {
	return &Gateway{
		kv:        kv,
		snapshots: snapshots,
		logger:    logger,
		channels:  channels,
		clients:   make(map[*client]struct{}),
	}
}

type client struct {
	conn      *websocket.Conn
	send      chan []byte
	networkID string
	mu        sync.Mutex
}

// ServeHTTP upgrades the connection, sends the latest snapshot for the
// default/legacy network, then runs the read and write pumps until the
// client disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("pubsubgw: upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 32), networkID: "legacy"}

	g.mu.Lock()
	g.clients[c] = struct{}{}
	g.mu.Unlock()

	if payload, ok := g.snapshots.LastSnapshotJSON(c.networkID); ok {
		c.send <- payload
	}

	done := make(chan struct{})
	go g.writePump(c, done)
	g.readPump(c, done)

	g.mu.Lock()
	delete(g.clients, c)
	g.mu.Unlock()
}

type clientMessage struct {
	Action    string `json:"action"`
	NetworkID string `json:"network_id"`
}

// readPump decodes client-initiated actions until the connection closes.
func (g *Gateway) readPump(c *client, done chan struct{}) {
	defer close(done)
	defer c.conn.Close()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue // unknown/malformed actions are ignored
		}

		switch msg.Action {
		case "request_snapshot":
			networkID := msg.NetworkID
			if networkID == "" {
				networkID = c.networkID
			}
			if payload, ok := g.snapshots.LastSnapshotJSON(networkID); ok {
				select {
				case c.send <- payload:
				default:
				}
			}
		case "subscribe_network":
			if msg.NetworkID != "" {
				c.mu.Lock()
				c.networkID = msg.NetworkID
				c.mu.Unlock()
			}
		default:
			// unknown actions are ignored per contract
		}
	}
}

// writePump forwards bus messages and periodic pings to the client,
// detecting broken sockets lazily on the next send.
func (g *Gateway) writePump(c *client, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	lastActivity := time.Now()

	for {
		select {
		case <-done:
			return
		case payload := <-c.send:
			lastActivity = time.Now()
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.conn.Close()
				return
			}
		case <-ticker.C:
			if time.Since(lastActivity) < pingInterval {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
				c.conn.Close()
				return
			}
			lastActivity = time.Now()
		}
	}
}

// Broadcast starts a goroutine per configured channel, subscribing via the
// shared KV store and fanning received messages out to every connected
// client. Run under a cancellable context; returns once ctx is done.
func (g *Gateway) Broadcast(ctx context.Context) {
	var wg sync.WaitGroup
	for _, ch := range g.channels {
		wg.Add(1)
		go func(channel string) {
			defer wg.Done()
			g.subscribeLoop(ctx, channel)
		}(ch)
	}
	wg.Wait()
}

func (g *Gateway) subscribeLoop(ctx context.Context, channel string) {
	sub := g.kv.Subscribe(ctx, channel)
	defer sub.Close()

	msgCh := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			g.fanOut([]byte(msg.Payload))
		}
	}
}

func (g *Gateway) fanOut(payload []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for c := range g.clients {
		select {
		case c.send <- payload:
		default:
			g.logger.Debug("pubsubgw: dropping message for slow client")
		}
	}
}

// ConnectedClients reports the current number of connected clients.
func (g *Gateway) ConnectedClients() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}
