package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/classhall/standings/pkg/leaderboard/partition"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: In production, restrict to specific origins
		return true
	},
}

// ClientMessage represents messages sent by WebSocket clients.
type ClientMessage struct {
	Action    string `json:"action"`    // "subscribe" or "unsubscribe"
	Partition string `json:"partition"` // "CLASS:math-7b:WEEKLY", or "*" for all partitions
}

// ServerMessage represents messages sent to WebSocket clients.
type ServerMessage struct {
	Type    string      `json:"type"` // "snapshot.published", "subscribed", "unsubscribed", "error", "ping"
	Payload interface{} `json:"payload"`
}

// clientSubscriptions tracks which partitions a client is subscribed to.
type clientSubscriptions struct {
	mu         sync.RWMutex
	partitions map[string]bool
}

// NewClientSubscriptions creates a new clientSubscriptions tracker.
// Exported for testing.
func NewClientSubscriptions() *clientSubscriptions {
	return &clientSubscriptions{
		partitions: make(map[string]bool),
	}
}

// Subscribe adds a partition key to the subscription list.
// Exported for testing.
func (cs *clientSubscriptions) Subscribe(partitionKey string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.partitions[partitionKey] = true
}

// Unsubscribe removes a partition key from the subscription list.
// Exported for testing.
func (cs *clientSubscriptions) Unsubscribe(partitionKey string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.partitions, partitionKey)
}

// IsSubscribed checks if a partition key is subscribed. Wildcard (*) matches
// every partition. Exported for testing.
func (cs *clientSubscriptions) IsSubscribed(partitionKey string) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if cs.partitions["*"] {
		return true
	}
	return cs.partitions[partitionKey]
}

// HandleWebSocket upgrades the connection and streams snapshot.published
// events for subscribed partitions so clients can refresh leaderboards as
// new generations commit.
//
// Protocol:
// Client sends: {"action": "subscribe", "partition": "CLASS:math-7b:WEEKLY"}
// Client sends: {"action": "subscribe", "partition": "*"}
// Server sends: {"type": "snapshot.published", "payload": {...}}
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if c.App.RedisClient == nil {
		http.Error(w, "Real-time events not available (Redis disabled)", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func(conn *websocket.Conn) {
		if err := conn.Close(); err != nil {
			c.App.Logger.Debug("Failed to close WebSocket connection", zap.Error(err))
		}
	}(conn)

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subs := NewClientSubscriptions()
	send := make(chan ServerMessage, 256)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.recoverWS(r.RemoteAddr, "redis subscriber", cancel)
		c.forwardPublishedEvents(ctx, send, subs)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.recoverWS(r.RemoteAddr, "ping ticker", cancel)
		c.sendPings(ctx, send)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.recoverWS(r.RemoteAddr, "message writer", cancel)
		c.writeMessages(conn, send)
	}()

	// Blocks until the connection closes.
	c.readClientMessages(ctx, conn, cancel, subs, send)

	close(send)
	wg.Wait()

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

func (c *Controller) recoverWS(remoteAddr, component string, cancel context.CancelFunc) {
	if rec := recover(); rec != nil {
		c.App.Logger.Error("Panic in WebSocket goroutine",
			zap.String("component", component),
			zap.Any("panic", rec),
			zap.String("stack", string(debug.Stack())),
			zap.String("remote_addr", remoteAddr))
		cancel()
	}
}

// forwardPublishedEvents pattern-subscribes to every snapshot.published
// channel and forwards the ones the client asked for. Redis outages are
// retried with backoff; the subscription is restored when it recovers.
func (c *Controller) forwardPublishedEvents(ctx context.Context, send chan<- ServerMessage, subs *clientSubscriptions) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := c.pumpPublishedEvents(ctx, send, subs)
		if err == nil || ctx.Err() != nil {
			return
		}

		c.App.Logger.Warn("Redis subscription lost, retrying",
			zap.Duration("retry_in", backoff),
			zap.Error(err))

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxBackoff)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) pumpPublishedEvents(ctx context.Context, send chan<- ServerMessage, subs *clientSubscriptions) error {
	pubsub := c.App.RedisClient.PSubscribe(ctx, partition.PublishedPattern)
	defer func() { _ = pubsub.Close() }()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return context.Canceled
			}

			// Channel: standings:<TYPE>:<id>:<GRANULARITY>:snapshot.published
			partitionKey := strings.TrimSuffix(strings.TrimPrefix(msg.Channel, "standings:"), ":snapshot.published")
			if !subs.IsSubscribed(partitionKey) {
				continue
			}

			var event partition.PublishedEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				c.App.Logger.Warn("Dropping undecodable published event", zap.Error(err))
				continue
			}

			select {
			case send <- ServerMessage{Type: "snapshot.published", Payload: event}:
			default:
				// Slow consumer; drop rather than block the pump.
			}
		}
	}
}

func (c *Controller) sendPings(ctx context.Context, send chan<- ServerMessage) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case send <- ServerMessage{Type: "ping", Payload: map[string]int64{"timestamp": time.Now().Unix()}}:
			default:
			}
		}
	}
}

func (c *Controller) writeMessages(conn *websocket.Conn, send <-chan ServerMessage) {
	for msg := range send {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (c *Controller) readClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, subs *clientSubscriptions, send chan<- ServerMessage) {
	defer cancel()

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Action {
		case "subscribe":
			subs.Subscribe(msg.Partition)
			c.trySend(ctx, send, ServerMessage{Type: "subscribed", Payload: map[string]string{"partition": msg.Partition}})
		case "unsubscribe":
			subs.Unsubscribe(msg.Partition)
			c.trySend(ctx, send, ServerMessage{Type: "unsubscribed", Payload: map[string]string{"partition": msg.Partition}})
		default:
			c.trySend(ctx, send, ServerMessage{Type: "error", Payload: map[string]string{"message": "unknown action: " + msg.Action}})
		}
	}
}

func (c *Controller) trySend(ctx context.Context, send chan<- ServerMessage, msg ServerMessage) {
	select {
	case send <- msg:
	case <-ctx.Done():
	}
}
