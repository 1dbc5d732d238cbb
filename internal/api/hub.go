package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/smartcat/habitat-core/internal/alert"
	"github.com/smartcat/habitat-core/internal/command"
	"github.com/smartcat/habitat-core/internal/infrastructure/config"
	"github.com/smartcat/habitat-core/internal/infrastructure/logging"
	"github.com/smartcat/habitat-core/internal/snapshot"
)

// Hub fans committed snapshots, raised alerts and queued commands out to
// connected WebSocket clients.
//
// It implements alert.Sink and command.Notifier, and BroadcastSnapshot
// matches snapshot.ObserverFunc.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger
	now    func() time.Time

	// mu guards clients. Client send channels are only written under the
	// read lock and only closed under the write lock.
	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// NewHub creates a hub. Call Run to tie its lifetime to a context.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client to the hub.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "client_id", c.id, "clients", n)
}

// Unregister removes a client and closes its outbound queue. Repeated
// calls are no-ops.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Debug("websocket client disconnected", "client_id", c.id, "clients", n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends payload to every client subscribed to channel whose
// device filter, if any, matches deviceID. Slow clients miss the event.
func (h *Hub) Broadcast(channel, deviceID string, payload any) {
	frame, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		Channel:   channel,
		DeviceID:  deviceID,
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to encode websocket event", "channel", channel, "error", err)
		return
	}

	var delivered, dropped int
	h.mu.RLock()
	for c := range h.clients {
		if !c.accepts(channel, deviceID) {
			continue
		}
		if c.enqueue(frame) {
			delivered++
		} else {
			dropped++
		}
	}
	h.mu.RUnlock()

	if dropped > 0 {
		h.logger.Warn("websocket clients too slow, event dropped", "channel", channel, "dropped", dropped)
	}
	if delivered > 0 {
		h.logger.Debug("websocket event delivered", "channel", channel, "device_id", deviceID, "recipients", delivered)
	}
}

// BroadcastSnapshot publishes a committed snapshot on the snapshot channel.
func (h *Hub) BroadcastSnapshot(_ context.Context, snap snapshot.Snapshot) error {
	h.Broadcast(ChannelSnapshot, snap.DeviceID, snap)
	return nil
}

// Dispatch implements alert.Sink.
func (h *Hub) Dispatch(a alert.Alert) {
	h.Broadcast(ChannelAlert, a.DeviceID, a)
}

// Announce implements command.Notifier.
func (h *Hub) Announce(_ context.Context, cmd command.Command) error {
	h.Broadcast(ChannelCommand, cmd.DeviceID, cmd)
	return nil
}

// reply sends a non-event frame to a single client if it is still
// registered.
func (h *Hub) reply(c *WSClient, msg WSMessage) {
	msg.Timestamp = h.now().UTC().Format(time.RFC3339)
	frame, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		c.enqueue(frame)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	for c := range clients {
		close(c.send)
	}
	h.mu.Unlock()

	for c := range clients {
		if c.conn != nil {
			c.conn.Close()
		}
	}
	if len(clients) > 0 {
		h.logger.Info("websocket clients disconnected", "count", len(clients))
	}
}
