package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/smartcat/habitat-core/internal/infrastructure/config"
)

// Broadcast channels.
const (
	ChannelSnapshot = "snapshot"
	ChannelAlert    = "alert"
	ChannelCommand  = "command"
)

var allChannels = []string{ChannelSnapshot, ChannelAlert, ChannelCommand}

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	wsSendBufferSize = 256
)

// WSMessage is a frame sent to or from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload for subscribe/unsubscribe messages.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// inboundFrame is what clients send; the payload is decoded per type.
type inboundFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// device, when set, restricts events to that device. Events without a
	// device always pass.
	device string

	mu       sync.RWMutex
	channels map[string]struct{}
}

// CheckOrigin admits everything; browsers are filtered by the CORS layer.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the connection. Query parameters:
//   - channels: comma-separated initial subscriptions (default: all)
//   - device: only receive events for this device
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	channels, bad := parseChannels(r.URL.Query().Get("channels"))
	if bad != "" {
		writeBadRequest(w, "unknown channel: "+bad)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", requestID(r.Context()))
		return
	}

	c := &WSClient{
		id:       uuid.NewString(),
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		device:   r.URL.Query().Get("device"),
		channels: make(map[string]struct{}, len(channels)),
	}
	c.subscribe(channels)

	s.hub.Register(c)
	keepalive, grace := wsTimings(s.wsCfg)
	go c.writeLoop(keepalive, grace)
	go c.readLoop(int64(s.wsCfg.MaxMessageSize), keepalive+grace)
}

// parseChannels splits a comma-separated channel list. An empty list means
// every channel; the first unknown name is returned as bad.
func parseChannels(raw string) (channels []string, bad string) {
	if raw == "" {
		return allChannels, ""
	}
	for _, ch := range strings.Split(raw, ",") {
		ch = strings.TrimSpace(ch)
		if !slices.Contains(allChannels, ch) {
			return nil, ch
		}
		channels = append(channels, ch)
	}
	return channels, ""
}

// wsTimings returns the ping interval and pong grace period, 30s and 10s
// when unset.
func wsTimings(cfg config.WebSocketConfig) (keepalive, grace time.Duration) {
	keepalive, grace = 30*time.Second, 10*time.Second
	if cfg.PingInterval > 0 {
		keepalive = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		grace = time.Duration(cfg.PongTimeout) * time.Second
	}
	return keepalive, grace
}

func (c *WSClient) readLoop(limit int64, idle time.Duration) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if limit > 0 {
		c.conn.SetReadLimit(limit)
	}
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }
	//nolint:errcheck // a failed deadline surfaces as a read error
	extend("")
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			}
			return
		}
		// Browsers do not always answer protocol pings; any frame counts.
		//nolint:errcheck // a failed deadline surfaces as a read error
		extend("")
		c.handle(data)
	}
}

func (c *WSClient) writeLoop(keepalive, grace time.Duration) {
	ticker := time.NewTicker(keepalive)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // a failed deadline surfaces as a write error
		c.conn.SetWriteDeadline(time.Now().Add(grace))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case frame, open := <-c.send:
			if !open {
				//nolint:errcheck // peer may already be gone
				write(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handle(data []byte) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		c.fail("", "invalid JSON message")
		return
	}

	switch in.Type {
	case WSTypePing:
		c.hub.reply(c, WSMessage{Type: WSTypePong, ID: in.ID})
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var req WSSubscribePayload
		if len(in.Payload) == 0 || json.Unmarshal(in.Payload, &req) != nil {
			c.fail(in.ID, "invalid subscription payload")
			return
		}
		if i := slices.IndexFunc(req.Channels, func(ch string) bool { return !slices.Contains(allChannels, ch) }); i >= 0 {
			c.fail(in.ID, "unknown channel: "+req.Channels[i])
			return
		}
		key := "subscribed"
		if in.Type == WSTypeSubscribe {
			c.subscribe(req.Channels)
		} else {
			c.unsubscribe(req.Channels)
			key = "unsubscribed"
		}
		c.hub.reply(c, WSMessage{Type: WSTypeResponse, ID: in.ID, Payload: map[string]any{key: req.Channels}})
	default:
		c.fail(in.ID, "unknown message type: "+in.Type)
	}
}

func (c *WSClient) fail(id, message string) {
	c.hub.reply(c, WSMessage{Type: WSTypeError, ID: id, Payload: map[string]string{"message": message}})
}

func (c *WSClient) subscribe(channels []string) {
	c.mu.Lock()
	for _, ch := range channels {
		c.channels[ch] = struct{}{}
	}
	c.mu.Unlock()
}

func (c *WSClient) unsubscribe(channels []string) {
	c.mu.Lock()
	for _, ch := range channels {
		delete(c.channels, ch)
	}
	c.mu.Unlock()
}

func (c *WSClient) accepts(channel, deviceID string) bool {
	if c.device != "" && deviceID != "" && c.device != deviceID {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

// enqueue must be called with the hub's read lock held.
func (c *WSClient) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}
