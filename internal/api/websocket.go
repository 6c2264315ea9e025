package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/config"
)

// Message types exchanged with WebSocket clients.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

const (
	wsSendBufferSize    = 256
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

// WSMessage is the envelope of every server-to-client message.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe requests.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsRequest is a client-to-server message. The payload is decoded only
// once the type is known.
type wsRequest struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// wsTimings holds the keepalive durations derived from configuration.
type wsTimings struct {
	ping      time.Duration
	writeWait time.Duration
	readWait  time.Duration
	maxSize   int64
}

func newWSTimings(cfg config.WebSocketConfig) wsTimings {
	ping := time.Duration(cfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = defaultPingInterval
	}
	pong := time.Duration(cfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = defaultPongTimeout
	}
	return wsTimings{
		ping:      ping,
		writeWait: pong,
		readWait:  ping + pong,
		maxSize:   int64(cfg.MaxMessageSize),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WSClient is one authenticated WebSocket connection.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	ownerID string
	timings wsTimings

	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once

	mu            sync.RWMutex
	subscriptions map[string]struct{}
}

func newWSClient(hub *Hub, conn *websocket.Conn, ownerID string, timings wsTimings) *WSClient {
	return &WSClient{
		hub:     hub,
		conn:    conn,
		ownerID: ownerID,
		timings: timings,
		send:    make(chan []byte, wsSendBufferSize),
		done:    make(chan struct{}),
		subscriptions: map[string]struct{}{
			EventTwinUpdated: {},
			EventTwinDeleted: {},
		},
	}
}

// handleWebSocket upgrades a request carrying a ticket from
// POST /auth/ws-ticket. The ticket's owner scopes every event the
// connection receives.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		writeUnauthenticated(w, "ticket query parameter is required")
		return
	}
	owner, ok := s.tickets.redeem(ticket)
	if !ok {
		writeUnauthenticated(w, "invalid or expired ticket")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "owner_id", owner, "error", err)
		return
	}

	c := newWSClient(s.hub, conn, owner, newWSTimings(s.wsCfg))
	s.hub.Register(c)

	go c.writeLoop()
	go c.readLoop()
}

// shutdown stops the write loop. Safe to call repeatedly.
func (c *WSClient) shutdown() {
	c.stopOnce.Do(func() { close(c.done) })
}

// enqueue queues data for the write loop, reporting false when the
// buffer is full or the client has stopped.
func (c *WSClient) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *WSClient) extendRead() {
	//nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetReadDeadline(time.Now().Add(c.timings.readWait))
}

func (c *WSClient) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.timings.maxSize)
	c.extendRead()
	c.conn.SetPongHandler(func(string) error {
		c.extendRead()
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "owner_id", c.ownerID, "error", err)
			}
			return
		}
		// Browsers do not always answer protocol pings; application
		// traffic counts as liveness too.
		c.extendRead()
		c.dispatch(data)
	}
}

func (c *WSClient) writeLoop() {
	ticker := time.NewTicker(c.timings.ping)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // a failed deadline surfaces on the write
		c.conn.SetWriteDeadline(time.Now().Add(c.timings.writeWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case <-c.done:
			//nolint:errcheck // peer may already be gone
			write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case data := <-c.send:
			if err := write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) dispatch(data []byte) {
	var req wsRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply("", WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch req.Type {
	case WSTypePing:
		c.reply(req.ID, WSTypePong, nil)
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.changeSubscriptions(req)
	default:
		c.reply(req.ID, WSTypeError, errorBody("unknown message type: "+req.Type))
	}
}

// changeSubscriptions applies a subscribe or unsubscribe request. The
// whole request is rejected if it names a channel the hub does not
// publish.
func (c *WSClient) changeSubscriptions(req wsRequest) {
	var body WSSubscribePayload
	if len(req.Payload) == 0 || json.Unmarshal(req.Payload, &body) != nil {
		c.reply(req.ID, WSTypeError, errorBody("payload must be {\"channels\": [...]}"))
		return
	}

	var unknown []string
	for _, ch := range body.Channels {
		if _, ok := knownChannels[ch]; !ok {
			unknown = append(unknown, ch)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		c.reply(req.ID, WSTypeError, map[string]any{
			"message":  "unknown channel",
			"channels": unknown,
		})
		return
	}

	subscribe := req.Type == WSTypeSubscribe
	c.mu.Lock()
	for _, ch := range body.Channels {
		if subscribe {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
	c.mu.Unlock()

	key := "unsubscribed"
	if subscribe {
		key = "subscribed"
	}
	c.reply(req.ID, WSTypeResponse, map[string]any{key: body.Channels})
}

func (c *WSClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[channel]
	return ok
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err == nil {
		c.enqueue(data)
	}
}

func errorBody(message string) map[string]string {
	return map[string]string{"message": message}
}
