package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/device"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/config"
	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/logging"
)

// Twin event channels. New clients are subscribed to both.
const (
	EventTwinUpdated = "twin.updated"
	EventTwinDeleted = "twin.deleted"
)

// knownChannels is the set a client may subscribe to.
var knownChannels = map[string]struct{}{
	EventTwinUpdated: {},
	EventTwinDeleted: {},
}

// Hub fans twin events out to the WebSocket clients of the twin's owner.
// *Hub satisfies control.Notifier and reconcile.Notifier.
//
// Clients are indexed by owner, so an event only touches the connections
// of the user it belongs to.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	byOwner map[string]map[*WSClient]struct{}
	count   int
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		byOwner: make(map[string]map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	owners := h.byOwner
	h.byOwner = make(map[string]map[*WSClient]struct{})
	h.count = 0
	h.mu.Unlock()

	for _, set := range owners {
		for c := range set {
			c.shutdown()
		}
	}
}

// Register adds a client under its owner.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	set, ok := h.byOwner[c.ownerID]
	if !ok {
		set = make(map[*WSClient]struct{})
		h.byOwner[c.ownerID] = set
	}
	if _, dup := set[c]; !dup {
		set[c] = struct{}{}
		h.count++
	}
	n := h.count
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", "owner_id", c.ownerID, "clients", n)
}

// Unregister removes a client and stops its writer. It is safe to call
// more than once.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	if set, ok := h.byOwner[c.ownerID]; ok {
		if _, present := set[c]; present {
			delete(set, c)
			h.count--
		}
		if len(set) == 0 {
			delete(h.byOwner, c.ownerID)
		}
	}
	n := h.count
	h.mu.Unlock()

	c.shutdown()
	h.logger.Debug("websocket client disconnected", "owner_id", c.ownerID, "clients", n)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// TwinUpdated sends the twin's current view to its owner's clients.
func (h *Hub) TwinUpdated(t device.Twin) {
	h.Publish(t.OwnerID, EventTwinUpdated, newTwinView(t))
}

// TwinDeleted tells the owner's clients the twin is gone.
func (h *Hub) TwinDeleted(ownerID, deviceID string) {
	h.Publish(ownerID, EventTwinDeleted, map[string]string{"deviceId": deviceID})
}

// Publish delivers an event on channel to ownerID's subscribed clients.
// Clients whose buffer is full miss the event.
func (h *Hub) Publish(ownerID, channel string, payload any) {
	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.byOwner[ownerID]))
	for c := range h.byOwner[ownerID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}

	delivered, skipped := 0, 0
	for _, c := range targets {
		if !c.isSubscribed(channel) {
			continue
		}
		if c.enqueue(data) {
			delivered++
		} else {
			skipped++
		}
	}
	if skipped > 0 {
		h.logger.Warn("websocket clients too slow, event skipped",
			"channel", channel, "owner_id", ownerID, "skipped", skipped)
	}
	if delivered > 0 {
		h.logger.Debug("event published", "channel", channel, "owner_id", ownerID, "recipients", delivered)
	}
}
