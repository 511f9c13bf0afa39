package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"clinical-workflow-be/internal/dto"
	"clinical-workflow-be/internal/pkg/logger"
	"clinical-workflow-be/pkg/eventbus"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// streamKey identifies one logical stream: a session's channel.
type streamKey struct {
	sessionID string
	channel   eventbus.Channel
}

type Hub struct {
	// Registered clients map: (session, channel) -> attached clients.
	clients map[streamKey][]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Lock for safe map access
	mu sync.RWMutex

	// Redis connection for cross-instance presence relay
	rdb *redis.Client

	// Local event source; relayed presence from other instances is re-issued
	// here so it gets a proper per-channel event id.
	bus *eventbus.Bus

	// Identifies this instance on the relay channel to suppress echo.
	instanceID string

	// Dedicated Logger
	logger logger.ILogger
}

func NewHub(rdb *redis.Client, bus *eventbus.Bus, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[streamKey][]*Client),
		rdb:        rdb,
		bus:        bus,
		instanceID: uuid.NewString(),
		logger:     log,
	}
}

func (h *Hub) Run() {
	// Start Redis relay if Redis is available
	if h.rdb != nil {
		go h.subscribeToRedis()
	}

	for {
		select {
		case client := <-h.register:
			key := streamKey{sessionID: client.SessionID, channel: client.Channel}
			h.mu.Lock()
			h.clients[key] = append(h.clients[key], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Client attached", map[string]interface{}{
				"session_id": client.SessionID,
				"channel":    client.Channel,
				"client_id":  client.ClientID,
			})
			h.announcePresence(client, "join")

		case client := <-h.unregister:
			key := streamKey{sessionID: client.SessionID, channel: client.Channel}
			h.mu.Lock()
			// Send is closed by the client's event forwarder, never here:
			// the forwarder may still be draining the bus subscription when
			// the unregister lands.
			if clients, ok := h.clients[key]; ok {
				for i, c := range clients {
					if c == client {
						h.clients[key] = append(clients[:i], clients[i+1:]...)
						break
					}
				}
				if len(h.clients[key]) == 0 {
					delete(h.clients, key)
				}
			}
			h.mu.Unlock()
			h.logger.Info("Hub", "Client detached", map[string]interface{}{
				"session_id": client.SessionID,
				"channel":    client.Channel,
				"client_id":  client.ClientID,
			})
			h.announcePresence(client, "leave")
		}
	}
}

// announcePresence publishes a join/leave event on the session's collaboration
// channel and relays it to sibling instances.
func (h *Hub) announcePresence(client *Client, action string) {
	event := dto.PresenceEvent{Actor: client.Actor, Action: action}
	if _, err := h.bus.Publish(context.Background(), client.SessionID, eventbus.ChannelCollaboration, event); err != nil {
		h.logger.Warn("Hub", "Failed to publish presence event", map[string]interface{}{
			"session_id": client.SessionID,
			"error":      err.Error(),
		})
	}

	if h.rdb == nil {
		return
	}
	payload, _ := json.Marshal(presenceRelay{
		Origin:    h.instanceID,
		SessionID: client.SessionID,
		Actor:     client.Actor,
		Action:    action,
	})
	h.rdb.Publish(context.Background(), "stream_presence", payload)
}

type presenceRelay struct {
	Origin    string `json:"origin"`
	SessionID string `json:"session_id"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
}

// subscribeToRedis mirrors presence changes from sibling instances into the
// local bus so every instance's collaboration stream sees the full roster.
func (h *Hub) subscribeToRedis() {
	ctx := context.Background()
	pubsub := h.rdb.Subscribe(ctx, "stream_presence")
	defer pubsub.Close()

	for msg := range pubsub.Channel() {
		var relay presenceRelay
		if err := json.Unmarshal([]byte(msg.Payload), &relay); err != nil {
			h.logger.Warn("Hub", "Malformed presence relay message", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		if relay.Origin == h.instanceID {
			continue
		}

		event := dto.PresenceEvent{Actor: relay.Actor, Action: relay.Action}
		if _, err := h.bus.Publish(ctx, relay.SessionID, eventbus.ChannelCollaboration, event); err != nil {
			h.logger.Warn("Hub", "Failed to re-issue relayed presence", map[string]interface{}{
				"session_id": relay.SessionID,
				"error":      err.Error(),
			})
		}
	}
}
