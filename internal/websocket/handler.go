package websocket

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"clinical-workflow-be/internal/dto"
	"clinical-workflow-be/internal/repository/memory"
	"clinical-workflow-be/pkg/eventbus"
	"clinical-workflow-be/pkg/inference"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// Gateway attaches websocket connections to session streams: cursor
// negotiation, replay, live fan-out and grace-period parking on disconnect.
type Gateway struct {
	hub         *Hub
	bus         *eventbus.Bus
	cursors     *memory.CursorRepository
	transcriber inference.Transcriber
}

func NewGateway(hub *Hub, bus *eventbus.Bus, cursors *memory.CursorRepository, transcriber inference.Transcriber) *Gateway {
	return &Gateway{
		hub:         hub,
		bus:         bus,
		cursors:     cursors,
		transcriber: transcriber,
	}
}

// negotiateResume picks the replay cursor for a connecting client. Priority:
// explicit from_event_id, then a parked cursor from a recent disconnect, then
// a full replay of the retained stream (cursor 0).
func (g *Gateway) negotiateResume(sessionID string, channel eventbus.Channel, clientID, rawFrom string) (uint64, bool) {
	var resumeFrom uint64
	explicit := false
	if rawFrom != "" {
		if v, err := strconv.ParseUint(rawFrom, 10, 64); err == nil {
			resumeFrom = v
			explicit = true
		}
	}
	if !explicit {
		if parked, ok := g.cursors.Resume(sessionID, string(channel), clientID); ok {
			resumeFrom = parked
		}
	}

	// Everything between the resume point and the oldest retained event is
	// gone; the client must resync through the snapshot endpoint.
	eventsLost := false
	if oldest := g.bus.OldestRetained(sessionID, channel); oldest > 0 && resumeFrom+1 < oldest {
		eventsLost = true
		resumeFrom = oldest - 1
	}
	return resumeFrom, eventsLost
}

// ServeStream handles one websocket connection for a (session, channel)
// stream.
func (g *Gateway) ServeStream(conn *websocket.Conn, sessionID string, channel eventbus.Channel, actor string) {
	clientID := conn.Query("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	resumeFrom, eventsLost := g.negotiateResume(sessionID, channel, clientID, conn.Query("from_event_id"))

	hello := dto.HelloFrame{
		Type:           "hello",
		Channel:        string(channel),
		ResumeFrom:     resumeFrom,
		EventsLost:     eventsLost,
		ResyncRequired: eventsLost,
	}
	helloData, _ := json.Marshal(hello)
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, helloData); err != nil {
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := g.bus.Subscribe(ctx, sessionID, channel, resumeFrom)
	if err != nil {
		g.hub.logger.Error("Gateway", "Stream subscription failed", map[string]interface{}{
			"session_id": sessionID,
			"channel":    channel,
			"error":      err.Error(),
		})
		cancel()
		conn.Close()
		return
	}

	client := &Client{
		Hub:         g.hub,
		Conn:        conn,
		SessionID:   sessionID,
		Channel:     channel,
		ClientID:    clientID,
		Actor:       actor,
		Send:        make(chan outbound, 256),
		cancel:      cancel,
		transcriber: g.transcriber,
	}
	client.lastDelivered.Store(resumeFrom)
	g.hub.register <- client

	go client.forwardEvents(events)
	go client.writePump()
	client.readPump() // blocks until the connection drops

	g.cursors.Park(sessionID, string(channel), clientID, client.lastDelivered.Load())
}
