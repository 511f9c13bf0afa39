package websocket

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"clinical-workflow-be/internal/dto"
	"clinical-workflow-be/pkg/eventbus"
	"clinical-workflow-be/pkg/inference"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 64 * 1024 // audio frames on the transcription channel
)

// outbound carries one serialized stream frame plus its event id so the write
// pump can track the delivery cursor.
type outbound struct {
	eventID uint64
	data    []byte
}

// Client is a middleman between one websocket connection and a single
// (session, channel) stream.
type Client struct {
	Hub *Hub

	// The websocket connection.
	Conn *websocket.Conn

	SessionID string
	Channel   eventbus.Channel
	ClientID  string
	Actor     string

	// Buffered channel of outbound frames.
	Send chan outbound

	// Highest event id written to the connection; parked on disconnect.
	lastDelivered atomic.Uint64

	// Stops the bus forwarder when the connection dies.
	cancel context.CancelFunc

	transcriber inference.Transcriber
}

// forwardEvents drains the bus subscription into the send buffer. A client
// that cannot keep up is disconnected rather than allowed to stall the stream.
// As the sole sender on Send it is also the only goroutine allowed to close it.
func (c *Client) forwardEvents(events <-chan eventbus.Event) {
	defer close(c.Send)
	for ev := range events {
		frame := dto.StreamFrame{
			EventId:   ev.EventId,
			Channel:   string(ev.Channel),
			Payload:   ev.Payload,
			Timestamp: ev.EmittedAt,
		}
		data, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		select {
		case c.Send <- outbound{eventID: ev.EventId, data: data}:
		default:
			c.Hub.logger.Warn("Client", "Send buffer full, dropping connection", map[string]interface{}{
				"session_id": c.SessionID,
				"channel":    c.Channel,
				"client_id":  c.ClientID,
			})
			c.Conn.Close()
			return
		}
	}
}

// readPump pumps inbound messages. Only the transcription channel accepts
// client payloads (audio frames and utterance control); everything else treats
// reads as keepalive traffic.
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		c.Hub.unregister <- c
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(maxFrameSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	var utteranceID string
	for {
		mt, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("Client", "Unexpected close", map[string]interface{}{
					"session_id": c.SessionID,
					"client_id":  c.ClientID,
					"error":      err.Error(),
				})
			}
			break
		}
		if c.Channel != eventbus.ChannelTranscription {
			continue
		}

		switch mt {
		case websocket.BinaryMessage:
			if utteranceID == "" {
				continue
			}
			c.handleAudioFrame(utteranceID, message)
		case websocket.TextMessage:
			var control struct {
				Action      string `json:"action"`
				UtteranceId string `json:"utterance_id"`
			}
			if err := json.Unmarshal(message, &control); err != nil {
				continue
			}
			switch control.Action {
			case "start_utterance":
				utteranceID = control.UtteranceId
			case "stop":
				c.handleStop(control.UtteranceId)
				if control.UtteranceId == utteranceID {
					utteranceID = ""
				}
			}
		}
	}
}

func (c *Client) handleAudioFrame(utteranceID string, frame []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	text, err := c.transcriber.TranscribeFrame(ctx, utteranceID, frame)
	if err != nil {
		c.Hub.logger.Warn("Client", "Transcription frame failed", map[string]interface{}{
			"session_id":   c.SessionID,
			"utterance_id": utteranceID,
			"error":        err.Error(),
		})
		return
	}
	c.publishTranscript(dto.TranscriptEvent{
		Kind:        dto.TranscriptInterim,
		UtteranceId: utteranceID,
		Text:        text,
	})
}

// handleStop finalizes the utterance: the final transcript supersedes every
// interim for the utterance, then a stop_ack closes it out.
func (c *Client) handleStop(utteranceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	text, err := c.transcriber.FinalizeUtterance(ctx, utteranceID)
	if err != nil {
		c.Hub.logger.Warn("Client", "Utterance finalization failed", map[string]interface{}{
			"session_id":   c.SessionID,
			"utterance_id": utteranceID,
			"error":        err.Error(),
		})
	} else {
		c.publishTranscript(dto.TranscriptEvent{
			Kind:        dto.TranscriptFinal,
			UtteranceId: utteranceID,
			Text:        text,
		})
	}
	c.publishTranscript(dto.TranscriptEvent{
		Kind:        dto.TranscriptStopAck,
		UtteranceId: utteranceID,
	})
}

func (c *Client) publishTranscript(event dto.TranscriptEvent) {
	if _, err := c.Hub.bus.Publish(context.Background(), c.SessionID, eventbus.ChannelTranscription, event); err != nil {
		c.Hub.logger.Warn("Client", "Failed to publish transcript event", map[string]interface{}{
			"session_id": c.SessionID,
			"error":      err.Error(),
		})
	}
}

// writePump pumps frames from the send buffer to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The forwarder closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message.data); err != nil {
				return
			}
			if message.eventID > c.lastDelivered.Load() {
				c.lastDelivered.Store(message.eventID)
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
