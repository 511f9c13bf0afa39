package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

type Channel string

const (
	ChannelTranscription Channel = "transcription"
	ChannelCompliance    Channel = "compliance"
	ChannelCodes         Channel = "codes"
	ChannelCollaboration Channel = "collaboration"
)

var Channels = []Channel{ChannelTranscription, ChannelCompliance, ChannelCodes, ChannelCollaboration}

func ValidChannel(name string) bool {
	for _, c := range Channels {
		if string(c) == name {
			return true
		}
	}
	return false
}

// Event is one frame on a (session, channel) stream. Ids are monotonic per
// stream starting at 1 and are never reused; payloads are never mutated.
type Event struct {
	SessionId string          `json:"session_id"`
	Channel   Channel         `json:"channel"`
	EventId   uint64          `json:"event_id"`
	Payload   json.RawMessage `json:"payload"`
	EmittedAt time.Time       `json:"emitted_at"`
}

type stream struct {
	lastID uint64
	buffer []Event // ring bounded at the replay window
}

// Bus sequences and fans out stream events. The per-stream ring buffer is the
// ordered source of truth; watermill gochannel messages only wake subscribers,
// which then drain everything past their cursor from the ring. Delivery is
// at-least-once; Subscribe dedupes by event id.
type Bus struct {
	pubSub *gochannel.GoChannel
	window int

	mu      sync.Mutex
	streams map[string]*stream
}

func New(replayWindow int) *Bus {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermill.NewStdLogger(false, false),
	)
	return &Bus{
		pubSub:  pubSub,
		window:  replayWindow,
		streams: make(map[string]*stream),
	}
}

func streamKey(sessionID string, channel Channel) string {
	return sessionID + ":" + string(channel)
}

func topic(sessionID string, channel Channel) string {
	return fmt.Sprintf("stream.%s.%s", sessionID, channel)
}

// Publish assigns the next event id for the (session, channel) stream, appends
// the event to the replay buffer and fans it out to live subscribers.
func (b *Bus) Publish(ctx context.Context, sessionID string, channel Channel, payload interface{}) (uint64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	b.mu.Lock()
	key := streamKey(sessionID, channel)
	st, ok := b.streams[key]
	if !ok {
		st = &stream{}
		b.streams[key] = st
	}
	st.lastID++
	event := Event{
		SessionId: sessionID,
		Channel:   channel,
		EventId:   st.lastID,
		Payload:   raw,
		EmittedAt: time.Now(),
	}
	st.buffer = append(st.buffer, event)
	if len(st.buffer) > b.window {
		st.buffer = st.buffer[len(st.buffer)-b.window:]
	}
	b.mu.Unlock()

	// The message is a wake-up only; subscribers read ordered events from the
	// ring. Gochannel does not guarantee delivery order across goroutines, so
	// nothing order-sensitive may ride the message itself.
	msg := message.NewMessage(watermill.NewUUID(), nil)
	if err := b.pubSub.Publish(topic(sessionID, channel), msg); err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}
	return event.EventId, nil
}

// eventsAfter returns the retained events with id > after, oldest first.
func (b *Bus) eventsAfter(sessionID string, channel Channel, after uint64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[streamKey(sessionID, channel)]
	if !ok {
		return nil
	}
	var out []Event
	for _, ev := range st.buffer {
		if ev.EventId > after {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribe delivers events with id > fromEventID: first the retained buffer,
// then live events. The returned channel closes when ctx is cancelled. Events
// older than the retention window cannot be replayed; callers should compare
// fromEventID against OldestRetained to detect loss.
func (b *Bus) Subscribe(ctx context.Context, sessionID string, channel Channel, fromEventID uint64) (<-chan Event, error) {
	msgs, err := b.pubSub.Subscribe(ctx, topic(sessionID, channel))
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 256)
	go func() {
		defer close(out)
		last := fromEventID
		drain := func() bool {
			for _, ev := range b.eventsAfter(sessionID, channel, last) {
				select {
				case out <- ev:
					last = ev.EventId
				case <-ctx.Done():
					return false
				}
			}
			return true
		}
		// Replay happens after the live subscription is open so nothing can
		// fall between replay and live; wake-ups arriving for already-drained
		// events are no-ops.
		if !drain() {
			return
		}
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				msg.Ack()
				if !drain() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// LatestID returns the highest assigned event id for a stream (0 if none).
func (b *Bus) LatestID(sessionID string, channel Channel) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.streams[streamKey(sessionID, channel)]; ok {
		return st.lastID
	}
	return 0
}

// LatestIDs returns the per-channel high-water marks for a session.
func (b *Bus) LatestIDs(sessionID string) map[Channel]uint64 {
	ids := make(map[Channel]uint64, len(Channels))
	for _, c := range Channels {
		ids[c] = b.LatestID(sessionID, c)
	}
	return ids
}

// OldestRetained returns the oldest replayable event id (0 if the stream is
// empty). A subscriber resuming from before this id has lost events.
func (b *Bus) OldestRetained(sessionID string, channel Channel) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok := b.streams[streamKey(sessionID, channel)]; ok && len(st.buffer) > 0 {
		return st.buffer[0].EventId
	}
	return 0
}

// Tail returns up to n most recent retained events, oldest first. The state
// machine reads this working set synchronously at gate time.
func (b *Bus) Tail(sessionID string, channel Channel, n int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.streams[streamKey(sessionID, channel)]
	if !ok {
		return nil
	}
	start := 0
	if n > 0 && len(st.buffer) > n {
		start = len(st.buffer) - n
	}
	tail := make([]Event, len(st.buffer)-start)
	copy(tail, st.buffer[start:])
	return tail
}

// Drop releases all buffers for a session after archival.
func (b *Bus) Drop(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range Channels {
		delete(b.streams, streamKey(sessionID, c))
	}
}

func (b *Bus) Close() error {
	return b.pubSub.Close()
}
