package dto

import (
	"encoding/json"
	"time"
)

// StreamFrame is the wire format for one event on a streaming channel.
type StreamFrame struct {
	EventId   uint64          `json:"event_id"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// HelloFrame opens every streaming connection. EventsLost tells the client
// whether anything fell outside the retention window so it can force a full
// resync via the snapshot endpoint.
type HelloFrame struct {
	Type           string `json:"type"` // always "hello"
	Channel        string `json:"channel"`
	ResumeFrom     uint64 `json:"resume_from"`
	EventsLost     bool   `json:"events_lost"`
	ResyncRequired bool   `json:"resync_required"`
}

// Transcript event kinds. Interim events for an utterance are superseded by a
// later interim or final event with a higher event id; clients replace, not
// append.
const (
	TranscriptInterim = "interim"
	TranscriptFinal   = "final"
	TranscriptStopAck = "stop_ack"
)

type TranscriptEvent struct {
	Kind        string `json:"kind"`
	UtteranceId string `json:"utterance_id"`
	Text        string `json:"text"`
}

type PresenceEvent struct {
	Actor  string `json:"actor"`
	Action string `json:"action"` // "join" | "leave"
}

type CodeSuggestionEvent struct {
	Kind          string   `json:"kind"` // "suggestion" | "suggestion_returned"
	SuggestionId  string   `json:"suggestion_id"`
	Code          string   `json:"code"`
	Type          string   `json:"type"`
	Description   string   `json:"description"`
	Rationale     string   `json:"rationale"`
	Confidence    int      `json:"confidence"`
	Reimbursement float64  `json:"reimbursement"`
	RVU           float64  `json:"rvu"`
	EvidenceLinks []string `json:"evidence_links"`
}

type ComplianceFindingEvent struct {
	FindingId   string `json:"finding_id"`
	Rule        string `json:"rule"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}
