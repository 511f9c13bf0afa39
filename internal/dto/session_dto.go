package dto

import (
	"time"

	"clinical-workflow-be/internal/entity"

	"github.com/google/uuid"
)

type CreateSessionRequest struct {
	EncounterId      string                   `json:"encounter_id" validate:"required"`
	PatientId        string                   `json:"patient_id" validate:"required"`
	NoteId           string                   `json:"note_id" validate:"required"`
	NoteContent      string                   `json:"note_content"`
	InitialCodes     []SelectCodeRequest      `json:"initial_codes" validate:"dive"`
	ComplianceIssues []entity.ComplianceIssue `json:"compliance_issues"`
	Actor            string                   `json:"actor" validate:"required"`
}

type SessionResponse struct {
	Id                   uuid.UUID                   `json:"id"`
	EncounterId          string                      `json:"encounter_id"`
	PatientId            string                      `json:"patient_id"`
	NoteId               string                      `json:"note_id"`
	Status               string                      `json:"status"`
	CurrentStep          int                         `json:"current_step"`
	StepStates           []entity.StepState          `json:"step_states"`
	NoteContentSnapshot  string                      `json:"note_content_snapshot"`
	EnhancedContent      string                      `json:"enhanced_content,omitempty"`
	SummaryContent       string                      `json:"summary_content,omitempty"`
	CustomContent        string                      `json:"custom_content,omitempty"`
	AcceptedVariant      string                      `json:"accepted_variant,omitempty"`
	SelectedCodes        []entity.SelectedCode       `json:"selected_codes"`
	ComplianceIssues     []entity.ComplianceIssue    `json:"compliance_issues"`
	SuggestionDecisions  map[string]string           `json:"suggestion_decisions"`
	ReimbursementSummary entity.ReimbursementSummary `json:"reimbursement_summary"`
	BlockingIssues       []string                    `json:"blocking_issues"`
	AuditTrail           []entity.AuditEntry         `json:"audit_trail"`
	CreatedAt            time.Time                   `json:"created_at"`
	UpdatedAt            *time.Time                  `json:"updated_at"`
	Version              int                         `json:"version"`
}

// SnapshotResponse is the REST fallback for degraded streaming channels.
// Clients reconcile by event id and must never overwrite local state newer
// than Version.
type SnapshotResponse struct {
	Session        SessionResponse   `json:"session"`
	ChannelCursors map[string]uint64 `json:"channel_cursors"`
}

type CancelSessionRequest struct {
	Actor  string `json:"actor" validate:"required"`
	Reason string `json:"reason"`
}

// NewSessionResponse maps a session entity onto the API view.
func NewSessionResponse(s *entity.WorkflowSession) SessionResponse {
	return SessionResponse{
		Id:                   s.Id,
		EncounterId:          s.EncounterId,
		PatientId:            s.PatientId,
		NoteId:               s.NoteId,
		Status:               s.Status,
		CurrentStep:          s.CurrentStep,
		StepStates:           s.StepStates,
		NoteContentSnapshot:  s.NoteContentSnapshot,
		EnhancedContent:      s.EnhancedContent,
		SummaryContent:       s.SummaryContent,
		CustomContent:        s.CustomContent,
		AcceptedVariant:      s.AcceptedVariant,
		SelectedCodes:        s.SelectedCodes,
		ComplianceIssues:     s.ComplianceIssues,
		SuggestionDecisions:  s.SuggestionDecisions,
		ReimbursementSummary: s.ReimbursementSummary,
		BlockingIssues:       s.BlockingIssues,
		AuditTrail:           s.AuditTrail,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
		Version:              s.Version,
	}
}
