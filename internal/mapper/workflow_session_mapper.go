package mapper

import (
	"encoding/json"
	"time"

	"clinical-workflow-be/internal/entity"
	"clinical-workflow-be/internal/model"

	"gorm.io/datatypes"
)

type WorkflowSessionMapper struct{}

func NewWorkflowSessionMapper() *WorkflowSessionMapper {
	return &WorkflowSessionMapper{}
}

func toJSON(v interface{}) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func fromJSON(data datatypes.JSON, target interface{}) {
	if len(data) == 0 {
		return
	}
	_ = json.Unmarshal(data, target)
}

func (m *WorkflowSessionMapper) ToEntity(s *model.WorkflowSession) *entity.WorkflowSession {
	if s == nil {
		return nil
	}

	var updatedAt *time.Time
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		updatedAt = &t
	}

	e := &entity.WorkflowSession{
		Id:                  s.Id,
		EncounterId:         s.EncounterId,
		PatientId:           s.PatientId,
		NoteId:              s.NoteId,
		Status:              s.Status,
		CurrentStep:         s.CurrentStep,
		NoteContentSnapshot: s.NoteContentSnapshot,
		EnhancedContent:     s.EnhancedContent,
		SummaryContent:      s.SummaryContent,
		CustomContent:       s.CustomContent,
		AcceptedVariant:     s.AcceptedVariant,
		SuggestionDecisions: map[string]string{},
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           updatedAt,
		Version:             s.Version,
	}

	fromJSON(s.StepStates, &e.StepStates)
	fromJSON(s.SelectedCodes, &e.SelectedCodes)
	fromJSON(s.ComplianceIssues, &e.ComplianceIssues)
	fromJSON(s.SuggestionDecisions, &e.SuggestionDecisions)
	fromJSON(s.Attestation, &e.Attestation)
	fromJSON(s.ReimbursementSummary, &e.ReimbursementSummary)
	fromJSON(s.BlockingIssues, &e.BlockingIssues)
	fromJSON(s.AuditTrail, &e.AuditTrail)

	return e
}

func (m *WorkflowSessionMapper) ToModel(e *entity.WorkflowSession) *model.WorkflowSession {
	if e == nil {
		return nil
	}

	var updatedAt time.Time
	if e.UpdatedAt != nil {
		updatedAt = *e.UpdatedAt
	}

	s := &model.WorkflowSession{
		Id:                   e.Id,
		EncounterId:          e.EncounterId,
		PatientId:            e.PatientId,
		NoteId:               e.NoteId,
		Status:               e.Status,
		CurrentStep:          e.CurrentStep,
		NoteContentSnapshot:  e.NoteContentSnapshot,
		EnhancedContent:      e.EnhancedContent,
		SummaryContent:       e.SummaryContent,
		CustomContent:        e.CustomContent,
		AcceptedVariant:      e.AcceptedVariant,
		StepStates:           toJSON(e.StepStates),
		SelectedCodes:        toJSON(e.SelectedCodes),
		ComplianceIssues:     toJSON(e.ComplianceIssues),
		SuggestionDecisions:  toJSON(e.SuggestionDecisions),
		ReimbursementSummary: toJSON(e.ReimbursementSummary),
		BlockingIssues:       toJSON(e.BlockingIssues),
		AuditTrail:           toJSON(e.AuditTrail),
		CreatedAt:            e.CreatedAt,
		UpdatedAt:            updatedAt,
		Version:              e.Version,
	}
	if e.Attestation != nil {
		s.Attestation = toJSON(e.Attestation)
	}
	return s
}

func (m *WorkflowSessionMapper) ToEntities(sessions []*model.WorkflowSession) []*entity.WorkflowSession {
	entities := make([]*entity.WorkflowSession, len(sessions))
	for i, s := range sessions {
		entities[i] = m.ToEntity(s)
	}
	return entities
}
