package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type WorkflowSession struct {
	Id                   uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	EncounterId          string         `gorm:"type:varchar(64);not null;index:idx_encounter_active,unique,where:status = 'ACTIVE'"`
	PatientId            string         `gorm:"type:varchar(64);not null;index"`
	NoteId               string         `gorm:"type:varchar(64);not null"`
	Status               string         `gorm:"type:varchar(16);not null;default:ACTIVE;index"`
	CurrentStep          int            `gorm:"not null;default:1"`
	StepStates           datatypes.JSON `gorm:"type:jsonb;not null"`
	NoteContentSnapshot  string         `gorm:"type:text"`
	EnhancedContent      string         `gorm:"type:text"`
	SummaryContent       string         `gorm:"type:text"`
	CustomContent        string         `gorm:"type:text"`
	AcceptedVariant      string         `gorm:"type:varchar(16)"`
	SelectedCodes        datatypes.JSON `gorm:"type:jsonb"`
	ComplianceIssues     datatypes.JSON `gorm:"type:jsonb"`
	SuggestionDecisions  datatypes.JSON `gorm:"type:jsonb"`
	Attestation          datatypes.JSON `gorm:"type:jsonb"`
	ReimbursementSummary datatypes.JSON `gorm:"type:jsonb"`
	BlockingIssues       datatypes.JSON `gorm:"type:jsonb"`
	AuditTrail           datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt            time.Time      `gorm:"autoCreateTime"`
	UpdatedAt            time.Time      `gorm:"autoUpdateTime"`
	Version              int            `gorm:"not null;default:1"`
}

func (WorkflowSession) TableName() string {
	return "workflow_sessions"
}
