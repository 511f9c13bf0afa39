package entity

import (
	"time"

	"github.com/google/uuid"
)

// Session lifecycle status. An encounter holds at most one ACTIVE session.
const (
	SessionStatusActive    = "ACTIVE"
	SessionStatusArchived  = "ARCHIVED"
	SessionStatusCancelled = "CANCELLED"
)

// The six finalization steps, in gating order.
const (
	StepCodeReview       = 1
	StepSuggestionReview = 2
	StepAICompose        = 3
	StepCompareEdit      = 4
	StepBillingAttest    = 5
	StepSignDispatch     = 6

	StepCount = 6
)

type StepStatus string

const (
	StepNotStarted StepStatus = "not_started"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepBlocked    StepStatus = "blocked"
)

// Accepted content variants for Compare & Edit.
const (
	VariantEnhanced = "enhanced"
	VariantSummary  = "summary"
	VariantOriginal = "original"
	VariantCustom   = "custom"
)

// Provenance of a selected code.
const (
	CodeSourceProvider = "provider"
	CodeSourceAI       = "ai"
	CodeSourceCoder    = "coder"
)

// Suggestion decisions recorded against streamed code suggestions.
const (
	DecisionAccepted = "accepted"
	DecisionRejected = "rejected"
)

type WorkflowSession struct {
	Id                   uuid.UUID
	EncounterId          string
	PatientId            string
	NoteId               string
	Status               string
	CurrentStep          int
	StepStates           []StepState
	NoteContentSnapshot  string
	EnhancedContent      string
	SummaryContent       string
	CustomContent        string
	AcceptedVariant      string
	SelectedCodes        []SelectedCode
	ComplianceIssues     []ComplianceIssue
	SuggestionDecisions  map[string]string
	Attestation          *Attestation
	ReimbursementSummary ReimbursementSummary
	BlockingIssues       []string
	AuditTrail           []AuditEntry
	CreatedAt            time.Time
	UpdatedAt            *time.Time
	Version              int
}

type StepState struct {
	Step           int             `json:"step"`
	Status         StepStatus      `json:"status"`
	Progress       int             `json:"progress"`
	LastValidation *StepValidation `json:"last_validation,omitempty"`
	EnteredAt      *time.Time      `json:"entered_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// StepValidation is the verdict a gate produces. Business-rule failures are
// carried in Issues, never as errors.
type StepValidation struct {
	Passed     bool              `json:"passed"`
	Confidence *int              `json:"confidence,omitempty"`
	Details    []string          `json:"details,omitempty"`
	Issues     []ValidationIssue `json:"issues,omitempty"`
}

type ValidationIssue struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

type SelectedCode struct {
	Code          string   `json:"code"`
	Type          string   `json:"type"` // CPT | ICD-10 | HCPCS
	Category      string   `json:"category"`
	Description   string   `json:"description"`
	Rationale     string   `json:"rationale"`
	Confidence    int      `json:"confidence"` // 0-100
	Reimbursement float64  `json:"reimbursement"`
	RVU           float64  `json:"rvu"`
	SourceOfTruth string   `json:"source_of_truth"`
	SuggestionId  string   `json:"suggestion_id,omitempty"`
	EvidenceLinks []string `json:"evidence_links,omitempty"`
	GapFlag       bool     `json:"gap_flag"`
}

type ComplianceIssue struct {
	Id          string `json:"id"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Resolved    bool   `json:"resolved"`
}

type Attestation struct {
	Signature  string    `json:"signature"`
	AttestedBy string    `json:"attested_by"`
	AttestedAt time.Time `json:"attested_at"`
}

type ReimbursementSummary struct {
	TotalRVU       float64   `json:"total_rvu"`
	EstimatedTotal float64   `json:"estimated_total"`
	CodeCount      int       `json:"code_count"`
	ComputedAt     time.Time `json:"computed_at"`
}

type AuditEntry struct {
	Actor       string    `json:"actor"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewStepStates seeds the six step slots with step 1 in progress.
func NewStepStates(now time.Time) []StepState {
	states := make([]StepState, StepCount)
	for i := range states {
		states[i] = StepState{Step: i + 1, Status: StepNotStarted}
	}
	states[0].Status = StepInProgress
	states[0].EnteredAt = &now
	return states
}
