package dto

import "clinical-workflow-be/internal/entity"

// AdvanceStepRequest carries the step-specific payload for a gate attempt.
// Only the fields relevant to the requested step are read.
type AdvanceStepRequest struct {
	Actor string `json:"actor" validate:"required"`

	// Step 2: explicit decisions on streamed suggestions.
	Decisions []SuggestionDecision `json:"decisions" validate:"dive"`

	// Step 4: accepted content variant.
	AcceptedVariant string `json:"accepted_variant" validate:"omitempty,oneof=enhanced summary original custom"`
	CustomContent   string `json:"custom_content"`

	// Step 5: billing checks plus signed attestation.
	BillingFlags *BillingFlags       `json:"billing_flags"`
	Attestation  *AttestationPayload `json:"attestation"`

	// Step 6: final approvals.
	DispatchFlags *DispatchFlags `json:"dispatch_flags"`
}

type SuggestionDecision struct {
	SuggestionId string `json:"suggestion_id" validate:"required"`
	Action       string `json:"action" validate:"required,oneof=accepted rejected"`
}

type BillingFlags struct {
	CodesValidated             bool `json:"codes_validated"`
	DocumentationLevelVerified bool `json:"documentation_level_verified"`
	MedicalNecessityConfirmed  bool `json:"medical_necessity_confirmed"`
	BillingComplianceChecked   bool `json:"billing_compliance_checked"`
}

type DispatchFlags struct {
	PhysicianFinalApproval bool `json:"physician_final_approval"`
	QualityReviewPassed    bool `json:"quality_review_passed"`
	ComplianceVerified     bool `json:"compliance_verified"`
}

type AttestationPayload struct {
	Signature  string `json:"signature" validate:"required"`
	AttestedBy string `json:"attested_by" validate:"required"`
}

type ReopenStepRequest struct {
	Actor  string `json:"actor" validate:"required"`
	Reason string `json:"reason"`
}

// StepTransitionResponse returns the updated session plus the gate verdict.
// A failed verdict is a normal response, not an error.
type StepTransitionResponse struct {
	Session    SessionResponse       `json:"session"`
	Validation entity.StepValidation `json:"validation"`
	Dispatch   *DispatchResponse     `json:"dispatch,omitempty"`
}

type ComposeRequest struct {
	Actor string `json:"actor" validate:"required"`
}

type ComposeResponse struct {
	EnhancedContent string `json:"enhanced_content"`
	SummaryContent  string `json:"summary_content"`
}

type DispatchRequest struct {
	Actor string `json:"actor" validate:"required"`
}

type DispatchResponse struct {
	Status             string   `json:"status"`
	ConfirmationNumber string   `json:"confirmation_number,omitempty"`
	Errors             []string `json:"errors,omitempty"`
	AttemptCount       int      `json:"attempt_count"`
	Retryable          bool     `json:"retryable"`
}
