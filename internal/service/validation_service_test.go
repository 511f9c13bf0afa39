package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"clinical-workflow-be/internal/dto"
	"clinical-workflow-be/internal/entity"
	"clinical-workflow-be/pkg/inference"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type fakeComplianceChecker struct {
	findings []inference.ComplianceFinding
	err      error
	delay    time.Duration
}

func (f *fakeComplianceChecker) CheckCompliance(ctx context.Context, noteContent string, codes []string) ([]inference.ComplianceFinding, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.findings, f.err
}

func newTestSession() *entity.WorkflowSession {
	now := time.Now()
	return &entity.WorkflowSession{
		Id:                  uuid.New(),
		EncounterId:         "enc-1",
		PatientId:           "pat-1",
		NoteId:              "note-1",
		Status:              entity.SessionStatusActive,
		CurrentStep:         entity.StepCodeReview,
		StepStates:          entity.NewStepStates(now),
		NoteContentSnapshot: "Patient presents with acute sinusitis. Exam unremarkable otherwise.",
		SuggestionDecisions: map[string]string{},
		CreatedAt:           now,
		Version:             1,
	}
}

func evidencedCode(code, codeType string) entity.SelectedCode {
	return entity.SelectedCode{
		Code:          code,
		Type:          codeType,
		Category:      CategoryFor(codeType, code),
		SourceOfTruth: entity.CodeSourceProvider,
		EvidenceLinks: []string{"note:1"},
	}
}

func TestValidateCodeReview(t *testing.T) {
	svc := NewValidationService(&fakeComplianceChecker{}, 90)
	req := &dto.AdvanceStepRequest{Actor: "dr-a"}

	tests := []struct {
		name   string
		codes  []entity.SelectedCode
		passed bool
		code   string
	}{
		{
			name:   "no codes selected",
			codes:  nil,
			passed: false,
			code:   "no_codes_selected",
		},
		{
			name:   "code without evidence",
			codes:  []entity.SelectedCode{{Code: "99213", Type: "CPT"}},
			passed: false,
			code:   "missing_evidence",
		},
		{
			name: "code with open gap",
			codes: []entity.SelectedCode{{
				Code: "99213", Type: "CPT", EvidenceLinks: []string{"note:1"}, GapFlag: true,
			}},
			passed: false,
			code:   "unresolved_gap",
		},
		{
			name:   "clean codes pass",
			codes:  []entity.SelectedCode{evidencedCode("99213", "CPT"), evidencedCode("J0129", "HCPCS")},
			passed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newTestSession()
			session.SelectedCodes = tt.codes

			verdict := svc.Validate(context.Background(), entity.StepCodeReview, ValidationInput{Session: session, Request: req})

			assert.Equal(t, tt.passed, verdict.Passed)
			if tt.code != "" {
				assert.Equal(t, tt.code, verdict.Issues[0].Code)
			}
		})
	}
}

func TestValidateSuggestionReview(t *testing.T) {
	svc := NewValidationService(&fakeComplianceChecker{}, 90)
	req := &dto.AdvanceStepRequest{Actor: "dr-a"}

	suggestions := []dto.CodeSuggestionEvent{
		{SuggestionId: "sug-high", Code: "99214", Confidence: 95},
		{SuggestionId: "sug-low", Code: "J0129", Confidence: 40},
	}

	t.Run("undecided high-confidence suggestion blocks", func(t *testing.T) {
		session := newTestSession()

		verdict := svc.Validate(context.Background(), entity.StepSuggestionReview,
			ValidationInput{Session: session, Request: req, Suggestions: suggestions})

		assert.False(t, verdict.Passed)
		assert.Equal(t, "undecided_suggestion", verdict.Issues[0].Code)
		assert.Contains(t, verdict.Issues[0].Message, "sug-high")
	})

	t.Run("low-confidence suggestion needs no decision", func(t *testing.T) {
		session := newTestSession()
		session.SuggestionDecisions["sug-high"] = entity.DecisionRejected

		verdict := svc.Validate(context.Background(), entity.StepSuggestionReview,
			ValidationInput{Session: session, Request: req, Suggestions: suggestions})

		assert.True(t, verdict.Passed)
	})

	t.Run("accepted decision satisfies the gate", func(t *testing.T) {
		session := newTestSession()
		session.SuggestionDecisions["sug-high"] = entity.DecisionAccepted

		verdict := svc.Validate(context.Background(), entity.StepSuggestionReview,
			ValidationInput{Session: session, Request: req, Suggestions: suggestions})

		assert.True(t, verdict.Passed)
	})
}

func TestValidateAICompose(t *testing.T) {
	svc := NewValidationService(&fakeComplianceChecker{}, 90)
	req := &dto.AdvanceStepRequest{Actor: "dr-a"}
	baseline := strings.Repeat("clinical narrative ", 20)

	tests := []struct {
		name     string
		enhanced string
		passed   bool
		code     string
	}{
		{"missing enhancement", "", false, "enhancement_missing"},
		{"unchanged enhancement", baseline, false, "enhancement_unchanged"},
		{"truncated enhancement", "too short", false, "enhancement_truncated"},
		{"valid enhancement", baseline + " Assessment: acute sinusitis, plan documented.", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newTestSession()
			session.NoteContentSnapshot = baseline
			session.EnhancedContent = tt.enhanced

			verdict := svc.Validate(context.Background(), entity.StepAICompose, ValidationInput{Session: session, Request: req})

			assert.Equal(t, tt.passed, verdict.Passed)
			if tt.code != "" {
				assert.Equal(t, tt.code, verdict.Issues[0].Code)
			}
		})
	}
}

func TestValidateCompareEdit(t *testing.T) {
	svc := NewValidationService(&fakeComplianceChecker{}, 90)
	req := &dto.AdvanceStepRequest{Actor: "dr-a"}

	tests := []struct {
		name    string
		variant string
		custom  string
		passed  bool
		code    string
	}{
		{"no variant chosen", "", "", false, "variant_not_chosen"},
		{"enhanced accepted", entity.VariantEnhanced, "", true, ""},
		{"original accepted", entity.VariantOriginal, "", true, ""},
		{"custom without content", entity.VariantCustom, "", false, "custom_content_missing"},
		{"custom with content", entity.VariantCustom, "my edited note", true, ""},
		{"unknown variant", "weird", "", false, "variant_invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newTestSession()
			session.AcceptedVariant = tt.variant
			session.CustomContent = tt.custom

			verdict := svc.Validate(context.Background(), entity.StepCompareEdit, ValidationInput{Session: session, Request: req})

			assert.Equal(t, tt.passed, verdict.Passed)
			if tt.code != "" {
				assert.Equal(t, tt.code, verdict.Issues[0].Code)
			}
		})
	}
}

func TestValidateBillingAttest(t *testing.T) {
	allFlags := &dto.BillingFlags{
		CodesValidated:             true,
		DocumentationLevelVerified: true,
		MedicalNecessityConfirmed:  true,
		BillingComplianceChecked:   true,
	}

	attestedSession := func() *entity.WorkflowSession {
		session := newTestSession()
		session.SelectedCodes = []entity.SelectedCode{evidencedCode("99213", "CPT")}
		session.Attestation = &entity.Attestation{
			Signature:  "sig",
			AttestedBy: "dr-a",
			AttestedAt: time.Now(),
		}
		return session
	}

	t.Run("missing flags block", func(t *testing.T) {
		svc := NewValidationService(&fakeComplianceChecker{}, 90)
		verdict := svc.Validate(context.Background(), entity.StepBillingAttest,
			ValidationInput{Session: attestedSession(), Request: &dto.AdvanceStepRequest{Actor: "dr-a"}})

		assert.False(t, verdict.Passed)
		assert.Equal(t, "billing_flags_missing", verdict.Issues[0].Code)
	})

	t.Run("unchecked flag blocks", func(t *testing.T) {
		svc := NewValidationService(&fakeComplianceChecker{}, 90)
		flags := *allFlags
		flags.MedicalNecessityConfirmed = false
		verdict := svc.Validate(context.Background(), entity.StepBillingAttest,
			ValidationInput{Session: attestedSession(), Request: &dto.AdvanceStepRequest{Actor: "dr-a", BillingFlags: &flags}})

		assert.False(t, verdict.Passed)
		assert.Equal(t, "medical_necessity_confirmed_unchecked", verdict.Issues[0].Code)
	})

	t.Run("missing attestation blocks", func(t *testing.T) {
		svc := NewValidationService(&fakeComplianceChecker{}, 90)
		session := attestedSession()
		session.Attestation = nil
		verdict := svc.Validate(context.Background(), entity.StepBillingAttest,
			ValidationInput{Session: session, Request: &dto.AdvanceStepRequest{Actor: "dr-a", BillingFlags: allFlags}})

		assert.False(t, verdict.Passed)
		assert.Equal(t, "attestation_missing", verdict.Issues[0].Code)
	})

	t.Run("critical compliance finding blocks", func(t *testing.T) {
		checker := &fakeComplianceChecker{findings: []inference.ComplianceFinding{
			{Id: "f1", Severity: "critical", Description: "medical necessity not documented"},
			{Id: "f2", Severity: "warning", Description: "consider more specific code"},
		}}
		svc := NewValidationService(checker, 90)
		verdict := svc.Validate(context.Background(), entity.StepBillingAttest,
			ValidationInput{Session: attestedSession(), Request: &dto.AdvanceStepRequest{Actor: "dr-a", BillingFlags: allFlags}})

		assert.False(t, verdict.Passed)
		assert.Len(t, verdict.Issues, 1)
		assert.Equal(t, "compliance_finding", verdict.Issues[0].Code)
	})

	t.Run("collaborator timeout fails closed", func(t *testing.T) {
		checker := &fakeComplianceChecker{delay: 50 * time.Millisecond}
		svc := NewValidationService(checker, 90)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()
		verdict := svc.Validate(ctx, entity.StepBillingAttest,
			ValidationInput{Session: attestedSession(), Request: &dto.AdvanceStepRequest{Actor: "dr-a", BillingFlags: allFlags}})

		assert.False(t, verdict.Passed)
		assert.Equal(t, "infra_timeout", verdict.Issues[0].Code)
	})

	t.Run("collaborator error blocks without passing open", func(t *testing.T) {
		checker := &fakeComplianceChecker{err: errors.New("model unavailable")}
		svc := NewValidationService(checker, 90)
		verdict := svc.Validate(context.Background(), entity.StepBillingAttest,
			ValidationInput{Session: attestedSession(), Request: &dto.AdvanceStepRequest{Actor: "dr-a", BillingFlags: allFlags}})

		assert.False(t, verdict.Passed)
		assert.Equal(t, "compliance_check_failed", verdict.Issues[0].Code)
	})

	t.Run("all requirements met pass", func(t *testing.T) {
		svc := NewValidationService(&fakeComplianceChecker{}, 90)
		verdict := svc.Validate(context.Background(), entity.StepBillingAttest,
			ValidationInput{Session: attestedSession(), Request: &dto.AdvanceStepRequest{Actor: "dr-a", BillingFlags: allFlags}})

		assert.True(t, verdict.Passed)
	})
}

func TestValidateSignDispatch(t *testing.T) {
	svc := NewValidationService(&fakeComplianceChecker{}, 90)
	allFlags := &dto.DispatchFlags{
		PhysicianFinalApproval: true,
		QualityReviewPassed:    true,
		ComplianceVerified:     true,
	}

	readySession := func() *entity.WorkflowSession {
		session := newTestSession()
		now := time.Now()
		for i := 0; i < entity.StepSignDispatch-1; i++ {
			session.StepStates[i].Status = entity.StepCompleted
			session.StepStates[i].CompletedAt = &now
		}
		return session
	}

	t.Run("incomplete prior step blocks", func(t *testing.T) {
		session := readySession()
		session.StepStates[2].Status = entity.StepInProgress

		verdict := svc.Validate(context.Background(), entity.StepSignDispatch,
			ValidationInput{Session: session, Request: &dto.AdvanceStepRequest{Actor: "dr-a", DispatchFlags: allFlags}})

		assert.False(t, verdict.Passed)
		assert.Equal(t, "steps_incomplete", verdict.Issues[0].Code)
	})

	t.Run("missing approvals block", func(t *testing.T) {
		verdict := svc.Validate(context.Background(), entity.StepSignDispatch,
			ValidationInput{Session: readySession(), Request: &dto.AdvanceStepRequest{Actor: "dr-a"}})

		assert.False(t, verdict.Passed)
		assert.Equal(t, "dispatch_flags_missing", verdict.Issues[0].Code)
	})

	t.Run("partial approvals block", func(t *testing.T) {
		flags := *allFlags
		flags.QualityReviewPassed = false
		verdict := svc.Validate(context.Background(), entity.StepSignDispatch,
			ValidationInput{Session: readySession(), Request: &dto.AdvanceStepRequest{Actor: "dr-a", DispatchFlags: &flags}})

		assert.False(t, verdict.Passed)
		assert.Equal(t, "quality_review_passed_unchecked", verdict.Issues[0].Code)
	})

	t.Run("all approvals pass", func(t *testing.T) {
		verdict := svc.Validate(context.Background(), entity.StepSignDispatch,
			ValidationInput{Session: readySession(), Request: &dto.AdvanceStepRequest{Actor: "dr-a", DispatchFlags: allFlags}})

		assert.True(t, verdict.Passed)
	})
}
