package service

import (
	"context"
	"errors"
	"fmt"

	"clinical-workflow-be/internal/dto"
	"clinical-workflow-be/internal/entity"
	"clinical-workflow-be/pkg/inference"
)

// ValidationInput is everything a gate reads: the session under transition,
// the step payload, and the suggestion working set accumulated from the codes
// channel. Validators never mutate any of it.
type ValidationInput struct {
	Session     *entity.WorkflowSession
	Request     *dto.AdvanceStepRequest
	Suggestions []dto.CodeSuggestionEvent
}

type IValidationService interface {
	// Validate produces the gate verdict for a step. Business-rule failures
	// come back in the verdict, never as errors; collaborator timeouts
	// fail closed with an infra_timeout issue.
	Validate(ctx context.Context, step int, in ValidationInput) entity.StepValidation
}

type validationService struct {
	complianceChecker   inference.ComplianceChecker
	suggestionThreshold int
}

func NewValidationService(complianceChecker inference.ComplianceChecker, suggestionThreshold int) IValidationService {
	return &validationService{
		complianceChecker:   complianceChecker,
		suggestionThreshold: suggestionThreshold,
	}
}

func issue(code, severity, message string) entity.ValidationIssue {
	return entity.ValidationIssue{Code: code, Severity: severity, Message: message}
}

func failed(issues ...entity.ValidationIssue) entity.StepValidation {
	return entity.StepValidation{Passed: false, Issues: issues}
}

func passed(details ...string) entity.StepValidation {
	return entity.StepValidation{Passed: true, Details: details}
}

func (s *validationService) Validate(ctx context.Context, step int, in ValidationInput) entity.StepValidation {
	switch step {
	case entity.StepCodeReview:
		return s.validateCodeReview(in)
	case entity.StepSuggestionReview:
		return s.validateSuggestionReview(in)
	case entity.StepAICompose:
		return s.validateAICompose(in)
	case entity.StepCompareEdit:
		return s.validateCompareEdit(in)
	case entity.StepBillingAttest:
		return s.validateBillingAttest(ctx, in)
	case entity.StepSignDispatch:
		return s.validateSignDispatch(in)
	default:
		return failed(issue("unknown_step", "error", fmt.Sprintf("step %d is not part of the workflow", step)))
	}
}

// Step 1: every selected code needs evidence linkage and no open gap flag.
func (s *validationService) validateCodeReview(in ValidationInput) entity.StepValidation {
	if len(in.Session.SelectedCodes) == 0 {
		return failed(issue("no_codes_selected", "error", "at least one code must be selected before review"))
	}

	var issues []entity.ValidationIssue
	for _, code := range in.Session.SelectedCodes {
		if len(code.EvidenceLinks) == 0 {
			issues = append(issues, issue("missing_evidence", "error",
				fmt.Sprintf("code %s has no evidence linkage", code.Code)))
		}
		if code.GapFlag {
			issues = append(issues, issue("unresolved_gap", "error",
				fmt.Sprintf("code %s has an unresolved documentation gap", code.Code)))
		}
	}
	if len(issues) > 0 {
		return failed(issues...)
	}
	return passed(fmt.Sprintf("%d codes reviewed with evidence", len(in.Session.SelectedCodes)))
}

// Step 2: every high-confidence streamed suggestion needs an explicit accept
// or reject. There is no auto-accept path.
func (s *validationService) validateSuggestionReview(in ValidationInput) entity.StepValidation {
	var issues []entity.ValidationIssue
	for _, sug := range in.Suggestions {
		if sug.Confidence < s.suggestionThreshold {
			continue
		}
		decision := in.Session.SuggestionDecisions[sug.SuggestionId]
		if decision != entity.DecisionAccepted && decision != entity.DecisionRejected {
			issues = append(issues, issue("undecided_suggestion", "error",
				fmt.Sprintf("suggestion %s (%s, confidence %d) requires an explicit accept or reject",
					sug.SuggestionId, sug.Code, sug.Confidence)))
		}
	}
	if len(issues) > 0 {
		return failed(issues...)
	}
	return passed("all high-confidence suggestions decided")
}

// Step 3: enhancement must exist and hold a minimum completeness delta
// against the baseline draft.
func (s *validationService) validateAICompose(in ValidationInput) entity.StepValidation {
	enhanced := in.Session.EnhancedContent
	baseline := in.Session.NoteContentSnapshot
	if enhanced == "" {
		return failed(issue("enhancement_missing", "error", "note has not been enhanced yet"))
	}
	if enhanced == baseline {
		return failed(issue("enhancement_unchanged", "error", "enhanced content is identical to the draft"))
	}
	if len(enhanced)*10 < len(baseline)*6 {
		return failed(issue("enhancement_truncated", "error", "enhanced content lost too much of the draft"))
	}
	return passed("enhancement complete")
}

// Step 4: the user must have explicitly chosen a content variant.
func (s *validationService) validateCompareEdit(in ValidationInput) entity.StepValidation {
	switch in.Session.AcceptedVariant {
	case entity.VariantEnhanced, entity.VariantSummary, entity.VariantOriginal:
		return passed("variant accepted: " + in.Session.AcceptedVariant)
	case entity.VariantCustom:
		if in.Session.CustomContent == "" {
			return failed(issue("custom_content_missing", "error", "custom variant chosen but no edited content provided"))
		}
		return passed("variant accepted: custom")
	case "":
		return failed(issue("variant_not_chosen", "error", "a content variant must be explicitly accepted"))
	default:
		return failed(issue("variant_invalid", "error",
			fmt.Sprintf("unknown content variant %q", in.Session.AcceptedVariant)))
	}
}

// Step 5: all billing checks asserted, a signed attestation on record, and a
// compliance pass from the billing collaborator.
func (s *validationService) validateBillingAttest(ctx context.Context, in ValidationInput) entity.StepValidation {
	flags := in.Request.BillingFlags
	if flags == nil {
		return failed(issue("billing_flags_missing", "error", "billing verification flags are required"))
	}

	var issues []entity.ValidationIssue
	checks := []struct {
		ok   bool
		name string
	}{
		{flags.CodesValidated, "codes_validated"},
		{flags.DocumentationLevelVerified, "documentation_level_verified"},
		{flags.MedicalNecessityConfirmed, "medical_necessity_confirmed"},
		{flags.BillingComplianceChecked, "billing_compliance_checked"},
	}
	for _, c := range checks {
		if !c.ok {
			issues = append(issues, issue(c.name+"_unchecked", "error", c.name+" must be confirmed"))
		}
	}

	att := in.Session.Attestation
	if att == nil || att.Signature == "" || att.AttestedAt.IsZero() {
		issues = append(issues, issue("attestation_missing", "error", "a signed attestation with timestamp is required"))
	}
	if len(issues) > 0 {
		return failed(issues...)
	}

	codes := make([]string, len(in.Session.SelectedCodes))
	for i, c := range in.Session.SelectedCodes {
		codes[i] = c.Code
	}
	findings, err := s.complianceChecker.CheckCompliance(ctx, in.Session.NoteContentSnapshot, codes)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return failed(issue("infra_timeout", "error", "compliance collaborator did not respond in time"))
		}
		return failed(issue("compliance_check_failed", "error", "compliance collaborator error: "+err.Error()))
	}
	for _, f := range findings {
		if f.Severity == "critical" {
			issues = append(issues, issue("compliance_finding", "error", f.Description))
		}
	}
	if len(issues) > 0 {
		return failed(issues...)
	}
	return passed("billing verified and attested")
}

// Step 6: all prior steps completed plus final approvals.
func (s *validationService) validateSignDispatch(in ValidationInput) entity.StepValidation {
	var issues []entity.ValidationIssue
	for _, st := range in.Session.StepStates {
		if st.Step < entity.StepSignDispatch && st.Status != entity.StepCompleted {
			issues = append(issues, issue("steps_incomplete", "error",
				fmt.Sprintf("step %d is not completed", st.Step)))
		}
	}

	flags := in.Request.DispatchFlags
	if flags == nil {
		issues = append(issues, issue("dispatch_flags_missing", "error", "final approval flags are required"))
	} else {
		checks := []struct {
			ok   bool
			name string
		}{
			{flags.PhysicianFinalApproval, "physician_final_approval"},
			{flags.QualityReviewPassed, "quality_review_passed"},
			{flags.ComplianceVerified, "compliance_verified"},
		}
		for _, c := range checks {
			if !c.ok {
				issues = append(issues, issue(c.name+"_unchecked", "error", c.name+" must be confirmed"))
			}
		}
	}
	if len(issues) > 0 {
		return failed(issues...)
	}
	return passed("ready for dispatch")
}
