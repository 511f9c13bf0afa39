package service

import (
	"context"
	"time"

	"clinical-workflow-be/internal/dto"
	"clinical-workflow-be/internal/entity"
	"clinical-workflow-be/internal/pkg/apperror"
	"clinical-workflow-be/internal/pkg/logger"
	"clinical-workflow-be/internal/repository/specification"
	"clinical-workflow-be/internal/repository/unitofwork"
	"clinical-workflow-be/pkg/eventbus"
	"clinical-workflow-be/pkg/events"
	"clinical-workflow-be/pkg/exporter"
	"clinical-workflow-be/pkg/nats"

	"github.com/google/uuid"
)

type IDispatchService interface {
	// Dispatch delivers the finalized artifact for the session. A business
	// failure (export rejected, attempts exhausted) is reported inside the
	// response, not as an error.
	Dispatch(ctx context.Context, sessionID uuid.UUID, actor string) (*dto.DispatchResponse, error)

	// Attempts lists the delivery history for a session, oldest first.
	Attempts(ctx context.Context, sessionID uuid.UUID) ([]*entity.DispatchAttempt, error)
}

type dispatchService struct {
	uowFactory     unitofwork.RepositoryFactory
	exporter       exporter.EHRExporter
	bus            *eventbus.Bus
	eventPublisher *nats.Publisher
	logger         logger.ILogger
	maxAttempts    int
}

func NewDispatchService(
	uowFactory unitofwork.RepositoryFactory,
	ehrExporter exporter.EHRExporter,
	bus *eventbus.Bus,
	eventPublisher *nats.Publisher,
	log logger.ILogger,
	maxAttempts int,
) IDispatchService {
	return &dispatchService{
		uowFactory:     uowFactory,
		exporter:       ehrExporter,
		bus:            bus,
		eventPublisher: eventPublisher,
		logger:         log,
		maxAttempts:    maxAttempts,
	}
}

func (s *dispatchService) Attempts(ctx context.Context, sessionID uuid.UUID) ([]*entity.DispatchAttempt, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	return uow.DispatchAttemptRepository().FindAll(ctx,
		specification.BySession{SessionId: sessionID},
		specification.OrderBy{Field: "created_at"},
	)
}

func (s *dispatchService) Dispatch(ctx context.Context, sessionID uuid.UUID, actor string) (*dto.DispatchResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	session, err := uow.WorkflowSessionRepository().FindOne(ctx, specification.ByID{ID: sessionID})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperror.NotFound("workflow session")
	}

	attempts, err := uow.DispatchAttemptRepository().FindAll(ctx,
		specification.BySession{SessionId: sessionID},
		specification.OrderBy{Field: "created_at"},
	)
	if err != nil {
		return nil, err
	}

	// Idempotence: a completed delivery is final. Re-dispatch returns the
	// original confirmation without touching the downstream system again.
	for _, a := range attempts {
		if a.Status == entity.DispatchCompleted {
			return &dto.DispatchResponse{
				Status:             entity.DispatchCompleted,
				ConfirmationNumber: a.ConfirmationNumber,
				AttemptCount:       len(attempts),
			}, nil
		}
	}

	if session.Status != entity.SessionStatusActive {
		return nil, apperror.Conflict("session is " + session.Status + "; nothing to dispatch")
	}
	if len(attempts) >= s.maxAttempts {
		return s.exhausted(ctx, uow, session, attempts, actor)
	}
	if session.StepStates[entity.StepSignDispatch-1].Status != entity.StepCompleted {
		return nil, apperror.BadRequest("sign & dispatch step has not passed validation")
	}

	attempt := &entity.DispatchAttempt{
		Id:        uuid.New(),
		SessionId: sessionID,
		Status:    entity.DispatchInitiated,
		CreatedAt: time.Now(),
	}
	if err := uow.DispatchAttemptRepository().Create(ctx, attempt); err != nil {
		return nil, err
	}

	receipt, exportErr := s.exporter.Export(ctx, s.buildArtifact(session))
	if exportErr != nil {
		return s.recordFailure(ctx, uow, session, attempt, attempts, actor, exportErr)
	}

	attempt.Status = entity.DispatchCompleted
	attempt.ConfirmationNumber = receipt.ConfirmationNumber
	if err := uow.DispatchAttemptRepository().Update(ctx, attempt); err != nil {
		return nil, err
	}

	expectedVersion := session.Version
	session.Status = entity.SessionStatusArchived
	session.NoteContentSnapshot = stampContent(finalContent(session), receipt.ConfirmationNumber, time.Now())
	recomputeReimbursement(session)
	appendAudit(session, actor, "session_dispatched", "artifact delivered, confirmation "+receipt.ConfirmationNumber)
	if err := commitSession(ctx, uow, session, expectedVersion); err != nil {
		return nil, err
	}

	s.bus.Drop(sessionID.String())
	s.publishLifecycle(ctx, events.TypeSessionDispatched, map[string]interface{}{
		"session_id":          session.Id,
		"encounter_id":        session.EncounterId,
		"confirmation_number": receipt.ConfirmationNumber,
	})
	s.logger.Info("DispatchService", "Session dispatched", map[string]interface{}{
		"session_id":          sessionID,
		"confirmation_number": receipt.ConfirmationNumber,
	})

	return &dto.DispatchResponse{
		Status:             entity.DispatchCompleted,
		ConfirmationNumber: receipt.ConfirmationNumber,
		AttemptCount:       len(attempts) + 1,
	}, nil
}

func (s *dispatchService) recordFailure(
	ctx context.Context,
	uow unitofwork.UnitOfWork,
	session *entity.WorkflowSession,
	attempt *entity.DispatchAttempt,
	prior []*entity.DispatchAttempt,
	actor string,
	exportErr error,
) (*dto.DispatchResponse, error) {
	attempt.Status = entity.DispatchFailed
	attempt.Errors = []string{exportErr.Error()}
	if err := uow.DispatchAttemptRepository().Update(ctx, attempt); err != nil {
		return nil, err
	}

	attemptCount := len(prior) + 1
	retryable := attemptCount < s.maxAttempts

	expectedVersion := session.Version
	appendAudit(session, actor, "dispatch_failed", "delivery attempt failed: "+exportErr.Error())
	if !retryable {
		state := &session.StepStates[entity.StepSignDispatch-1]
		state.Status = entity.StepBlocked
		state.CompletedAt = nil
		session.CurrentStep = entity.StepSignDispatch
		session.BlockingIssues = []string{"dispatch attempts exhausted; manual intervention required"}
	}
	if err := commitSession(ctx, uow, session, expectedVersion); err != nil {
		return nil, err
	}

	s.logger.Error("DispatchService", "Dispatch attempt failed", map[string]interface{}{
		"session_id":    session.Id,
		"attempt_count": attemptCount,
		"retryable":     retryable,
		"error":         exportErr.Error(),
	})
	s.publishLifecycle(ctx, events.TypeDispatchFailed, map[string]interface{}{
		"session_id":    session.Id,
		"attempt_count": attemptCount,
		"retryable":     retryable,
	})

	return &dto.DispatchResponse{
		Status:       entity.DispatchFailed,
		Errors:       attempt.Errors,
		AttemptCount: attemptCount,
		Retryable:    retryable,
	}, nil
}

func (s *dispatchService) exhausted(
	ctx context.Context,
	uow unitofwork.UnitOfWork,
	session *entity.WorkflowSession,
	attempts []*entity.DispatchAttempt,
	actor string,
) (*dto.DispatchResponse, error) {
	state := &session.StepStates[entity.StepSignDispatch-1]
	if state.Status != entity.StepBlocked {
		expectedVersion := session.Version
		state.Status = entity.StepBlocked
		state.CompletedAt = nil
		session.CurrentStep = entity.StepSignDispatch
		session.BlockingIssues = []string{"dispatch attempts exhausted; manual intervention required"}
		appendAudit(session, actor, "dispatch_exhausted", "no delivery attempts remaining")
		if err := commitSession(ctx, uow, session, expectedVersion); err != nil {
			return nil, err
		}
	}
	var errs []string
	if n := len(attempts); n > 0 {
		errs = attempts[n-1].Errors
	}
	return &dto.DispatchResponse{
		Status:       entity.DispatchFailed,
		Errors:       errs,
		AttemptCount: len(attempts),
		Retryable:    false,
	}, nil
}

func (s *dispatchService) buildArtifact(session *entity.WorkflowSession) *exporter.Artifact {
	codes := make([]exporter.ArtifactCode, len(session.SelectedCodes))
	for i, c := range session.SelectedCodes {
		codes[i] = exporter.ArtifactCode{
			Code:          c.Code,
			Type:          c.Type,
			Category:      c.Category,
			Reimbursement: c.Reimbursement,
			RVU:           c.RVU,
		}
	}
	artifact := &exporter.Artifact{
		SessionId:       session.Id.String(),
		EncounterId:     session.EncounterId,
		PatientId:       session.PatientId,
		NoteId:          session.NoteId,
		NoteContent:     finalContent(session),
		AcceptedVariant: session.AcceptedVariant,
		Codes:           codes,
	}
	if session.Attestation != nil {
		artifact.Attestation = map[string]interface{}{
			"signature":   session.Attestation.Signature,
			"attested_by": session.Attestation.AttestedBy,
			"attested_at": session.Attestation.AttestedAt,
		}
	}
	for _, a := range session.AuditTrail {
		artifact.AuditTrail = append(artifact.AuditTrail, map[string]interface{}{
			"actor":       a.Actor,
			"action":      a.Action,
			"description": a.Description,
			"timestamp":   a.Timestamp,
		})
	}
	return artifact
}

func (s *dispatchService) publishLifecycle(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.eventPublisher == nil {
		return
	}
	evt := events.BaseEvent{Type: eventType, Data: data, OccurredAt: time.Now()}
	if err := s.eventPublisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("DispatchService", "Failed to publish lifecycle event", map[string]interface{}{
			"event_type": eventType,
			"error":      err.Error(),
		})
	}
}

// stampContent appends the delivery record to the finalized note text. The
// stamped snapshot is the note of record for the archived session.
func stampContent(content, confirmation string, at time.Time) string {
	return content + "\n\n--- Dispatched " + at.UTC().Format(time.RFC3339) + " | Confirmation " + confirmation + " ---"
}

// finalContent resolves the variant accepted at compare & edit into the text
// that ships downstream.
func finalContent(session *entity.WorkflowSession) string {
	switch session.AcceptedVariant {
	case entity.VariantEnhanced:
		return session.EnhancedContent
	case entity.VariantSummary:
		return session.SummaryContent
	case entity.VariantCustom:
		return session.CustomContent
	default:
		return session.NoteContentSnapshot
	}
}
