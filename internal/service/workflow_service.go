package service

import (
	"context"
	"encoding/json"
	"time"

	"clinical-workflow-be/internal/dto"
	"clinical-workflow-be/internal/entity"
	"clinical-workflow-be/internal/pkg/apperror"
	"clinical-workflow-be/internal/pkg/logger"
	"clinical-workflow-be/internal/repository/specification"
	"clinical-workflow-be/internal/repository/unitofwork"
	"clinical-workflow-be/pkg/eventbus"
	"clinical-workflow-be/pkg/events"
	"clinical-workflow-be/pkg/inference"
	"clinical-workflow-be/pkg/nats"

	"github.com/google/uuid"
)

type IWorkflowService interface {
	CreateSession(ctx context.Context, req *dto.CreateSessionRequest) (*dto.SessionResponse, error)
	GetSession(ctx context.Context, id uuid.UUID) (*dto.SessionResponse, error)
	GetSnapshot(ctx context.Context, id uuid.UUID) (*dto.SnapshotResponse, error)
	CancelSession(ctx context.Context, id uuid.UUID, req *dto.CancelSessionRequest) error
	AdvanceStep(ctx context.Context, id uuid.UUID, step int, req *dto.AdvanceStepRequest) (*dto.StepTransitionResponse, error)
	ReopenStep(ctx context.Context, id uuid.UUID, step int, req *dto.ReopenStepRequest) (*dto.SessionResponse, error)
	SelectCode(ctx context.Context, id uuid.UUID, req *dto.SelectCodeRequest) (*dto.SessionResponse, error)
	RemoveCode(ctx context.Context, id uuid.UUID, code string, returnToSuggestions bool, actor string) (*dto.SessionResponse, error)
	ReassignCategory(ctx context.Context, id uuid.UUID, code string, req *dto.ReassignCategoryRequest) (*dto.SessionResponse, error)
	Compose(ctx context.Context, id uuid.UUID, req *dto.ComposeRequest) (*dto.ComposeResponse, error)
}

type workflowService struct {
	uowFactory        unitofwork.RepositoryFactory
	validator         IValidationService
	dispatcher        IDispatchService
	bus               *eventbus.Bus
	suggester         inference.CodeSuggester
	complianceChecker inference.ComplianceChecker
	enhancer          inference.NoteEnhancer
	eventPublisher    *nats.Publisher
	logger            logger.ILogger
	validationTimeout time.Duration
	replayWindow      int
}

func NewWorkflowService(
	uowFactory unitofwork.RepositoryFactory,
	validator IValidationService,
	dispatcher IDispatchService,
	bus *eventbus.Bus,
	suggester inference.CodeSuggester,
	complianceChecker inference.ComplianceChecker,
	enhancer inference.NoteEnhancer,
	eventPublisher *nats.Publisher,
	log logger.ILogger,
	validationTimeout time.Duration,
	replayWindow int,
) IWorkflowService {
	return &workflowService{
		uowFactory:        uowFactory,
		validator:         validator,
		dispatcher:        dispatcher,
		bus:               bus,
		suggester:         suggester,
		complianceChecker: complianceChecker,
		enhancer:          enhancer,
		eventPublisher:    eventPublisher,
		logger:            log,
		validationTimeout: validationTimeout,
		replayWindow:      replayWindow,
	}
}

func appendAudit(session *entity.WorkflowSession, actor, action, description string) {
	session.AuditTrail = append(session.AuditTrail, entity.AuditEntry{
		Actor:       actor,
		Action:      action,
		Description: description,
		Timestamp:   time.Now(),
	})
}

func recomputeReimbursement(session *entity.WorkflowSession) {
	var summary entity.ReimbursementSummary
	for _, c := range session.SelectedCodes {
		summary.TotalRVU += c.RVU
		summary.EstimatedTotal += c.Reimbursement
	}
	summary.CodeCount = len(session.SelectedCodes)
	summary.ComputedAt = time.Now()
	session.ReimbursementSummary = summary
}

// commitSession persists the session transactionally: the step/content change,
// the appended audit entries and the version bump land atomically or not at all.
func commitSession(ctx context.Context, uow unitofwork.UnitOfWork, session *entity.WorkflowSession, expectedVersion int) error {
	session.Version = expectedVersion + 1
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	if err := uow.WorkflowSessionRepository().UpdateWithVersion(ctx, session, expectedVersion); err != nil {
		_ = uow.Rollback()
		session.Version = expectedVersion
		return err
	}
	return uow.Commit()
}

func (s *workflowService) loadActiveSession(ctx context.Context, uow unitofwork.UnitOfWork, id uuid.UUID) (*entity.WorkflowSession, error) {
	session, err := uow.WorkflowSessionRepository().FindOne(ctx, specification.ByID{ID: id})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperror.NotFound("workflow session")
	}
	if session.Status != entity.SessionStatusActive {
		return nil, apperror.Conflict("session is " + session.Status + " and can no longer be modified")
	}
	return session, nil
}

// publishLifecycle exports a lifecycle event on NATS. Export is auxiliary:
// failures are logged, never surfaced to the caller.
func (s *workflowService) publishLifecycle(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.eventPublisher == nil {
		return
	}
	evt := events.BaseEvent{Type: eventType, Data: data, OccurredAt: time.Now()}
	if err := s.eventPublisher.Publish(ctx, evt); err != nil {
		s.logger.Warn("WorkflowService", "Failed to publish lifecycle event", map[string]interface{}{
			"event_type": eventType,
			"error":      err.Error(),
		})
	}
}

func (s *workflowService) publishCollaboration(sessionID string, payload interface{}) {
	if _, err := s.bus.Publish(context.Background(), sessionID, eventbus.ChannelCollaboration, payload); err != nil {
		s.logger.Warn("WorkflowService", "Failed to publish collaboration event", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

func (s *workflowService) CreateSession(ctx context.Context, req *dto.CreateSessionRequest) (*dto.SessionResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)

	existing, err := uow.WorkflowSessionRepository().FindOne(ctx,
		specification.ByEncounter{EncounterId: req.EncounterId},
		specification.ByStatus{Status: entity.SessionStatusActive},
	)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperror.Conflict("an active session already exists for encounter " + req.EncounterId)
	}

	now := time.Now()
	session := &entity.WorkflowSession{
		Id:                  uuid.New(),
		EncounterId:         req.EncounterId,
		PatientId:           req.PatientId,
		NoteId:              req.NoteId,
		Status:              entity.SessionStatusActive,
		CurrentStep:         entity.StepCodeReview,
		StepStates:          entity.NewStepStates(now),
		NoteContentSnapshot: req.NoteContent,
		ComplianceIssues:    req.ComplianceIssues,
		SuggestionDecisions: map[string]string{},
		CreatedAt:           now,
		Version:             1,
	}
	for _, c := range req.InitialCodes {
		session.SelectedCodes = append(session.SelectedCodes, selectedCodeFromRequest(&c))
	}
	recomputeReimbursement(session)
	appendAudit(session, req.Actor, "session_created", "finalization session opened for encounter "+req.EncounterId)

	if err := uow.WorkflowSessionRepository().Create(ctx, session); err != nil {
		return nil, err
	}

	// Seed the live streams from the AI collaborators in the background; the
	// session is usable before the first suggestion lands.
	go s.seedStreams(session.Id.String(), session.NoteContentSnapshot, session.SelectedCodes)

	s.publishLifecycle(ctx, events.TypeSessionCreated, map[string]interface{}{
		"session_id":   session.Id,
		"encounter_id": session.EncounterId,
		"patient_id":   session.PatientId,
	})

	res := dto.NewSessionResponse(session)
	return &res, nil
}

func selectedCodeFromRequest(req *dto.SelectCodeRequest) entity.SelectedCode {
	source := req.Source
	if source == "" {
		source = entity.CodeSourceProvider
	}
	return entity.SelectedCode{
		Code:          req.Code,
		Type:          req.Type,
		Category:      CategoryFor(req.Type, req.Code),
		Description:   req.Description,
		Rationale:     req.Rationale,
		Confidence:    req.Confidence,
		Reimbursement: req.Reimbursement,
		RVU:           req.RVU,
		SourceOfTruth: source,
		SuggestionId:  req.SuggestionId,
		EvidenceLinks: req.EvidenceLinks,
	}
}

func (s *workflowService) seedStreams(sessionID, noteContent string, codes []entity.SelectedCode) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	suggestions, err := s.suggester.SuggestCodes(ctx, noteContent)
	if err != nil {
		s.logger.Warn("WorkflowService", "Code suggestion seeding failed", map[string]interface{}{
			"session_id": sessionID, "error": err.Error(),
		})
	}
	for _, sug := range suggestions {
		s.publishSuggestion(sessionID, sug, "suggestion")
	}

	codeStrs := make([]string, len(codes))
	for i, c := range codes {
		codeStrs[i] = c.Code
	}
	findings, err := s.complianceChecker.CheckCompliance(ctx, noteContent, codeStrs)
	if err != nil {
		s.logger.Warn("WorkflowService", "Compliance seeding failed", map[string]interface{}{
			"session_id": sessionID, "error": err.Error(),
		})
	}
	for _, f := range findings {
		payload := dto.ComplianceFindingEvent{
			FindingId:   f.Id,
			Rule:        f.Rule,
			Severity:    f.Severity,
			Description: f.Description,
		}
		if _, err := s.bus.Publish(ctx, sessionID, eventbus.ChannelCompliance, payload); err != nil {
			s.logger.Warn("WorkflowService", "Failed to publish compliance finding", map[string]interface{}{
				"session_id": sessionID, "error": err.Error(),
			})
		}
	}
}

func (s *workflowService) publishSuggestion(sessionID string, sug inference.CodeSuggestion, kind string) {
	payload := dto.CodeSuggestionEvent{
		Kind:          kind,
		SuggestionId:  sug.Id,
		Code:          sug.Code,
		Type:          sug.Type,
		Description:   sug.Description,
		Rationale:     sug.Rationale,
		Confidence:    sug.Confidence,
		Reimbursement: sug.Reimbursement,
		RVU:           sug.RVU,
		EvidenceLinks: sug.EvidenceLinks,
	}
	if _, err := s.bus.Publish(context.Background(), sessionID, eventbus.ChannelCodes, payload); err != nil {
		s.logger.Warn("WorkflowService", "Failed to publish code suggestion", map[string]interface{}{
			"session_id": sessionID, "error": err.Error(),
		})
	}
}

// suggestionWorkingSet collapses the codes-channel tail into the latest state
// per suggestion. This is the synchronous read the gate takes at validation
// time; no suspension happens while events accumulate.
func (s *workflowService) suggestionWorkingSet(sessionID string) []dto.CodeSuggestionEvent {
	tail := s.bus.Tail(sessionID, eventbus.ChannelCodes, s.replayWindow)
	latest := map[string]dto.CodeSuggestionEvent{}
	var order []string
	for _, ev := range tail {
		var sug dto.CodeSuggestionEvent
		if err := json.Unmarshal(ev.Payload, &sug); err != nil || sug.SuggestionId == "" {
			continue
		}
		if _, seen := latest[sug.SuggestionId]; !seen {
			order = append(order, sug.SuggestionId)
		}
		latest[sug.SuggestionId] = sug
	}
	out := make([]dto.CodeSuggestionEvent, 0, len(latest))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out
}

func (s *workflowService) GetSession(ctx context.Context, id uuid.UUID) (*dto.SessionResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	session, err := uow.WorkflowSessionRepository().FindOne(ctx, specification.ByID{ID: id})
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperror.NotFound("workflow session")
	}
	res := dto.NewSessionResponse(session)
	return &res, nil
}

// GetSnapshot serves the REST fallback for degraded streaming channels.
func (s *workflowService) GetSnapshot(ctx context.Context, id uuid.UUID) (*dto.SnapshotResponse, error) {
	res, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	cursors := map[string]uint64{}
	for ch, latest := range s.bus.LatestIDs(id.String()) {
		cursors[string(ch)] = latest
	}
	return &dto.SnapshotResponse{Session: *res, ChannelCursors: cursors}, nil
}

func (s *workflowService) CancelSession(ctx context.Context, id uuid.UUID, req *dto.CancelSessionRequest) error {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	session, err := s.loadActiveSession(ctx, uow, id)
	if err != nil {
		return err
	}

	expectedVersion := session.Version
	session.Status = entity.SessionStatusCancelled
	reason := req.Reason
	if reason == "" {
		reason = "cancelled by " + req.Actor
	}
	appendAudit(session, req.Actor, "session_cancelled", reason)

	if err := commitSession(ctx, uow, session, expectedVersion); err != nil {
		return err
	}
	s.bus.Drop(id.String())
	s.publishLifecycle(ctx, events.TypeSessionCancelled, map[string]interface{}{
		"session_id":   session.Id,
		"encounter_id": session.EncounterId,
		"reason":       reason,
	})
	return nil
}

// AdvanceStep runs the gate for step N. On a concurrent version clash the
// engine reloads and re-validates against fresh state exactly once; a second
// clash surfaces as a conflict for the caller to resolve.
func (s *workflowService) AdvanceStep(ctx context.Context, id uuid.UUID, step int, req *dto.AdvanceStepRequest) (*dto.StepTransitionResponse, error) {
	res, err := s.tryAdvanceStep(ctx, id, step, req)
	if err != nil && apperror.IsKind(err, apperror.KindVersionConflict) {
		res, err = s.tryAdvanceStep(ctx, id, step, req)
		if err != nil && apperror.IsKind(err, apperror.KindVersionConflict) {
			return nil, apperror.Conflict("session was modified concurrently; reload and retry")
		}
	}
	return res, err
}

func (s *workflowService) tryAdvanceStep(ctx context.Context, id uuid.UUID, step int, req *dto.AdvanceStepRequest) (*dto.StepTransitionResponse, error) {
	if step < 1 || step > entity.StepCount {
		return nil, apperror.BadRequest("step must be between 1 and 6")
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	session, err := s.loadActiveSession(ctx, uow, id)
	if err != nil {
		return nil, err
	}
	expectedVersion := session.Version

	state := &session.StepStates[step-1]
	if state.Status == entity.StepCompleted {
		return nil, apperror.BadRequest("step is already completed; reopen it to make changes")
	}
	if step > 1 && session.StepStates[step-2].Status != entity.StepCompleted {
		return nil, apperror.BadRequest("previous step must be completed first")
	}

	s.applyStepPayload(session, step, req)

	vctx, cancel := context.WithTimeout(ctx, s.validationTimeout)
	defer cancel()
	verdict := s.validator.Validate(vctx, step, ValidationInput{
		Session:     session,
		Request:     req,
		Suggestions: s.suggestionWorkingSet(id.String()),
	})

	now := time.Now()
	state.LastValidation = &verdict
	if state.EnteredAt == nil {
		state.EnteredAt = &now
	}

	if !verdict.Passed {
		state.Status = entity.StepBlocked
		session.BlockingIssues = issueMessages(verdict.Issues)
		appendAudit(session, req.Actor, "step_blocked", stepName(step)+" failed validation")
		if err := commitSession(ctx, uow, session, expectedVersion); err != nil {
			return nil, err
		}
		s.publishCollaboration(id.String(), map[string]interface{}{
			"type": "step_blocked", "step": step, "actor": req.Actor,
		})
		s.publishLifecycle(ctx, events.TypeStepBlocked, map[string]interface{}{
			"session_id": session.Id, "step": step,
		})
		return &dto.StepTransitionResponse{Session: dto.NewSessionResponse(session), Validation: verdict}, nil
	}

	state.Status = entity.StepCompleted
	state.Progress = 100
	state.CompletedAt = &now
	session.BlockingIssues = nil
	if step < entity.StepCount {
		next := &session.StepStates[step]
		if next.Status == entity.StepNotStarted || next.Status == entity.StepBlocked {
			next.Status = entity.StepInProgress
			next.EnteredAt = &now
		}
		session.CurrentStep = step + 1
	}
	appendAudit(session, req.Actor, "step_completed", stepName(step)+" completed")

	if err := commitSession(ctx, uow, session, expectedVersion); err != nil {
		return nil, err
	}

	s.publishCollaboration(id.String(), map[string]interface{}{
		"type": "step_completed", "step": step, "actor": req.Actor,
	})
	s.publishLifecycle(ctx, events.TypeStepCompleted, map[string]interface{}{
		"session_id": session.Id, "step": step,
	})

	response := &dto.StepTransitionResponse{Session: dto.NewSessionResponse(session), Validation: verdict}

	if step == entity.StepCount {
		dres, derr := s.dispatcher.Dispatch(ctx, id, req.Actor)
		if derr != nil {
			return nil, derr
		}
		response.Dispatch = dres
		// Dispatch committed its own session changes; reflect them.
		if refreshed, gerr := s.GetSession(ctx, id); gerr == nil {
			response.Session = *refreshed
		}
	}
	return response, nil
}

func (s *workflowService) applyStepPayload(session *entity.WorkflowSession, step int, req *dto.AdvanceStepRequest) {
	switch step {
	case entity.StepSuggestionReview:
		working := s.suggestionWorkingSet(session.Id.String())
		byId := map[string]dto.CodeSuggestionEvent{}
		for _, sug := range working {
			byId[sug.SuggestionId] = sug
		}
		for _, d := range req.Decisions {
			session.SuggestionDecisions[d.SuggestionId] = d.Action
			if d.Action == entity.DecisionAccepted {
				if sug, ok := byId[d.SuggestionId]; ok && !hasCode(session, sug.Code) {
					session.SelectedCodes = append(session.SelectedCodes, entity.SelectedCode{
						Code:          sug.Code,
						Type:          sug.Type,
						Category:      CategoryFor(sug.Type, sug.Code),
						Description:   sug.Description,
						Rationale:     sug.Rationale,
						Confidence:    sug.Confidence,
						Reimbursement: sug.Reimbursement,
						RVU:           sug.RVU,
						SourceOfTruth: entity.CodeSourceAI,
						SuggestionId:  sug.SuggestionId,
						EvidenceLinks: sug.EvidenceLinks,
					})
				}
			}
		}
		recomputeReimbursement(session)
	case entity.StepCompareEdit:
		if req.AcceptedVariant != "" {
			session.AcceptedVariant = req.AcceptedVariant
			if req.AcceptedVariant == entity.VariantCustom {
				session.CustomContent = req.CustomContent
			}
		}
	case entity.StepBillingAttest:
		if req.Attestation != nil {
			session.Attestation = &entity.Attestation{
				Signature:  req.Attestation.Signature,
				AttestedBy: req.Attestation.AttestedBy,
				AttestedAt: time.Now(),
			}
		}
	}
}

func hasCode(session *entity.WorkflowSession, code string) bool {
	for _, c := range session.SelectedCodes {
		if c.Code == code {
			return true
		}
	}
	return false
}

func issueMessages(issues []entity.ValidationIssue) []string {
	msgs := make([]string, len(issues))
	for i, is := range issues {
		msgs[i] = is.Message
	}
	return msgs
}

func stepName(step int) string {
	switch step {
	case entity.StepCodeReview:
		return "code review"
	case entity.StepSuggestionReview:
		return "suggestion review"
	case entity.StepAICompose:
		return "ai compose"
	case entity.StepCompareEdit:
		return "compare & edit"
	case entity.StepBillingAttest:
		return "billing & attest"
	case entity.StepSignDispatch:
		return "sign & dispatch"
	default:
		return "unknown step"
	}
}

// ReopenStep re-opens a completed step and cascades every downstream step
// back to not_started so stale completions cannot survive an upstream edit.
func (s *workflowService) ReopenStep(ctx context.Context, id uuid.UUID, step int, req *dto.ReopenStepRequest) (*dto.SessionResponse, error) {
	if step < 1 || step > entity.StepCount {
		return nil, apperror.BadRequest("step must be between 1 and 6")
	}

	uow := s.uowFactory.NewUnitOfWork(ctx)
	session, err := s.loadActiveSession(ctx, uow, id)
	if err != nil {
		return nil, err
	}
	expectedVersion := session.Version

	state := &session.StepStates[step-1]
	if state.Status != entity.StepCompleted {
		return nil, apperror.BadRequest("only completed steps can be reopened")
	}

	now := time.Now()
	state.Status = entity.StepInProgress
	state.Progress = 0
	state.CompletedAt = nil
	state.EnteredAt = &now
	for i := step; i < entity.StepCount; i++ {
		downstream := &session.StepStates[i]
		downstream.Status = entity.StepNotStarted
		downstream.Progress = 0
		downstream.LastValidation = nil
		downstream.EnteredAt = nil
		downstream.CompletedAt = nil
	}
	session.CurrentStep = step
	session.BlockingIssues = nil
	appendAudit(session, req.Actor, "step_reopened", stepName(step)+" reopened; downstream steps reset")

	if err := commitSession(ctx, uow, session, expectedVersion); err != nil {
		return nil, err
	}
	s.publishCollaboration(id.String(), map[string]interface{}{
		"type": "step_reopened", "step": step, "actor": req.Actor,
	})
	res := dto.NewSessionResponse(session)
	return &res, nil
}

func (s *workflowService) SelectCode(ctx context.Context, id uuid.UUID, req *dto.SelectCodeRequest) (*dto.SessionResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	session, err := s.loadActiveSession(ctx, uow, id)
	if err != nil {
		return nil, err
	}
	if hasCode(session, req.Code) {
		return nil, apperror.Conflict("code " + req.Code + " is already selected")
	}
	expectedVersion := session.Version

	session.SelectedCodes = append(session.SelectedCodes, selectedCodeFromRequest(req))
	if req.SuggestionId != "" {
		session.SuggestionDecisions[req.SuggestionId] = entity.DecisionAccepted
	}
	recomputeReimbursement(session)
	appendAudit(session, req.Actor, "code_selected", req.Type+" "+req.Code+" selected")

	if err := commitSession(ctx, uow, session, expectedVersion); err != nil {
		return nil, err
	}
	res := dto.NewSessionResponse(session)
	return &res, nil
}

func (s *workflowService) RemoveCode(ctx context.Context, id uuid.UUID, code string, returnToSuggestions bool, actor string) (*dto.SessionResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	session, err := s.loadActiveSession(ctx, uow, id)
	if err != nil {
		return nil, err
	}
	expectedVersion := session.Version

	idx := -1
	for i, c := range session.SelectedCodes {
		if c.Code == code {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, apperror.NotFound("selected code")
	}
	removed := session.SelectedCodes[idx]
	session.SelectedCodes = append(session.SelectedCodes[:idx], session.SelectedCodes[idx+1:]...)

	if returnToSuggestions && removed.SuggestionId != "" {
		// Re-admit the underlying suggestion to the live stream; its decision
		// is cleared so step 2 demands a fresh one.
		delete(session.SuggestionDecisions, removed.SuggestionId)
		s.publishSuggestion(id.String(), inference.CodeSuggestion{
			Id:            removed.SuggestionId,
			Code:          removed.Code,
			Type:          removed.Type,
			Description:   removed.Description,
			Rationale:     removed.Rationale,
			Confidence:    removed.Confidence,
			Reimbursement: removed.Reimbursement,
			RVU:           removed.RVU,
			EvidenceLinks: removed.EvidenceLinks,
		}, "suggestion_returned")
	}
	recomputeReimbursement(session)
	appendAudit(session, actor, "code_removed", removed.Type+" "+removed.Code+" removed")

	if err := commitSession(ctx, uow, session, expectedVersion); err != nil {
		return nil, err
	}
	res := dto.NewSessionResponse(session)
	return &res, nil
}

func (s *workflowService) ReassignCategory(ctx context.Context, id uuid.UUID, code string, req *dto.ReassignCategoryRequest) (*dto.SessionResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	session, err := s.loadActiveSession(ctx, uow, id)
	if err != nil {
		return nil, err
	}
	expectedVersion := session.Version

	idx := -1
	for i, c := range session.SelectedCodes {
		if c.Code == code {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, apperror.NotFound("selected code")
	}
	if !categoryAllowed(session.SelectedCodes[idx].Type, req.Category) {
		return nil, apperror.BadRequest("category " + req.Category + " is not valid for " + session.SelectedCodes[idx].Type + " codes")
	}
	session.SelectedCodes[idx].Category = req.Category
	appendAudit(session, req.Actor, "category_reassigned", code+" moved to "+req.Category)

	if err := commitSession(ctx, uow, session, expectedVersion); err != nil {
		return nil, err
	}
	res := dto.NewSessionResponse(session)
	return &res, nil
}

// Compose runs the enhancement collaborator over the note snapshot and stores
// both the enhanced draft and the summary variant.
func (s *workflowService) Compose(ctx context.Context, id uuid.UUID, req *dto.ComposeRequest) (*dto.ComposeResponse, error) {
	uow := s.uowFactory.NewUnitOfWork(ctx)
	session, err := s.loadActiveSession(ctx, uow, id)
	if err != nil {
		return nil, err
	}
	expectedVersion := session.Version

	vctx, cancel := context.WithTimeout(ctx, s.validationTimeout)
	defer cancel()

	enhanced, err := s.enhancer.Enhance(vctx, session.NoteContentSnapshot)
	if err != nil {
		return nil, apperror.InfraTimeout("enhancement collaborator unavailable", err)
	}
	summary, err := s.enhancer.Summarize(vctx, session.NoteContentSnapshot)
	if err != nil {
		return nil, apperror.InfraTimeout("summary collaborator unavailable", err)
	}

	session.EnhancedContent = enhanced
	session.SummaryContent = summary
	appendAudit(session, req.Actor, "note_composed", "enhanced and summary drafts generated")

	if err := commitSession(ctx, uow, session, expectedVersion); err != nil {
		return nil, err
	}
	s.publishCollaboration(id.String(), map[string]interface{}{
		"type": "compose_completed", "actor": req.Actor,
	})
	return &dto.ComposeResponse{EnhancedContent: enhanced, SummaryContent: summary}, nil
}
