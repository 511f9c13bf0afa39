package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"clinical-workflow-be/internal/dto"
	"clinical-workflow-be/internal/entity"
	"clinical-workflow-be/internal/pkg/apperror"
	"clinical-workflow-be/pkg/eventbus"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type workflowTestEnv struct {
	factory    *fakeFactory
	bus        *eventbus.Bus
	dispatcher *fakeDispatcher
	enhancer   *fakeEnhancer
	svc        IWorkflowService
}

func newWorkflowTestEnv(t *testing.T) *workflowTestEnv {
	t.Helper()
	factory := newFakeFactory()
	bus := eventbus.New(500)
	t.Cleanup(func() { bus.Close() })

	dispatcher := &fakeDispatcher{response: &dto.DispatchResponse{
		Status:       entity.DispatchCompleted,
		AttemptCount: 1,
	}}
	enhancer := &fakeEnhancer{
		enhanced: "Patient presents with acute sinusitis. Assessment and plan fully documented with follow-up in two weeks.",
		summary:  "Acute sinusitis, treated, follow-up planned.",
	}

	svc := NewWorkflowService(
		factory,
		NewValidationService(&fakeComplianceChecker{}, 90),
		dispatcher,
		bus,
		&fakeSuggester{},
		&fakeComplianceChecker{},
		enhancer,
		nil,
		nopLogger{},
		2*time.Second,
		500,
	)
	return &workflowTestEnv{factory: factory, bus: bus, dispatcher: dispatcher, enhancer: enhancer, svc: svc}
}

func (e *workflowTestEnv) createSession(t *testing.T) *dto.SessionResponse {
	t.Helper()
	res, err := e.svc.CreateSession(context.Background(), &dto.CreateSessionRequest{
		EncounterId: "enc-" + uuid.NewString(),
		PatientId:   "pat-1",
		NoteId:      "note-1",
		NoteContent: "Patient presents with acute sinusitis.",
		InitialCodes: []dto.SelectCodeRequest{{
			Code:          "99213",
			Type:          "CPT",
			Confidence:    80,
			Reimbursement: 92.50,
			RVU:           1.3,
			EvidenceLinks: []string{"note:1"},
			Actor:         "dr-a",
		}},
		Actor: "dr-a",
	})
	require.NoError(t, err)
	return res
}

// advanceTo walks the session through passing gates up to (and including)
// targetStep.
func (e *workflowTestEnv) advanceTo(t *testing.T, id uuid.UUID, targetStep int) *dto.StepTransitionResponse {
	t.Helper()
	var last *dto.StepTransitionResponse
	for step := 1; step <= targetStep; step++ {
		req := &dto.AdvanceStepRequest{Actor: "dr-a"}
		switch step {
		case entity.StepAICompose:
			_, err := e.svc.Compose(context.Background(), id, &dto.ComposeRequest{Actor: "dr-a"})
			require.NoError(t, err)
		case entity.StepCompareEdit:
			req.AcceptedVariant = entity.VariantEnhanced
		case entity.StepBillingAttest:
			req.BillingFlags = &dto.BillingFlags{
				CodesValidated:             true,
				DocumentationLevelVerified: true,
				MedicalNecessityConfirmed:  true,
				BillingComplianceChecked:   true,
			}
			req.Attestation = &dto.AttestationPayload{Signature: "sig", AttestedBy: "dr-a"}
		case entity.StepSignDispatch:
			req.DispatchFlags = &dto.DispatchFlags{
				PhysicianFinalApproval: true,
				QualityReviewPassed:    true,
				ComplianceVerified:     true,
			}
		}
		res, err := e.svc.AdvanceStep(context.Background(), id, step, req)
		require.NoError(t, err)
		require.True(t, res.Validation.Passed, "step %d should pass", step)
		last = res
	}
	return last
}

func TestCreateSession(t *testing.T) {
	env := newWorkflowTestEnv(t)

	res := env.createSession(t)

	assert.Equal(t, entity.SessionStatusActive, res.Status)
	assert.Equal(t, entity.StepCodeReview, res.CurrentStep)
	assert.Equal(t, entity.StepInProgress, res.StepStates[0].Status)
	assert.Equal(t, entity.StepNotStarted, res.StepStates[5].Status)
	assert.Equal(t, 1, res.Version)
	assert.Equal(t, 1, res.ReimbursementSummary.CodeCount)
	assert.InDelta(t, 92.50, res.ReimbursementSummary.EstimatedTotal, 0.001)
	require.NotEmpty(t, res.AuditTrail)
	assert.Equal(t, "session_created", res.AuditTrail[0].Action)
	// rule table places office visit CPTs under E/M
	assert.Equal(t, "evaluation_management", res.SelectedCodes[0].Category)
}

func TestCreateSessionDuplicateActiveEncounter(t *testing.T) {
	env := newWorkflowTestEnv(t)
	first := env.createSession(t)

	_, err := env.svc.CreateSession(context.Background(), &dto.CreateSessionRequest{
		EncounterId: first.EncounterId,
		PatientId:   "pat-1",
		NoteId:      "note-2",
		Actor:       "dr-b",
	})

	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindConflict))
}

func TestAdvanceStepCompletesAndOpensNext(t *testing.T) {
	env := newWorkflowTestEnv(t)
	created := env.createSession(t)

	res, err := env.svc.AdvanceStep(context.Background(), created.Id, 1, &dto.AdvanceStepRequest{Actor: "dr-a"})

	require.NoError(t, err)
	assert.True(t, res.Validation.Passed)
	assert.Equal(t, entity.StepCompleted, res.Session.StepStates[0].Status)
	assert.Equal(t, entity.StepInProgress, res.Session.StepStates[1].Status)
	assert.Equal(t, 2, res.Session.CurrentStep)
	assert.Equal(t, 2, res.Session.Version)
}

func TestAdvanceStepBlockedVerdictIsNotAnError(t *testing.T) {
	env := newWorkflowTestEnv(t)
	res, err := env.svc.CreateSession(context.Background(), &dto.CreateSessionRequest{
		EncounterId: "enc-" + uuid.NewString(),
		PatientId:   "pat-1",
		NoteId:      "note-1",
		Actor:       "dr-a",
	})
	require.NoError(t, err)

	// no codes selected: step 1 must block, not error
	out, err := env.svc.AdvanceStep(context.Background(), res.Id, 1, &dto.AdvanceStepRequest{Actor: "dr-a"})

	require.NoError(t, err)
	assert.False(t, out.Validation.Passed)
	assert.Equal(t, entity.StepBlocked, out.Session.StepStates[0].Status)
	assert.Equal(t, 1, out.Session.CurrentStep)
	assert.NotEmpty(t, out.Session.BlockingIssues)
	// blocked attempt is still persisted
	assert.Equal(t, 2, out.Session.Version)
}

func TestAdvanceStepOutOfOrder(t *testing.T) {
	env := newWorkflowTestEnv(t)
	created := env.createSession(t)

	_, err := env.svc.AdvanceStep(context.Background(), created.Id, 3, &dto.AdvanceStepRequest{Actor: "dr-a"})

	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindBadRequest))
}

func TestAdvanceCompletedStepRejected(t *testing.T) {
	env := newWorkflowTestEnv(t)
	created := env.createSession(t)
	env.advanceTo(t, created.Id, 1)

	_, err := env.svc.AdvanceStep(context.Background(), created.Id, 1, &dto.AdvanceStepRequest{Actor: "dr-a"})

	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindBadRequest))
}

func TestSuggestionReviewDecisions(t *testing.T) {
	env := newWorkflowTestEnv(t)
	created := env.createSession(t)
	env.advanceTo(t, created.Id, 1)

	// two high-confidence suggestions in flight
	publish := func(id, code string, conf int) {
		_, err := env.bus.Publish(context.Background(), created.Id.String(), eventbus.ChannelCodes, dto.CodeSuggestionEvent{
			Kind:         "suggestion",
			SuggestionId: id,
			Code:         code,
			Type:         "CPT",
			Confidence:   conf,
			RVU:          0.5,
		})
		require.NoError(t, err)
	}
	publish("sug-1", "99214", 95)
	publish("sug-2", "99215", 93)

	// undecided: gate blocks
	out, err := env.svc.AdvanceStep(context.Background(), created.Id, 2, &dto.AdvanceStepRequest{Actor: "dr-a"})
	require.NoError(t, err)
	assert.False(t, out.Validation.Passed)

	// explicit decisions: accept one, reject the other
	out, err = env.svc.AdvanceStep(context.Background(), created.Id, 2, &dto.AdvanceStepRequest{
		Actor: "dr-a",
		Decisions: []dto.SuggestionDecision{
			{SuggestionId: "sug-1", Action: entity.DecisionAccepted},
			{SuggestionId: "sug-2", Action: entity.DecisionRejected},
		},
	})
	require.NoError(t, err)
	assert.True(t, out.Validation.Passed)

	assert.Equal(t, entity.DecisionAccepted, out.Session.SuggestionDecisions["sug-1"])
	assert.Equal(t, entity.DecisionRejected, out.Session.SuggestionDecisions["sug-2"])

	var accepted *entity.SelectedCode
	for i := range out.Session.SelectedCodes {
		if out.Session.SelectedCodes[i].Code == "99214" {
			accepted = &out.Session.SelectedCodes[i]
		}
	}
	require.NotNil(t, accepted, "accepted suggestion should join the selected codes")
	assert.Equal(t, entity.CodeSourceAI, accepted.SourceOfTruth)
	assert.Equal(t, "sug-1", accepted.SuggestionId)
	// rejected suggestion stays out
	for _, c := range out.Session.SelectedCodes {
		assert.NotEqual(t, "99215", c.Code)
	}
}

func TestFullWorkflowToDispatch(t *testing.T) {
	env := newWorkflowTestEnv(t)
	created := env.createSession(t)

	last := env.advanceTo(t, created.Id, entity.StepSignDispatch)

	assert.Equal(t, 1, env.dispatcher.calls)
	require.NotNil(t, last.Dispatch)
	assert.Equal(t, entity.DispatchCompleted, last.Dispatch.Status)
	assert.Equal(t, entity.StepCompleted, last.Session.StepStates[5].Status)
}

func TestAdvanceStepRetriesOnceOnVersionConflict(t *testing.T) {
	env := newWorkflowTestEnv(t)
	created := env.createSession(t)

	env.factory.uow.sessions.failUpdates = 1
	res, err := env.svc.AdvanceStep(context.Background(), created.Id, 1, &dto.AdvanceStepRequest{Actor: "dr-a"})

	require.NoError(t, err)
	assert.True(t, res.Validation.Passed)
}

func TestAdvanceStepGivesUpAfterSecondConflict(t *testing.T) {
	env := newWorkflowTestEnv(t)
	created := env.createSession(t)

	env.factory.uow.sessions.failUpdates = 2
	_, err := env.svc.AdvanceStep(context.Background(), created.Id, 1, &dto.AdvanceStepRequest{Actor: "dr-a"})

	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindConflict))
}

func TestReopenStepCascades(t *testing.T) {
	env := newWorkflowTestEnv(t)
	created := env.createSession(t)
	env.advanceTo(t, created.Id, 4)

	res, err := env.svc.ReopenStep(context.Background(), created.Id, 2, &dto.ReopenStepRequest{Actor: "dr-a", Reason: "missed a suggestion"})

	require.NoError(t, err)
	assert.Equal(t, 2, res.CurrentStep)
	assert.Equal(t, entity.StepCompleted, res.StepStates[0].Status)
	assert.Equal(t, entity.StepInProgress, res.StepStates[1].Status)
	for i := 2; i < entity.StepCount; i++ {
		assert.Equal(t, entity.StepNotStarted, res.StepStates[i].Status, "step %d should be invalidated", i+1)
		assert.Nil(t, res.StepStates[i].LastValidation)
		assert.Nil(t, res.StepStates[i].CompletedAt)
	}

	// downstream work must be redone in order
	_, err = env.svc.AdvanceStep(context.Background(), created.Id, 4, &dto.AdvanceStepRequest{Actor: "dr-a", AcceptedVariant: entity.VariantEnhanced})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindBadRequest))
}

func TestReopenRequiresCompletedStep(t *testing.T) {
	env := newWorkflowTestEnv(t)
	created := env.createSession(t)

	_, err := env.svc.ReopenStep(context.Background(), created.Id, 3, &dto.ReopenStepRequest{Actor: "dr-a"})

	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindBadRequest))
}

func TestSelectAndRemoveCode(t *testing.T) {
	env := newWorkflowTestEnv(t)
	created := env.createSession(t)

	res, err := env.svc.SelectCode(context.Background(), created.Id, &dto.SelectCodeRequest{
		Code:          "J0129",
		Type:          "HCPCS",
		Reimbursement: 120,
		RVU:           0.8,
		EvidenceLinks: []string{"note:2"},
		Actor:         "coder-1",
	})
	require.NoError(t, err)
	assert.Len(t, res.SelectedCodes, 2)
	assert.Equal(t, "drug", res.SelectedCodes[1].Category)
	assert.Equal(t, 2, res.ReimbursementSummary.CodeCount)

	// duplicate selection is a conflict
	_, err = env.svc.SelectCode(context.Background(), created.Id, &dto.SelectCodeRequest{
		Code: "J0129", Type: "HCPCS", Actor: "coder-1",
	})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindConflict))

	res, err = env.svc.RemoveCode(context.Background(), created.Id, "J0129", false, "coder-1")
	require.NoError(t, err)
	assert.Len(t, res.SelectedCodes, 1)
	assert.Equal(t, 1, res.ReimbursementSummary.CodeCount)

	_, err = env.svc.RemoveCode(context.Background(), created.Id, "J0129", false, "coder-1")
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
}

func TestRemoveCodeReturnsSuggestionToStream(t *testing.T) {
	env := newWorkflowTestEnv(t)
	created := env.createSession(t)
	sid := created.Id.String()

	_, err := env.bus.Publish(context.Background(), sid, eventbus.ChannelCodes, dto.CodeSuggestionEvent{
		Kind: "suggestion", SuggestionId: "sug-1", Code: "99214", Type: "CPT", Confidence: 95,
	})
	require.NoError(t, err)

	_, err = env.svc.SelectCode(context.Background(), created.Id, &dto.SelectCodeRequest{
		Code: "99214", Type: "CPT", SuggestionId: "sug-1", EvidenceLinks: []string{"note:1"}, Actor: "dr-a",
	})
	require.NoError(t, err)

	res, err := env.svc.RemoveCode(context.Background(), created.Id, "99214", true, "dr-a")
	require.NoError(t, err)
	_, decided := res.SuggestionDecisions["sug-1"]
	assert.False(t, decided, "returned suggestion needs a fresh decision")

	tail := env.bus.Tail(sid, eventbus.ChannelCodes, 10)
	require.NotEmpty(t, tail)
	var last dto.CodeSuggestionEvent
	require.NoError(t, json.Unmarshal(tail[len(tail)-1].Payload, &last))
	assert.Equal(t, "suggestion_returned", last.Kind)
	assert.Equal(t, "sug-1", last.SuggestionId)
}

func TestReassignCategory(t *testing.T) {
	env := newWorkflowTestEnv(t)
	created := env.createSession(t)

	res, err := env.svc.ReassignCategory(context.Background(), created.Id, "99213", &dto.ReassignCategoryRequest{
		Category: "procedure", Actor: "coder-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "procedure", res.SelectedCodes[0].Category)

	// diagnosis is an ICD-10 category, invalid for a CPT code
	_, err = env.svc.ReassignCategory(context.Background(), created.Id, "99213", &dto.ReassignCategoryRequest{
		Category: "diagnosis", Actor: "coder-1",
	})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindBadRequest))
}

func TestComposeStoresVariants(t *testing.T) {
	env := newWorkflowTestEnv(t)
	created := env.createSession(t)

	res, err := env.svc.Compose(context.Background(), created.Id, &dto.ComposeRequest{Actor: "dr-a"})

	require.NoError(t, err)
	assert.Equal(t, env.enhancer.enhanced, res.EnhancedContent)
	assert.Equal(t, env.enhancer.summary, res.SummaryContent)

	stored, err := env.svc.GetSession(context.Background(), created.Id)
	require.NoError(t, err)
	assert.Equal(t, env.enhancer.enhanced, stored.EnhancedContent)
	assert.Equal(t, env.enhancer.summary, stored.SummaryContent)
}

func TestGetSnapshotReportsCursors(t *testing.T) {
	env := newWorkflowTestEnv(t)
	created := env.createSession(t)
	sid := created.Id.String()

	for i := 0; i < 3; i++ {
		_, err := env.bus.Publish(context.Background(), sid, eventbus.ChannelCompliance, dto.ComplianceFindingEvent{FindingId: "f"})
		require.NoError(t, err)
	}

	snap, err := env.svc.GetSnapshot(context.Background(), created.Id)

	require.NoError(t, err)
	assert.Equal(t, uint64(3), snap.ChannelCursors[string(eventbus.ChannelCompliance)])
	assert.Equal(t, uint64(0), snap.ChannelCursors[string(eventbus.ChannelTranscription)])
	assert.Equal(t, created.Id, snap.Session.Id)
}

func TestCancelSession(t *testing.T) {
	env := newWorkflowTestEnv(t)
	created := env.createSession(t)
	sid := created.Id.String()

	_, err := env.bus.Publish(context.Background(), sid, eventbus.ChannelCodes, dto.CodeSuggestionEvent{Kind: "suggestion", SuggestionId: "s"})
	require.NoError(t, err)

	err = env.svc.CancelSession(context.Background(), created.Id, &dto.CancelSessionRequest{Actor: "dr-a", Reason: "wrong encounter"})
	require.NoError(t, err)

	stored, err := env.svc.GetSession(context.Background(), created.Id)
	require.NoError(t, err)
	assert.Equal(t, entity.SessionStatusCancelled, stored.Status)
	assert.Empty(t, env.bus.Tail(sid, eventbus.ChannelCodes, 10), "stream buffers should be released")

	// further mutations are rejected
	_, err = env.svc.AdvanceStep(context.Background(), created.Id, 1, &dto.AdvanceStepRequest{Actor: "dr-a"})
	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindConflict))
}
