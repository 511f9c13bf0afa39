package service

import (
	"context"
	"encoding/json"
	"sync"

	"clinical-workflow-be/internal/dto"
	"clinical-workflow-be/internal/entity"
	"clinical-workflow-be/internal/pkg/apperror"
	"clinical-workflow-be/internal/repository/contract"
	"clinical-workflow-be/internal/repository/specification"
	"clinical-workflow-be/internal/repository/unitofwork"
	"clinical-workflow-be/pkg/exporter"
	"clinical-workflow-be/pkg/inference"

	"github.com/google/uuid"
)

// memSessionRepo is an in-memory WorkflowSessionRepository that mirrors the
// database invariants the services lean on: the partial unique index on
// active encounters and the version-guarded update.
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*entity.WorkflowSession

	// failUpdates makes the next N version-guarded updates clash, simulating
	// concurrent writers.
	failUpdates int
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: map[uuid.UUID]*entity.WorkflowSession{}}
}

func cloneSession(s *entity.WorkflowSession) *entity.WorkflowSession {
	raw, _ := json.Marshal(s)
	var out entity.WorkflowSession
	_ = json.Unmarshal(raw, &out)
	return &out
}

func (r *memSessionRepo) Create(ctx context.Context, session *entity.WorkflowSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sessions {
		if existing.EncounterId == session.EncounterId && existing.Status == entity.SessionStatusActive {
			return apperror.Conflict("an active session already exists for this encounter")
		}
	}
	r.sessions[session.Id] = cloneSession(session)
	return nil
}

func (r *memSessionRepo) UpdateWithVersion(ctx context.Context, session *entity.WorkflowSession, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdates > 0 {
		r.failUpdates--
		return apperror.VersionConflict("session version changed")
	}
	stored, ok := r.sessions[session.Id]
	if !ok || stored.Version != expectedVersion {
		return apperror.VersionConflict("session version changed")
	}
	r.sessions[session.Id] = cloneSession(session)
	return nil
}

func sessionMatches(s *entity.WorkflowSession, specs []specification.Specification) bool {
	for _, sp := range specs {
		switch v := sp.(type) {
		case specification.ByID:
			if s.Id != v.ID {
				return false
			}
		case specification.ByEncounter:
			if s.EncounterId != v.EncounterId {
				return false
			}
		case specification.ByStatus:
			if s.Status != v.Status {
				return false
			}
		}
	}
	return true
}

func (r *memSessionRepo) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.WorkflowSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if sessionMatches(s, specs) {
			return cloneSession(s), nil
		}
	}
	return nil, nil
}

func (r *memSessionRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.WorkflowSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.WorkflowSession
	for _, s := range r.sessions {
		if sessionMatches(s, specs) {
			out = append(out, cloneSession(s))
		}
	}
	return out, nil
}

func (r *memSessionRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	all, _ := r.FindAll(ctx, specs...)
	return int64(len(all)), nil
}

type memAttemptRepo struct {
	mu       sync.Mutex
	attempts []*entity.DispatchAttempt
}

func cloneAttempt(a *entity.DispatchAttempt) *entity.DispatchAttempt {
	raw, _ := json.Marshal(a)
	var out entity.DispatchAttempt
	_ = json.Unmarshal(raw, &out)
	return &out
}

func (r *memAttemptRepo) Create(ctx context.Context, attempt *entity.DispatchAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, cloneAttempt(attempt))
	return nil
}

func (r *memAttemptRepo) Update(ctx context.Context, attempt *entity.DispatchAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, a := range r.attempts {
		if a.Id == attempt.Id {
			r.attempts[i] = cloneAttempt(attempt)
			return nil
		}
	}
	return apperror.NotFound("dispatch attempt")
}

func (r *memAttemptRepo) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.DispatchAttempt, error) {
	all, _ := r.FindAll(ctx, specs...)
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

func (r *memAttemptRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.DispatchAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.DispatchAttempt
	for _, a := range r.attempts {
		match := true
		for _, sp := range specs {
			if v, ok := sp.(specification.BySession); ok && a.SessionId != v.SessionId {
				match = false
			}
		}
		if match {
			out = append(out, cloneAttempt(a))
		}
	}
	return out, nil
}

func (r *memAttemptRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	all, _ := r.FindAll(ctx, specs...)
	return int64(len(all)), nil
}

type fakeUow struct {
	sessions *memSessionRepo
	attempts *memAttemptRepo
}

func (u *fakeUow) Begin(ctx context.Context) error { return nil }
func (u *fakeUow) Commit() error                   { return nil }
func (u *fakeUow) Rollback() error                 { return nil }

func (u *fakeUow) WorkflowSessionRepository() contract.WorkflowSessionRepository {
	return u.sessions
}

func (u *fakeUow) DispatchAttemptRepository() contract.DispatchAttemptRepository {
	return u.attempts
}

type fakeFactory struct {
	uow *fakeUow
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{uow: &fakeUow{sessions: newMemSessionRepo(), attempts: &memAttemptRepo{}}}
}

func (f *fakeFactory) NewUnitOfWork(ctx context.Context) unitofwork.UnitOfWork {
	return f.uow
}

type fakeSuggester struct {
	suggestions []inference.CodeSuggestion
}

func (f *fakeSuggester) SuggestCodes(ctx context.Context, noteContent string) ([]inference.CodeSuggestion, error) {
	return f.suggestions, nil
}

type fakeEnhancer struct {
	enhanced string
	summary  string
	err      error
}

func (f *fakeEnhancer) Enhance(ctx context.Context, content string) (string, error) {
	return f.enhanced, f.err
}

func (f *fakeEnhancer) Summarize(ctx context.Context, content string) (string, error) {
	return f.summary, f.err
}

type fakeExporter struct {
	mu       sync.Mutex
	receipts []string
	calls    int
	err      error
}

func (f *fakeExporter) Export(ctx context.Context, artifact *exporter.Artifact) (*exporter.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	conf := "CONF-" + artifact.SessionId
	f.receipts = append(f.receipts, conf)
	return &exporter.Receipt{ConfirmationNumber: conf}, nil
}

type fakeDispatcher struct {
	mu       sync.Mutex
	calls    int
	response *dto.DispatchResponse
	err      error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, sessionID uuid.UUID, actor string) (*dto.DispatchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.response, f.err
}

func (f *fakeDispatcher) Attempts(ctx context.Context, sessionID uuid.UUID) ([]*entity.DispatchAttempt, error) {
	return nil, nil
}

var _ contract.WorkflowSessionRepository = (*memSessionRepo)(nil)
var _ contract.DispatchAttemptRepository = (*memAttemptRepo)(nil)
var _ unitofwork.UnitOfWork = (*fakeUow)(nil)
var _ unitofwork.RepositoryFactory = (*fakeFactory)(nil)
var _ IDispatchService = (*fakeDispatcher)(nil)

type nopLogger struct{}

func (nopLogger) Debug(module, message string, details map[string]interface{}) {}
func (nopLogger) Info(module, message string, details map[string]interface{})  {}
func (nopLogger) Warn(module, message string, details map[string]interface{})  {}
func (nopLogger) Error(module, message string, details map[string]interface{}) {}
func (nopLogger) Sync() error                                                  { return nil }
