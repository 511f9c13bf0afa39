package unitofwork

import (
	"context"

	"clinical-workflow-be/internal/repository/contract"
)

type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	WorkflowSessionRepository() contract.WorkflowSessionRepository
	DispatchAttemptRepository() contract.DispatchAttemptRepository
}
