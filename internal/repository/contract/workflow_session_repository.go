package contract

import (
	"context"

	"clinical-workflow-be/internal/entity"
	"clinical-workflow-be/internal/repository/specification"
)

type WorkflowSessionRepository interface {
	Create(ctx context.Context, session *entity.WorkflowSession) error
	// UpdateWithVersion persists the session only if the stored row still has
	// expectedVersion; returns a version-conflict error otherwise.
	UpdateWithVersion(ctx context.Context, session *entity.WorkflowSession, expectedVersion int) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.WorkflowSession, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.WorkflowSession, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
}
