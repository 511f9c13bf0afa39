package contract

import (
	"context"

	"clinical-workflow-be/internal/entity"
	"clinical-workflow-be/internal/repository/specification"
)

type DispatchAttemptRepository interface {
	Create(ctx context.Context, attempt *entity.DispatchAttempt) error
	Update(ctx context.Context, attempt *entity.DispatchAttempt) error
	FindOne(ctx context.Context, specs ...specification.Specification) (*entity.DispatchAttempt, error)
	FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.DispatchAttempt, error)
	Count(ctx context.Context, specs ...specification.Specification) (int64, error)
}
