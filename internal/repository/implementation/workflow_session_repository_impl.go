package implementation

import (
	"context"
	"errors"

	"clinical-workflow-be/internal/entity"
	"clinical-workflow-be/internal/mapper"
	"clinical-workflow-be/internal/model"
	"clinical-workflow-be/internal/pkg/apperror"
	"clinical-workflow-be/internal/repository/contract"
	"clinical-workflow-be/internal/repository/specification"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

type WorkflowSessionRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.WorkflowSessionMapper
}

func NewWorkflowSessionRepository(db *gorm.DB) contract.WorkflowSessionRepository {
	return &WorkflowSessionRepositoryImpl{
		db:     db,
		mapper: mapper.NewWorkflowSessionMapper(),
	}
}

func applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *WorkflowSessionRepositoryImpl) Create(ctx context.Context, session *entity.WorkflowSession) error {
	m := r.mapper.ToModel(session)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		// The partial unique index on (encounter_id) WHERE status='ACTIVE'
		// is the backstop for the one-active-session invariant.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return apperror.Conflict("an active session already exists for this encounter")
		}
		return err
	}
	*session = *r.mapper.ToEntity(m)
	return nil
}

func (r *WorkflowSessionRepositoryImpl) UpdateWithVersion(ctx context.Context, session *entity.WorkflowSession, expectedVersion int) error {
	m := r.mapper.ToModel(session)
	res := r.db.WithContext(ctx).
		Model(&model.WorkflowSession{}).
		Where("id = ? AND version = ?", m.Id, expectedVersion).
		Select("*").
		Omit("id", "created_at").
		Updates(m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperror.VersionConflict("session was modified concurrently")
	}
	return nil
}

func (r *WorkflowSessionRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.WorkflowSession, error) {
	var m model.WorkflowSession
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m), nil
}

func (r *WorkflowSessionRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.WorkflowSession, error) {
	var models []*model.WorkflowSession
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToEntities(models), nil
}

func (r *WorkflowSessionRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := applySpecifications(r.db.WithContext(ctx).Model(&model.WorkflowSession{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
