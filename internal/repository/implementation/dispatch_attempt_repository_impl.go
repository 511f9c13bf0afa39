package implementation

import (
	"context"
	"errors"

	"clinical-workflow-be/internal/entity"
	"clinical-workflow-be/internal/mapper"
	"clinical-workflow-be/internal/model"
	"clinical-workflow-be/internal/repository/contract"
	"clinical-workflow-be/internal/repository/specification"

	"gorm.io/gorm"
)

type DispatchAttemptRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.DispatchAttemptMapper
}

func NewDispatchAttemptRepository(db *gorm.DB) contract.DispatchAttemptRepository {
	return &DispatchAttemptRepositoryImpl{
		db:     db,
		mapper: mapper.NewDispatchAttemptMapper(),
	}
}

func (r *DispatchAttemptRepositoryImpl) Create(ctx context.Context, attempt *entity.DispatchAttempt) error {
	m := r.mapper.ToModel(attempt)
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return err
	}
	*attempt = *r.mapper.ToEntity(m)
	return nil
}

func (r *DispatchAttemptRepositoryImpl) Update(ctx context.Context, attempt *entity.DispatchAttempt) error {
	m := r.mapper.ToModel(attempt)
	if err := r.db.WithContext(ctx).Save(m).Error; err != nil {
		return err
	}
	*attempt = *r.mapper.ToEntity(m)
	return nil
}

func (r *DispatchAttemptRepositoryImpl) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.DispatchAttempt, error) {
	var m model.DispatchAttempt
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r.mapper.ToEntity(&m), nil
}

func (r *DispatchAttemptRepositoryImpl) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.DispatchAttempt, error) {
	var models []*model.DispatchAttempt
	query := applySpecifications(r.db.WithContext(ctx), specs...)
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	return r.mapper.ToEntities(models), nil
}

func (r *DispatchAttemptRepositoryImpl) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	var count int64
	query := applySpecifications(r.db.WithContext(ctx).Model(&model.DispatchAttempt{}), specs...)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
