package mapper

import (
	"clinical-workflow-be/internal/entity"
	"clinical-workflow-be/internal/model"
)

type DispatchAttemptMapper struct{}

func NewDispatchAttemptMapper() *DispatchAttemptMapper {
	return &DispatchAttemptMapper{}
}

func (m *DispatchAttemptMapper) ToEntity(a *model.DispatchAttempt) *entity.DispatchAttempt {
	if a == nil {
		return nil
	}
	e := &entity.DispatchAttempt{
		Id:                 a.Id,
		SessionId:          a.SessionId,
		Status:             a.Status,
		ConfirmationNumber: a.ConfirmationNumber,
		CreatedAt:          a.CreatedAt,
	}
	fromJSON(a.Errors, &e.Errors)
	return e
}

func (m *DispatchAttemptMapper) ToModel(e *entity.DispatchAttempt) *model.DispatchAttempt {
	if e == nil {
		return nil
	}
	return &model.DispatchAttempt{
		Id:                 e.Id,
		SessionId:          e.SessionId,
		Status:             e.Status,
		ConfirmationNumber: e.ConfirmationNumber,
		Errors:             toJSON(e.Errors),
		CreatedAt:          e.CreatedAt,
	}
}

func (m *DispatchAttemptMapper) ToEntities(attempts []*model.DispatchAttempt) []*entity.DispatchAttempt {
	entities := make([]*entity.DispatchAttempt, len(attempts))
	for i, a := range attempts {
		entities[i] = m.ToEntity(a)
	}
	return entities
}
