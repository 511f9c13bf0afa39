package specification

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ByEncounter filters workflow sessions by encounter id.
type ByEncounter struct {
	EncounterId string
}

func (s ByEncounter) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("encounter_id = ?", s.EncounterId)
}

// ByStatus filters by session lifecycle status.
type ByStatus struct {
	Status string
}

func (s ByStatus) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("status = ?", s.Status)
}

// BySession filters dispatch attempts by owning session.
type BySession struct {
	SessionId uuid.UUID
}

func (s BySession) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("session_id = ?", s.SessionId)
}
