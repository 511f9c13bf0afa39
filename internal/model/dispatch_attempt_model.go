package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type DispatchAttempt struct {
	Id                 uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	SessionId          uuid.UUID      `gorm:"type:uuid;not null;index"`
	Status             string         `gorm:"type:varchar(16);not null"`
	ConfirmationNumber string         `gorm:"type:varchar(64)"`
	Errors             datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt          time.Time      `gorm:"autoCreateTime"`
}

func (DispatchAttempt) TableName() string {
	return "dispatch_attempts"
}
