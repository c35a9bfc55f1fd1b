package repository

import (
	"time"

	"github.com/kursadbilgin/message-dispatch/internal/domain"
)

// MessageAttemptModel is the persistence model for the message_attempts table.
type MessageAttemptModel struct {
	ID         uint               `gorm:"primaryKey;autoIncrement"`
	RunID      string             `gorm:"type:varchar(36);not null;default:''"`
	Kind       domain.AttemptKind `gorm:"type:varchar(10);not null"`
	Succeeded  bool               `gorm:"not null"`
	DurationMs int64              `gorm:"not null"`
	CreatedAt  time.Time          `gorm:"not null"`
}

func (MessageAttemptModel) TableName() string {
	return "message_attempts"
}

func attemptModelFromDomain(a *domain.Attempt) *MessageAttemptModel {
	if a == nil {
		return nil
	}

	return &MessageAttemptModel{
		ID:         a.ID,
		RunID:      a.RunID,
		Kind:       a.Kind,
		Succeeded:  a.Succeeded,
		DurationMs: a.DurationMs,
		CreatedAt:  a.CreatedAt,
	}
}

func attemptModelToDomain(m *MessageAttemptModel) *domain.Attempt {
	if m == nil {
		return nil
	}

	return &domain.Attempt{
		ID:         m.ID,
		RunID:      m.RunID,
		Kind:       m.Kind,
		Succeeded:  m.Succeeded,
		DurationMs: m.DurationMs,
		CreatedAt:  m.CreatedAt,
	}
}
