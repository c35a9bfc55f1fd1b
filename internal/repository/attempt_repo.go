package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/message-dispatch/internal/domain"
	"gorm.io/gorm"
)

// AttemptRepository is the append-only outcome store. Implementations must
// accept concurrent Record calls without losing rows.
type AttemptRepository interface {
	Record(ctx context.Context, a *domain.Attempt) error
	Summarize(ctx context.Context) (domain.Summary, error)
	ListByRun(ctx context.Context, runID string) ([]domain.Attempt, error)
}

// StoreError wraps any persistence failure of the outcome store.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

type summaryRow struct {
	Total          int64 `gorm:"column:total"`
	TextCount      int64 `gorm:"column:text_count"`
	MediaCount     int64 `gorm:"column:media_count"`
	SucceededCount int64 `gorm:"column:succeeded_count"`
	DurationSumMs  int64 `gorm:"column:duration_sum_ms"`
}

type GormAttemptRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db, now: time.Now}
}

// Record appends one attempt. The store assigns ID and CreatedAt.
func (r *GormAttemptRepo) Record(ctx context.Context, a *domain.Attempt) error {
	if a == nil {
		return &StoreError{Op: "record", Err: fmt.Errorf("%w: attempt is nil", domain.ErrValidation)}
	}
	if err := a.Validate(); err != nil {
		return &StoreError{Op: "record", Err: err}
	}

	model := attemptModelFromDomain(a)
	model.ID = 0
	model.CreatedAt = r.now().UTC()

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return &StoreError{Op: "record", Err: err}
	}
	*a = *attemptModelToDomain(model)
	return nil
}

// Summarize aggregates every stored attempt in a single statement.
func (r *GormAttemptRepo) Summarize(ctx context.Context) (domain.Summary, error) {
	var row summaryRow
	err := r.db.WithContext(ctx).
		Model(&MessageAttemptModel{}).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0) AS text_count,
			COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0) AS media_count,
			COALESCE(SUM(CASE WHEN succeeded THEN 1 ELSE 0 END), 0) AS succeeded_count,
			COALESCE(SUM(duration_ms), 0) AS duration_sum_ms`,
			domain.AttemptKindText, domain.AttemptKindMedia).
		Scan(&row).Error
	if err != nil {
		return domain.Summary{}, &StoreError{Op: "summarize", Err: err}
	}

	return domain.NewSummary(row.Total, row.TextCount, row.MediaCount, row.SucceededCount, float64(row.DurationSumMs)), nil
}

func (r *GormAttemptRepo) ListByRun(ctx context.Context, runID string) ([]domain.Attempt, error) {
	var models []MessageAttemptModel
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}

	attempts := make([]domain.Attempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}
