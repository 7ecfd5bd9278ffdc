package repository

import (
	"context"

	"github.com/kursadbilgin/lyve-bridge/internal/domain"
	"gorm.io/gorm"
)

const defaultAttemptListLimit = 100

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.SyncAttempt) error
	ListBySourceID(ctx context.Context, sourceID string, limit int) ([]domain.SyncAttempt, error)
}

// GormAttemptRepo is append-only.
type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.SyncAttempt) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

// ListBySourceID returns the newest attempts first.
func (r *GormAttemptRepo) ListBySourceID(ctx context.Context, sourceID string, limit int) ([]domain.SyncAttempt, error) {
	if limit <= 0 {
		limit = defaultAttemptListLimit
	}

	var models []SyncAttemptModel
	err := r.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("attempted_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.SyncAttempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}
