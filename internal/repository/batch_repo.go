package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/lyve-bridge/internal/domain"
	"gorm.io/gorm"
)

const batchItemInsertSize = 100

type BatchRepository interface {
	Create(ctx context.Context, b *domain.Batch) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	Complete(ctx context.Context, b *domain.Batch) error
}

// GormBatchRepo stores the batch header on submit and its item outcomes once
// the batch settles.
type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

func (r *GormBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	if b == nil {
		return errors.New("batch is required")
	}
	model := batchModelFromDomain(b)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	b.CreatedAt = model.CreatedAt
	b.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var items []BatchItemModel
	if err := r.db.WithContext(ctx).
		Where("batch_id = ?", id).
		Order("item_index ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}

	return batchModelToDomain(&model, items), nil
}

// Complete moves a PROCESSING batch to its final status and writes every item
// outcome in one transaction. A batch completes at most once.
func (r *GormBatchRepo) Complete(ctx context.Context, b *domain.Batch) error {
	if b == nil {
		return errors.New("batch is required")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&BatchModel{}).
			Where("id = ? AND status = ?", b.ID, domain.BatchStatusProcessing).
			Updates(map[string]any{
				"succeeded_count": b.SucceededCount,
				"failed_count":    b.FailedCount,
				"status":          b.Status,
				"updated_at":      time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&BatchModel{}).Where("id = ?", b.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return domain.ErrNotFound
			}
			return domain.ErrConflict
		}

		items := batchItemModelsFromDomain(b.ID, b.Items)
		if len(items) == 0 {
			return nil
		}
		return tx.CreateInBatches(items, batchItemInsertSize).Error
	})
}
