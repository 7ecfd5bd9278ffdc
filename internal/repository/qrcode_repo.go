package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/lyve-bridge/internal/domain"
	"gorm.io/gorm"
)

type QRCodeRepository interface {
	Create(ctx context.Context, q *domain.QRCode) error
	LatestBySourceID(ctx context.Context, sourceID string) (*domain.QRCode, error)
}

type GormQRCodeRepo struct {
	db *gorm.DB
}

func NewGormQRCodeRepo(db *gorm.DB) *GormQRCodeRepo {
	return &GormQRCodeRepo{db: db}
}

func (r *GormQRCodeRepo) Create(ctx context.Context, q *domain.QRCode) error {
	model := qrCodeModelFromDomain(q)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if q != nil {
		*q = *qrCodeModelToDomain(model)
	}
	return nil
}

func (r *GormQRCodeRepo) LatestBySourceID(ctx context.Context, sourceID string) (*domain.QRCode, error) {
	var model QRCodeModel
	err := r.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return qrCodeModelToDomain(&model), nil
}
