package repository

import (
	"time"

	"github.com/kursadbilgin/lyve-bridge/internal/domain"
)

// IdentityMappingModel is the persistence model for identity_mappings. Face
// images are never stored; only their digest takes part in the hash.
type IdentityMappingModel struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	SourceID       string  `gorm:"type:varchar(128);not null"`
	TargetID       *string `gorm:"type:varchar(128)"`
	PersonCode     string  `gorm:"type:varchar(160);not null"`
	Name           string  `gorm:"type:varchar(255);not null"`
	Phone          string  `gorm:"type:varchar(50);not null;default:''"`
	Email          string  `gorm:"type:varchar(255);not null;default:''"`
	ValidFrom      *time.Time
	ValidTo        *time.Time
	AttributesHash string              `gorm:"type:varchar(64);not null"`
	State          domain.MappingState `gorm:"type:varchar(10);not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (IdentityMappingModel) TableName() string {
	return "identity_mappings"
}

// SyncAttemptModel is the persistence model for sync_attempts.
type SyncAttemptModel struct {
	ID             string                `gorm:"type:uuid;primaryKey"`
	SourceID       string                `gorm:"type:varchar(128);not null"`
	Operation      domain.SyncOperation  `gorm:"type:varchar(16);not null"`
	Outcome        domain.AttemptOutcome `gorm:"type:varchar(16);not null"`
	UpstreamStatus *int                  `gorm:"type:int"`
	UpstreamCode   *string               `gorm:"type:varchar(64)"`
	LatencyMs      int64                 `gorm:"not null;default:0"`
	Error          *string               `gorm:"type:text"`
	AttemptedAt    time.Time             `gorm:"not null"`
}

func (SyncAttemptModel) TableName() string {
	return "sync_attempts"
}

// BatchModel is the persistence model for batches.
type BatchModel struct {
	ID             string             `gorm:"type:uuid;primaryKey"`
	TotalCount     int                `gorm:"not null"`
	SucceededCount int                `gorm:"not null;default:0"`
	FailedCount    int                `gorm:"not null;default:0"`
	Status         domain.BatchStatus `gorm:"type:varchar(20);not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (BatchModel) TableName() string {
	return "batches"
}

// BatchItemModel is one row per batch entry, written when the batch completes.
type BatchItemModel struct {
	BatchID    string         `gorm:"type:uuid;primaryKey"`
	ItemIndex  int            `gorm:"primaryKey;autoIncrement:false"`
	SourceID   string         `gorm:"type:varchar(128);not null"`
	Outcome    domain.Outcome `gorm:"type:varchar(16);not null"`
	StatusCode int            `gorm:"not null"`
	Detail     string         `gorm:"type:text;not null;default:''"`
}

func (BatchItemModel) TableName() string {
	return "batch_items"
}

// QRCodeModel is the persistence model for qr_codes.
type QRCodeModel struct {
	ID              string    `gorm:"type:uuid;primaryKey"`
	SourceID        string    `gorm:"type:varchar(128);not null"`
	TargetID        string    `gorm:"type:varchar(128);not null"`
	UnitID          string    `gorm:"type:varchar(128);not null;default:''"`
	Data            string    `gorm:"type:text;not null"`
	ValidityMinutes int       `gorm:"not null"`
	ExpiresAt       time.Time `gorm:"not null"`
	CreatedAt       time.Time
}

func (QRCodeModel) TableName() string {
	return "qr_codes"
}

func mappingModelFromDomain(m *domain.IdentityMapping) *IdentityMappingModel {
	if m == nil {
		return nil
	}

	return &IdentityMappingModel{
		ID:             m.ID,
		SourceID:       m.SourceID,
		TargetID:       m.TargetID,
		PersonCode:     m.PersonCode,
		Name:           m.Attributes.Name,
		Phone:          m.Attributes.Phone,
		Email:          m.Attributes.Email,
		ValidFrom:      timePtr(m.Attributes.ValidFrom),
		ValidTo:        timePtr(m.Attributes.ValidTo),
		AttributesHash: m.AttributesHash,
		State:          m.State,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func mappingModelToDomain(m *IdentityMappingModel) *domain.IdentityMapping {
	if m == nil {
		return nil
	}

	return &domain.IdentityMapping{
		ID:         m.ID,
		SourceID:   m.SourceID,
		TargetID:   m.TargetID,
		PersonCode: m.PersonCode,
		Attributes: domain.Attributes{
			Name:      m.Name,
			Phone:     m.Phone,
			Email:     m.Email,
			ValidFrom: timeValue(m.ValidFrom),
			ValidTo:   timeValue(m.ValidTo),
		},
		AttributesHash: m.AttributesHash,
		State:          m.State,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.SyncAttempt) *SyncAttemptModel {
	if a == nil {
		return nil
	}

	return &SyncAttemptModel{
		ID:             a.ID,
		SourceID:       a.SourceID,
		Operation:      a.Operation,
		Outcome:        a.Outcome,
		UpstreamStatus: a.UpstreamStatus,
		UpstreamCode:   a.UpstreamCode,
		LatencyMs:      a.LatencyMs,
		Error:          a.Error,
		AttemptedAt:    a.AttemptedAt,
	}
}

func attemptModelToDomain(m *SyncAttemptModel) *domain.SyncAttempt {
	if m == nil {
		return nil
	}

	return &domain.SyncAttempt{
		ID:             m.ID,
		SourceID:       m.SourceID,
		Operation:      m.Operation,
		Outcome:        m.Outcome,
		UpstreamStatus: m.UpstreamStatus,
		UpstreamCode:   m.UpstreamCode,
		LatencyMs:      m.LatencyMs,
		Error:          m.Error,
		AttemptedAt:    m.AttemptedAt,
	}
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:             b.ID,
		TotalCount:     b.TotalCount,
		SucceededCount: b.SucceededCount,
		FailedCount:    b.FailedCount,
		Status:         b.Status,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel, items []BatchItemModel) *domain.Batch {
	if m == nil {
		return nil
	}

	b := &domain.Batch{
		ID:             m.ID,
		TotalCount:     m.TotalCount,
		SucceededCount: m.SucceededCount,
		FailedCount:    m.FailedCount,
		Status:         m.Status,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	for _, item := range items {
		b.Items = append(b.Items, domain.BatchItemOutcome{
			Index:      item.ItemIndex,
			SourceID:   item.SourceID,
			Outcome:    item.Outcome,
			StatusCode: item.StatusCode,
			Detail:     item.Detail,
		})
	}
	return b
}

func batchItemModelsFromDomain(batchID string, items []domain.BatchItemOutcome) []BatchItemModel {
	out := make([]BatchItemModel, 0, len(items))
	for _, item := range items {
		out = append(out, BatchItemModel{
			BatchID:    batchID,
			ItemIndex:  item.Index,
			SourceID:   item.SourceID,
			Outcome:    item.Outcome,
			StatusCode: item.StatusCode,
			Detail:     item.Detail,
		})
	}
	return out
}

func qrCodeModelFromDomain(q *domain.QRCode) *QRCodeModel {
	if q == nil {
		return nil
	}

	return &QRCodeModel{
		ID:              q.ID,
		SourceID:        q.SourceID,
		TargetID:        q.TargetID,
		UnitID:          q.UnitID,
		Data:            q.Data,
		ValidityMinutes: q.ValidityMinutes,
		ExpiresAt:       q.ExpiresAt,
		CreatedAt:       q.CreatedAt,
	}
}

func qrCodeModelToDomain(m *QRCodeModel) *domain.QRCode {
	if m == nil {
		return nil
	}

	return &domain.QRCode{
		ID:              m.ID,
		SourceID:        m.SourceID,
		TargetID:        m.TargetID,
		UnitID:          m.UnitID,
		Data:            m.Data,
		ValidityMinutes: m.ValidityMinutes,
		ExpiresAt:       m.ExpiresAt,
		CreatedAt:       m.CreatedAt,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
