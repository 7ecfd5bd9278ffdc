package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/lyve-bridge/internal/domain"
	"gorm.io/gorm"
)

// SyncedUpdate carries the fields written when a mapping becomes SYNCED.
type SyncedUpdate struct {
	TargetID       string
	Attributes     domain.Attributes
	AttributesHash string
}

// MappingFilter narrows a mapping search. Text fields match as
// case-insensitive substrings; empty fields do not filter.
type MappingFilter struct {
	Name   string
	Phone  string
	Email  string
	State  domain.MappingState
	Limit  int
	Offset int
}

type MappingRepository interface {
	InsertPending(ctx context.Context, m *domain.IdentityMapping) error
	GetBySourceID(ctx context.Context, sourceID string) (*domain.IdentityMapping, error)
	GetByTargetID(ctx context.Context, targetID string) (*domain.IdentityMapping, error)
	Search(ctx context.Context, filter MappingFilter) ([]domain.IdentityMapping, int64, error)
	MarkSynced(ctx context.Context, sourceID string, update SyncedUpdate, from ...domain.MappingState) (*domain.IdentityMapping, error)
	MarkStale(ctx context.Context, sourceID string) error
	MarkDeleted(ctx context.Context, sourceID string) error
	DeletePending(ctx context.Context, id string) error
	ListByState(ctx context.Context, state domain.MappingState, limit int) ([]domain.IdentityMapping, error)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.IdentityMapping, error)
}

type GormMappingRepo struct {
	db *gorm.DB
}

func NewGormMappingRepo(db *gorm.DB) *GormMappingRepo {
	return &GormMappingRepo{db: db}
}

// InsertPending relies on the unique index on source_id. A second insert for
// the same source returns domain.ErrConflict.
func (r *GormMappingRepo) InsertPending(ctx context.Context, m *domain.IdentityMapping) error {
	if m == nil {
		return fmt.Errorf("%w: mapping is required", domain.ErrValidation)
	}

	model := mappingModelFromDomain(m)
	model.State = domain.MappingStatePending
	model.TargetID = nil

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolationError(err) {
			return fmt.Errorf("%w: mapping for source %s already exists", domain.ErrConflict, m.SourceID)
		}
		return err
	}

	*m = *mappingModelToDomain(model)
	return nil
}

func (r *GormMappingRepo) GetBySourceID(ctx context.Context, sourceID string) (*domain.IdentityMapping, error) {
	var model IdentityMappingModel
	err := r.db.WithContext(ctx).First(&model, "source_id = ?", sourceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return mappingModelToDomain(&model), nil
}

// GetByTargetID returns the live mapping holding targetID.
func (r *GormMappingRepo) GetByTargetID(ctx context.Context, targetID string) (*domain.IdentityMapping, error) {
	var model IdentityMappingModel
	err := r.db.WithContext(ctx).
		Where("target_id = ? AND state <> ?", targetID, domain.MappingStateDeleted).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return mappingModelToDomain(&model), nil
}

// Search returns one page of matching mappings, newest first, and the total
// number of matches.
func (r *GormMappingRepo) Search(ctx context.Context, filter MappingFilter) ([]domain.IdentityMapping, int64, error) {
	query := r.db.WithContext(ctx).Model(&IdentityMappingModel{})

	for column, value := range map[string]string{"name": filter.Name, "phone": filter.Phone, "email": filter.Email} {
		if value = strings.TrimSpace(value); value != "" {
			query = query.Where("LOWER("+column+") LIKE ? ESCAPE '\\'", containsPattern(value))
		}
	}
	if filter.State != "" {
		query = query.Where("state = ?", filter.State)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var models []IdentityMappingModel
	err := query.
		Order("created_at DESC").
		Order("id ASC").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}
	return mappingsToDomain(models), total, nil
}

func containsPattern(value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(value))
	return "%" + escaped + "%"
}

// MarkSynced moves the mapping to SYNCED only when its current state is one of
// from. Losing that race, or colliding with another live mapping on target_id,
// yields domain.ErrConflict.
func (r *GormMappingRepo) MarkSynced(ctx context.Context, sourceID string, update SyncedUpdate, from ...domain.MappingState) (*domain.IdentityMapping, error) {
	if len(from) == 0 {
		from = []domain.MappingState{domain.MappingStatePending, domain.MappingStateSynced, domain.MappingStateStale}
	}

	attrs := update.Attributes
	result := r.db.WithContext(ctx).
		Model(&IdentityMappingModel{}).
		Where("source_id = ? AND state IN ?", sourceID, from).
		Updates(map[string]any{
			"target_id":       update.TargetID,
			"name":            attrs.Name,
			"phone":           attrs.Phone,
			"email":           attrs.Email,
			"valid_from":      timePtr(attrs.ValidFrom),
			"valid_to":        timePtr(attrs.ValidTo),
			"attributes_hash": update.AttributesHash,
			"state":           domain.MappingStateSynced,
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		if isUniqueViolationError(result.Error) {
			return nil, fmt.Errorf("%w: target %s is already mapped", domain.ErrConflict, update.TargetID)
		}
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: mapping for source %s is not in state %v", domain.ErrConflict, sourceID, from)
	}

	return r.GetBySourceID(ctx, sourceID)
}

func (r *GormMappingRepo) MarkStale(ctx context.Context, sourceID string) error {
	return r.transition(ctx, sourceID, domain.MappingStateStale, domain.MappingStateSynced, domain.MappingStateStale)
}

func (r *GormMappingRepo) MarkDeleted(ctx context.Context, sourceID string) error {
	return r.transition(ctx, sourceID, domain.MappingStateDeleted, domain.MappingStateSynced, domain.MappingStateStale)
}

func (r *GormMappingRepo) transition(ctx context.Context, sourceID string, to domain.MappingState, from ...domain.MappingState) error {
	result := r.db.WithContext(ctx).
		Model(&IdentityMappingModel{}).
		Where("source_id = ? AND state IN ?", sourceID, from).
		Updates(map[string]any{
			"state":      to,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: mapping for source %s cannot move to %s", domain.ErrConflict, sourceID, to)
	}
	return nil
}

// DeletePending removes a PENDING row by its primary key. Keying on the row ID
// keeps a compensating delete from touching a newer insert for the same
// source.
func (r *GormMappingRepo) DeletePending(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND state = ?", id, domain.MappingStatePending).
		Delete(&IdentityMappingModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormMappingRepo) ListByState(ctx context.Context, state domain.MappingState, limit int) ([]domain.IdentityMapping, error) {
	var models []IdentityMappingModel
	err := r.db.WithContext(ctx).
		Where("state = ?", state).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return mappingsToDomain(models), nil
}

func (r *GormMappingRepo) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.IdentityMapping, error) {
	var models []IdentityMappingModel
	err := r.db.WithContext(ctx).
		Where("state = ? AND created_at <= ?", domain.MappingStatePending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return mappingsToDomain(models), nil
}

func mappingsToDomain(models []IdentityMappingModel) []domain.IdentityMapping {
	mappings := make([]domain.IdentityMapping, 0, len(models))
	for i := range models {
		mappings = append(mappings, *mappingModelToDomain(&models[i]))
	}
	return mappings
}
