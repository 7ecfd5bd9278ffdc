package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/lyve-bridge/internal/domain"
	"github.com/kursadbilgin/lyve-bridge/internal/face"
	"github.com/kursadbilgin/lyve-bridge/internal/hikcentral"
	"github.com/kursadbilgin/lyve-bridge/internal/observability"
	"github.com/kursadbilgin/lyve-bridge/internal/queue"
	"github.com/kursadbilgin/lyve-bridge/internal/repository"
	"go.uber.org/zap"
)

const (
	DefaultSearchLimit = 50
	MaxSearchLimit     = 100
)

// SearchPage is one page of a mapping search.
type SearchPage struct {
	Mappings []domain.IdentityMapping
	Total    int64
	Limit    int
	Offset   int
}

// Search matches cached mappings only; it never calls upstream.
func (s *SyncService) Search(ctx context.Context, filter repository.MappingFilter) (*SearchPage, error) {
	if filter.Limit == 0 {
		filter.Limit = DefaultSearchLimit
	}
	if filter.Limit < 0 || filter.Limit > MaxSearchLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, MaxSearchLimit)
	}
	if filter.Offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", domain.ErrValidation)
	}
	if filter.State != "" {
		state, err := domain.ParseMappingStateFromString(string(filter.State))
		if err != nil {
			return nil, err
		}
		filter.State = state
	}

	mappings, total, err := s.mappings.Search(ctx, filter)
	if err != nil {
		s.logger.Error("failed to search mappings", zap.Error(err))
		return nil, fmt.Errorf("%w: mapping store unavailable", domain.ErrUnavailable)
	}
	return &SearchPage{Mappings: mappings, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// PullFromUpstream refreshes the cached attributes of a mapped person from
// its upstream record. Validity and face data are not read back, so the
// cached window is kept.
func (s *SyncService) PullFromUpstream(ctx context.Context, targetID string) domain.Result {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return s.finish("pull", domain.ClientError("targetId is required"))
	}

	mapping, err := s.mappings.GetByTargetID(ctx, targetID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return s.finish("pull", domain.NotFound("no person is mapped to %s", targetID))
		}
		s.logger.Error("failed to load mapping by target", zap.String("targetId", targetID), zap.Error(err))
		return s.finish("pull", domain.Unavailable("mapping store unavailable"))
	}
	sourceID := mapping.SourceID
	logger := observability.ForSource(s.logger, ctx, sourceID)

	person, res, ok := s.fetchPerson(ctx, logger, mapping, "pull")
	if !ok {
		return s.finish("pull", res)
	}

	attrs := mapping.Attributes
	attrs.Name = strings.TrimSpace(person.GivenName + " " + person.FamilyName)
	attrs.Phone = person.Phone
	attrs.Email = person.Email
	attrs.Normalize()
	if err := attrs.Validate(); err != nil {
		logger.Warn("upstream record does not hold valid attributes", zap.Error(err))
		return s.finish("pull", domain.Conflict(mapping, "upstream record for %s is not usable: %s", targetID, validationDetail(err)))
	}

	hash := attrs.Hash()
	if hash == mapping.AttributesHash && mapping.State == domain.MappingStateSynced {
		result := domain.Success(mapping)
		result.Skipped = true
		return s.finish("pull", result)
	}

	synced, err := s.mappings.MarkSynced(context.WithoutCancel(ctx), sourceID, repository.SyncedUpdate{
		TargetID:       targetID,
		Attributes:     attrs,
		AttributesHash: hash,
	}, domain.MappingStateSynced, domain.MappingStateStale)
	if err != nil {
		logger.Error("failed to store pulled attributes", zap.Error(err))
		if errors.Is(err, domain.ErrConflict) {
			return s.finish("pull", domain.Conflict(nil, "mapping for %s changed during pull", sourceID))
		}
		return s.finish("pull", domain.Unavailable("mapping store unavailable"))
	}

	logger.Info("mapping refreshed from upstream", zap.String("targetId", targetID))
	return s.finish("pull", domain.Success(synced))
}

// Faces lists the face images registered upstream for a mapped person.
func (s *SyncService) Faces(ctx context.Context, sourceID string) domain.Result {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return s.finish("faces", domain.ClientError("sourceId is required"))
	}
	logger := observability.ForSource(s.logger, ctx, sourceID)

	mapping, res, ok := s.load(ctx, sourceID)
	if !ok {
		return s.finish("faces", res)
	}
	switch mapping.State {
	case domain.MappingStatePending:
		return s.finish("faces", domain.Conflict(mapping, "create for %s is in flight", sourceID))
	case domain.MappingStateDeleted:
		return s.finish("faces", domain.NotFound("person %s was deleted", sourceID))
	}

	person, res, ok := s.fetchPerson(ctx, logger, mapping, "faces")
	if !ok {
		return s.finish("faces", res)
	}

	result := domain.Success(mapping)
	result.Faces = person.Faces
	if result.Faces == nil {
		result.Faces = []domain.FaceRecord{}
	}
	return s.finish("faces", result)
}

// ValidateFace runs the face checks applied to create and update requests
// without touching any mapping.
func (s *SyncService) ValidateFace(data []byte) face.Verdict {
	return s.faces.Validate(data)
}

// fetchPerson reads the mapped upstream record. A missing record marks the
// mapping stale.
func (s *SyncService) fetchPerson(ctx context.Context, logger *zap.Logger, mapping *domain.IdentityMapping, op string) (*hikcentral.Person, domain.Result, bool) {
	var person *hikcentral.Person
	err := s.gate.Execute(ctx, func(ctx context.Context) error {
		p, err := s.upstream.GetPerson(ctx, mapping.SourceID, mapping.TargetIDValue())
		person = p
		return err
	})
	if err == nil {
		return person, domain.Result{}, true
	}
	if hikcentral.IsNotFound(err) {
		s.markStale(context.WithoutCancel(ctx), logger, mapping.SourceID, queue.ReasonUpstreamAbsent)
		return nil, domain.NotFound("person %s no longer exists upstream", mapping.SourceID), false
	}
	return nil, s.failure(logger, op, err), false
}
