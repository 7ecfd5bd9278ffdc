package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/lyve-bridge/internal/breaker"
	"github.com/kursadbilgin/lyve-bridge/internal/domain"
	"github.com/kursadbilgin/lyve-bridge/internal/face"
	"github.com/kursadbilgin/lyve-bridge/internal/hikcentral"
	"github.com/kursadbilgin/lyve-bridge/internal/observability"
	"github.com/kursadbilgin/lyve-bridge/internal/queue"
	"github.com/kursadbilgin/lyve-bridge/internal/repository"
	"go.uber.org/zap"
)

const defaultAttemptListLimit = 100

// Upstream is the subset of the HikCentral client the orchestrator drives.
type Upstream interface {
	PersonCode(sourceID string) string
	AddPerson(ctx context.Context, sourceID string, attrs domain.Attributes) (string, error)
	UpdatePerson(ctx context.Context, sourceID string, targetID string, attrs domain.Attributes) error
	DeletePerson(ctx context.Context, sourceID string, targetID string) error
	GetPersonByCode(ctx context.Context, sourceID string) (*hikcentral.Person, error)
	GetPerson(ctx context.Context, sourceID string, targetID string) (*hikcentral.Person, error)
	GenerateQRCode(ctx context.Context, sourceID string, targetID string, unitID string, validityMinutes int) (string, error)
}

// Gate guards upstream calls. *breaker.Breaker satisfies it.
type Gate interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

type FaceValidator interface {
	Validate(data []byte) face.Verdict
}

// SyncService is the only writer of identity mappings and QR codes. Every
// operation ends in a domain.Result; no operation retries upstream calls.
type SyncService struct {
	mappings  repository.MappingRepository
	attempts  repository.AttemptRepository
	qrcodes   repository.QRCodeRepository
	upstream  Upstream
	gate      Gate
	faces     FaceValidator
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewSyncService(
	mappings repository.MappingRepository,
	attempts repository.AttemptRepository,
	qrcodes repository.QRCodeRepository,
	upstream Upstream,
	gate Gate,
	faces FaceValidator,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*SyncService, error) {
	if mappings == nil {
		return nil, fmt.Errorf("mapping repository is required")
	}
	if upstream == nil {
		return nil, fmt.Errorf("upstream client is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("circuit breaker is required")
	}
	if faces == nil {
		faces = face.NewValidator(face.DefaultMaxBytes, face.DefaultMinQuality)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SyncService{
		mappings:  mappings,
		attempts:  attempts,
		qrcodes:   qrcodes,
		upstream:  upstream,
		gate:      gate,
		faces:     faces,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (s *SyncService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Handle dispatches a typed request to the matching operation.
func (s *SyncService) Handle(ctx context.Context, req domain.SyncRequest) domain.Result {
	switch req.Operation {
	case domain.RequestCheck:
		return s.Check(ctx, req.SourceID)
	case domain.RequestCreate:
		return s.Create(ctx, req.SourceID, req.Attributes)
	case domain.RequestUpdate:
		return s.Update(ctx, req.SourceID, req.Attributes)
	case domain.RequestDelete:
		return s.Delete(ctx, req.SourceID)
	}
	return domain.ClientError("unsupported operation %q", req.Operation)
}

func (s *SyncService) Check(ctx context.Context, sourceID string) domain.Result {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return s.finish("check", domain.ClientError("sourceId is required"))
	}

	mapping, res, ok := s.load(ctx, sourceID)
	if !ok {
		return s.finish("check", res)
	}

	switch mapping.State {
	case domain.MappingStatePending:
		return s.finish("check", domain.Conflict(mapping, "create for %s is in flight", sourceID))
	case domain.MappingStateDeleted:
		return s.finish("check", domain.NotFound("person %s was deleted", sourceID))
	}
	return s.finish("check", domain.Success(mapping))
}

// Create inserts a PENDING mapping before calling upstream. The unique index
// on source_id lets exactly one concurrent caller reach the upstream add.
func (s *SyncService) Create(ctx context.Context, sourceID string, attrs domain.Attributes) domain.Result {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return s.finish("create", domain.ClientError("sourceId is required"))
	}
	logger := observability.ForSource(s.logger, ctx, sourceID)

	attrs.Normalize()
	attrs = attrs.WithDefaultValidity(s.now())
	if res, ok := s.validate(attrs); !ok {
		return s.finish("create", res)
	}

	mapping := &domain.IdentityMapping{
		ID:             uuid.NewString(),
		SourceID:       sourceID,
		PersonCode:     s.upstream.PersonCode(sourceID),
		Attributes:     attrs,
		AttributesHash: attrs.Hash(),
		State:          domain.MappingStatePending,
	}

	if err := s.mappings.InsertPending(ctx, mapping); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			existing, getErr := s.mappings.GetBySourceID(ctx, sourceID)
			if getErr != nil {
				logger.Warn("failed to load conflicting mapping", zap.Error(getErr))
				existing = nil
			}
			return s.finish("create", domain.Conflict(existing, "person %s already exists", sourceID))
		}
		logger.Error("failed to insert pending mapping", zap.Error(err))
		return s.finish("create", domain.Unavailable("mapping store unavailable"))
	}

	var targetID string
	err := s.gate.Execute(ctx, func(ctx context.Context) error {
		id, err := s.upstream.AddPerson(ctx, sourceID, attrs)
		targetID = id
		return err
	})

	duplicateWithoutRecord := false
	if err != nil && hikcentral.IsDuplicate(err) {
		logger.Info("person already exists upstream, attaching existing record")
		var person *hikcentral.Person
		err = s.gate.Execute(ctx, func(ctx context.Context) error {
			p, lookupErr := s.upstream.GetPersonByCode(ctx, sourceID)
			person = p
			return lookupErr
		})
		switch {
		case err == nil:
			targetID = person.ID
		case hikcentral.IsNotFound(err):
			duplicateWithoutRecord = true
		}
	}

	// The upstream call has completed; the rest runs even if the caller left.
	writeCtx := context.WithoutCancel(ctx)
	if err != nil {
		s.compensate(writeCtx, logger, mapping)
		if duplicateWithoutRecord {
			logger.Warn("upstream reported a duplicate but has no person for the code",
				zap.String("personCode", mapping.PersonCode),
			)
			return s.finish("create", domain.Unavailable("upstream reported %s as existing but returned no record", sourceID))
		}
		return s.finish("create", s.failure(logger, "create", err))
	}

	synced, err := s.mappings.MarkSynced(writeCtx, sourceID, repository.SyncedUpdate{
		TargetID:       targetID,
		Attributes:     attrs,
		AttributesHash: mapping.AttributesHash,
	}, domain.MappingStatePending)
	if err != nil {
		logger.Error("failed to mark mapping synced",
			zap.String("targetId", targetID),
			zap.Error(err),
		)
		s.compensate(writeCtx, logger, mapping)
		if errors.Is(err, domain.ErrConflict) {
			return s.finish("create", domain.Conflict(nil, "person %s is already mapped to another source", targetID))
		}
		return s.finish("create", domain.Unavailable("mapping store unavailable"))
	}

	logger.Info("person created", zap.String("targetId", targetID))
	return s.finish("create", domain.Created(synced))
}

// Update pushes changed attributes. An unchanged hash on a SYNCED mapping
// skips the upstream call.
func (s *SyncService) Update(ctx context.Context, sourceID string, attrs domain.Attributes) domain.Result {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return s.finish("update", domain.ClientError("sourceId is required"))
	}
	logger := observability.ForSource(s.logger, ctx, sourceID)

	attrs.Normalize()
	if res, ok := s.validate(attrs); !ok {
		return s.finish("update", res)
	}

	mapping, res, ok := s.load(ctx, sourceID)
	if !ok {
		return s.finish("update", res)
	}
	switch mapping.State {
	case domain.MappingStatePending:
		return s.finish("update", domain.Conflict(mapping, "create for %s is in flight", sourceID))
	case domain.MappingStateDeleted:
		return s.finish("update", domain.NotFound("person %s was deleted", sourceID))
	}

	attrs = attrs.InheritValidity(mapping.Attributes)
	if err := attrs.Validate(); err != nil {
		return s.finish("update", domain.ClientError("%s", validationDetail(err)))
	}
	hash := attrs.Hash()
	if hash == mapping.AttributesHash && mapping.State == domain.MappingStateSynced {
		result := domain.Success(mapping)
		result.Skipped = true
		return s.finish("update", result)
	}

	targetID := mapping.TargetIDValue()
	err := s.gate.Execute(ctx, func(ctx context.Context) error {
		return s.upstream.UpdatePerson(ctx, sourceID, targetID, attrs)
	})

	writeCtx := context.WithoutCancel(ctx)
	if err != nil {
		if hikcentral.IsNotFound(err) {
			s.markStale(writeCtx, logger, sourceID, queue.ReasonUpstreamAbsent)
			return s.finish("update", domain.NotFound("person %s no longer exists upstream", sourceID))
		}
		return s.finish("update", s.failure(logger, "update", err))
	}

	synced, err := s.mappings.MarkSynced(writeCtx, sourceID, repository.SyncedUpdate{
		TargetID:       targetID,
		Attributes:     attrs,
		AttributesHash: hash,
	}, domain.MappingStateSynced, domain.MappingStateStale)
	if err != nil {
		logger.Error("failed to mark mapping synced after update", zap.Error(err))
		if errors.Is(err, domain.ErrConflict) {
			return s.finish("update", domain.Conflict(nil, "mapping for %s changed during update", sourceID))
		}
		return s.finish("update", domain.Unavailable("mapping store unavailable"))
	}

	return s.finish("update", domain.Success(synced))
}

// Delete is idempotent: an already deleted mapping and an upstream not-found
// both end in DELETED.
func (s *SyncService) Delete(ctx context.Context, sourceID string) domain.Result {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return s.finish("delete", domain.ClientError("sourceId is required"))
	}
	logger := observability.ForSource(s.logger, ctx, sourceID)

	mapping, res, ok := s.load(ctx, sourceID)
	if !ok {
		return s.finish("delete", res)
	}
	switch mapping.State {
	case domain.MappingStateDeleted:
		return s.finish("delete", domain.Success(mapping))
	case domain.MappingStatePending:
		return s.finish("delete", domain.Conflict(mapping, "create for %s is in flight", sourceID))
	}

	targetID := mapping.TargetIDValue()
	err := s.gate.Execute(ctx, func(ctx context.Context) error {
		return s.upstream.DeletePerson(ctx, sourceID, targetID)
	})
	if err != nil && !hikcentral.IsNotFound(err) {
		return s.finish("delete", s.failure(logger, "delete", err))
	}

	writeCtx := context.WithoutCancel(ctx)
	if err := s.mappings.MarkDeleted(writeCtx, sourceID); err != nil && !errors.Is(err, domain.ErrConflict) {
		logger.Error("failed to mark mapping deleted", zap.Error(err))
		return s.finish("delete", domain.Unavailable("mapping store unavailable"))
	}

	deleted, err := s.mappings.GetBySourceID(writeCtx, sourceID)
	if err != nil {
		logger.Error("failed to reload deleted mapping", zap.Error(err))
		return s.finish("delete", domain.Unavailable("mapping store unavailable"))
	}
	if deleted.State != domain.MappingStateDeleted {
		return s.finish("delete", domain.Conflict(deleted, "mapping for %s changed during delete", sourceID))
	}

	logger.Info("person deleted", zap.String("targetId", targetID))
	return s.finish("delete", domain.Success(deleted))
}

// Reconcile brings a STALE mapping back to SYNCED. The upstream record is
// found by person code and overwritten with the cached attributes, or
// re-created when it is gone.
func (s *SyncService) Reconcile(ctx context.Context, sourceID string) domain.Result {
	result := s.reconcile(ctx, strings.TrimSpace(sourceID))
	s.metrics.IncReconcile(result.Outcome.String())
	return s.finish("reconcile", result)
}

func (s *SyncService) reconcile(ctx context.Context, sourceID string) domain.Result {
	if sourceID == "" {
		return domain.ClientError("sourceId is required")
	}
	logger := observability.ForSource(s.logger, ctx, sourceID)

	mapping, res, ok := s.load(ctx, sourceID)
	if !ok {
		return res
	}
	switch mapping.State {
	case domain.MappingStateSynced:
		result := domain.Success(mapping)
		result.Skipped = true
		return result
	case domain.MappingStatePending:
		return domain.Conflict(mapping, "create for %s is in flight", sourceID)
	case domain.MappingStateDeleted:
		return domain.NotFound("person %s was deleted", sourceID)
	}

	// Cached attributes carry no face image, so the pushed record has none
	// and the stored hash must say so.
	attrs := mapping.Attributes
	var person *hikcentral.Person
	err := s.gate.Execute(ctx, func(ctx context.Context) error {
		p, err := s.upstream.GetPersonByCode(ctx, sourceID)
		person = p
		return err
	})

	var targetID string
	switch {
	case err == nil:
		targetID = person.ID
		err = s.gate.Execute(ctx, func(ctx context.Context) error {
			return s.upstream.UpdatePerson(ctx, sourceID, targetID, attrs)
		})
	case hikcentral.IsNotFound(err):
		logger.Info("person missing upstream, re-creating from cached attributes")
		err = s.gate.Execute(ctx, func(ctx context.Context) error {
			id, addErr := s.upstream.AddPerson(ctx, sourceID, attrs)
			targetID = id
			return addErr
		})
	}
	if err != nil {
		return s.failure(logger, "reconcile", err)
	}

	synced, err := s.mappings.MarkSynced(context.WithoutCancel(ctx), sourceID, repository.SyncedUpdate{
		TargetID:       targetID,
		Attributes:     attrs,
		AttributesHash: attrs.Hash(),
	}, domain.MappingStateStale)
	if err != nil {
		logger.Error("failed to mark reconciled mapping synced", zap.Error(err))
		if errors.Is(err, domain.ErrConflict) {
			return domain.Conflict(nil, "mapping for %s changed during reconcile", sourceID)
		}
		return domain.Unavailable("mapping store unavailable")
	}

	logger.Info("mapping reconciled",
		zap.String("previousTargetId", mapping.TargetIDValue()),
		zap.String("targetId", targetID),
	)
	return domain.Success(synced)
}

// ExpirePending removes PENDING mappings older than ttl. Such rows are left
// behind when a process dies between the upstream add and the mapping write;
// the next Create for the source attaches the upstream record through the
// duplicate path.
func (s *SyncService) ExpirePending(ctx context.Context, ttl time.Duration, limit int) (int, error) {
	cutoff := s.now().UTC().Add(-ttl)
	orphans, err := s.mappings.ListPendingOlderThan(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending mappings: %w", err)
	}

	removed := 0
	for i := range orphans {
		orphan := orphans[i]
		if err := s.mappings.DeletePending(ctx, orphan.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return removed, fmt.Errorf("failed to delete pending mapping %s: %w", orphan.ID, err)
		}
		removed++
		s.logger.Warn("expired orphaned pending mapping",
			zap.String("sourceId", orphan.SourceID),
			zap.Time("createdAt", orphan.CreatedAt),
		)
	}

	return removed, nil
}

// GenerateQRCode issues an access QR code for a SYNCED person.
func (s *SyncService) GenerateQRCode(ctx context.Context, sourceID string, unitID string, validityMinutes int) domain.Result {
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return s.finish("qrcode", domain.ClientError("sourceId is required"))
	}
	if validityMinutes == 0 {
		validityMinutes = domain.DefaultQRCodeValidityMinutes
	}
	if validityMinutes < 0 || validityMinutes > domain.MaxQRCodeValidityMinutes {
		return s.finish("qrcode", domain.ClientError("validityMinutes must be between 1 and %d", domain.MaxQRCodeValidityMinutes))
	}
	logger := observability.ForSource(s.logger, ctx, sourceID)

	mapping, res, ok := s.load(ctx, sourceID)
	if !ok {
		return s.finish("qrcode", res)
	}
	switch mapping.State {
	case domain.MappingStateDeleted:
		return s.finish("qrcode", domain.NotFound("person %s was deleted", sourceID))
	case domain.MappingStatePending, domain.MappingStateStale:
		return s.finish("qrcode", domain.Conflict(mapping, "person %s is %s", sourceID, strings.ToLower(mapping.State.String())))
	}

	targetID := mapping.TargetIDValue()
	var data string
	err := s.gate.Execute(ctx, func(ctx context.Context) error {
		qr, err := s.upstream.GenerateQRCode(ctx, sourceID, targetID, unitID, validityMinutes)
		data = qr
		return err
	})
	if err != nil {
		return s.finish("qrcode", s.failure(logger, "qrcode", err))
	}

	now := s.now().UTC()
	code := &domain.QRCode{
		ID:              uuid.NewString(),
		SourceID:        sourceID,
		TargetID:        targetID,
		UnitID:          unitID,
		Data:            data,
		ValidityMinutes: validityMinutes,
		ExpiresAt:       now.Add(time.Duration(validityMinutes) * time.Minute),
		CreatedAt:       now,
	}
	if s.qrcodes != nil {
		if err := s.qrcodes.Create(context.WithoutCancel(ctx), code); err != nil {
			logger.Error("failed to persist qr code", zap.Error(err))
		}
	}

	result := domain.Success(mapping)
	result.QRCode = code
	return s.finish("qrcode", result)
}

// Attempts lists the upstream audit trail for a source, newest first.
func (s *SyncService) Attempts(ctx context.Context, sourceID string, limit int) ([]domain.SyncAttempt, error) {
	if s.attempts == nil {
		return nil, fmt.Errorf("attempt repository is not configured")
	}
	sourceID = strings.TrimSpace(sourceID)
	if sourceID == "" {
		return nil, fmt.Errorf("%w: sourceId is required", domain.ErrValidation)
	}
	if limit <= 0 {
		limit = defaultAttemptListLimit
	}
	return s.attempts.ListBySourceID(ctx, sourceID, limit)
}

func (s *SyncService) load(ctx context.Context, sourceID string) (*domain.IdentityMapping, domain.Result, bool) {
	mapping, err := s.mappings.GetBySourceID(ctx, sourceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NotFound("person %s not found", sourceID), false
		}
		observability.ForSource(s.logger, ctx, sourceID).Error("failed to load mapping", zap.Error(err))
		return nil, domain.Unavailable("mapping store unavailable"), false
	}
	return mapping, domain.Result{}, true
}

func (s *SyncService) validate(attrs domain.Attributes) (domain.Result, bool) {
	if err := attrs.Validate(); err != nil {
		return domain.ClientError("%s", validationDetail(err)), false
	}
	if len(attrs.FaceImage) == 0 {
		return domain.Result{}, true
	}
	if verdict := s.faces.Validate(attrs.FaceImage); !verdict.Valid {
		return domain.ClientError("invalid face image: %s", verdict.Reason), false
	}
	return domain.Result{}, true
}

func validationDetail(err error) string {
	return strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
}

// compensate removes the PENDING row so a later Create is not blocked.
func (s *SyncService) compensate(ctx context.Context, logger *zap.Logger, mapping *domain.IdentityMapping) {
	if err := s.mappings.DeletePending(ctx, mapping.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.Error("failed to remove pending mapping", zap.Error(err))
	}
}

func (s *SyncService) markStale(ctx context.Context, logger *zap.Logger, sourceID string, reason string) {
	if err := s.mappings.MarkStale(ctx, sourceID); err != nil {
		logger.Error("failed to mark mapping stale", zap.Error(err))
		return
	}
	logger.Warn("mapping marked stale", zap.String("reason", reason))

	if s.publisher == nil {
		return
	}
	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	msg := queue.ReconcileMessage{SourceID: sourceID, CorrelationID: correlationID, Reason: reason}
	if err := s.publisher.Publish(ctx, queue.ReconcileQueue, msg); err != nil {
		// The stale scanner picks the mapping up on its next pass.
		logger.Warn("failed to publish reconcile message", zap.Error(err))
	}
}

// failure maps an upstream or breaker error onto a result. Breaker rejections
// and transient errors are retryable; the rest are the caller's fault.
func (s *SyncService) failure(logger *zap.Logger, op string, err error) domain.Result {
	var openErr *breaker.OpenError
	switch {
	case errors.As(err, &openErr):
		logger.Warn("upstream call rejected by circuit breaker",
			zap.String("operation", op),
			zap.Duration("retryAfter", openErr.RetryAfter),
		)
		return domain.Unavailable("upstream circuit is open")
	case errors.Is(err, breaker.ErrOpen):
		return domain.Unavailable("upstream circuit is open")
	case errors.Is(err, context.Canceled):
		return domain.Unavailable("request canceled")
	case hikcentral.IsTransient(err):
		logger.Warn("upstream call failed", zap.String("operation", op), zap.Error(err))
		return domain.Unavailable("upstream unavailable")
	case hikcentral.IsNotFound(err):
		return domain.NotFound("person not found upstream")
	case hikcentral.IsDuplicate(err):
		return domain.Conflict(nil, "person already exists upstream")
	case hikcentral.IsRejected(err):
		var upstreamErr *hikcentral.UpstreamError
		if errors.As(err, &upstreamErr) && upstreamErr.Message != "" {
			return domain.ClientError("upstream rejected request: %s", upstreamErr.Message)
		}
		return domain.ClientError("upstream rejected request")
	}

	logger.Error("unclassified upstream error", zap.String("operation", op), zap.Error(err))
	return domain.Unavailable("upstream unavailable")
}

func (s *SyncService) finish(op string, result domain.Result) domain.Result {
	s.metrics.IncSyncOutcome(op, result.Outcome.String())
	return result
}
