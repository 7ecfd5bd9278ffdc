package handler

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/lyve-bridge/internal/breaker"
	"github.com/kursadbilgin/lyve-bridge/internal/domain"
	"github.com/kursadbilgin/lyve-bridge/internal/face"
	"github.com/kursadbilgin/lyve-bridge/internal/repository"
	"github.com/kursadbilgin/lyve-bridge/internal/service"
)

const maxAttemptsLimit = 500

type PersonService interface {
	Check(ctx context.Context, sourceID string) domain.Result
	Create(ctx context.Context, sourceID string, attrs domain.Attributes) domain.Result
	Update(ctx context.Context, sourceID string, attrs domain.Attributes) domain.Result
	Delete(ctx context.Context, sourceID string) domain.Result
	GenerateQRCode(ctx context.Context, sourceID string, unitID string, validityMinutes int) domain.Result
	Attempts(ctx context.Context, sourceID string, limit int) ([]domain.SyncAttempt, error)
	Search(ctx context.Context, filter repository.MappingFilter) (*service.SearchPage, error)
	PullFromUpstream(ctx context.Context, targetID string) domain.Result
	Faces(ctx context.Context, sourceID string) domain.Result
	ValidateFace(data []byte) face.Verdict
}

type BatchService interface {
	CreateBatch(ctx context.Context, items []service.BatchItem) (*service.BatchResult, error)
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
}

type BreakerReporter interface {
	Snapshot(ctx context.Context) (breaker.Snapshot, error)
}

type PersonHandler struct {
	persons PersonService
	batches BatchService
	breaker BreakerReporter
}

func NewPersonHandler(persons PersonService, batches BatchService, reporter BreakerReporter) (*PersonHandler, error) {
	if persons == nil {
		return nil, fmt.Errorf("person service is required")
	}
	if batches == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	if reporter == nil {
		return nil, fmt.Errorf("breaker reporter is required")
	}
	return &PersonHandler{persons: persons, batches: batches, breaker: reporter}, nil
}

// RegisterPersonRoutes mounts the /v1 API behind the X-API-Key check.
func RegisterPersonRoutes(
	router fiber.Router,
	persons PersonService,
	batches BatchService,
	reporter BreakerReporter,
	apiKey string,
) error {
	if strings.TrimSpace(apiKey) == "" {
		return fmt.Errorf("api key is required")
	}
	h, err := NewPersonHandler(persons, batches, reporter)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1", APIKeyAuth(apiKey))
	v1.Post("/persons", h.CreatePerson)
	v1.Post("/persons/check", h.CheckPersonByBody)
	v1.Post("/persons/batch", h.CreateBatch)
	v1.Post("/persons/search", h.SearchPersons)
	v1.Post("/persons/sync/:targetId", h.PullPerson)
	v1.Get("/persons/:sourceId", h.CheckPerson)
	v1.Put("/persons/:sourceId", h.UpdatePerson)
	v1.Delete("/persons/:sourceId", h.DeletePerson)
	v1.Get("/persons/:sourceId/attempts", h.ListAttempts)
	v1.Post("/persons/:sourceId/qrcode", h.GenerateQRCode)
	v1.Get("/persons/:sourceId/faces", h.ListFaces)
	v1.Post("/faces/validate", h.ValidateFace)
	v1.Get("/batches/:batchId", h.GetBatch)
	v1.Get("/breaker", h.GetBreaker)

	return nil
}

type personRequest struct {
	SourceID  string     `json:"sourceId"`
	Name      string     `json:"name"`
	Phone     string     `json:"phone"`
	Email     string     `json:"email"`
	ValidFrom *time.Time `json:"validFrom,omitempty"`
	ValidTo   *time.Time `json:"validTo,omitempty"`
	// FaceImage is base64, optionally as a data URL.
	FaceImage string `json:"faceImage,omitempty"`
}

type checkRequest struct {
	SourceID string `json:"sourceId"`
}

type createBatchRequest struct {
	Persons []personRequest `json:"persons"`
}

type qrCodeRequest struct {
	UnitID          string `json:"unitId"`
	ValidityMinutes int    `json:"validityMinutes"`
}

type searchRequest struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Email  string `json:"email"`
	State  string `json:"state"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

type faceValidateRequest struct {
	FaceImage string `json:"faceImage"`
}

type searchResponse struct {
	Total   int64            `json:"total"`
	Count   int              `json:"count"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
	Persons []personResponse `json:"persons"`
}

type faceResponse struct {
	ID  string `json:"faceId"`
	URL string `json:"faceUrl,omitempty"`
}

type faceValidateResponse struct {
	Valid        bool   `json:"valid"`
	QualityScore int    `json:"qualityScore"`
	Format       string `json:"format,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type personResponse struct {
	SourceID   string     `json:"sourceId"`
	TargetID   string     `json:"targetId,omitempty"`
	PersonCode string     `json:"personCode"`
	Name       string     `json:"name"`
	Phone      string     `json:"phone,omitempty"`
	Email      string     `json:"email,omitempty"`
	ValidFrom  *time.Time `json:"validFrom,omitempty"`
	ValidTo    *time.Time `json:"validTo,omitempty"`
	State      string     `json:"state"`
	UpdatedAt  time.Time  `json:"updatedAt,omitempty"`
}

type qrCodeResponse struct {
	ID              string    `json:"id"`
	UnitID          string    `json:"unitId,omitempty"`
	Data            string    `json:"data"`
	ValidityMinutes int       `json:"validityMinutes"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

type resultResponse struct {
	Outcome   string          `json:"outcome"`
	Person    *personResponse `json:"person,omitempty"`
	QRCode    *qrCodeResponse `json:"qrCode,omitempty"`
	FaceCount *int            `json:"faceCount,omitempty"`
	Faces     []faceResponse  `json:"faces,omitempty"`
	Stale     bool            `json:"stale,omitempty"`
	Skipped   bool            `json:"skipped,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
	Detail    string          `json:"detail,omitempty"`
}

type batchItemResponse struct {
	Index  int `json:"index"`
	Status int `json:"status"`
	resultResponse
	SourceID string `json:"sourceId"`
}

type batchResponse struct {
	BatchID        string              `json:"batchId"`
	Status         string              `json:"status"`
	TotalCount     int                 `json:"totalCount"`
	SucceededCount int                 `json:"succeededCount"`
	FailedCount    int                 `json:"failedCount"`
	Items          []batchItemResponse `json:"items,omitempty"`
	CreatedAt      time.Time           `json:"createdAt,omitempty"`
	UpdatedAt      time.Time           `json:"updatedAt,omitempty"`
}

type attemptResponse struct {
	Operation      string    `json:"operation"`
	Outcome        string    `json:"outcome"`
	UpstreamStatus *int      `json:"upstreamStatus,omitempty"`
	UpstreamCode   *string   `json:"upstreamCode,omitempty"`
	LatencyMs      int64     `json:"latencyMs"`
	Error          *string   `json:"error,omitempty"`
	AttemptedAt    time.Time `json:"attemptedAt"`
}

func (h *PersonHandler) CreatePerson(c *fiber.Ctx) error {
	var req personRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	attrs, err := req.attributes()
	if err != nil {
		return err
	}

	return writeResult(c, h.persons.Create(c.UserContext(), req.SourceID, attrs))
}

func (h *PersonHandler) CheckPerson(c *fiber.Ctx) error {
	return writeResult(c, h.persons.Check(c.UserContext(), c.Params("sourceId")))
}

func (h *PersonHandler) CheckPersonByBody(c *fiber.Ctx) error {
	var req checkRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return writeResult(c, h.persons.Check(c.UserContext(), req.SourceID))
}

func (h *PersonHandler) UpdatePerson(c *fiber.Ctx) error {
	var req personRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	sourceID := c.Params("sourceId")
	if req.SourceID != "" && req.SourceID != sourceID {
		return fiber.NewError(fiber.StatusBadRequest, "sourceId in body does not match path")
	}

	attrs, err := req.attributes()
	if err != nil {
		return err
	}

	return writeResult(c, h.persons.Update(c.UserContext(), sourceID, attrs))
}

func (h *PersonHandler) DeletePerson(c *fiber.Ctx) error {
	return writeResult(c, h.persons.Delete(c.UserContext(), c.Params("sourceId")))
}

func (h *PersonHandler) GenerateQRCode(c *fiber.Ctx) error {
	var req qrCodeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}
	return writeResult(c, h.persons.GenerateQRCode(c.UserContext(), c.Params("sourceId"), req.UnitID, req.ValidityMinutes))
}

func (h *PersonHandler) ListAttempts(c *fiber.Ctx) error {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxAttemptsLimit {
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxAttemptsLimit))
		}
		limit = parsed
	}

	attempts, err := h.persons.Attempts(c.UserContext(), c.Params("sourceId"), limit)
	if err != nil {
		return err
	}

	data := make([]attemptResponse, 0, len(attempts))
	for _, a := range attempts {
		data = append(data, attemptResponse{
			Operation:      a.Operation.String(),
			Outcome:        a.Outcome.String(),
			UpstreamStatus: a.UpstreamStatus,
			UpstreamCode:   a.UpstreamCode,
			LatencyMs:      a.LatencyMs,
			Error:          a.Error,
			AttemptedAt:    a.AttemptedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": data})
}

func (h *PersonHandler) SearchPersons(c *fiber.Ctx) error {
	var req searchRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	page, err := h.persons.Search(c.UserContext(), repository.MappingFilter{
		Name:   req.Name,
		Phone:  req.Phone,
		Email:  req.Email,
		State:  domain.MappingState(req.State),
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		return err
	}

	resp := searchResponse{
		Total:   page.Total,
		Count:   len(page.Mappings),
		Limit:   page.Limit,
		Offset:  page.Offset,
		Persons: make([]personResponse, 0, len(page.Mappings)),
	}
	for i := range page.Mappings {
		resp.Persons = append(resp.Persons, *toPersonResponse(&page.Mappings[i]))
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// PullPerson refreshes the cached record from HikCentral by person ID.
func (h *PersonHandler) PullPerson(c *fiber.Ctx) error {
	return writeResult(c, h.persons.PullFromUpstream(c.UserContext(), c.Params("targetId")))
}

func (h *PersonHandler) ListFaces(c *fiber.Ctx) error {
	return writeResult(c, h.persons.Faces(c.UserContext(), c.Params("sourceId")))
}

// ValidateFace answers 200 for an acceptable image and 400 otherwise, with
// the verdict in both cases.
func (h *PersonHandler) ValidateFace(c *fiber.Ctx) error {
	var req faceValidateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.FaceImage) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "faceImage is required")
	}
	image, err := decodeFaceImage(req.FaceImage)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "faceImage must be base64 encoded")
	}

	verdict := h.persons.ValidateFace(image)
	status := fiber.StatusOK
	if !verdict.Valid {
		status = fiber.StatusBadRequest
	}
	return c.Status(status).JSON(faceValidateResponse{
		Valid:        verdict.Valid,
		QualityScore: verdict.QualityScore,
		Format:       verdict.Format,
		Width:        verdict.Width,
		Height:       verdict.Height,
		Reason:       verdict.Reason,
	})
}

func (h *PersonHandler) CreateBatch(c *fiber.Ctx) error {
	var req createBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	items := make([]service.BatchItem, len(req.Persons))
	for i, p := range req.Persons {
		attrs, err := p.attributes()
		if err != nil {
			// Undecodable images are passed through so the face validator
			// rejects that item alone.
			attrs = p.baseAttributes()
			attrs.FaceImage = []byte(p.FaceImage)
		}
		items[i] = service.BatchItem{SourceID: p.SourceID, Attributes: attrs}
	}

	out, err := h.batches.CreateBatch(c.UserContext(), items)
	if err != nil {
		return err
	}

	resp := toBatchResponse(&out.Batch)
	resp.Items = make([]batchItemResponse, 0, len(out.Items))
	for _, item := range out.Items {
		resp.Items = append(resp.Items, batchItemResponse{
			Index:          item.Index,
			Status:         item.Result.StatusCode(),
			SourceID:       item.SourceID,
			resultResponse: toResultResponse(item.Result),
		})
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *PersonHandler) GetBatch(c *fiber.Ctx) error {
	batch, err := h.batches.GetBatch(c.UserContext(), c.Params("batchId"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toBatchResponse(batch))
}

func (h *PersonHandler) GetBreaker(c *fiber.Ctx) error {
	snapshot, err := h.breaker.Snapshot(c.UserContext())
	if err != nil {
		return fmt.Errorf("%w: breaker state unavailable", domain.ErrUnavailable)
	}
	return c.Status(fiber.StatusOK).JSON(snapshot)
}

func (r personRequest) baseAttributes() domain.Attributes {
	attrs := domain.Attributes{
		Name:  r.Name,
		Phone: r.Phone,
		Email: r.Email,
	}
	if r.ValidFrom != nil {
		attrs.ValidFrom = *r.ValidFrom
	}
	if r.ValidTo != nil {
		attrs.ValidTo = *r.ValidTo
	}
	return attrs
}

func (r personRequest) attributes() (domain.Attributes, error) {
	attrs := r.baseAttributes()
	if strings.TrimSpace(r.FaceImage) == "" {
		return attrs, nil
	}

	image, err := decodeFaceImage(r.FaceImage)
	if err != nil {
		return domain.Attributes{}, fiber.NewError(fiber.StatusBadRequest, "faceImage must be base64 encoded")
	}
	attrs.FaceImage = image
	return attrs, nil
}

func decodeFaceImage(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		if _, payload, ok := strings.Cut(raw, ","); ok {
			raw = payload
		}
	}
	return base64.StdEncoding.DecodeString(raw)
}

func writeResult(c *fiber.Ctx, result domain.Result) error {
	return c.Status(result.StatusCode()).JSON(toResultResponse(result))
}

func toResultResponse(result domain.Result) resultResponse {
	resp := resultResponse{
		Outcome:   result.Outcome.String(),
		Person:    toPersonResponse(result.Mapping),
		Stale:     result.Stale,
		Skipped:   result.Skipped,
		Retryable: result.Retryable(),
		Detail:    result.Detail,
	}
	if q := result.QRCode; q != nil {
		resp.QRCode = &qrCodeResponse{
			ID:              q.ID,
			UnitID:          q.UnitID,
			Data:            q.Data,
			ValidityMinutes: q.ValidityMinutes,
			ExpiresAt:       q.ExpiresAt,
		}
	}
	if result.Faces != nil {
		count := len(result.Faces)
		resp.FaceCount = &count
		resp.Faces = make([]faceResponse, 0, count)
		for _, f := range result.Faces {
			resp.Faces = append(resp.Faces, faceResponse{ID: f.ID, URL: f.URL})
		}
	}
	return resp
}

func toPersonResponse(m *domain.IdentityMapping) *personResponse {
	if m == nil {
		return nil
	}
	return &personResponse{
		SourceID:   m.SourceID,
		TargetID:   m.TargetIDValue(),
		PersonCode: m.PersonCode,
		Name:       m.Attributes.Name,
		Phone:      m.Attributes.Phone,
		Email:      m.Attributes.Email,
		ValidFrom:  optionalTime(m.Attributes.ValidFrom),
		ValidTo:    optionalTime(m.Attributes.ValidTo),
		State:      m.State.String(),
		UpdatedAt:  m.UpdatedAt,
	}
}

func toBatchResponse(b *domain.Batch) batchResponse {
	resp := batchResponse{
		BatchID:        b.ID,
		Status:         b.Status.String(),
		TotalCount:     b.TotalCount,
		SucceededCount: b.SucceededCount,
		FailedCount:    b.FailedCount,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
	for _, item := range b.Items {
		resp.Items = append(resp.Items, batchItemResponse{
			Index:    item.Index,
			Status:   item.StatusCode,
			SourceID: item.SourceID,
			resultResponse: resultResponse{
				Outcome:   item.Outcome.String(),
				Retryable: item.Outcome == domain.OutcomeUnavailable,
				Detail:    item.Detail,
			},
		})
	}
	return resp
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
