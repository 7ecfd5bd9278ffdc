package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/lyve-bridge/internal/breaker"
	"github.com/kursadbilgin/lyve-bridge/internal/domain"
	"github.com/kursadbilgin/lyve-bridge/internal/face"
	"github.com/kursadbilgin/lyve-bridge/internal/observability"
	"github.com/kursadbilgin/lyve-bridge/internal/repository"
	"github.com/kursadbilgin/lyve-bridge/internal/service"
	"github.com/kursadbilgin/lyve-bridge/internal/transport"
	"go.uber.org/zap"
)

const testAPIKey = "test-key"

func syncedMapping(sourceID string) *domain.IdentityMapping {
	target := "T-" + sourceID
	return &domain.IdentityMapping{
		SourceID:   sourceID,
		TargetID:   &target,
		PersonCode: "LYVE_" + sourceID,
		Attributes: domain.Attributes{Name: "Ayse Yilmaz", Phone: "+905551112233"},
		State:      domain.MappingStateSynced,
	}
}

func TestPersonRoutesRequireAPIKey(t *testing.T) {
	t.Parallel()

	app := newPersonTestApp(t, &stubPersonService{}, &stubBatchService{})

	tests := []struct {
		name   string
		key    string
		status int
	}{
		{name: "missing key", key: "", status: fiber.StatusUnauthorized},
		{name: "wrong key", key: "nope", status: fiber.StatusUnauthorized},
		{name: "valid key", key: testAPIKey, status: fiber.StatusOK},
	}

	for _, tc := range tests {
		resp, body := performRequestWithKey(t, app, http.MethodGet, "/v1/persons/res-1", "", tc.key)
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: status = %d, want %d, body=%s", tc.name, resp.StatusCode, tc.status, string(body))
		}
	}

	resp, _ := performRequestWithKey(t, app, http.MethodGet, "/livez", "", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("/livez status = %d, want 200 without key", resp.StatusCode)
	}
}

func TestPersonIntegration_CreatePerson(t *testing.T) {
	t.Parallel()

	faceImage := []byte{0x89, 'P', 'N', 'G'}
	var gotAttrs domain.Attributes
	var gotCorrelation string
	svc := &stubPersonService{
		createFn: func(ctx context.Context, sourceID string, attrs domain.Attributes) domain.Result {
			gotAttrs = attrs
			gotCorrelation, _ = observability.CorrelationIDFromContext(ctx)
			return domain.Created(syncedMapping(sourceID))
		},
	}
	app := newPersonTestApp(t, svc, &stubBatchService{})

	body := fmt.Sprintf(`{"sourceId":"res-1","name":"Ayse Yilmaz","phone":"+905551112233","validFrom":"2026-01-01T00:00:00Z","faceImage":"data:image/png;base64,%s"}`,
		base64.StdEncoding.EncodeToString(faceImage))

	req := httptest.NewRequest(http.MethodPost, "/v1/persons", bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(HeaderAPIKey, testAPIKey)
	req.Header.Set(fiber.HeaderXRequestID, "req-123")
	resp, raw := doRequest(t, app, req)

	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, string(raw))
	}
	if !bytes.Equal(gotAttrs.FaceImage, faceImage) {
		t.Fatalf("face image = %v, want decoded bytes", gotAttrs.FaceImage)
	}
	if !gotAttrs.ValidFrom.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("validFrom = %v", gotAttrs.ValidFrom)
	}
	if gotCorrelation != "req-123" {
		t.Fatalf("correlation id = %q, want req-123", gotCorrelation)
	}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed["outcome"] != "SUCCESS" {
		t.Fatalf("outcome = %v, want SUCCESS", parsed["outcome"])
	}
	person := parsed["person"].(map[string]any)
	if person["targetId"] != "T-res-1" || person["state"] != "SYNCED" {
		t.Fatalf("person = %v", person)
	}

	resp, _ = performRequestWithKey(t, app, http.MethodPost, "/v1/persons", `{"sourceId":"res-2","name":"x","faceImage":"%%%"}`, testAPIKey)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid base64", resp.StatusCode)
	}

	resp, _ = performRequestWithKey(t, app, http.MethodPost, "/v1/persons", `{"sourceId":`, testAPIKey)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed json", resp.StatusCode)
	}
}

func TestPersonIntegration_ResultStatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		result        domain.Result
		wantStatus    int
		wantRetryable bool
	}{
		{name: "success", result: domain.Success(syncedMapping("res-1")), wantStatus: 200},
		{name: "not found", result: domain.NotFound("person res-1 not found"), wantStatus: 404},
		{name: "conflict", result: domain.Conflict(syncedMapping("res-1"), "exists"), wantStatus: 409},
		{name: "client error", result: domain.ClientError("name is required"), wantStatus: 400},
		{name: "unavailable", result: domain.Unavailable("upstream circuit is open"), wantStatus: 503, wantRetryable: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := &stubPersonService{
				checkFn: func(ctx context.Context, sourceID string) domain.Result { return tc.result },
			}
			app := newPersonTestApp(t, svc, &stubBatchService{})

			resp, raw := performRequestWithKey(t, app, http.MethodPost, "/v1/persons/check", `{"sourceId":"res-1"}`, testAPIKey)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}

			var parsed resultResponse
			if err := json.Unmarshal(raw, &parsed); err != nil {
				t.Fatalf("json unmarshal error = %v", err)
			}
			if parsed.Retryable != tc.wantRetryable {
				t.Fatalf("retryable = %v, want %v", parsed.Retryable, tc.wantRetryable)
			}
			if parsed.Detail != tc.result.Detail {
				t.Fatalf("detail = %q, want %q", parsed.Detail, tc.result.Detail)
			}
		})
	}
}

func TestPersonIntegration_UpdateAndDelete(t *testing.T) {
	t.Parallel()

	var updated, deleted string
	svc := &stubPersonService{
		updateFn: func(ctx context.Context, sourceID string, attrs domain.Attributes) domain.Result {
			updated = sourceID
			r := domain.Success(syncedMapping(sourceID))
			r.Skipped = true
			return r
		},
		deleteFn: func(ctx context.Context, sourceID string) domain.Result {
			deleted = sourceID
			m := syncedMapping(sourceID)
			m.State = domain.MappingStateDeleted
			return domain.Success(m)
		},
	}
	app := newPersonTestApp(t, svc, &stubBatchService{})

	resp, raw := performRequestWithKey(t, app, http.MethodPut, "/v1/persons/res-1", `{"name":"Ayse Yilmaz"}`, testAPIKey)
	if resp.StatusCode != fiber.StatusOK || updated != "res-1" {
		t.Fatalf("update status = %d updated=%q body=%s", resp.StatusCode, updated, string(raw))
	}
	var parsed resultResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if !parsed.Skipped {
		t.Fatal("skipped flag should be rendered")
	}

	resp, _ = performRequestWithKey(t, app, http.MethodPut, "/v1/persons/res-1", `{"sourceId":"res-2","name":"x"}`, testAPIKey)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for mismatched sourceId", resp.StatusCode)
	}

	resp, _ = performRequestWithKey(t, app, http.MethodDelete, "/v1/persons/res-1", "", testAPIKey)
	if resp.StatusCode != fiber.StatusOK || deleted != "res-1" {
		t.Fatalf("delete status = %d deleted=%q", resp.StatusCode, deleted)
	}
}

func TestPersonIntegration_CreateBatch(t *testing.T) {
	t.Parallel()

	batches := &stubBatchService{
		createBatchFn: func(ctx context.Context, items []service.BatchItem) (*service.BatchResult, error) {
			if len(items) != 3 {
				t.Errorf("items = %d, want 3", len(items))
			}
			if string(items[1].Attributes.FaceImage) != "%%%" {
				t.Errorf("undecodable face should pass through, got %q", items[1].Attributes.FaceImage)
			}
			out := &service.BatchResult{
				Batch: domain.Batch{ID: "b-1", TotalCount: 3, SucceededCount: 2, FailedCount: 1, Status: domain.BatchStatusPartialFailure},
			}
			for i, item := range items {
				r := domain.Created(syncedMapping(item.SourceID))
				if i == 1 {
					r = domain.ClientError("invalid face image: unsupported or corrupt image")
				}
				out.Items = append(out.Items, service.BatchItemResult{Index: i, SourceID: item.SourceID, Result: r})
			}
			return out, nil
		},
	}
	app := newPersonTestApp(t, &stubPersonService{}, batches)

	body := `{"persons":[{"sourceId":"res-1","name":"A"},{"sourceId":"res-2","name":"B","faceImage":"%%%"},{"sourceId":"res-3","name":"C"}]}`
	resp, raw := performRequestWithKey(t, app, http.MethodPost, "/v1/persons/batch", body, testAPIKey)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}

	var parsed batchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.BatchID != "b-1" || parsed.Status != "PARTIAL_FAILURE" || len(parsed.Items) != 3 {
		t.Fatalf("batch = %+v", parsed)
	}
	wantStatuses := []int{201, 400, 201}
	for i, item := range parsed.Items {
		if item.Index != i || item.Status != wantStatuses[i] {
			t.Fatalf("item %d = %+v, want status %d", i, item, wantStatuses[i])
		}
	}

	batches.createBatchFn = func(ctx context.Context, items []service.BatchItem) (*service.BatchResult, error) {
		return nil, fmt.Errorf("%w: batch size exceeds 100", domain.ErrValidation)
	}
	resp, _ = performRequestWithKey(t, app, http.MethodPost, "/v1/persons/batch", `{"persons":[]}`, testAPIKey)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid batch", resp.StatusCode)
	}
}

func TestPersonIntegration_GetBatch(t *testing.T) {
	t.Parallel()

	batches := &stubBatchService{
		getBatchFn: func(ctx context.Context, id string) (*domain.Batch, error) {
			if id != "b-1" {
				return nil, domain.ErrNotFound
			}
			return &domain.Batch{
				ID:             "b-1",
				TotalCount:     2,
				SucceededCount: 1,
				FailedCount:    1,
				Status:         domain.BatchStatusPartialFailure,
				Items: []domain.BatchItemOutcome{
					{Index: 0, SourceID: "res-1", Outcome: domain.OutcomeSuccess, StatusCode: 201},
					{Index: 1, SourceID: "res-2", Outcome: domain.OutcomeUnavailable, StatusCode: 503, Detail: "upstream circuit is open"},
				},
			}, nil
		},
	}
	app := newPersonTestApp(t, &stubPersonService{}, batches)

	resp, raw := performRequestWithKey(t, app, http.MethodGet, "/v1/batches/b-1", "", testAPIKey)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}
	var parsed batchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.Status != "PARTIAL_FAILURE" || parsed.SucceededCount != 1 || len(parsed.Items) != 2 {
		t.Fatalf("batch = %+v", parsed)
	}
	if item := parsed.Items[1]; item.Status != 503 || !item.Retryable || item.SourceID != "res-2" {
		t.Fatalf("item 1 = %+v", item)
	}

	resp, _ = performRequestWithKey(t, app, http.MethodGet, "/v1/batches/missing", "", testAPIKey)
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPersonIntegration_AttemptsAndQRCode(t *testing.T) {
	t.Parallel()

	status := 200
	svc := &stubPersonService{
		attemptsFn: func(ctx context.Context, sourceID string, limit int) ([]domain.SyncAttempt, error) {
			if limit != 5 {
				t.Errorf("limit = %d, want 5", limit)
			}
			return []domain.SyncAttempt{{
				SourceID:       sourceID,
				Operation:      domain.OperationCreate,
				Outcome:        domain.AttemptSuccess,
				UpstreamStatus: &status,
				LatencyMs:      42,
				AttemptedAt:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			}}, nil
		},
		qrFn: func(ctx context.Context, sourceID string, unitID string, validityMinutes int) domain.Result {
			r := domain.Success(syncedMapping(sourceID))
			r.QRCode = &domain.QRCode{ID: "qr-1", Data: "UVI=", UnitID: unitID, ValidityMinutes: validityMinutes}
			return r
		},
	}
	app := newPersonTestApp(t, svc, &stubBatchService{})

	resp, raw := performRequestWithKey(t, app, http.MethodGet, "/v1/persons/res-1/attempts?limit=5", "", testAPIKey)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}
	var attempts struct {
		Data []attemptResponse `json:"data"`
	}
	if err := json.Unmarshal(raw, &attempts); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(attempts.Data) != 1 || attempts.Data[0].Operation != "create" || attempts.Data[0].LatencyMs != 42 {
		t.Fatalf("attempts = %+v", attempts.Data)
	}

	resp, _ = performRequestWithKey(t, app, http.MethodGet, "/v1/persons/res-1/attempts?limit=0", "", testAPIKey)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for invalid limit", resp.StatusCode)
	}

	resp, raw = performRequestWithKey(t, app, http.MethodPost, "/v1/persons/res-1/qrcode", `{"unitId":"u-1","validityMinutes":30}`, testAPIKey)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}
	var qr resultResponse
	if err := json.Unmarshal(raw, &qr); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if qr.QRCode == nil || qr.QRCode.Data != "UVI=" || qr.QRCode.UnitID != "u-1" || qr.QRCode.ValidityMinutes != 30 {
		t.Fatalf("qr = %+v", qr.QRCode)
	}
}

func TestPersonIntegration_GetBreaker(t *testing.T) {
	t.Parallel()

	openedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	reporter := &stubBreakerReporter{
		snapshot: breaker.Snapshot{Name: "hikcentral", State: breaker.StateOpen, ConsecutiveFailures: 5, OpenedAt: &openedAt},
	}

	app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
	if err := RegisterPersonRoutes(app, &stubPersonService{}, &stubBatchService{}, reporter, testAPIKey); err != nil {
		t.Fatalf("RegisterPersonRoutes() error = %v", err)
	}

	resp, raw := performRequestWithKey(t, app, http.MethodGet, "/v1/breaker", "", testAPIKey)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var parsed breaker.Snapshot
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.State != breaker.StateOpen || parsed.ConsecutiveFailures != 5 {
		t.Fatalf("snapshot = %+v", parsed)
	}

	reporter.err = errors.New("redis down")
	resp, _ = performRequestWithKey(t, app, http.MethodGet, "/v1/breaker", "", testAPIKey)
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestRegisterPersonRoutesValidation(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	if err := RegisterPersonRoutes(app, &stubPersonService{}, &stubBatchService{}, &stubBreakerReporter{}, " "); err == nil {
		t.Fatal("expected error for empty api key")
	}
	if err := RegisterPersonRoutes(app, nil, &stubBatchService{}, &stubBreakerReporter{}, testAPIKey); err == nil {
		t.Fatal("expected error for missing person service")
	}
}

func TestHealthIntegration(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New()
		RegisterHealthRoutes(app)

		resp, _ := performRequestWithKey(t, app, http.MethodGet, "/livez", "", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		app := fiber.New()
		RegisterHealthRoutes(app,
			ReadinessCheck{Name: "postgres", Check: func(ctx context.Context) error { return nil }},
			ReadinessCheck{Name: "redis", Check: func(ctx context.Context) error { return nil }},
		)

		resp, raw := performRequestWithKey(t, app, http.MethodGet, "/readyz", "", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
		}
	})

	t.Run("readyz returns 503 when a dependency is down", func(t *testing.T) {
		t.Parallel()

		app := fiber.New()
		RegisterHealthRoutes(app,
			ReadinessCheck{Name: "postgres", Check: func(ctx context.Context) error { return nil }},
			ReadinessCheck{Name: "rabbitmq", Check: func(ctx context.Context) error { return errors.New("closed") }},
		)

		resp, raw := performRequestWithKey(t, app, http.MethodGet, "/readyz", "", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", resp.StatusCode)
		}
		var parsed struct {
			Checks map[string]string `json:"checks"`
		}
		if err := json.Unmarshal(raw, &parsed); err != nil {
			t.Fatalf("json unmarshal error = %v", err)
		}
		if parsed.Checks["rabbitmq"] != "down" || parsed.Checks["postgres"] != "ok" {
			t.Fatalf("checks = %v", parsed.Checks)
		}
	})
}

func newPersonTestApp(t *testing.T, persons PersonService, batches BatchService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	app.Use(requestid.New())
	app.Use(CorrelationID())
	RegisterHealthRoutes(app)

	if err := RegisterPersonRoutes(app, persons, batches, &stubBreakerReporter{}, testAPIKey); err != nil {
		t.Fatalf("RegisterPersonRoutes() error = %v", err)
	}

	return app
}

func performRequestWithKey(t *testing.T, app *fiber.App, method string, path string, body string, key string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(HeaderAPIKey, key)
	}
	return doRequest(t, app, req)
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, []byte) {
	t.Helper()

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubPersonService struct {
	checkFn    func(ctx context.Context, sourceID string) domain.Result
	createFn   func(ctx context.Context, sourceID string, attrs domain.Attributes) domain.Result
	updateFn   func(ctx context.Context, sourceID string, attrs domain.Attributes) domain.Result
	deleteFn   func(ctx context.Context, sourceID string) domain.Result
	qrFn       func(ctx context.Context, sourceID string, unitID string, validityMinutes int) domain.Result
	attemptsFn func(ctx context.Context, sourceID string, limit int) ([]domain.SyncAttempt, error)
	searchFn   func(ctx context.Context, filter repository.MappingFilter) (*service.SearchPage, error)
	pullFn     func(ctx context.Context, targetID string) domain.Result
	facesFn    func(ctx context.Context, sourceID string) domain.Result
}

func (s *stubPersonService) Check(ctx context.Context, sourceID string) domain.Result {
	if s.checkFn != nil {
		return s.checkFn(ctx, sourceID)
	}
	return domain.Success(syncedMapping(sourceID))
}

func (s *stubPersonService) Create(ctx context.Context, sourceID string, attrs domain.Attributes) domain.Result {
	if s.createFn != nil {
		return s.createFn(ctx, sourceID, attrs)
	}
	return domain.Unavailable("not implemented")
}

func (s *stubPersonService) Update(ctx context.Context, sourceID string, attrs domain.Attributes) domain.Result {
	if s.updateFn != nil {
		return s.updateFn(ctx, sourceID, attrs)
	}
	return domain.Unavailable("not implemented")
}

func (s *stubPersonService) Delete(ctx context.Context, sourceID string) domain.Result {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, sourceID)
	}
	return domain.Unavailable("not implemented")
}

func (s *stubPersonService) GenerateQRCode(ctx context.Context, sourceID string, unitID string, validityMinutes int) domain.Result {
	if s.qrFn != nil {
		return s.qrFn(ctx, sourceID, unitID, validityMinutes)
	}
	return domain.Unavailable("not implemented")
}

func (s *stubPersonService) Attempts(ctx context.Context, sourceID string, limit int) ([]domain.SyncAttempt, error) {
	if s.attemptsFn != nil {
		return s.attemptsFn(ctx, sourceID, limit)
	}
	return nil, nil
}

func (s *stubPersonService) Search(ctx context.Context, filter repository.MappingFilter) (*service.SearchPage, error) {
	if s.searchFn != nil {
		return s.searchFn(ctx, filter)
	}
	return &service.SearchPage{Limit: filter.Limit, Offset: filter.Offset}, nil
}

func (s *stubPersonService) PullFromUpstream(ctx context.Context, targetID string) domain.Result {
	if s.pullFn != nil {
		return s.pullFn(ctx, targetID)
	}
	return domain.Unavailable("not implemented")
}

func (s *stubPersonService) Faces(ctx context.Context, sourceID string) domain.Result {
	if s.facesFn != nil {
		return s.facesFn(ctx, sourceID)
	}
	return domain.Unavailable("not implemented")
}

func (s *stubPersonService) ValidateFace(data []byte) face.Verdict {
	return face.NewValidator(face.DefaultMaxBytes, face.DefaultMinQuality).Validate(data)
}

type stubBatchService struct {
	createBatchFn func(ctx context.Context, items []service.BatchItem) (*service.BatchResult, error)
	getBatchFn    func(ctx context.Context, id string) (*domain.Batch, error)
}

func (s *stubBatchService) CreateBatch(ctx context.Context, items []service.BatchItem) (*service.BatchResult, error) {
	if s.createBatchFn != nil {
		return s.createBatchFn(ctx, items)
	}
	return nil, errors.New("not implemented")
}

func (s *stubBatchService) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	if s.getBatchFn != nil {
		return s.getBatchFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

type stubBreakerReporter struct {
	snapshot breaker.Snapshot
	err      error
}

func (s *stubBreakerReporter) Snapshot(ctx context.Context) (breaker.Snapshot, error) {
	return s.snapshot, s.err
}
