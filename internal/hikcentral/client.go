// Package hikcentral is the signed Artemis client for the HikCentral
// access-control platform.
package hikcentral

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/kursadbilgin/lyve-bridge/internal/domain"
	"github.com/kursadbilgin/lyve-bridge/internal/observability"
	"github.com/kursadbilgin/lyve-bridge/internal/ratelimit"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	DefaultTimeout          = 5 * time.Second
	DefaultRateLimitWait    = 2 * time.Second
	DefaultPersonCodePrefix = "LYVE_"

	// RateLimitKey is the limiter bucket shared by every Artemis endpoint.
	RateLimitKey = "hikcentral"

	successCode        = "0"
	maxErrorBodyLength = 512
)

// AttemptRecorder persists one audit row per network call.
type AttemptRecorder interface {
	Create(ctx context.Context, attempt *domain.SyncAttempt) error
}

type Config struct {
	BaseURL          string
	AppKey           string
	AppSecret        string
	UserID           string
	OrgIndexCode     string
	PersonCodePrefix string
	Timeout          time.Duration
	// RateLimitWait caps how long a call may queue on the rate limiter.
	RateLimitWait      time.Duration
	InsecureSkipVerify bool
	// DuplicateCodes and NotFoundCodes are Artemis envelope codes that mean
	// "person already exists" and "person does not exist".
	DuplicateCodes []string
	NotFoundCodes  []string
}

type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(c *Client) { c.metrics = metrics }
}

func WithRateLimiter(limiter ratelimit.RateLimiter) Option {
	return func(c *Client) { c.limiter = limiter }
}

func WithAttemptRecorder(recorder AttemptRecorder) Option {
	return func(c *Client) { c.attempts = recorder }
}

// WithRestyClient replaces the transport; timeouts and retries are still
// enforced by NewClient.
func WithRestyClient(client *resty.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// Client executes signed calls against Artemis and classifies every outcome
// into success or an *UpstreamError.
type Client struct {
	http           *resty.Client
	signer         *Signer
	cfg            Config
	duplicateCodes map[string]struct{}
	notFoundCodes  map[string]struct{}
	attempts       AttemptRecorder
	limiter        ratelimit.RateLimiter
	metrics        *observability.Metrics
	logger         *zap.Logger
	now            func() time.Time
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	baseURL, err := cleanBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	signer, err := NewSigner(cfg.AppKey, cfg.AppSecret)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimitWait <= 0 {
		cfg.RateLimitWait = DefaultRateLimitWait
	}
	if cfg.PersonCodePrefix == "" {
		cfg.PersonCodePrefix = DefaultPersonCodePrefix
	}

	c := &Client{
		http:           resty.New(),
		signer:         signer,
		cfg:            cfg,
		duplicateCodes: codeSet(cfg.DuplicateCodes),
		notFoundCodes:  codeSet(cfg.NotFoundCodes),
		logger:         zap.NewNop(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.http.SetBaseURL(baseURL)
	c.http.SetTimeout(cfg.Timeout)
	c.http.SetRetryCount(0)
	if cfg.InsecureSkipVerify {
		c.http.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // opt-in for self-signed appliances
	}

	return c, nil
}

// PersonCode derives the upstream person code for a source identifier.
func (c *Client) PersonCode(sourceID string) string {
	return domain.PersonCodeFor(c.cfg.PersonCodePrefix, sourceID)
}

// AddPerson creates the person upstream and returns the assigned person ID.
func (c *Client) AddPerson(ctx context.Context, sourceID string, attrs domain.Attributes) (string, error) {
	req := newPersonRequest(attrs)
	req.PersonCode = c.PersonCode(sourceID)
	req.OrgIndexCode = c.cfg.OrgIndexCode

	data, err := c.call(ctx, domain.OperationCreate, sourceID, PathAddPerson, req)
	if err != nil {
		return "", err
	}

	personID := scalarOrField(data, "personId")
	if personID == "" {
		return "", &UpstreamError{Kind: KindTransient, StatusCode: http.StatusOK, Message: "add person response has no personId"}
	}
	return personID, nil
}

func (c *Client) UpdatePerson(ctx context.Context, sourceID string, targetID string, attrs domain.Attributes) error {
	req := newPersonRequest(attrs)
	req.PersonID = targetID

	_, err := c.call(ctx, domain.OperationUpdate, sourceID, PathUpdatePerson, req)
	return err
}

func (c *Client) DeletePerson(ctx context.Context, sourceID string, targetID string) error {
	_, err := c.call(ctx, domain.OperationDelete, sourceID, PathDeletePerson, personIDRequest{PersonID: targetID})
	return err
}

// GetPersonByCode looks the person up by the code derived from sourceID. An
// empty result is reported as KindNotFound.
func (c *Client) GetPersonByCode(ctx context.Context, sourceID string) (*Person, error) {
	code := c.PersonCode(sourceID)
	data, err := c.call(ctx, domain.OperationLookup, sourceID, PathPersonByCode, personCodeRequest{PersonCode: code})
	if err != nil {
		return nil, err
	}

	person := personFromData(data)
	if person.ID == "" {
		return nil, &UpstreamError{Kind: KindNotFound, StatusCode: http.StatusOK, Message: fmt.Sprintf("no person with code %s", code)}
	}
	if person.Code == "" {
		person.Code = code
	}
	return &person, nil
}

// GetPerson reads the person by its upstream ID, faces included.
func (c *Client) GetPerson(ctx context.Context, sourceID string, targetID string) (*Person, error) {
	data, err := c.call(ctx, domain.OperationLookup, sourceID, PathPersonInfo, personIDRequest{PersonID: targetID})
	if err != nil {
		return nil, err
	}

	person := personFromData(data)
	if person.ID == "" {
		return nil, &UpstreamError{Kind: KindNotFound, StatusCode: http.StatusOK, Message: fmt.Sprintf("no person with id %s", targetID)}
	}
	return &person, nil
}

// GenerateQRCode returns the base64 QR payload issued for the person.
func (c *Client) GenerateQRCode(ctx context.Context, sourceID string, targetID string, unitID string, validityMinutes int) (string, error) {
	req := qrCodeRequest{PersonID: targetID, UnitID: unitID, ValidityMinutes: validityMinutes}
	data, err := c.call(ctx, domain.OperationQRCode, sourceID, PathGenerateQRCode, req)
	if err != nil {
		return "", err
	}

	qr := scalarOrField(data, "qrCode")
	if qr == "" {
		return "", &UpstreamError{Kind: KindTransient, StatusCode: http.StatusOK, Message: "qr code response is empty"}
	}
	return qr, nil
}

func (c *Client) call(ctx context.Context, op domain.SyncOperation, sourceID string, path string, payload any) (gjson.Result, error) {
	if c == nil || c.http == nil {
		return gjson.Result{}, fmt.Errorf("hikcentral client is not initialized")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	if err := c.waitForCapacity(ctx, op); err != nil {
		return gjson.Result{}, err
	}

	headers, err := c.signer.Sign(SignRequest{Method: http.MethodPost, Path: path, Body: body})
	if err != nil {
		return gjson.Result{}, err
	}

	start := c.now()
	resp, reqErr := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetHeader(HeaderUserID, c.cfg.UserID).
		SetBody(body).
		Post(path)
	latency := c.now().Sub(start)

	data, callErr := c.classify(resp, reqErr)
	c.recordAttempt(ctx, op, sourceID, resp, callErr, latency)

	outcome := attemptOutcome(callErr)
	c.metrics.ObserveUpstreamRequest(op.String(), outcome.String(), latency)

	if callErr != nil {
		observability.ForSource(c.logger, ctx, sourceID).Warn("hikcentral call failed",
			zap.String("operation", op.String()),
			zap.Duration("latency", latency),
			zap.Error(callErr),
		)
		return gjson.Result{}, callErr
	}

	return data, nil
}

// waitForCapacity queues on the rate limiter for at most RateLimitWait. A
// limiter that cannot answer is skipped.
func (c *Client) waitForCapacity(ctx context.Context, op domain.SyncOperation) error {
	if c.limiter == nil {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.RateLimitWait)
	defer cancel()

	err := c.limiter.Wait(waitCtx, RateLimitKey)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	case waitCtx.Err() != nil:
		return &UpstreamError{
			Kind:    KindTransient,
			Message: fmt.Sprintf("rate limit wait exceeded %s", c.cfg.RateLimitWait),
			Cause:   waitCtx.Err(),
		}
	}

	observability.WithContextLogger(c.logger, ctx).Warn("rate limiter unavailable, proceeding",
		zap.String("operation", op.String()),
		zap.Error(err),
	)
	return nil
}

func (c *Client) classify(resp *resty.Response, reqErr error) (gjson.Result, error) {
	if reqErr != nil {
		return gjson.Result{}, &UpstreamError{
			Kind:    KindTransient,
			Message: "request failed",
			Cause:   reqErr,
		}
	}
	if resp == nil {
		return gjson.Result{}, &UpstreamError{Kind: KindTransient, Message: "empty response"}
	}

	statusCode := resp.StatusCode()
	body := resp.Body()

	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return gjson.Result{}, &UpstreamError{
			Kind:       kindForHTTPStatus(statusCode),
			StatusCode: statusCode,
			Code:       gjson.GetBytes(body, "code").String(),
			Message:    errorMessage(body),
		}
	}

	if !gjson.ValidBytes(body) {
		return gjson.Result{}, &UpstreamError{Kind: KindTransient, StatusCode: statusCode, Message: "malformed response body"}
	}

	envelope := gjson.ParseBytes(body)
	code := envelope.Get("code").String()
	if code == successCode {
		return envelope.Get("data"), nil
	}

	return gjson.Result{}, &UpstreamError{
		Kind:       c.kindForCode(code),
		StatusCode: statusCode,
		Code:       code,
		Message:    envelope.Get("msg").String(),
	}
}

func (c *Client) kindForCode(code string) Kind {
	if _, ok := c.duplicateCodes[code]; ok {
		return KindDuplicate
	}
	if _, ok := c.notFoundCodes[code]; ok {
		return KindNotFound
	}
	return KindRejected
}

// recordAttempt runs on a context detached from the caller so a canceled
// request still leaves its audit row.
func (c *Client) recordAttempt(ctx context.Context, op domain.SyncOperation, sourceID string, resp *resty.Response, callErr error, latency time.Duration) {
	if c.attempts == nil {
		return
	}

	attempt := &domain.SyncAttempt{
		ID:          uuid.NewString(),
		SourceID:    sourceID,
		Operation:   op,
		Outcome:     attemptOutcome(callErr),
		LatencyMs:   latency.Milliseconds(),
		AttemptedAt: c.now().UTC(),
	}
	if resp != nil && resp.StatusCode() > 0 {
		status := resp.StatusCode()
		attempt.UpstreamStatus = &status
	}

	var upstreamErr *UpstreamError
	if errors.As(callErr, &upstreamErr) && upstreamErr.Code != "" {
		code := upstreamErr.Code
		attempt.UpstreamCode = &code
	}
	if callErr != nil {
		msg := callErr.Error()
		attempt.Error = &msg
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
	defer cancel()

	if err := c.attempts.Create(writeCtx, attempt); err != nil {
		observability.ForSource(c.logger, ctx, sourceID).Error("failed to record sync attempt",
			zap.String("operation", op.String()),
			zap.Error(err),
		)
	}
}

func attemptOutcome(err error) domain.AttemptOutcome {
	switch {
	case err == nil:
		return domain.AttemptSuccess
	case isTimeout(err):
		return domain.AttemptTimeout
	default:
		return domain.AttemptFailure
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func errorMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "msg").String(); msg != "" {
		return msg
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBodyLength {
		text = text[:maxErrorBodyLength]
	}
	return text
}

// cleanBaseURL keeps only scheme://host[:port]; Artemis paths are absolute.
func cleanBaseURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("hikcentral base url is required")
	}
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid hikcentral base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("invalid hikcentral base url %q", raw)
	}
	return parsed.Scheme + "://" + parsed.Host, nil
}

func codeSet(codes []string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if trimmed := strings.TrimSpace(code); trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return set
}
