package hikcentral

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderTimestamp     = "x-ca-timestamp"
	HeaderNonce         = "x-ca-nonce"
	HeaderKey           = "x-ca-key"
	HeaderContentMD5    = "Content-MD5"
	HeaderContentType   = "Content-Type"
	HeaderAccept        = "Accept"
	HeaderUserID        = "userId"

	ContentTypeJSON = "application/json;charset=UTF-8"
)

var ErrInvalidSigningInput = errors.New("invalid signing input")

// SignRequest is the part of an outbound request covered by the signature.
type SignRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// Signer produces the Artemis authentication headers for outbound calls.
type Signer struct {
	appKey    string
	appSecret string
	now       func() time.Time
	nonce     func() string
}

func NewSigner(appKey string, appSecret string) (*Signer, error) {
	appKey = strings.TrimSpace(appKey)
	if appKey == "" || appSecret == "" {
		return nil, fmt.Errorf("%w: app key and secret are required", ErrInvalidSigningInput)
	}

	return &Signer{
		appKey:    appKey,
		appSecret: appSecret,
		now:       time.Now,
		nonce:     uuid.NewString,
	}, nil
}

// Sign stamps the request with the current wall clock and a fresh nonce.
func (s *Signer) Sign(req SignRequest) (map[string]string, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: signer is not initialized", ErrInvalidSigningInput)
	}
	return s.SignAt(req, s.now(), s.nonce())
}

// SignAt is Sign with a caller-provided timestamp and nonce. The same inputs
// always yield the same headers.
func (s *Signer) SignAt(req SignRequest, timestamp time.Time, nonce string) (map[string]string, error) {
	if s == nil || s.appKey == "" || s.appSecret == "" {
		return nil, fmt.Errorf("%w: app key and secret are required", ErrInvalidSigningInput)
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		return nil, fmt.Errorf("%w: method is required", ErrInvalidSigningInput)
	}
	if !strings.HasPrefix(req.Path, "/") {
		return nil, fmt.Errorf("%w: path must start with /", ErrInvalidSigningInput)
	}
	if strings.TrimSpace(nonce) == "" {
		return nil, fmt.Errorf("%w: nonce is required", ErrInvalidSigningInput)
	}

	contentMD5 := ContentMD5(req.Body)
	ts := strconv.FormatInt(timestamp.UnixMilli(), 10)
	canonical := CanonicalString(method, contentMD5, ContentTypeJSON, ts, req.Path, req.Query)

	mac := hmac.New(sha256.New, []byte(s.appSecret))
	_, _ = mac.Write([]byte(canonical))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return map[string]string{
		HeaderAuthorization: "hmac " + s.appKey + ":" + signature,
		HeaderTimestamp:     ts,
		HeaderNonce:         nonce,
		HeaderKey:           s.appKey,
		HeaderContentMD5:    contentMD5,
		HeaderContentType:   ContentTypeJSON,
		HeaderAccept:        "application/json",
	}, nil
}

func ContentMD5(body []byte) string {
	sum := md5.Sum(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// CanonicalString joins the signed fields with newlines. Query parameters are
// appended sorted by key.
func CanonicalString(method, contentMD5, contentType, timestamp, path string, query url.Values) string {
	resource := path
	if len(query) > 0 {
		resource += "?" + query.Encode()
	}
	return strings.Join([]string{method, contentMD5, contentType, timestamp, resource}, "\n")
}
