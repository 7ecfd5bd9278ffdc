package handler

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/kursadbilgin/lyve-bridge/internal/observability"
)

const HeaderAPIKey = "X-API-Key"

// APIKeyAuth accepts requests whose X-API-Key header matches apiKey.
func APIKeyAuth(apiKey string) fiber.Handler {
	expected := []byte(apiKey)

	return keyauth.New(keyauth.Config{
		KeyLookup: "header:" + HeaderAPIKey,
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(key), expected) != 1 {
				return false, keyauth.ErrMissingOrMalformedAPIKey
			}
			return true, nil
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return fiber.NewError(fiber.StatusUnauthorized, "missing or invalid api key")
		},
	})
}

// CorrelationID copies the request ID into the user context so services log
// it as correlationId. It must run after the requestid middleware.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id := requestCorrelationID(c); id != "" {
			c.SetUserContext(observability.WithCorrelationID(c.UserContext(), id))
		}
		return c.Next()
	}
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
