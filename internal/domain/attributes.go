package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

const (
	MaxNameLength  = 255
	MaxPhoneLength = 50
	// DefaultValidity is applied when a create request omits the validity window.
	DefaultValidity = 365 * 24 * time.Hour
)

// Attributes are the mutable person fields forwarded to the upstream platform.
type Attributes struct {
	Name      string
	Phone     string
	Email     string
	ValidFrom time.Time
	ValidTo   time.Time
	// FaceImage is raw image bytes. It is never persisted.
	FaceImage []byte
}

func (a *Attributes) Normalize() {
	a.Name = strings.Join(strings.Fields(a.Name), " ")
	a.Phone = strings.TrimSpace(a.Phone)
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	if !a.ValidFrom.IsZero() {
		a.ValidFrom = a.ValidFrom.UTC().Truncate(time.Second)
	}
	if !a.ValidTo.IsZero() {
		a.ValidTo = a.ValidTo.UTC().Truncate(time.Second)
	}
}

// WithDefaultValidity fills an empty validity window starting at now.
func (a Attributes) WithDefaultValidity(now time.Time) Attributes {
	if a.ValidFrom.IsZero() {
		a.ValidFrom = now.UTC().Truncate(time.Second)
	}
	if a.ValidTo.IsZero() {
		a.ValidTo = a.ValidFrom.Add(DefaultValidity)
	}
	return a
}

// InheritValidity keeps the previous validity window when a is missing one.
// Name, phone and email are always replaced.
func (a Attributes) InheritValidity(previous Attributes) Attributes {
	if a.ValidFrom.IsZero() {
		a.ValidFrom = previous.ValidFrom
	}
	if a.ValidTo.IsZero() {
		a.ValidTo = previous.ValidTo
	}
	return a
}

func (a Attributes) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if len([]rune(a.Name)) > MaxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrValidation, MaxNameLength)
	}
	if a.Phone != "" {
		if len(a.Phone) > MaxPhoneLength {
			return fmt.Errorf("%w: phone exceeds %d characters", ErrValidation, MaxPhoneLength)
		}
		for _, r := range a.Phone {
			if (r < '0' || r > '9') && r != '+' && r != '-' && r != ' ' {
				return fmt.Errorf("%w: phone number contains invalid characters", ErrValidation)
			}
		}
	}
	if a.Email != "" {
		if _, err := mail.ParseAddress(a.Email); err != nil {
			return fmt.Errorf("%w: invalid email format", ErrValidation)
		}
	}
	if !a.ValidFrom.IsZero() && !a.ValidTo.IsZero() && !a.ValidTo.After(a.ValidFrom) {
		return fmt.Errorf("%w: validTo must be after validFrom", ErrValidation)
	}
	return nil
}

// Hash digests the fields that are synced upstream. Two attribute sets with
// the same hash produce the same upstream record.
func (a Attributes) Hash() string {
	h := sha256.New()
	fields := []string{
		a.Name,
		a.Phone,
		a.Email,
		formatHashTime(a.ValidFrom),
		formatHashTime(a.ValidTo),
	}
	if len(a.FaceImage) > 0 {
		face := sha256.Sum256(a.FaceImage)
		fields = append(fields, hex.EncodeToString(face[:]))
	}
	_, _ = h.Write([]byte(strings.Join(fields, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}

// SplitName splits a full name into given and family names. Everything after
// the first word is the family name.
func SplitName(fullName string) (given string, family string) {
	parts := strings.Fields(fullName)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func formatHashTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
