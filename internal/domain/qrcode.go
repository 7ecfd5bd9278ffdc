package domain

import "time"

const (
	DefaultQRCodeValidityMinutes = 60
	MaxQRCodeValidityMinutes     = 7 * 24 * 60
)

// QRCode is an upstream-issued access code for a synced person.
type QRCode struct {
	ID              string
	SourceID        string
	TargetID        string
	UnitID          string
	Data            string
	ValidityMinutes int
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// FaceRecord is a face image registered upstream for a person.
type FaceRecord struct {
	ID  string
	URL string
}
