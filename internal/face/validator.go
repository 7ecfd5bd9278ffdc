// Package face checks that an uploaded face image is acceptable for the
// upstream access-control platform before any person record is created.
package face

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
)

const (
	DefaultMaxBytes   = 2 * 1024 * 1024
	DefaultMinQuality = 60
	MinWidth          = 100
	MinHeight         = 100
)

// Verdict is the outcome of validating one image.
type Verdict struct {
	Valid        bool
	QualityScore int
	Reason       string
	Format       string
	Width        int
	Height       int
}

type Validator struct {
	maxBytes   int
	minQuality int
}

func NewValidator(maxBytes int, minQuality int) *Validator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if minQuality <= 0 {
		minQuality = DefaultMinQuality
	}
	return &Validator{maxBytes: maxBytes, minQuality: minQuality}
}

// Validate decodes only the image header; pixel data is never loaded.
func (v *Validator) Validate(data []byte) Verdict {
	if len(data) == 0 {
		return Verdict{Reason: "image is empty"}
	}
	if len(data) > v.maxBytes {
		return Verdict{Reason: fmt.Sprintf("image exceeds %d bytes", v.maxBytes)}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Verdict{Reason: "unsupported or corrupt image"}
	}

	verdict := Verdict{
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}
	verdict.QualityScore = qualityScore(cfg.Width, cfg.Height)

	if cfg.Width < MinWidth || cfg.Height < MinHeight {
		verdict.Reason = fmt.Sprintf("image must be at least %dx%d pixels", MinWidth, MinHeight)
		return verdict
	}
	if verdict.QualityScore < v.minQuality {
		verdict.Reason = fmt.Sprintf("image quality %d is below minimum %d", verdict.QualityScore, v.minQuality)
		return verdict
	}

	verdict.Valid = true
	return verdict
}

func qualityScore(width int, height int) int {
	switch {
	case width >= 800 && height >= 600:
		return 90
	case width >= 320 && height >= 240:
		return 80
	case width >= MinWidth && height >= MinHeight:
		return 60
	default:
		return 30
	}
}
