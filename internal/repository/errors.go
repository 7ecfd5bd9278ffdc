package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// isUniqueViolationError matches translated gorm errors as well as raw driver
// messages from postgres and sqlite.
func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
