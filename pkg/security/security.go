// Package security provides validation, sanitization, and limits for SaveRelay.
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/saverelay/saverelay/pkg/core"
)

// Limits.
const (
	// MaxPayloadSize is the maximum size in bytes for an operation payload (1MB)
	MaxPayloadSize = 1 << 20

	// MaxBatchSize is the maximum number of sibling operations per batch
	MaxBatchSize = 100

	// MaxErrorMessageLength is the maximum length for stored error messages
	MaxErrorMessageLength = 4096

	// MaxClientIDLength is the maximum length for worker client ids
	MaxClientIDLength = 255

	// MaxUserIDLength is the maximum length for user ids
	MaxUserIDLength = 255

	// MaxClaimLimit is the hard cap on operations returned per poll
	MaxClaimLimit = 100
)

// validIdentifier matches alphanumeric, hyphens, underscores, and dots
var validIdentifier = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.]*$`)

// ValidateClientID validates a worker client id.
func ValidateClientID(id string) error {
	if id == "" || len(id) > MaxClientIDLength || !validIdentifier.MatchString(id) {
		return core.ErrInvalidClientID
	}
	return nil
}

// ValidateUserID validates a user id.
func ValidateUserID(id string) error {
	if id == "" || len(id) > MaxUserIDLength || !validIdentifier.MatchString(id) {
		return core.ErrInvalidUserID
	}
	return nil
}

// ValidatePayloadSize enforces the payload size limit.
func ValidatePayloadSize(raw []byte) error {
	if len(raw) > MaxPayloadSize {
		return core.ErrPayloadTooLarge
	}
	return nil
}

// ValidateBatchSize enforces the batch size limit.
func ValidateBatchSize(n int) error {
	if n == 0 {
		return core.ErrEmptyBatch
	}
	if n > MaxBatchSize {
		return core.ErrBatchTooLarge
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage.
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampClaimLimit ensures the per-poll claim limit is within bounds.
func ClampClaimLimit(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxClaimLimit {
		return MaxClaimLimit
	}
	return n
}
