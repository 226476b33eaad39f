package security_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/saverelay/saverelay/pkg/core"
	"github.com/saverelay/saverelay/pkg/security"
)

func TestValidateClientID(t *testing.T) {
	assert.NoError(t, security.ValidateClientID("worker-1"))
	assert.NoError(t, security.ValidateClientID("550e8400-e29b-41d4-a716-446655440000"))
	assert.NoError(t, security.ValidateClientID("host.worker_2"))

	assert.ErrorIs(t, security.ValidateClientID(""), core.ErrInvalidClientID)
	assert.ErrorIs(t, security.ValidateClientID("-leading-dash"), core.ErrInvalidClientID)
	assert.ErrorIs(t, security.ValidateClientID("has spaces"), core.ErrInvalidClientID)
	assert.ErrorIs(t, security.ValidateClientID("semi;colon"), core.ErrInvalidClientID)
	assert.ErrorIs(t, security.ValidateClientID(strings.Repeat("a", 256)), core.ErrInvalidClientID)
}

func TestValidateUserID(t *testing.T) {
	assert.NoError(t, security.ValidateUserID("user-42"))

	assert.ErrorIs(t, security.ValidateUserID(""), core.ErrInvalidUserID)
	assert.ErrorIs(t, security.ValidateUserID("user'; DROP TABLE operations"), core.ErrInvalidUserID)
	assert.ErrorIs(t, security.ValidateUserID(strings.Repeat("u", 256)), core.ErrInvalidUserID)
}

func TestValidatePayloadSize(t *testing.T) {
	assert.NoError(t, security.ValidatePayloadSize(nil))
	assert.NoError(t, security.ValidatePayloadSize(make([]byte, security.MaxPayloadSize)))
	assert.ErrorIs(t, security.ValidatePayloadSize(make([]byte, security.MaxPayloadSize+1)), core.ErrPayloadTooLarge)
}

func TestValidateBatchSize(t *testing.T) {
	assert.ErrorIs(t, security.ValidateBatchSize(0), core.ErrEmptyBatch)
	assert.NoError(t, security.ValidateBatchSize(1))
	assert.NoError(t, security.ValidateBatchSize(security.MaxBatchSize))
	assert.ErrorIs(t, security.ValidateBatchSize(security.MaxBatchSize+1), core.ErrBatchTooLarge)
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "", security.SanitizeErrorMessage(""))
	assert.Equal(t, "plain error", security.SanitizeErrorMessage("plain error"))
	assert.Equal(t, "line1\nline2", security.SanitizeErrorMessage("line1\nline2"))
	assert.Equal(t, "nulstripped", security.SanitizeErrorMessage("nul\x00stripped"))

	long := strings.Repeat("x", security.MaxErrorMessageLength+100)
	sanitized := security.SanitizeErrorMessage(long)
	assert.Len(t, sanitized, security.MaxErrorMessageLength)
	assert.True(t, strings.HasSuffix(sanitized, "..."))
}

func TestClampClaimLimit(t *testing.T) {
	assert.Equal(t, 1, security.ClampClaimLimit(0))
	assert.Equal(t, 1, security.ClampClaimLimit(-5))
	assert.Equal(t, 25, security.ClampClaimLimit(25))
	assert.Equal(t, security.MaxClaimLimit, security.ClampClaimLimit(10000))
}
