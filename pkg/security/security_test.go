package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boris-v/pg-boss/pkg/core"
)

func TestValidateQueueName(t *testing.T) {
	valid := []string{"email", "email-welcome", "q_1", "A-Z_09"}
	for _, name := range valid {
		assert.NoError(t, ValidateQueueName(name), name)
	}

	invalid := map[string]error{
		"":          core.ErrInvalidQueueName,
		"has space": core.ErrInvalidQueueName,
		"dots.bad":  core.ErrInvalidQueueName,
		"q$":        core.ErrInvalidQueueName,
		"__state":   core.ErrReservedQueueName,
	}
	for name, want := range invalid {
		assert.ErrorIs(t, ValidateQueueName(name), want, name)
	}

	long := strings.Repeat("a", MaxQueueNameLength+1)
	assert.ErrorIs(t, ValidateQueueName(long), core.ErrQueueNameTooLong)
}

func TestValidateInternalQueueName(t *testing.T) {
	require.NoError(t, ValidateInternalQueueName("__pgboss__maintenance"))
	require.ErrorIs(t, ValidateInternalQueueName("not ok"), core.ErrInvalidQueueName)
}

func TestValidateData(t *testing.T) {
	assert.NoError(t, ValidateData(make([]byte, MaxDataSize)))
	assert.ErrorIs(t, ValidateData(make([]byte, MaxDataSize+1)), core.ErrDataTooLarge)
}

func TestClamps(t *testing.T) {
	assert.Equal(t, 0, ClampRetryLimit(-5))
	assert.Equal(t, 3, ClampRetryLimit(3))
	assert.Equal(t, MaxRetryLimit, ClampRetryLimit(MaxRetryLimit+1))

	assert.Equal(t, 1, ClampBatchSize(0))
	assert.Equal(t, 20, ClampBatchSize(20))
	assert.Equal(t, MaxBatchSize, ClampBatchSize(MaxBatchSize*2))
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "", SanitizeErrorMessage(""))
	assert.Equal(t, "line1\nline2", SanitizeErrorMessage("line1\nline2"))
	assert.Equal(t, "ab", SanitizeErrorMessage("a\x00b"))

	long := strings.Repeat("x", MaxErrorMessageLength+100)
	assert.Len(t, SanitizeErrorMessage(long), MaxErrorMessageLength)
}
