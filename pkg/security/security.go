package security

import (
	"regexp"
	"strings"

	"github.com/boris-v/pg-boss/pkg/core"
)

// Limits
const (
	// MaxQueueNameLength is the maximum length for queue names.
	MaxQueueNameLength = 64

	// MaxDataSize is the maximum size in bytes for job data (1MB).
	MaxDataSize = 1 << 20

	// MaxRetryLimit is the hard ceiling for retry attempts.
	MaxRetryLimit = 100

	// MaxBatchSize is the hard ceiling for fetch batch sizes.
	MaxBatchSize = 1000

	// MaxErrorMessageLength is the maximum length for stored error messages.
	MaxErrorMessageLength = 4096

	// ReservedPrefix marks internal queue names.
	ReservedPrefix = "__"
)

var validQueueName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateQueueName validates a queue name supplied by a caller.
// Names matching the reserved internal prefix are rejected.
func ValidateQueueName(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if strings.HasPrefix(name, ReservedPrefix) {
		return core.ErrReservedQueueName
	}
	return nil
}

// ValidateInternalQueueName validates a queue name that may carry the
// reserved prefix: only the character set and length rules apply.
func ValidateInternalQueueName(name string) error {
	return validateName(name)
}

func validateName(name string) error {
	if name == "" {
		return core.ErrInvalidQueueName
	}
	if len(name) > MaxQueueNameLength {
		return core.ErrQueueNameTooLong
	}
	if !validQueueName.MatchString(name) {
		return core.ErrInvalidQueueName
	}
	return nil
}

// ValidateData enforces the payload size limit.
func ValidateData(data []byte) error {
	if len(data) > MaxDataSize {
		return core.ErrDataTooLarge
	}
	return nil
}

// ClampRetryLimit bounds a retry limit to [0, MaxRetryLimit].
func ClampRetryLimit(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRetryLimit {
		return MaxRetryLimit
	}
	return n
}

// ClampBatchSize bounds a batch size to [1, MaxBatchSize].
func ClampBatchSize(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxBatchSize {
		return MaxBatchSize
	}
	return n
}

// SanitizeErrorMessage truncates and strips control characters from an
// error message before it is stored as job output.
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	var sanitized strings.Builder
	sanitized.Grow(len(msg))
	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	out := sanitized.String()
	if len(out) > MaxErrorMessageLength {
		out = out[:MaxErrorMessageLength]
	}
	return out
}
