package core

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/presbrey/ircstate/metrics"
)

// retryPolicy bounds the internal retries of transient store failures.
// Semantic errors pass through untouched on the first attempt.
type retryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{Attempts: 5, Backoff: 10 * time.Millisecond}
}

func (p retryPolicy) run(op func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			metrics.StoreRetries.Inc()
			time.Sleep(p.Backoff * time.Duration(i))
		}

		err = op()
		if err == nil {
			return nil
		}

		// Never retry semantic failures; the caller needs to see them.
		if code := ErrCode(err); code != "" && code != CodeStoreConflict && code != CodeStoreUnavailable {
			return err
		}

		if !isTransient(err) {
			break
		}
	}

	return classifyStoreError(err)
}

func isTransient(err error) bool {
	if IsCode(err, CodeStoreConflict) || IsCode(err, CodeStoreUnavailable) {
		return true
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"database is locked",
		"database table is locked",
		"busy",
		"deadlock",
		"unique constraint",
		"duplicate",
		"connection refused",
		"connection reset",
		"bad connection",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// classifyStoreError maps a raw store error to the surfaced taxonomy.
func classifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	if code := ErrCode(err); code != "" {
		return err
	}

	msg := strings.ToLower(err.Error())
	if errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate") {
		return wrapError(CodeStoreConflict, err, "store conflict")
	}

	return wrapError(CodeStoreUnavailable, err, "store unavailable")
}
