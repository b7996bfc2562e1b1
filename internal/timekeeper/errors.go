package timekeeper

import (
	"errors"
	"fmt"
)

// SyncError is returned by TimeKeeper operations.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Message is a human-readable description.
	Message string
}

// SyncErrorCode categorizes TimeKeeper errors.
type SyncErrorCode string

const (
	// ErrCodeMissingOrigin indicates the TimeKeeper was built without an origin time.
	ErrCodeMissingOrigin SyncErrorCode = "MISSING_ORIGIN"

	// ErrCodeMissingHeader indicates the bootstrap response had no Date header.
	ErrCodeMissingHeader SyncErrorCode = "MISSING_HEADER"

	// ErrCodeMissingTimingEntry indicates no resource-timing entry exists for the bootstrap request.
	ErrCodeMissingTimingEntry SyncErrorCode = "MISSING_TIMING_ENTRY"

	// ErrCodeInvalidDateFormat indicates the Date header could not be parsed.
	ErrCodeInvalidDateFormat SyncErrorCode = "INVALID_DATE_FORMAT"

	// ErrCodeNotSynchronized indicates a translation was attempted before the bootstrap exchange completed.
	ErrCodeNotSynchronized SyncErrorCode = "NOT_SYNCHRONIZED"

	// ErrCodeAlreadySynchronized indicates a second bootstrap exchange was offered.
	ErrCodeAlreadySynchronized SyncErrorCode = "ALREADY_SYNCHRONIZED"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newSyncError(code SyncErrorCode, format string, args ...any) *SyncError {
	return &SyncError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func hasCode(err error, code SyncErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsMissingHeader reports whether err is a MISSING_HEADER SyncError.
func IsMissingHeader(err error) bool { return hasCode(err, ErrCodeMissingHeader) }

// IsMissingTimingEntry reports whether err is a MISSING_TIMING_ENTRY SyncError.
func IsMissingTimingEntry(err error) bool { return hasCode(err, ErrCodeMissingTimingEntry) }

// IsInvalidDateFormat reports whether err is an INVALID_DATE_FORMAT SyncError.
func IsInvalidDateFormat(err error) bool { return hasCode(err, ErrCodeInvalidDateFormat) }

// IsNotSynchronized reports whether err is a NOT_SYNCHRONIZED SyncError.
func IsNotSynchronized(err error) bool { return hasCode(err, ErrCodeNotSynchronized) }

// IsAlreadySynchronized reports whether err is an ALREADY_SYNCHRONIZED SyncError.
func IsAlreadySynchronized(err error) bool { return hasCode(err, ErrCodeAlreadySynchronized) }
