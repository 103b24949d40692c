package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/tender-cli/internal/model"
)

// TransientError wraps an error that is safe to retry (e.g., 429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// ClassifiedError attaches an explicit failure class to an error.
type ClassifiedError struct {
	Class      model.ErrorClass
	Err        error
	StatusCode int
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Class, e.Err.Error())
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// NewClassified wraps err with class.
func NewClassified(class model.ErrorClass, err error) *ClassifiedError {
	return &ClassifiedError{Class: class, Err: err}
}

// Classifiedf builds a classified error from a format string.
func Classifiedf(class model.ErrorClass, format string, args ...any) *ClassifiedError {
	return &ClassifiedError{Class: class, Err: eris.Errorf(format, args...)}
}

// HTTPStatusError classifies a non-success HTTP status. Transient statuses
// become TransientError; everything else is UPSTREAM_REJECTED.
func HTTPStatusError(statusCode int, err error) error {
	if IsTransientHTTPStatus(statusCode) {
		return NewTransientError(err, statusCode)
	}
	return &ClassifiedError{Class: model.ClassUpstreamRejected, Err: err, StatusCode: statusCode}
}

// Classify maps any error to the pipeline's failure taxonomy. A
// ClassifiedError anywhere in the chain wins; transient symptoms map to
// TRANSIENT_NETWORK; everything else is INTERNAL.
func Classify(err error) model.ErrorClass {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if IsTransient(err) || errors.Is(err, context.Canceled) {
		return model.ClassTransientNetwork
	}
	return model.ClassInternal
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient error patterns (network
// timeouts, connection resets, DNS failures). An explicit ClassifiedError
// decides on its own class.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == model.ClassTransientNetwork
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"connection refused",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
		"unexpected eof",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry: 408, 429 and any 5xx,
// including non-standard overload codes such as 529.
func IsTransientHTTPStatus(statusCode int) bool {
	switch {
	case statusCode == 408, statusCode == 429:
		return true
	case statusCode >= 500 && statusCode <= 599:
		return true
	default:
		return false
	}
}

// Failure builds the audit record for a stage that gave up on err.
func Failure(resourceID string, stage model.Stage, err error) model.FailureRecord {
	attempts := Attempts(err)
	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}
	return model.FailureRecord{
		ResourceID: resourceID,
		Stage:      stage,
		Class:      Classify(err),
		Detail:     err.Error(),
		Retries:    retries,
		At:         time.Now().UTC(),
	}
}

func asRetryError(err error) (*RetryError, bool) {
	var re *RetryError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
