package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/tender-cli/internal/model"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad request"), false},
		{"transient error", NewTransientError(errors.New("503"), 503), true},
		{"wrapped transient", eris.Wrap(NewTransientError(errors.New("x"), 0), "fetch"), true},
		{"net timeout", timeoutErr{}, true},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"conn refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"string pattern", errors.New("Post http://x: EOF: connection reset by peer"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"circuit open", ErrCircuitOpen, true},
		{"classified transient", NewClassified(model.ClassTransientNetwork, errors.New("x")), true},
		{"classified permanent wins over pattern", NewClassified(model.ClassInvalidDocument, errors.New("i/o timeout")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, model.ErrorClass(""), Classify(nil))
	assert.Equal(t, model.ClassInternal, Classify(errors.New("disk full")))
	assert.Equal(t, model.ClassTransientNetwork, Classify(context.Canceled))
	assert.Equal(t, model.ClassTransientNetwork, Classify(NewTransientError(errors.New("x"), 500)))
	assert.Equal(t, model.ClassMalformedOutput,
		Classify(eris.Wrap(Classifiedf(model.ClassMalformedOutput, "missing %s", "title"), "extract")))
}

func TestHTTPStatusError(t *testing.T) {
	assert.True(t, IsTransient(HTTPStatusError(503, errors.New("x"))))
	assert.True(t, IsTransient(HTTPStatusError(429, errors.New("x"))))

	err := HTTPStatusError(404, errors.New("not found"))
	assert.False(t, IsTransient(err))
	assert.Equal(t, model.ClassUpstreamRejected, Classify(err))

	var ce *ClassifiedError
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, 404, ce.StatusCode)
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 501, 502, 503, 504, 505, 507, 529, 599} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404, 422, 600} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}

func TestClassifiedError_Message(t *testing.T) {
	err := Classifiedf(model.ClassInvalidDocument, "got %s", "text/html")
	assert.Contains(t, err.Error(), "INVALID_DOCUMENT")
	assert.Contains(t, err.Error(), "text/html")
}

func TestFailure(t *testing.T) {
	err := &RetryError{Err: NewTransientError(errors.New("503"), 503), Attempts: 3, Exhausted: true}
	f := Failure("r1", model.StageDocument, err)
	assert.Equal(t, "r1", f.ResourceID)
	assert.Equal(t, model.StageDocument, f.Stage)
	assert.Equal(t, model.ClassTransientNetwork, f.Class)
	assert.Equal(t, 2, f.Retries)
	assert.False(t, f.At.IsZero())

	f = Failure("r2", model.StageExtract, Classifiedf(model.ClassMalformedOutput, "bad"))
	assert.Equal(t, 0, f.Retries)
	assert.Equal(t, model.ClassMalformedOutput, f.Class)
}
