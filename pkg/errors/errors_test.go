package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, 0},
		{"model not found", &ModelNotFoundError{Group: "gpt-4"}, KindNoCandidates},
		{"wrapped model not found", fmt.Errorf("select: %w", &ModelNotFoundError{Group: "gpt-4"}), KindNoCandidates},
		{"chain exhausted", &ChainExhaustedError{Group: "gpt-4", LastErr: ErrAttemptTimeout}, KindChainExhausted},
		{"attempt timeout", ErrAttemptTimeout, KindAttemptTimeout},
		{"deadline exceeded", context.DeadlineExceeded, KindAttemptTimeout},
		{"timeout 408", NewTimeoutError("openai", "gpt-4", "slow"), KindRetryableUpstream},
		{"rate limit 429", NewRateLimitError("openai", "gpt-4", "slow down"), KindRetryableUpstream},
		{"bad gateway 502", NewStatusError(http.StatusBadGateway, "openai", "gpt-4", "bad gateway"), KindRetryableUpstream},
		{"unavailable 503", NewServiceUnavailableError("openai", "gpt-4", "down"), KindRetryableUpstream},
		{"gateway timeout 504", NewStatusError(http.StatusGatewayTimeout, "openai", "gpt-4", "timeout"), KindRetryableUpstream},
		{"bad request 400", NewInvalidRequestError("openai", "gpt-4", "bad"), KindNonRetryableUpstream},
		{"unauthorized 401", NewAuthenticationError("openai", "gpt-4", "key"), KindNonRetryableUpstream},
		{"internal 500", NewInternalError("openai", "gpt-4", "boom"), KindNonRetryableUpstream},
		{"connection refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, KindRetryableUpstream},
		{"unexpected eof", io.ErrUnexpectedEOF, KindRetryableUpstream},
		{"plain error", stderrors.New("something odd"), KindNonRetryableUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestKindRetryable(t *testing.T) {
	retryable := map[Kind]bool{
		KindNoCandidates:         false,
		KindAttemptTimeout:       true,
		KindRetryableUpstream:    true,
		KindNonRetryableUpstream: false,
		KindChainExhausted:       false,
	}
	for kind, want := range retryable {
		if got := kind.Retryable(); got != want {
			t.Errorf("%s.Retryable() = %v, want %v", kind, got, want)
		}
	}
}

func TestCountsAgainstDeployment(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"bad request", NewInvalidRequestError("openai", "gpt-4", "bad"), false},
		{"unprocessable", NewStatusError(http.StatusUnprocessableEntity, "openai", "gpt-4", "bad"), false},
		{"rate limit", NewRateLimitError("openai", "gpt-4", "slow"), true},
		{"unauthorized", NewAuthenticationError("openai", "gpt-4", "key"), true},
		{"timeout", ErrAttemptTimeout, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountsAgainstDeployment(tt.err); got != tt.want {
				t.Errorf("CountsAgainstDeployment(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestChainExhaustedError(t *testing.T) {
	last := NewServiceUnavailableError("azure", "gpt-4", "overloaded")
	err := error(&ChainExhaustedError{Group: "gpt-4", Tried: []string{"dep-a", "dep-b"}, Attempts: 3, LastErr: last})

	if !stderrors.Is(err, ErrServiceUnavailable) {
		t.Error("errors.Is(err, ErrServiceUnavailable) = false")
	}

	var llmErr *LLMError
	if !stderrors.As(err, &llmErr) || llmErr != last {
		t.Error("last error should be reachable through Unwrap")
	}

	msg := err.Error()
	for _, want := range []string{"gpt-4", "dep-a, dep-b", "3 attempt", "overloaded"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message %q should contain %q", msg, want)
		}
	}

	empty := &ChainExhaustedError{Group: "gpt-4"}
	if !strings.Contains(empty.Error(), "no candidate was eligible") {
		t.Errorf("unexpected message for empty chain: %q", empty.Error())
	}
	if empty.HTTPStatusCode() != http.StatusServiceUnavailable {
		t.Errorf("HTTPStatusCode() = %d", empty.HTTPStatusCode())
	}
}

func TestNewStatusError(t *testing.T) {
	tests := []struct {
		status    int
		wantType  string
		retryable bool
	}{
		{http.StatusBadRequest, TypeInvalidRequest, false},
		{http.StatusForbidden, TypeAuthentication, false},
		{http.StatusNotFound, TypeNotFound, false},
		{http.StatusRequestTimeout, TypeTimeout, true},
		{http.StatusTooManyRequests, TypeRateLimit, true},
		{http.StatusInternalServerError, TypeInternalError, false},
		{http.StatusBadGateway, TypeServiceUnavailable, true},
		{http.StatusGatewayTimeout, TypeTimeout, true},
	}
	for _, tt := range tests {
		err := NewStatusError(tt.status, "p", "m", "msg")
		if err.Type != tt.wantType {
			t.Errorf("NewStatusError(%d).Type = %q, want %q", tt.status, err.Type, tt.wantType)
		}
		if err.Retryable != tt.retryable {
			t.Errorf("NewStatusError(%d).Retryable = %v, want %v", tt.status, err.Retryable, tt.retryable)
		}
	}
}
