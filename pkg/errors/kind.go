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
)

// Kind is the closed set of failure classes the routing engine distinguishes.
type Kind int

const (
	// KindNoCandidates means a model group has no eligible deployment.
	KindNoCandidates Kind = iota + 1
	// KindAttemptTimeout means a single attempt exceeded its budget.
	KindAttemptTimeout
	// KindRetryableUpstream covers 408/429/502/503/504 and transport failures.
	KindRetryableUpstream
	// KindNonRetryableUpstream covers everything the retry policy must not repeat.
	KindNonRetryableUpstream
	// KindChainExhausted means every candidate in a fallback chain failed.
	KindChainExhausted
)

func (k Kind) String() string {
	switch k {
	case KindNoCandidates:
		return "no_candidates"
	case KindAttemptTimeout:
		return "attempt_timeout"
	case KindRetryableUpstream:
		return "retryable_upstream"
	case KindNonRetryableUpstream:
		return "non_retryable_upstream"
	case KindChainExhausted:
		return "chain_exhausted"
	default:
		return "unknown"
	}
}

// Retryable reports whether the same deployment may be attempted again.
func (k Kind) Retryable() bool {
	return k == KindAttemptTimeout || k == KindRetryableUpstream
}

var (
	// ErrNoCandidates is matched by ModelNotFoundError.
	ErrNoCandidates = stderrors.New("no eligible deployment")
	// ErrAttemptTimeout is returned when an attempt hits the per-attempt timeout.
	ErrAttemptTimeout = stderrors.New("attempt timed out")
	// ErrServiceUnavailable is matched by ChainExhaustedError.
	ErrServiceUnavailable = stderrors.New("service unavailable")
)

// ModelNotFoundError is raised when selection for a model group yields nothing.
type ModelNotFoundError struct {
	Group string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model not found: no eligible deployment for model group %q", e.Group)
}

// Is makes errors.Is(err, ErrNoCandidates) hold.
func (e *ModelNotFoundError) Is(target error) bool { return target == ErrNoCandidates }

// HTTPStatusCode returns 404.
func (e *ModelNotFoundError) HTTPStatusCode() int { return http.StatusNotFound }

// ChainExhaustedError is the terminal error of a failover run.
type ChainExhaustedError struct {
	Group    string
	Tried    []string
	Attempts int
	LastErr  error
}

func (e *ChainExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "service unavailable: fallback chain for %q exhausted after %d attempt(s)", e.Group, e.Attempts)
	if len(e.Tried) > 0 {
		fmt.Fprintf(&b, " across [%s]", strings.Join(e.Tried, ", "))
	}
	if e.LastErr != nil {
		fmt.Fprintf(&b, ": last error: %v", e.LastErr)
	} else {
		b.WriteString(": no candidate was eligible")
	}
	return b.String()
}

func (e *ChainExhaustedError) Unwrap() error { return e.LastErr }

// Is makes errors.Is(err, ErrServiceUnavailable) hold.
func (e *ChainExhaustedError) Is(target error) bool { return target == ErrServiceUnavailable }

// Exhausted is always true; it lets callers detect the flag through an interface.
func (e *ChainExhaustedError) Exhausted() bool { return true }

// HTTPStatusCode returns 503.
func (e *ChainExhaustedError) HTTPStatusCode() int { return http.StatusServiceUnavailable }

// Classify maps an error onto a Kind. It returns 0 for a nil error.
func Classify(err error) Kind {
	if err == nil {
		return 0
	}

	var exhausted *ChainExhaustedError
	if stderrors.As(err, &exhausted) {
		return KindChainExhausted
	}
	if stderrors.Is(err, ErrNoCandidates) {
		return KindNoCandidates
	}
	if stderrors.Is(err, ErrAttemptTimeout) || stderrors.Is(err, context.DeadlineExceeded) {
		return KindAttemptTimeout
	}

	var llmErr *LLMError
	if stderrors.As(err, &llmErr) {
		if llmErr.Retryable || retryableStatus(llmErr.StatusCode) {
			return KindRetryableUpstream
		}
		switch llmErr.Type {
		case TypeTimeout, TypeRateLimit, TypeServiceUnavailable:
			return KindRetryableUpstream
		}
		return KindNonRetryableUpstream
	}

	if isTransportFailure(err) {
		return KindRetryableUpstream
	}
	return KindNonRetryableUpstream
}

// IsRetryable reports whether err may be retried against the same deployment.
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}

// CountsAgainstDeployment reports whether a failed attempt should be charged
// to the deployment's failure counter. Client-side problems (malformed requests,
// caller cancellation) say nothing about the deployment and are not counted.
func CountsAgainstDeployment(err error) bool {
	if err == nil || stderrors.Is(err, context.Canceled) {
		return false
	}
	var llmErr *LLMError
	if stderrors.As(err, &llmErr) {
		switch llmErr.StatusCode {
		case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
			return false
		}
	}
	return true
}

func isTransportFailure(err error) bool {
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if stderrors.As(err, &opErr) {
		return true
	}
	return stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, io.ErrUnexpectedEOF)
}
