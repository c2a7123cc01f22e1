package model

import "fmt"

// ProviderError is a typed provider failure with unexported fields and
// accessors, so callers classify failures with errors.As instead of
// string matching.
type ProviderError struct {
	provider   string
	statusCode int
	retryable  bool
	raw        error
}

// NewProviderError constructs a ProviderError, deriving Retryable from
// statusCode via IsRetryableStatus unless the caller overrides it by
// calling WithRetryable after construction.
func NewProviderError(provider string, statusCode int, raw error) *ProviderError {
	return &ProviderError{
		provider:   provider,
		statusCode: statusCode,
		retryable:  IsRetryableStatus(statusCode),
		raw:        raw,
	}
}

// WithRetryable overrides the retryable classification, for example when a
// cancellation should never be retried even if it carries a retryable
// status code.
func (e *ProviderError) WithRetryable(retryable bool) *ProviderError {
	e.retryable = retryable
	return e
}

func (e *ProviderError) Provider() string { return e.provider }
func (e *ProviderError) StatusCode() int  { return e.statusCode }
func (e *ProviderError) Retryable() bool  { return e.retryable }

func (e *ProviderError) Error() string {
	return fmt.Sprintf("model: provider %s returned status %d: %v", e.provider, e.statusCode, e.raw)
}

// Unwrap preserves the error chain for errors.Is/errors.As.
func (e *ProviderError) Unwrap() error { return e.raw }

// retryableStatusCodes is the closed set IsRetryableStatus checks against.
var retryableStatusCodes = map[int]struct{}{
	429: {}, 500: {}, 502: {}, 503: {}, 504: {},
}

// IsRetryableStatus reports whether statusCode is one of the retryable
// codes {429, 500, 502, 503, 504}.
func IsRetryableStatus(statusCode int) bool {
	_, ok := retryableStatusCodes[statusCode]
	return ok
}

// CancellationError marks a request aborted via context cancellation. It
// is always fatal and never retried, even though the underlying
// abortSignal semantics otherwise mirror a fatal ProviderError.
type CancellationError struct {
	Provider string
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("model: request to provider %s was cancelled", e.Provider)
}
