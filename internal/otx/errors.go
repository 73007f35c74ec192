package otx

import "github.com/cockroachdb/errors"

// Error kinds surfaced by the fetch client and walker. Callers classify
// with errors.Is; everything not marked retryable aborts the run.
var (
	// ErrAuth marks a 401/403 from the API. Never retried.
	ErrAuth = errors.New("api key rejected")

	// ErrClient marks a non-retryable 4xx other than auth or rate limit.
	ErrClient = errors.New("client error")

	// ErrRetryExhausted marks a page fetch that failed on every attempt.
	// The last underlying error is preserved in the chain.
	ErrRetryExhausted = errors.New("retries exhausted")

	// ErrLoopDetected marks pagination that stopped making forward
	// progress (page ceiling exceeded).
	ErrLoopDetected = errors.New("pagination loop detected")
)

// Retryable reports whether an HTTP status should be retried with backoff.
func Retryable(status int) bool {
	return status == 429 || status >= 500
}
