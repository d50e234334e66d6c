package runtime

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// transportRetryMarkers are the substrings used to classify a dropped
// transport stream as recoverable rather than fatal.
var transportRetryMarkers = []string{
	"connection closed",
	"transport",
	"timeout",
	"no such session",
	"context destroyed",
}

// shouldRetryAfterError classifies a stream error as recoverable. A nil or
// context-cancellation error is never retried: nil means there is nothing to
// retry, and cancellation means the user (or a deadline) already decided the
// turn is over.
func shouldRetryAfterError(err error) bool {
	if err == nil || errorsIsContextCanceled(err) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transportRetryMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// retryBackoff gates successive reconnect attempts behind a token-bucket
// limiter so a flapping transport can't busy-loop the turn. Each attempt
// consumes one token; the bucket refills at a fixed rate, giving a simple
// fixed-interval backoff without tracking per-attempt state.
type retryBackoff struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxAttempts int
}

const (
	defaultRetryMaxAttempts = 3
	defaultRetryInterval    = 500 * time.Millisecond
)

func newRetryBackoff() *retryBackoff {
	return &retryBackoff{
		limiter:     rate.NewLimiter(rate.Every(defaultRetryInterval), 1),
		maxAttempts: defaultRetryMaxAttempts,
	}
}

// Allow reports whether another retry attempt is within budget, without
// consuming it. attempt is 1-based (the first retry, i.e. the second overall
// try, is attempt 1).
func (b *retryBackoff) Allow(attempt int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return attempt <= b.maxAttempts
}

// Wait blocks until the backoff interval has elapsed or ctx is done.
func (b *retryBackoff) Wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}
