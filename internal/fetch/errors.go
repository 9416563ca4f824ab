package fetch

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for source site fetches.
var (
	ErrNotFound    = errors.New("fetch: not found")
	ErrRateLimited = errors.New("fetch: rate limited by server")
	ErrServer      = errors.New("fetch: server error")
)

// StatusError reports an HTTP status that has no dedicated sentinel,
// typically a 4xx other than 404.
type StatusError int

func (e StatusError) Error() string {
	return fmt.Sprintf("fetch: unexpected status %d", int(e))
}

// Retryable reports whether a fetch error is worth retrying. Rate
// limiting, server errors, and transport failures are transient. A 404
// is terminal: a page the site no longer serves will not reappear on
// the next attempt. Caller cancellation is never retried.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrNotFound):
		return false
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrServer):
		return true
	}

	var status StatusError
	if errors.As(err, &status) {
		// Remaining client errors won't change on retry.
		return false
	}

	// Everything else is transport level: DNS failures, reset
	// connections, per-request timeouts.
	return true
}
