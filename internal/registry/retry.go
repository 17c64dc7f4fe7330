package registry

import (
	"context"
	"errors"

	"github.com/reedfamily/mcpanel/internal/rcon"
)

// RetryPolicy decides whether a failed command on a reused session is sent
// again over a fresh session.
type RetryPolicy struct {
	// MaxRetries is the number of extra attempts after the first.
	MaxRetries int
	// NonRetryable lists errors that are never retried, matched with errors.Is.
	NonRetryable []error
}

// DefaultRetryPolicy reconnects once. Bad credentials, unknown servers,
// oversized commands and caller cancellation do not heal on retry.
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: 1,
	NonRetryable: []error{
		rcon.ErrAuth,
		rcon.ErrCommandTooLong,
		ErrServerNotFound,
		context.Canceled,
		context.DeadlineExceeded,
	},
}

// ShouldRetry reports whether attempt (zero based) failing with err may be
// followed by another one.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if err == nil || attempt >= p.MaxRetries {
		return false
	}
	for _, target := range p.NonRetryable {
		if errors.Is(err, target) {
			return false
		}
	}
	return true
}
