package gqlpipe

import (
	"context"
)

// RefreshStrategy decides whether the held credential must be rotated
// before an operation is forwarded.
type RefreshStrategy interface {
	// IsTokenValidOrUndefined reports true when the token is usable or
	// there is no token at all.
	IsTokenValidOrUndefined() bool
	// FetchAccessToken obtains a replacement token. "" means none was
	// obtained.
	FetchAccessToken(ctx context.Context) (string, error)
	// HandleFetch stores a freshly obtained token.
	HandleFetch(token string)
}

// AlwaysValid never refreshes.
type AlwaysValid struct{}

func (AlwaysValid) IsTokenValidOrUndefined() bool { return true }

func (AlwaysValid) FetchAccessToken(context.Context) (string, error) { return "", nil }

func (AlwaysValid) HandleFetch(string) {}

// NewTokenRefreshLink consults strategy before forwarding. The operation
// is forwarded exactly once; nothing is retried.
func NewTokenRefreshLink(strategy RefreshStrategy) Link {
	if strategy == nil {
		strategy = AlwaysValid{}
	}
	return LinkFunc(func(op *Operation, forward NextLink) *Stream {
		if strategy.IsTokenValidOrUndefined() {
			return forward(op)
		}
		token, err := strategy.FetchAccessToken(op.Context())
		if err != nil {
			return errorStream(&refreshError{err: err})
		}
		if token != "" {
			strategy.HandleFetch(token)
		}
		return forward(op)
	})
}

// refreshError matches ErrTokenRefresh and unwraps to the strategy's error.
type refreshError struct {
	err error
}

func (e *refreshError) Error() string {
	return ErrTokenRefresh.Error() + ": " + e.err.Error()
}

func (e *refreshError) Unwrap() error { return e.err }

func (e *refreshError) Is(target error) bool { return target == ErrTokenRefresh }
