package gqlpipe

import (
	"net/http"

	"go.uber.org/zap"
)

// TokenSource returns the current bearer token, or "" when the caller is
// not authenticated. It is called on every HTTP operation and on every
// websocket dial.
type TokenSource func() string

// AuthHeaders builds a fresh header set carrying the current credential.
func AuthHeaders(src TokenSource) http.Header {
	headers := http.Header{}
	if src == nil {
		return headers
	}
	if token := src(); token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}
	return headers
}

// NewAuthLink merges AuthHeaders into the operation's headers before
// forwarding it.
func NewAuthLink(src TokenSource, logger *zap.Logger) Link {
	if logger == nil {
		logger = zap.NewNop()
	}
	return LinkFunc(func(op *Operation, forward NextLink) *Stream {
		op.SetContext(func(prev OperationContext) OperationContext {
			headers := http.Header{}
			if h, ok := prev[headersKey].(http.Header); ok {
				headers = h.Clone()
			}
			for k, v := range AuthHeaders(src) {
				headers[k] = v
			}
			return OperationContext{headersKey: headers}
		})
		logger.Debug("requesting",
			zap.String("id", op.ID),
			zap.String("kind", op.Kind.String()),
			zap.String("operationName", op.OperationName))
		return forward(op)
	})
}
