package gqlpipe

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var errNoTerminatingLink = errors.New("pipeline has no terminating link")

// ErrorResponse is what an ErrorHandler sees for a failed or partially
// failed operation. Exactly one of GraphQLErrors and NetworkError is set.
type ErrorResponse struct {
	Operation     *Operation
	GraphQLErrors []*GraphQLError
	NetworkError  error
}

// ErrorHandler observes errors. It must not modify the response.
type ErrorHandler func(resp ErrorResponse)

// NewErrorLink reports every error carried by the downstream stream to
// handler and forwards every event unchanged.
func NewErrorLink(handler ErrorHandler) Link {
	return LinkFunc(func(op *Operation, forward NextLink) *Stream {
		return forward(op).Tap(func(ev Event) {
			if ev.Err != nil {
				handler(ErrorResponse{Operation: op, NetworkError: ev.Err})
				return
			}
			if ev.Result != nil && len(ev.Result.Errors) > 0 {
				handler(ErrorResponse{Operation: op, GraphQLErrors: ev.Result.Errors})
			}
		})
	})
}

// LogErrors is the default ErrorHandler.
func LogErrors(logger *zap.Logger) ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(resp ErrorResponse) {
		for _, e := range resp.GraphQLErrors {
			logger.Warn("[GraphQL error]",
				zap.String("message", e.Message),
				zap.Any("locations", e.Locations),
				zap.Any("path", e.Path),
				zap.String("operationName", resp.Operation.OperationName))
		}
		if resp.NetworkError != nil {
			logger.Warn("[Network error]",
				zap.Error(resp.NetworkError),
				zap.String("operationName", resp.Operation.OperationName))
		}
	}
}
