package gqlpipe

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNoOperation      = errors.New("document has no operation definition")
	ErrInvalidEndpoint  = errors.New("invalid endpoint")
	ErrTokenRefresh     = errors.New("token refresh failed")
	ErrStreamClosed     = errors.New("stream closed")
	ErrConnectionClosed = errors.New("websocket connection closed")
)

// Location is a line/column position inside the query document.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

func (l Location) String() string {
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// GraphQLError is a single entry of a response's "errors" array.
type GraphQLError struct {
	Message    string                 `json:"message"`
	Locations  []Location             `json:"locations,omitempty"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

func (e *GraphQLError) Error() string {
	return e.Message
}

// ErrorList is returned by Client.Execute when the response carries
// application errors. Any partial data has already been decoded.
type ErrorList []*GraphQLError

func (l ErrorList) Error() string {
	msgs := make([]string, 0, len(l))
	for _, e := range l {
		msgs = append(msgs, e.Message)
	}
	return "GraphQL error: " + strings.Join(msgs, "; ")
}

// NetworkError reports that no GraphQL response could be obtained: the
// request failed, the status was not 2xx, the body did not decode, or the
// socket dropped.
type NetworkError struct {
	StatusCode int
	Body       []byte
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network error: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
