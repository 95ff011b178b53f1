package gqlpipe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// DefaultHTTPEndpoint is used when no HTTP endpoint is configured.
const DefaultHTTPEndpoint = "http://localhost:3007/graphql"

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// HTTPLink is the terminal link for queries and mutations.
type HTTPLink struct {
	endpoint string
	doer     HTTPDoer
}

type HTTPOption func(*HTTPLink)

// WithHTTPDoer swaps the client used to send requests.
func WithHTTPDoer(doer HTTPDoer) HTTPOption {
	return func(l *HTTPLink) {
		l.doer = doer
	}
}

// NewHTTPLink returns a link posting to endpoint, or to
// DefaultHTTPEndpoint when endpoint is empty.
func NewHTTPLink(endpoint string, opts ...HTTPOption) (*HTTPLink, error) {
	if endpoint == "" {
		endpoint = DefaultHTTPEndpoint
	}
	if err := validateEndpoint(endpoint, "http", "https"); err != nil {
		return nil, err
	}
	link := &HTTPLink{
		endpoint: endpoint,
		doer:     &http.Client{},
	}
	for _, opt := range opts {
		opt(link)
	}
	return link, nil
}

func (l *HTTPLink) Endpoint() string {
	return l.endpoint
}

func (l *HTTPLink) Request(op *Operation, _ NextLink) *Stream {
	ctx, cancel := context.WithCancel(op.Context())
	s := newStream(cancel)
	go func() {
		defer s.complete()
		defer cancel()
		result, err := l.send(ctx, op)
		if err != nil {
			s.send(Event{Err: err})
			return
		}
		s.send(Event{Result: result})
	}()
	return s
}

type requestBody struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables"`
}

func (l *HTTPLink) newRequest(ctx context.Context, op *Operation) (*http.Request, error) {
	variables, files := extractUploads(op.Variables)
	body := requestBody{
		Query:         op.Query,
		OperationName: op.OperationName,
		Variables:     variables,
	}

	var (
		payload     io.Reader
		contentType string
	)
	if len(files) == 0 {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal request body")
		}
		payload = bytes.NewReader(buf)
		contentType = "application/json"
	} else {
		buf, ct, err := encodeMultipart(body, files)
		if err != nil {
			return nil, err
		}
		payload = buf
		contentType = ct
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create new request")
	}
	for k, v := range op.Headers() {
		req.Header[k] = append([]string(nil), v...)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (l *HTTPLink) send(ctx context.Context, op *Operation) (*Result, error) {
	req, err := l.newRequest(ctx, op)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	resp, err := l.doer.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: errors.Wrap(err, "failed to execute request")}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{StatusCode: resp.StatusCode, Err: errors.Wrap(err, "failed to read response body")}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &NetworkError{
			StatusCode: resp.StatusCode,
			Body:       body,
			Err:        fmt.Errorf("response not successful: %s", http.StatusText(resp.StatusCode)),
		}
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &NetworkError{
			StatusCode: resp.StatusCode,
			Body:       body,
			Err:        errors.Wrap(err, "failed to unmarshal response body"),
		}
	}
	return &result, nil
}
