package gqlpipe

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Mode tells the client which context it is built for.
type Mode int

const (
	// ModeBrowser is a long-lived session: subscriptions, auth and error
	// reporting are wired, and the Manager retains the instance.
	ModeBrowser Mode = iota
	// ModeServer is a single isolated render: HTTP only, never retained.
	ModeServer
)

func (m Mode) String() string {
	if m == ModeServer {
		return "server"
	}
	return "browser"
}

type FetchPolicy int

const (
	// FetchCacheFirst answers queries from the cache when possible.
	FetchCacheFirst FetchPolicy = iota
	// FetchNetworkOnly always queries the server; results are still cached.
	FetchNetworkOnly
)

// Client executes operations through the composed pipeline.
type Client struct {
	link    Link
	cache   Cache
	ssrMode bool
	policy  FetchPolicy
	logger  *zap.Logger
	http    *HTTPLink
	socket  *WebSocketLink
}

type clientOptions struct {
	tokenSource  TokenSource
	logger       *zap.Logger
	httpDoer     HTTPDoer
	errorHandler ErrorHandler
	refresh      RefreshStrategy
	newCache     func() Cache
	policy       FetchPolicy
	dialer       *websocket.Dialer
}

type ClientOption func(*clientOptions)

func WithTokenSource(src TokenSource) ClientOption {
	return func(o *clientOptions) {
		o.tokenSource = src
	}
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

func WithHTTPClient(doer HTTPDoer) ClientOption {
	return func(o *clientOptions) {
		o.httpDoer = doer
	}
}

// WithErrorHandler replaces the default handler, which logs.
func WithErrorHandler(handler ErrorHandler) ClientOption {
	return func(o *clientOptions) {
		o.errorHandler = handler
	}
}

func WithRefreshStrategy(strategy RefreshStrategy) ClientOption {
	return func(o *clientOptions) {
		o.refresh = strategy
	}
}

// WithCache sets the constructor called once per new client.
func WithCache(newCache func() Cache) ClientOption {
	return func(o *clientOptions) {
		o.newCache = newCache
	}
}

func WithFetchPolicy(policy FetchPolicy) ClientOption {
	return func(o *clientOptions) {
		o.policy = policy
	}
}

func WithWebSocketDialer(dialer *websocket.Dialer) ClientOption {
	return func(o *clientOptions) {
		o.dialer = dialer
	}
}

// NewClient composes the pipeline for mode.
//
// In ModeBrowser operations pass through error reporting, the refresh
// guard and the transport router; subscriptions go to the websocket,
// everything else gets auth headers and goes over HTTP. In ModeServer the
// pipeline is the HTTP link alone.
func NewClient(cfg Config, mode Mode, opts ...ClientOption) (*Client, error) {
	o := clientOptions{
		logger:   zap.NewNop(),
		newCache: func() Cache { return NewInMemoryCache() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.errorHandler == nil {
		o.errorHandler = LogErrors(o.logger)
	}

	var httpOpts []HTTPOption
	if o.httpDoer != nil {
		httpOpts = append(httpOpts, WithHTTPDoer(o.httpDoer))
	}
	httpLink, err := NewHTTPLink(cfg.HTTPEndpoint, httpOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create http link")
	}

	client := &Client{
		cache:   o.newCache(),
		ssrMode: mode == ModeServer,
		policy:  o.policy,
		logger:  o.logger,
		http:    httpLink,
	}

	if mode == ModeServer {
		client.link = httpLink
		return client, nil
	}

	src := o.tokenSource
	wsOpts := []WebSocketOption{
		WithInactivityTimeout(cfg.WS.Timeout),
		WithWebSocketLogger(o.logger),
		WithConnectionParams(func() map[string]interface{} {
			return map[string]interface{}{"headers": flattenHeaders(AuthHeaders(src))}
		}),
	}
	if o.dialer != nil {
		wsOpts = append(wsOpts, WithDialer(o.dialer))
	}
	socket, err := NewWebSocketLink(cfg.WSEndpoint, wsOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create websocket link")
	}
	client.socket = socket

	router := NewTransportRouter(socket, From(NewAuthLink(src, o.logger), httpLink))
	client.link = From(NewErrorLink(o.errorHandler), NewTokenRefreshLink(o.refresh), router)
	return client, nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func (c *Client) Cache() Cache {
	return c.cache
}

func (c *Client) SSRMode() bool {
	return c.ssrMode
}

func (c *Client) HTTPEndpoint() string {
	return c.http.Endpoint()
}

// WebSocketEndpoint is "" in ModeServer.
func (c *Client) WebSocketEndpoint() string {
	if c.socket == nil {
		return ""
	}
	return c.socket.Endpoint()
}

// Request runs op through the pipeline.
func (c *Client) Request(op *Operation) *Stream {
	return execute(c.link, op)
}

// Execute runs a query or mutation and decodes its data into target.
// When the response carries GraphQL errors the partial data is still
// decoded and an ErrorList is returned.
func (c *Client) Execute(ctx context.Context, operation string, variables map[string]interface{}, target interface{}) error {
	op, err := NewOperation(ctx, operation, variables)
	if err != nil {
		return err
	}

	cacheable := op.Kind == KindQuery
	if cacheable && c.policy == FetchCacheFirst {
		if data, ok := c.cache.Read(op.cacheKey()); ok {
			c.logger.Debug("cache hit", zap.String("operationName", op.OperationName))
			return decodeData(data, target)
		}
	}

	stream := c.Request(op)
	defer stream.Close()

	result, err := stream.Next(op.Context())
	if err != nil {
		return err
	}
	if err := decodeData(result.Data, target); err != nil {
		return err
	}
	if len(result.Errors) > 0 {
		return ErrorList(result.Errors)
	}
	if cacheable && len(result.Data) > 0 {
		c.cache.Write(op.cacheKey(), result.Data)
	}
	return nil
}

// Subscribe starts operation and returns its stream. Close the stream to
// unsubscribe.
func (c *Client) Subscribe(ctx context.Context, operation string, variables map[string]interface{}) (*Stream, error) {
	op, err := NewOperation(ctx, operation, variables)
	if err != nil {
		return nil, err
	}
	return c.Request(op), nil
}

// Close shuts the websocket connection down, ending every subscription.
func (c *Client) Close() error {
	if c.socket == nil {
		return nil
	}
	return c.socket.Close()
}

func decodeData(data json.RawMessage, target interface{}) error {
	if target == nil || len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return errors.Wrap(err, "failed to unmarshal response data")
	}
	return nil
}
