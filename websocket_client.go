package gqlpipe

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	// DefaultWebSocketEndpoint is used when no socket endpoint is configured.
	DefaultWebSocketEndpoint = "ws://localhost:3007/graphql"
	// DefaultInactivityTimeout is how long the connection may stay silent
	// before it is considered stalled.
	DefaultInactivityTimeout = 30 * time.Second

	protocolGraphQLWS = "graphql-ws"
)

// subscriptions-transport-ws message types
const (
	msgConnectionInit      = "connection_init"
	msgConnectionAck       = "connection_ack"
	msgConnectionError     = "connection_error"
	msgConnectionKeepAlive = "ka"
	msgConnectionTerminate = "connection_terminate"
	msgStart               = "start"
	msgStop                = "stop"
	msgData                = "data"
	msgError               = "error"
	msgComplete            = "complete"
)

type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type startPayload struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables"`
}

// ConnectionParams is evaluated once per dial; its result is the
// connection_init payload.
type ConnectionParams func() map[string]interface{}

// WebSocketLink is the terminal link for subscriptions. All subscriptions
// share one connection, dialed on first use. A dropped connection is never
// re-established on its own: its subscriptions fail and the next
// subscription dials again.
type WebSocketLink struct {
	endpoint string
	dialer   *websocket.Dialer
	params   ConnectionParams
	timeout  time.Duration
	logger   *zap.Logger
	counter  int64

	mu   sync.Mutex
	conn *wsConn
}

type WebSocketOption func(*WebSocketLink)

func WithConnectionParams(params ConnectionParams) WebSocketOption {
	return func(l *WebSocketLink) {
		l.params = params
	}
}

func WithInactivityTimeout(timeout time.Duration) WebSocketOption {
	return func(l *WebSocketLink) {
		l.timeout = timeout
	}
}

func WithDialer(dialer *websocket.Dialer) WebSocketOption {
	return func(l *WebSocketLink) {
		l.dialer = dialer
	}
}

func WithWebSocketLogger(logger *zap.Logger) WebSocketOption {
	return func(l *WebSocketLink) {
		l.logger = logger
	}
}

// NewWebSocketLink returns a link for endpoint, or for
// DefaultWebSocketEndpoint when endpoint is empty. No connection is made
// until the first subscription.
func NewWebSocketLink(endpoint string, opts ...WebSocketOption) (*WebSocketLink, error) {
	if endpoint == "" {
		endpoint = DefaultWebSocketEndpoint
	}
	if err := validateEndpoint(endpoint, "ws", "wss"); err != nil {
		return nil, err
	}
	link := &WebSocketLink{
		endpoint: endpoint,
		dialer:   websocket.DefaultDialer,
		timeout:  DefaultInactivityTimeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(link)
	}
	if link.timeout <= 0 {
		link.timeout = DefaultInactivityTimeout
	}
	return link, nil
}

func (l *WebSocketLink) Endpoint() string {
	return l.endpoint
}

func (l *WebSocketLink) generateUniqueID() string {
	return strconv.FormatInt(atomic.AddInt64(&l.counter, 1), 10)
}

func (l *WebSocketLink) Request(op *Operation, _ NextLink) *Stream {
	c, err := l.connection(op.Context())
	if err != nil {
		return errorStream(&NetworkError{Err: err})
	}

	id := l.generateUniqueID()
	sub := c.add(id)
	payload, err := json.Marshal(startPayload{
		Query:         op.Query,
		OperationName: op.OperationName,
		Variables:     op.Variables,
	})
	if err != nil {
		sub.stream.Close()
		return errorStream(errors.Wrap(err, "failed to marshal start payload"))
	}
	if err := c.writeJSON(wsMessage{ID: id, Type: msgStart, Payload: payload}); err != nil {
		sub.stream.Close()
		return errorStream(&NetworkError{Err: errors.Wrap(err, "failed to send start message")})
	}
	l.logger.Debug("subscription started", zap.String("id", id), zap.String("operation", op.ID))
	return sub.stream
}

// Connected reports whether a connection is currently open.
func (l *WebSocketLink) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Close terminates the connection and every subscription on it.
func (l *WebSocketLink) Close() error {
	l.mu.Lock()
	c := l.conn
	l.conn = nil
	l.mu.Unlock()
	if c != nil {
		c.close()
	}
	return nil
}

func (l *WebSocketLink) connection(ctx context.Context) (*wsConn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return l.conn, nil
	}

	dialer := *l.dialer
	dialer.Subprotocols = []string{protocolGraphQLWS}

	l.logger.Info("connecting to websocket endpoint", zap.String("endpoint", l.endpoint))
	conn, resp, err := dialer.DialContext(ctx, l.endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "websocket handshake failed with status %s", resp.Status)
		}
		return nil, errors.Wrap(err, "failed to dial websocket")
	}

	c := &wsConn{
		conn:    conn,
		timeout: l.timeout,
		logger:  l.logger,
		subs:    make(map[string]*wsSubscription),
		done:    make(chan struct{}),
	}
	var params map[string]interface{}
	if l.params != nil {
		params = l.params()
	}
	if err := c.init(params); err != nil {
		conn.Close()
		return nil, err
	}
	c.onClose = func() {
		l.mu.Lock()
		if l.conn == c {
			l.conn = nil
		}
		l.mu.Unlock()
	}
	l.conn = c
	go c.listen()
	return c, nil
}

// wsConn is one physical connection and the subscriptions it carries.
type wsConn struct {
	conn    *websocket.Conn
	timeout time.Duration
	logger  *zap.Logger
	onClose func()
	writeMu sync.Mutex

	mu      sync.Mutex
	subs    map[string]*wsSubscription
	closing bool
	done    chan struct{}
}

// wsSubscription buffers events from the reader goroutine for one
// subscriber. deliver and end never block, so a subscriber that stops
// reading only grows its own backlog.
type wsSubscription struct {
	stream *Stream
	notify chan struct{}

	mu      sync.Mutex
	pending []Event
	ended   bool
}

func (c *wsConn) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// init sends connection_init and waits for connection_ack.
func (c *wsConn) init(params map[string]interface{}) error {
	msg := wsMessage{Type: msgConnectionInit}
	if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return errors.Wrap(err, "failed to marshal connection params")
		}
		msg.Payload = payload
	}
	if err := c.writeJSON(msg); err != nil {
		return errors.Wrap(err, "failed to send init message")
	}
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
		var ack wsMessage
		if err := c.conn.ReadJSON(&ack); err != nil {
			return errors.Wrap(err, "failed to read connection_ack")
		}
		switch ack.Type {
		case msgConnectionAck:
			c.logger.Info("websocket connection established")
			return nil
		case msgConnectionError:
			return fmt.Errorf("websocket connection error: %s", ack.Payload)
		case msgConnectionKeepAlive:
		default:
			c.logger.Warn("unexpected message before connection_ack", zap.String("type", ack.Type))
		}
	}
}

func (c *wsConn) add(id string) *wsSubscription {
	sub := &wsSubscription{notify: make(chan struct{}, 1)}
	sub.stream = newStream(func() { c.stop(id) })
	go sub.forward()

	c.mu.Lock()
	c.subs[id] = sub
	c.mu.Unlock()
	return sub
}

// forward hands buffered events to the stream in arrival order.
func (s *wsSubscription) forward() {
	defer s.stream.complete()
	for {
		ev, ok, ended := s.pop()
		if ok {
			if !s.stream.send(ev) || ev.Err != nil {
				return
			}
			continue
		}
		if ended {
			return
		}
		select {
		case <-s.notify:
		case <-s.stream.Done():
			return
		}
	}
}

func (s *wsSubscription) pop() (Event, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return Event{}, false, s.ended
	}
	ev := s.pending[0]
	s.pending[0] = Event{}
	s.pending = s.pending[1:]
	return ev, true, s.ended
}

// deliver queues ev unless the subscription has already ended.
func (s *wsSubscription) deliver(ev Event) {
	s.mu.Lock()
	if !s.ended {
		s.pending = append(s.pending, ev)
	}
	s.mu.Unlock()
	s.wake()
}

// end marks the subscription finished once its backlog drains.
func (s *wsSubscription) end() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.wake()
}

func (s *wsSubscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// stop unsubscribes id without touching other subscriptions.
func (c *wsConn) stop(id string) {
	c.mu.Lock()
	_, ok := c.subs[id]
	delete(c.subs, id)
	closing := c.closing
	c.mu.Unlock()
	if !ok || closing {
		return
	}
	c.logger.Debug("unsubscribing", zap.String("id", id))
	if err := c.writeJSON(wsMessage{ID: id, Type: msgStop}); err != nil {
		c.logger.Warn("failed to send stop message", zap.String("id", id), zap.Error(err))
	}
}

func (c *wsConn) lookup(id string, remove bool) *wsSubscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := c.subs[id]
	if remove {
		delete(c.subs, id)
	}
	return sub
}

func (c *wsConn) listen() {
	defer close(c.done)
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			c.fail(err)
			return
		}
		var msg wsMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.fail(c.readError(err))
			return
		}

		switch msg.Type {
		case msgData:
			sub := c.lookup(msg.ID, false)
			if sub == nil {
				continue
			}
			var result Result
			if err := json.Unmarshal(msg.Payload, &result); err != nil {
				sub.deliver(Event{Err: &NetworkError{Err: errors.Wrap(err, "failed to unmarshal data payload")}})
				continue
			}
			sub.deliver(Event{Result: &result})

		case msgError:
			sub := c.lookup(msg.ID, true)
			if sub == nil {
				continue
			}
			sub.deliver(Event{Result: &Result{Errors: decodeErrorPayload(msg.Payload)}})
			sub.end()

		case msgComplete:
			sub := c.lookup(msg.ID, true)
			if sub == nil {
				continue
			}
			c.logger.Debug("subscription completed", zap.String("id", msg.ID))
			sub.end()

		case msgConnectionKeepAlive, msgConnectionAck:

		case msgConnectionError:
			c.fail(fmt.Errorf("websocket connection error: %s", msg.Payload))
			return

		default:
			c.logger.Warn("unknown message type", zap.String("type", msg.Type))
		}
	}
}

func (c *wsConn) readError(err error) error {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return ErrConnectionClosed
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrapf(err, "connection stalled after %v of inactivity", c.timeout)
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return errors.Wrap(ErrConnectionClosed, err.Error())
	}
	return err
}

// fail ends every subscription with err and drops the connection.
func (c *wsConn) fail(err error) {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]*wsSubscription)
	c.closing = true
	c.mu.Unlock()

	c.conn.Close()
	if c.onClose != nil {
		c.onClose()
	}
	if len(subs) > 0 {
		c.logger.Warn("websocket connection lost", zap.Error(err), zap.Int("subscriptions", len(subs)))
	}
	for _, sub := range subs {
		sub.deliver(Event{Err: &NetworkError{Err: err}})
		sub.end()
	}
}

func (c *wsConn) close() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.closing = true
	c.mu.Unlock()

	if err := c.writeJSON(wsMessage{Type: msgConnectionTerminate}); err != nil {
		c.logger.Warn("failed to send close message", zap.Error(err))
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Warn("failed to close websocket connection", zap.Error(err))
	}
	<-c.done
	c.logger.Info("websocket connection closed")
}

// decodeErrorPayload accepts a single error object or a list of them.
func decodeErrorPayload(payload json.RawMessage) []*GraphQLError {
	var list []*GraphQLError
	if err := json.Unmarshal(payload, &list); err == nil {
		return list
	}
	var single GraphQLError
	if err := json.Unmarshal(payload, &single); err == nil && single.Message != "" {
		return []*GraphQLError{&single}
	}
	return []*GraphQLError{{Message: string(payload)}}
}
