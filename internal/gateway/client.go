package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

import (
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/chat"
	"github.com/nanjiek/pixiu-relay/internal/config"
	"github.com/nanjiek/pixiu-relay/internal/core"
)

var (
	ErrNotConnected     = errors.New("gateway not connected")
	ErrConnectionClosed = errors.New("gateway connection closed")
)

// EventHandler processes one inbound message.
type EventHandler interface {
	Handle(ctx context.Context, ev chat.Event, r chat.Replier) core.Result
}

// Client attaches the bot to a chat gateway over a websocket. Inbound
// message events are handled concurrently; replies, typing indicators
// and user lookups are request/response calls on the same socket.
type Client struct {
	url          string
	token        string
	maxInFlight  int
	callTimeout  time.Duration
	reconnectMin time.Duration
	reconnectMax time.Duration
	dialer       *websocket.Dialer
	logger       *slog.Logger

	mu      sync.Mutex
	sess    *session
	selfID  string
	handled sync.WaitGroup
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

func NewClient(cfg config.GatewayCfg, opts ...Option) *Client {
	c := &Client{
		url:          cfg.URL,
		token:        cfg.Token,
		maxInFlight:  cfg.MaxInFlight,
		callTimeout:  time.Duration(cfg.CallTimeoutMs) * time.Millisecond,
		reconnectMin: time.Duration(cfg.ReconnectMinMs) * time.Millisecond,
		reconnectMax: time.Duration(cfg.ReconnectMaxMs) * time.Millisecond,
		dialer:       websocket.DefaultDialer,
		logger:       slog.Default(),
		selfID:       cfg.BotUserID,
	}
	if c.maxInFlight <= 0 {
		c.maxInFlight = 32
	}
	if c.callTimeout <= 0 {
		c.callTimeout = 10 * time.Second
	}
	if c.reconnectMin <= 0 {
		c.reconnectMin = time.Second
	}
	if c.reconnectMax < c.reconnectMin {
		c.reconnectMax = time.Minute
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run connects, serves events with h, and reconnects with exponential
// backoff until ctx is done. In-flight handlers are awaited before Run
// returns.
func (c *Client) Run(ctx context.Context, h EventHandler) error {
	if h == nil {
		return errors.New("gateway: nil handler")
	}
	defer c.handled.Wait()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.reconnectMin
	bo.MaxInterval = c.reconnectMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	sem := make(chan struct{}, c.maxInFlight)
	for {
		err := c.serve(ctx, h, sem, bo.Reset)
		if ctx.Err() != nil {
			return nil
		}

		wait := bo.NextBackOff()
		c.logger.Warn("gateway disconnected, reconnecting", "err", err, "backoff", wait)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// serve runs one connection until it drops or ctx is done.
func (c *Client) serve(ctx context.Context, h EventHandler, sem chan struct{}, connected func()) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	sess := newSession(conn, c.logger)
	go sess.readLoop(func(f frame) { c.onEvent(ctx, h, sess, sem, f) })
	defer func() {
		sess.close()
		<-sess.done
	}()

	if err := c.authenticate(ctx, sess); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	connected()
	sess.markReady()

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.sess == sess {
			c.sess = nil
		}
		c.mu.Unlock()
	}()

	c.logger.Info("gateway connected", "url", c.url, "bot_user_id", c.BotID())
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sess.done:
		return ErrConnectionClosed
	}
}

func (c *Client) authenticate(ctx context.Context, sess *session) error {
	resp, err := sess.call(ctx, methodConnect, connectParams{Token: c.token, Client: "pixiu-relay"}, c.callTimeout)
	if err != nil {
		return err
	}
	var p connectPayload
	if len(resp.Payload) > 0 {
		if err := json.Unmarshal(resp.Payload, &p); err != nil {
			return fmt.Errorf("decode connect payload: %w", err)
		}
	}
	if p.User.ID != "" {
		c.mu.Lock()
		if c.selfID == "" {
			c.selfID = p.User.ID
		}
		c.mu.Unlock()
	}
	return nil
}

// BotID returns the configured bot user id, or the one announced by the
// gateway on connect.
func (c *Client) BotID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfID
}

func (c *Client) onEvent(ctx context.Context, h EventHandler, sess *session, sem chan struct{}, f frame) {
	if f.Event != eventMessage {
		c.logger.Debug("ignoring gateway event", "event", f.Event)
		return
	}
	var ev chat.Event
	if err := json.Unmarshal(f.Payload, &ev); err != nil {
		c.logger.Warn("bad message event", "err", err)
		return
	}

	// The read loop never waits here: it must keep delivering responses
	// to handlers that are already running.
	c.handled.Add(1)
	go func() {
		defer c.handled.Done()

		select {
		case <-sess.ready:
		case <-sess.done:
			return
		case <-ctx.Done():
			return
		}
		if self := c.BotID(); self != "" && ev.Author.ID == self {
			return
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-sem }()
		h.Handle(ctx, ev, &replier{sess: sess, timeout: c.callTimeout})
	}()
}

// LookupUser resolves a user id to a display name through the gateway.
func (c *Client) LookupUser(ctx context.Context, userID string) (string, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return "", ErrNotConnected
	}

	resp, err := sess.call(ctx, methodUser, userParams{ID: userID}, c.callTimeout)
	if err != nil {
		return "", err
	}
	var u userPayload
	if err := json.Unmarshal(resp.Payload, &u); err != nil {
		return "", fmt.Errorf("decode user: %w", err)
	}
	return u.Name, nil
}

// replier answers on the connection the event arrived on.
type replier struct {
	sess    *session
	timeout time.Duration
}

func (r *replier) Reply(ctx context.Context, ev chat.Event, reply chat.Reply) error {
	_, err := r.sess.call(ctx, methodReply, replyParams{
		ChannelID: ev.ChannelID,
		MessageID: ev.ID,
		Text:      reply.Text,
		Notice:    reply.Notice,
		Level:     string(reply.Level),
	}, r.timeout)
	return err
}

func (r *replier) Typing(ctx context.Context, channelID string) error {
	_, err := r.sess.call(ctx, methodTyping, typingParams{ChannelID: channelID}, r.timeout)
	return err
}

type session struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan frame

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, logger *slog.Logger) *session {
	return &session{
		conn:    conn,
		logger:  logger,
		pending: make(map[string]chan frame),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// markReady releases events that arrived before authentication finished.
func (s *session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}

func (s *session) readLoop(onEvent func(frame)) {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Debug("gateway read loop ended", "err", err)
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Debug("dropping malformed frame", "err", err)
			continue
		}

		switch f.Type {
		case typeResponse:
			s.pendingMu.Lock()
			ch, ok := s.pending[f.ID]
			if ok {
				delete(s.pending, f.ID)
			}
			s.pendingMu.Unlock()
			if ok {
				ch <- f
			}
		case typeEvent:
			onEvent(f)
		}
	}
}

func (s *session) write(f frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(f)
}

// call sends a request and waits for the matching response.
func (s *session) call(ctx context.Context, method string, params interface{}, timeout time.Duration) (frame, error) {
	id := uuid.NewString()
	ch := make(chan frame, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	if err := s.write(frame{Type: typeRequest, ID: id, Method: method, Params: params}); err != nil {
		return frame{}, fmt.Errorf("%s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case resp := <-ch:
		if !resp.OK {
			if resp.Error != nil {
				return resp, fmt.Errorf("%s rejected: %s: %s", method, resp.Error.Code, resp.Error.Message)
			}
			return resp, fmt.Errorf("%s rejected", method)
		}
		return resp, nil
	case <-ctx.Done():
		return frame{}, fmt.Errorf("%s: %w", method, ctx.Err())
	case <-s.done:
		return frame{}, fmt.Errorf("%s: %w", method, ErrConnectionClosed)
	}
}
