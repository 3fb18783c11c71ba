package core

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

import (
	"github.com/google/uuid"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/chat"
	"github.com/nanjiek/pixiu-relay/internal/config"
	"github.com/nanjiek/pixiu-relay/internal/cooldown"
	"github.com/nanjiek/pixiu-relay/internal/inference"
)

// Dispatcher sends a generation request to the model endpoint.
type Dispatcher interface {
	Dispatch(ctx context.Context, req inference.GenerationRequest, maxAttempts int, waitForModel bool) inference.Outcome
}

// Gate limits how often one user may trigger a dispatch.
type Gate interface {
	TryAcquire(ctx context.Context, userID string, cooldown time.Duration) cooldown.Decision
}

// AllowList answers whether the bot talks in a channel unprompted.
type AllowList interface {
	Contains(channelID string) bool
}

// MentionResolver rewrites mention tokens into readable names.
type MentionResolver interface {
	Resolve(ctx context.Context, content string, known []chat.User) string
}

// Skip reasons reported in Result.Skipped.
const (
	SkipSelf          = "self"
	SkipBot           = "bot"
	SkipDirectMessage = "direct_message"
	SkipEmpty         = "empty"
	SkipNotAllowed    = "not_allowed"
)

// Result summarizes what Handle did with an event.
type Result struct {
	RequestID string
	Skipped   string // empty when the event was handled
	Outcome   string // final outcome kind, or "cooldown"
}

// Handler runs one conversation turn per inbound event:
// allow-list → mentions → cooldown → dispatch → reply.
type Handler struct {
	dispatcher Dispatcher
	gate       Gate
	allow      AllowList
	mentions   MentionResolver
	format     Formatter
	logger     *slog.Logger

	botUserID      func() string
	cooldown       time.Duration
	maxAttempts    int
	retryOnLoading bool
	ignoreMentions bool
	emptyRetries   int
	typingEvery    time.Duration
}

type Option func(*Handler)

func WithBotUserID(id string) Option {
	return func(h *Handler) { h.botUserID = func() string { return id } }
}

// WithBotUserIDFunc reads the bot's own id on every event, for transports
// that only learn it after connecting.
func WithBotUserIDFunc(fn func() string) Option {
	return func(h *Handler) {
		if fn != nil {
			h.botUserID = fn
		}
	}
}

func WithCooldown(d time.Duration) Option {
	return func(h *Handler) { h.cooldown = d }
}

func WithMaxAttempts(n int) Option {
	return func(h *Handler) { h.maxAttempts = n }
}

func WithRetryOnLoading(v bool) Option {
	return func(h *Handler) { h.retryOnLoading = v }
}

// WithIgnoreMentions restricts the bot to allow-listed channels even when
// it is mentioned elsewhere.
func WithIgnoreMentions(v bool) Option {
	return func(h *Handler) { h.ignoreMentions = v }
}

func WithReplyConfig(cfg config.ReplyCfg) Option {
	return func(h *Handler) {
		h.format = NewFormatter(cfg)
		h.emptyRetries = cfg.EmptyRetries
	}
}

func WithMentionResolver(m MentionResolver) Option {
	return func(h *Handler) { h.mentions = m }
}

func WithTypingInterval(d time.Duration) Option {
	return func(h *Handler) { h.typingEvery = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func NewHandler(d Dispatcher, g Gate, allow AllowList, opts ...Option) *Handler {
	if d == nil || g == nil {
		panic("core: nil dispatcher or gate")
	}
	h := &Handler{
		dispatcher:  d,
		gate:        g,
		allow:       allow,
		format:      NewFormatter(config.ReplyCfg{}),
		logger:      slog.Default(),
		botUserID:   func() string { return "" },
		cooldown:    3 * time.Second,
		maxAttempts: 3,
		typingEvery: 8 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes one event and always returns; every failure becomes
// a notice sent through r.
func (h *Handler) Handle(ctx context.Context, ev chat.Event, r chat.Replier) (res Result) {
	if reason := h.skipReason(ev); reason != "" {
		h.logger.Debug("ignoring message", "reason", reason, "event_id", ev.ID, "channel_id", ev.ChannelID)
		return Result{Skipped: reason}
	}

	res.RequestID = uuid.NewString()
	log := h.logger.With("request_id", res.RequestID, "user_id", ev.Author.ID, "channel_id", ev.ChannelID)
	defer func() {
		if p := recover(); p != nil {
			log.Error("handler panic", "panic", p)
			res.Outcome = "panic"
		}
	}()

	content := ev.Content
	if h.mentions != nil {
		content = h.mentions.Resolve(ctx, content, ev.Mentions)
	}
	log.Info("received message", "author", ev.Author.Name, "guild", ev.GuildName, "content", content)

	dec := h.gate.TryAcquire(ctx, ev.Author.ID, h.cooldown)
	if !dec.Allowed {
		res.Outcome = "cooldown"
		if dec.Err != nil {
			h.send(ctx, log, ev, r, h.format.CooldownFailed())
			return res
		}
		log.Info("cooldown active", "remaining", dec.Remaining)
		h.send(ctx, log, ev, r, h.format.Cooldown(dec.RemainingSeconds))
		return res
	}

	stopTyping := h.startTyping(ctx, log, ev, r)
	reply, out := func() (*chat.Reply, inference.Outcome) {
		defer stopTyping()
		return h.converse(ctx, log, content, ev, r)
	}()

	res.Outcome = out.Kind.String()
	if reply != nil {
		h.send(ctx, log, ev, r, *reply)
	}
	return res
}

func (h *Handler) skipReason(ev chat.Event) string {
	self := h.botUserID()
	switch {
	case self != "" && ev.Author.ID == self:
		return SkipSelf
	case ev.Author.Bot:
		return SkipBot
	case ev.DirectMessage:
		return SkipDirectMessage
	case strings.TrimSpace(ev.Content) == "":
		return SkipEmpty
	}
	if h.allow != nil && h.allow.Contains(ev.ChannelID) {
		return ""
	}
	if !h.ignoreMentions && ev.Mentioned(self) {
		return ""
	}
	return SkipNotAllowed
}

// converse dispatches until it has a final outcome. A nil reply means
// everything the user needs to see was already sent.
func (h *Handler) converse(ctx context.Context, log *slog.Logger, content string, ev chat.Event, r chat.Replier) (*chat.Reply, inference.Outcome) {
	req := inference.NewRequest(content)
	wait := false

	out := h.dispatch(ctx, log, req, wait, 1)
	if out.Kind == inference.KindModelLoading {
		h.send(ctx, log, ev, r, h.format.Loading(out))
		if !h.retryOnLoading {
			return nil, out
		}
		wait = true
		out = h.dispatch(ctx, log, req, wait, 2)
	}

	for i := 0; i < h.emptyRetries && isEmptyReply(out); i++ {
		log.Info("degenerate reply, dispatching again", "retry", i+1, "of", h.emptyRetries)
		out = h.dispatch(ctx, log, req, wait, i+3)
	}

	reply := h.format.Outcome(out)
	return &reply, out
}

func (h *Handler) dispatch(ctx context.Context, log *slog.Logger, req inference.GenerationRequest, wait bool, round int) inference.Outcome {
	start := time.Now()
	out := h.dispatcher.Dispatch(ctx, req, h.maxAttempts, wait)
	log.Info("dispatch finished",
		"round", round,
		"wait_for_model", wait,
		"outcome", out.Kind.String(),
		"attempts", out.Attempts,
		"elapsed", time.Since(start),
	)
	return out
}

func isEmptyReply(out inference.Outcome) bool {
	return out.Kind == inference.KindExtractionFailed && errors.Is(out.Err, inference.ErrEmptyReply)
}

func (h *Handler) send(ctx context.Context, log *slog.Logger, ev chat.Event, r chat.Replier, reply chat.Reply) {
	if r == nil {
		return
	}
	if err := r.Reply(ctx, ev, reply); err != nil {
		log.Error("send reply failed", "err", err)
		return
	}
	log.Info("sent reply", "guild", ev.GuildName, "notice", reply.Notice, "text", reply.Text)
}

// startTyping shows a typing indicator until the returned func is called.
func (h *Handler) startTyping(ctx context.Context, log *slog.Logger, ev chat.Event, r chat.Replier) func() {
	typer, ok := r.(chat.Typer)
	if !ok || h.typingEvery <= 0 {
		return func() {}
	}

	tctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(h.typingEvery)
		defer ticker.Stop()
		for {
			if err := typer.Typing(tctx, ev.ChannelID); err != nil && tctx.Err() == nil {
				log.Debug("typing indicator failed", "err", err)
			}
			select {
			case <-tctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}
}
