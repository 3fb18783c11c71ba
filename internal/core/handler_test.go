package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/chat"
	"github.com/nanjiek/pixiu-relay/internal/config"
	"github.com/nanjiek/pixiu-relay/internal/cooldown"
	"github.com/nanjiek/pixiu-relay/internal/inference"
	"github.com/nanjiek/pixiu-relay/internal/mention"
)

const botID = "707170199861854209"

type dispatchCall struct {
	prompt      string
	maxAttempts int
	wait        bool
}

// fakeDispatcher returns outcomes in order, repeating the last one.
type fakeDispatcher struct {
	mu       sync.Mutex
	outcomes []inference.Outcome
	calls    []dispatchCall
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req inference.GenerationRequest, maxAttempts int, wait bool) inference.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.calls)
	f.calls = append(f.calls, dispatchCall{prompt: req.Prompt, maxAttempts: maxAttempts, wait: wait})
	if idx >= len(f.outcomes) {
		idx = len(f.outcomes) - 1
	}
	return f.outcomes[idx]
}

type allowSet map[string]bool

func (a allowSet) Contains(id string) bool { return a[id] }

type typingReplier struct {
	chat.Collector
	mu     sync.Mutex
	typing int
}

func (t *typingReplier) Typing(ctx context.Context, channelID string) error {
	t.mu.Lock()
	t.typing++
	t.mu.Unlock()
	return nil
}

func success(text string) inference.Outcome {
	return inference.Outcome{Kind: inference.KindSuccess, Text: text, Attempts: 1}
}

func emptyReply(text string) inference.Outcome {
	return inference.Outcome{Kind: inference.KindExtractionFailed, Err: &inference.ExtractionError{Kind: inference.EmptyReply, Text: text}}
}

func loading() inference.Outcome {
	return inference.Outcome{Kind: inference.KindModelLoading, StatusCode: 503, EstimatedWait: 20 * time.Second, HasEstimate: true}
}

func event(content string) chat.Event {
	return chat.Event{
		ID:        "m1",
		Author:    chat.User{ID: "42", Name: "neku"},
		ChannelID: "946035894601797643",
		GuildName: "Shibuya",
		Content:   content,
	}
}

func newTestHandler(d Dispatcher, opts ...Option) *Handler {
	gate := cooldown.NewGate(cooldown.NewMemoryStore())
	all := append([]Option{
		WithBotUserID(botID),
		WithReplyConfig(config.ReplyCfg{MaxLength: 2000, ModelName: "org/model", EmptyRetries: 2}),
		WithTypingInterval(time.Hour),
	}, opts...)
	return NewHandler(d, gate, allowSet{"946035894601797643": true}, all...)
}

func TestHandleSkips(t *testing.T) {
	tests := []struct {
		name string
		ev   chat.Event
		opts []Option
		want string
	}{
		{name: "self", ev: chat.Event{Author: chat.User{ID: botID}, ChannelID: "946035894601797643", Content: "hi"}, want: SkipSelf},
		{name: "other bot", ev: chat.Event{Author: chat.User{ID: "1", Bot: true}, ChannelID: "946035894601797643", Content: "hi"}, want: SkipBot},
		{name: "direct message", ev: chat.Event{Author: chat.User{ID: "1"}, DirectMessage: true, Content: "hi"}, want: SkipDirectMessage},
		{name: "blank", ev: chat.Event{Author: chat.User{ID: "1"}, ChannelID: "946035894601797643", Content: "  "}, want: SkipEmpty},
		{name: "channel not allowed", ev: chat.Event{Author: chat.User{ID: "1"}, ChannelID: "9", Content: "hi"}, want: SkipNotAllowed},
		{name: "everyone is not a mention", ev: chat.Event{Author: chat.User{ID: "1"}, ChannelID: "9", Content: "hi @everyone"}, want: SkipNotAllowed},
		{
			name: "mention ignored when configured",
			ev:   chat.Event{Author: chat.User{ID: "1"}, ChannelID: "9", Content: "hi", Mentions: []chat.User{{ID: botID}}},
			opts: []Option{WithIgnoreMentions(true)},
			want: SkipNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDispatcher{outcomes: []inference.Outcome{success("hello")}}
			h := newTestHandler(d, tt.opts...)
			var c chat.Collector

			res := h.Handle(context.Background(), tt.ev, &c)
			if res.Skipped != tt.want {
				t.Fatalf("skipped = %q, want %q", res.Skipped, tt.want)
			}
			if len(d.calls) != 0 || len(c.Replies()) != 0 {
				t.Fatalf("skipped event must not dispatch or reply")
			}
		})
	}
}

func TestHandleMentionOutsideAllowList(t *testing.T) {
	d := &fakeDispatcher{outcomes: []inference.Outcome{success("hello")}}
	h := newTestHandler(d)
	var c chat.Collector

	ev := event("<@707170199861854209> hi")
	ev.ChannelID = "other"
	ev.Mentions = []chat.User{{ID: botID, Name: "joshua", Bot: true}}

	res := h.Handle(context.Background(), ev, &c)
	if res.Skipped != "" {
		t.Fatalf("mentioned bot should answer anywhere, skipped=%q", res.Skipped)
	}
	if d.calls[0].prompt != "@joshua hi" {
		t.Fatalf("mentions not resolved: %q", d.calls[0].prompt)
	}
}

func TestHandleBotIDLearnedLater(t *testing.T) {
	var mu sync.Mutex
	self := ""
	d := &fakeDispatcher{outcomes: []inference.Outcome{success("hello")}}
	gate := cooldown.NewGate(cooldown.NewMemoryStore())
	h := NewHandler(d, gate, allowSet{}, WithBotUserIDFunc(func() string {
		mu.Lock()
		defer mu.Unlock()
		return self
	}))

	ev := event("<@707170199861854209> hi")
	ev.ChannelID = "other"
	ev.Mentions = []chat.User{{ID: botID, Name: "joshua", Bot: true}}

	var c chat.Collector
	if res := h.Handle(context.Background(), ev, &c); res.Skipped != SkipNotAllowed {
		t.Fatalf("unknown bot id: skipped = %q, want %q", res.Skipped, SkipNotAllowed)
	}

	mu.Lock()
	self = botID
	mu.Unlock()

	if res := h.Handle(context.Background(), ev, &c); res.Skipped != "" {
		t.Fatalf("mention after id was learned skipped as %q", res.Skipped)
	}
	if len(d.calls) != 1 {
		t.Fatalf("dispatch calls = %d, want 1", len(d.calls))
	}

	own := event("echo")
	own.Author = chat.User{ID: botID}
	if res := h.Handle(context.Background(), own, &c); res.Skipped != SkipSelf {
		t.Fatalf("own message skipped = %q, want %q", res.Skipped, SkipSelf)
	}
}

func TestHandleSuccess(t *testing.T) {
	d := &fakeDispatcher{outcomes: []inference.Outcome{success("hello there")}}
	dir := mention.MapDirectory{"12345678901": "shiki"}
	h := newTestHandler(d, WithMentionResolver(mention.NewResolver(dir, nil)))
	var c chat.Collector

	res := h.Handle(context.Background(), event("hi <@!12345678901>"), &c)
	if res.RequestID == "" || res.Outcome != "success" {
		t.Fatalf("unexpected result: %#v", res)
	}
	if len(d.calls) != 1 {
		t.Fatalf("dispatch calls = %d", len(d.calls))
	}
	call := d.calls[0]
	if call.prompt != "hi @shiki" || call.maxAttempts != 3 || call.wait {
		t.Fatalf("unexpected dispatch: %#v", call)
	}

	replies := c.Replies()
	if len(replies) != 1 || replies[0].Text != "hello there" || replies[0].Notice {
		t.Fatalf("unexpected replies: %#v", replies)
	}
}

func TestHandleCooldown(t *testing.T) {
	d := &fakeDispatcher{outcomes: []inference.Outcome{success("hello there")}}
	now := time.Unix(1700000000, 0)
	gate := cooldown.NewGate(cooldown.NewMemoryStore(), cooldown.WithClock(func() time.Time { return now }))
	h := NewHandler(d, gate, allowSet{"946035894601797643": true}, WithCooldown(3*time.Second))
	var c chat.Collector

	h.Handle(context.Background(), event("hi"), &c)
	now = now.Add(900 * time.Millisecond)
	res := h.Handle(context.Background(), event("hi again"), &c)

	if res.Outcome != "cooldown" {
		t.Fatalf("second message should hit the cooldown: %#v", res)
	}
	if len(d.calls) != 1 {
		t.Fatalf("cooldown must stop the dispatch, calls=%d", len(d.calls))
	}
	replies := c.Replies()
	if len(replies) != 2 || replies[1].Text != "Please wait for 2 seconds for the cooldown to finish." {
		t.Fatalf("unexpected replies: %#v", replies)
	}
}

type brokenStore struct{}

func (brokenStore) CheckAndSet(context.Context, string, time.Time, time.Duration) (bool, time.Duration, error) {
	return false, 0, errors.New("redis down")
}

func TestHandleCooldownStoreFailure(t *testing.T) {
	d := &fakeDispatcher{outcomes: []inference.Outcome{success("hello")}}
	gate := cooldown.NewGate(brokenStore{}, cooldown.WithFailPolicy(config.FailClosed))
	h := NewHandler(d, gate, allowSet{"946035894601797643": true})
	var c chat.Collector

	h.Handle(context.Background(), event("hi"), &c)
	replies := c.Replies()
	if len(d.calls) != 0 || len(replies) != 1 || replies[0].Level != chat.LevelError {
		t.Fatalf("fail-closed gate should send an error notice: calls=%d replies=%#v", len(d.calls), replies)
	}
}

func TestHandleModelLoadingRetry(t *testing.T) {
	d := &fakeDispatcher{outcomes: []inference.Outcome{loading(), success("awake now")}}
	h := newTestHandler(d, WithRetryOnLoading(true))
	var c chat.Collector

	h.Handle(context.Background(), event("hi"), &c)

	if len(d.calls) != 2 || d.calls[0].wait || !d.calls[1].wait {
		t.Fatalf("expected a second dispatch with wait-for-model: %#v", d.calls)
	}
	replies := c.Replies()
	if len(replies) != 2 {
		t.Fatalf("unexpected replies: %#v", replies)
	}
	if replies[0].Level != chat.LevelInfo || !strings.Contains(replies[0].Text, "org/model is currently loading") {
		t.Fatalf("first reply should be the loading notice: %#v", replies[0])
	}
	if replies[1].Text != "awake now" {
		t.Fatalf("second reply = %#v", replies[1])
	}
}

func TestHandleModelLoadingNoRetry(t *testing.T) {
	d := &fakeDispatcher{outcomes: []inference.Outcome{loading()}}
	h := newTestHandler(d)
	var c chat.Collector

	res := h.Handle(context.Background(), event("hi"), &c)
	if len(d.calls) != 1 || res.Outcome != "model_loading" {
		t.Fatalf("calls=%d result=%#v", len(d.calls), res)
	}
	replies := c.Replies()
	if len(replies) != 1 || replies[0].Level != chat.LevelInfo {
		t.Fatalf("expected only the loading notice: %#v", replies)
	}
	if !strings.Contains(replies[0].Text, "about 20 seconds") {
		t.Fatalf("estimate missing from notice: %q", replies[0].Text)
	}
}

func TestHandleEmptyReplyRetries(t *testing.T) {
	d := &fakeDispatcher{outcomes: []inference.Outcome{emptyReply(""), emptyReply("?"), success("finally")}}
	h := newTestHandler(d)
	var c chat.Collector

	h.Handle(context.Background(), event("hi"), &c)
	if len(d.calls) != 3 {
		t.Fatalf("dispatch calls = %d, want 3", len(d.calls))
	}
	if got := c.Replies(); len(got) != 1 || got[0].Text != "finally" {
		t.Fatalf("unexpected replies: %#v", got)
	}
}

func TestHandleSingleCharPrefix(t *testing.T) {
	d := &fakeDispatcher{outcomes: []inference.Outcome{emptyReply("?")}}
	h := newTestHandler(d, WithReplyConfig(config.ReplyCfg{SingleCharPrefix: ":", EmptyRetries: 1}))
	var c chat.Collector

	h.Handle(context.Background(), event("hi"), &c)
	if len(d.calls) != 2 {
		t.Fatalf("dispatch calls = %d, want 2", len(d.calls))
	}
	if got := c.Replies(); len(got) != 1 || got[0].Text != ":?" || got[0].Notice {
		t.Fatalf("unexpected replies: %#v", got)
	}
}

func TestHandleTyping(t *testing.T) {
	d := &fakeDispatcher{outcomes: []inference.Outcome{success("hello")}}
	h := newTestHandler(d)
	r := &typingReplier{}

	h.Handle(context.Background(), event("hi"), r)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.typing < 1 {
		t.Fatalf("typing indicator not shown")
	}
	if len(r.Replies()) != 1 {
		t.Fatalf("unexpected replies: %#v", r.Replies())
	}
}

type panicDispatcher struct{}

func (panicDispatcher) Dispatch(context.Context, inference.GenerationRequest, int, bool) inference.Outcome {
	panic("boom")
}

func TestHandleRecoversPanic(t *testing.T) {
	h := newTestHandler(panicDispatcher{})
	var c chat.Collector

	res := h.Handle(context.Background(), event("hi"), &c)
	if res.Outcome != "panic" {
		t.Fatalf("unexpected result: %#v", res)
	}
}
