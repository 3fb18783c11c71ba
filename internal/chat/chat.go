// Package chat holds the platform-neutral message and reply types shared
// by the transports and the conversation handler.
package chat

import (
	"context"
	"sync"
)

type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Bot  bool   `json:"bot,omitempty"`
}

// Event is one inbound chat message.
type Event struct {
	ID            string `json:"id"`
	Author        User   `json:"author"`
	ChannelID     string `json:"channelId"`
	GuildID       string `json:"guildId,omitempty"`
	GuildName     string `json:"guildName,omitempty"`
	DirectMessage bool   `json:"directMessage,omitempty"`
	Content       string `json:"content"`
	Mentions      []User `json:"mentions,omitempty"`
}

// Mentioned reports whether userID is explicitly mentioned. @everyone and
// @here do not count.
func (e Event) Mentioned(userID string) bool {
	if userID == "" {
		return false
	}
	for _, u := range e.Mentions {
		if u.ID == userID {
			return true
		}
	}
	return false
}

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Reply is either plain text or a notice rendered by the transport
// (for example as an inline code block or an embed).
type Reply struct {
	Text   string `json:"text"`
	Notice bool   `json:"notice,omitempty"`
	Level  Level  `json:"level,omitempty"`
}

func Text(s string) Reply {
	return Reply{Text: s}
}

func Info(s string) Reply {
	return Reply{Text: s, Notice: true, Level: LevelInfo}
}

func Error(s string) Reply {
	return Reply{Text: s, Notice: true, Level: LevelError}
}

// Replier sends a reply to the message that triggered it.
type Replier interface {
	Reply(ctx context.Context, ev Event, r Reply) error
}

// Typer is implemented by repliers that can show a typing indicator.
type Typer interface {
	Typing(ctx context.Context, channelID string) error
}

// Collector buffers replies in memory. The webhook API returns them in
// the HTTP response.
type Collector struct {
	mu      sync.Mutex
	replies []Reply
}

func (c *Collector) Reply(_ context.Context, _ Event, r Reply) error {
	c.mu.Lock()
	c.replies = append(c.replies, r)
	c.mu.Unlock()
	return nil
}

func (c *Collector) Replies() []Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Reply, len(c.replies))
	copy(out, c.replies)
	return out
}
