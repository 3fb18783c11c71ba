package api

import (
	"github.com/nanjiek/pixiu-relay/internal/chat"
)

// EventResponse is returned by POST /v1/events.
type EventResponse struct {
	RequestID string       `json:"requestId,omitempty"`
	Skipped   string       `json:"skipped,omitempty"`
	Outcome   string       `json:"outcome,omitempty"`
	Replies   []chat.Reply `json:"replies"`
}

type ChannelsResponse struct {
	Channels []string `json:"channels"`
}

type ChannelResponse struct {
	Status    string `json:"status"`
	ChannelID string `json:"channel_id"`
}
