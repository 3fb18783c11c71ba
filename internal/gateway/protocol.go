package gateway

import "encoding/json"

// Frame types
const (
	typeRequest  = "req"
	typeResponse = "res"
	typeEvent    = "event"
)

// Methods and events
const (
	methodConnect = "connect"
	methodReply   = "message.reply"
	methodTyping  = "channel.typing"
	methodUser    = "users.get"

	eventMessage = "message.create"
)

// frame is the single wire shape for requests, responses and events.
type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  interface{}     `json:"params,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *frameError     `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type connectParams struct {
	Token  string `json:"token"`
	Client string `json:"client"`
}

type connectPayload struct {
	User struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
}

type replyParams struct {
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId,omitempty"`
	Text      string `json:"text"`
	Notice    bool   `json:"notice,omitempty"`
	Level     string `json:"level,omitempty"`
}

type typingParams struct {
	ChannelID string `json:"channelId"`
}

type userParams struct {
	ID string `json:"id"`
}

type userPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
