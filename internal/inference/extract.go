package inference

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrMalformedResponse = errors.New("malformed response")
	ErrRemoteReported    = errors.New("remote reported error")
	ErrEmptyReply        = errors.New("empty reply")
)

type ExtractionKind int

const (
	MalformedResponse ExtractionKind = iota + 1
	RemoteReportedError
	EmptyReply
)

// ExtractionError describes why a 2xx body produced no usable reply.
type ExtractionError struct {
	Kind    ExtractionKind
	Message string // remote error message, or parse detail
	Text    string // degenerate reply text after trimming (EmptyReply only)
}

func (e *ExtractionError) Error() string {
	switch e.Kind {
	case RemoteReportedError:
		return "remote reported error: " + e.Message
	case EmptyReply:
		return fmt.Sprintf("empty reply (%q)", e.Text)
	default:
		if e.Message == "" {
			return "malformed response"
		}
		return "malformed response: " + e.Message
	}
}

func (e *ExtractionError) Unwrap() error {
	switch e.Kind {
	case RemoteReportedError:
		return ErrRemoteReported
	case EmptyReply:
		return ErrEmptyReply
	default:
		return ErrMalformedResponse
	}
}

// generation covers both historical response shapes.
type generation struct {
	GeneratedText *string         `json:"generated_text"`
	Error         json.RawMessage `json:"error"`
}

// Extract pulls the reply out of a generation response body. The body is
// either a one-element list or a flat object; the constructed prompt is
// stripped from the generated text.
func Extract(body []byte, prompt string) (string, error) {
	gen, err := decodeGeneration(body)
	if err != nil {
		return "", err
	}

	if gen.GeneratedText == nil {
		if msg, ok := errorMessage(gen.Error); ok {
			return "", &ExtractionError{Kind: RemoteReportedError, Message: msg}
		}
		return "", &ExtractionError{Kind: MalformedResponse, Message: "no generated_text field"}
	}

	text := strings.TrimSpace(stripPrompt(*gen.GeneratedText, GenerationRequest{Prompt: prompt}.Inputs()))
	if utf8.RuneCountInString(text) <= 1 {
		return "", &ExtractionError{Kind: EmptyReply, Text: text}
	}
	return text, nil
}

func decodeGeneration(body []byte) (generation, error) {
	var list []generation
	if err := json.Unmarshal(body, &list); err == nil {
		if len(list) == 0 {
			return generation{}, &ExtractionError{Kind: MalformedResponse, Message: "empty list"}
		}
		return list[0], nil
	}

	var flat generation
	if err := json.Unmarshal(body, &flat); err != nil {
		return generation{}, &ExtractionError{Kind: MalformedResponse, Message: err.Error()}
	}
	return flat, nil
}

func errorMessage(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(raw), true
}

func stripPrompt(text, inputs string) string {
	if strings.HasPrefix(text, inputs) {
		return text[len(inputs):]
	}
	if i := strings.LastIndex(text, replyMarker); i >= 0 {
		return text[i+len(replyMarker):]
	}
	return text
}
