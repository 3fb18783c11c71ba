package inference

import (
	"errors"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		prompt  string
		want    string
		wantErr error
	}{
		{
			name:   "list shape",
			body:   `[{"generated_text": "You say: hi\nI reply: hello there"}]`,
			prompt: "hi",
			want:   "hello there",
		},
		{
			name:   "flat shape",
			body:   `{"generated_text": "You say: hi\nI reply: hello there"}`,
			prompt: "hi",
			want:   "hello there",
		},
		{
			name:   "delimiter split when prompt was rewritten",
			body:   `[{"generated_text": "You say: <@12345678901>\nI reply: who is that?"}]`,
			prompt: "@someone",
			want:   "who is that?",
		},
		{
			name:   "last delimiter wins",
			body:   `[{"generated_text": "I reply: first\nI reply:  second "}]`,
			prompt: "x",
			want:   "second",
		},
		{
			name:   "text without prompt is kept",
			body:   `{"generated_text": "  plain continuation  "}`,
			prompt: "hi",
			want:   "plain continuation",
		},
		{
			name:    "empty reply",
			body:    `[{"generated_text": "You say: hi\nI reply: "}]`,
			prompt:  "hi",
			wantErr: ErrEmptyReply,
		},
		{
			name:    "single character reply",
			body:    `[{"generated_text": "You say: hi\nI reply: ?"}]`,
			prompt:  "hi",
			wantErr: ErrEmptyReply,
		},
		{
			name:    "remote error",
			body:    `{"error": "model busy"}`,
			prompt:  "hi",
			wantErr: ErrRemoteReported,
		},
		{
			name:    "remote error inside list",
			body:    `[{"error": "model busy"}]`,
			prompt:  "hi",
			wantErr: ErrRemoteReported,
		},
		{
			name:    "empty list",
			body:    `[]`,
			prompt:  "hi",
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "unknown object",
			body:    `{"text": "hello"}`,
			prompt:  "hi",
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "not json",
			body:    `<html>bad gateway</html>`,
			prompt:  "hi",
			wantErr: ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract([]byte(tt.body), tt.prompt)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractRemoteMessage(t *testing.T) {
	_, err := Extract([]byte(`{"error": "model busy"}`), "hi")
	var exErr *ExtractionError
	if !errors.As(err, &exErr) {
		t.Fatalf("expected *ExtractionError, got %T", err)
	}
	if exErr.Kind != RemoteReportedError || exErr.Message != "model busy" {
		t.Fatalf("unexpected error: %#v", exErr)
	}

	_, err = Extract([]byte(`{"error": ["a", "b"]}`), "hi")
	if !errors.As(err, &exErr) || exErr.Message != `["a", "b"]` {
		t.Fatalf("non-string error should be kept raw: %v", err)
	}
}

func TestExtractKeepsDegenerateText(t *testing.T) {
	_, err := Extract([]byte(`[{"generated_text": "You say: hi\nI reply: !"}]`), "hi")
	var exErr *ExtractionError
	if !errors.As(err, &exErr) || exErr.Kind != EmptyReply {
		t.Fatalf("expected empty reply, got %v", err)
	}
	if exErr.Text != "!" {
		t.Fatalf("text = %q", exErr.Text)
	}
}

func TestRequestInputs(t *testing.T) {
	if got := NewRequest("hi").Inputs(); got != "You say: hi\nI reply:" {
		t.Fatalf("inputs = %q", got)
	}
}
