package core

import (
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

import (
	"github.com/nanjiek/pixiu-relay/internal/chat"
	"github.com/nanjiek/pixiu-relay/internal/config"
	"github.com/nanjiek/pixiu-relay/internal/inference"
)

const (
	msgCooldown       = "Please wait for %d seconds for the cooldown to finish."
	msgCooldownFailed = "Could not check the cooldown right now. Please try again later."
	msgLoading        = "Model %s is currently loading"
	msgStillLoading   = "Model %s is still loading. Please try again in a minute."
	msgRateLimited    = "The model is receiving too many requests right now. Please try again later."
	msgRemoteError    = "Hmm... something is not right. (status %d)"
	msgMalformed      = "Hmm... something is not right."
	msgTransport      = "Could not reach the model. Please contact the maintainer if this keeps happening."
	msgNoResponse     = "No response from the model due to unknown reasons."
	msgRemoteReported = "An unknown error occurred."
)

// Formatter turns dispatch outcomes into chat replies.
type Formatter struct {
	cfg config.ReplyCfg
}

func NewFormatter(cfg config.ReplyCfg) Formatter {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 2000
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "model"
	}
	return Formatter{cfg: cfg}
}

func (f Formatter) Cooldown(remainingSeconds int64) chat.Reply {
	if remainingSeconds < 1 {
		remainingSeconds = 1
	}
	return chat.Text(fmt.Sprintf(msgCooldown, remainingSeconds))
}

func (f Formatter) CooldownFailed() chat.Reply {
	return chat.Error(msgCooldownFailed)
}

func (f Formatter) Loading(out inference.Outcome) chat.Reply {
	text := fmt.Sprintf(msgLoading, f.cfg.ModelName)
	if out.HasEstimate && out.EstimatedWait > 0 {
		text += fmt.Sprintf(" (about %d seconds)", int64(math.Ceil(out.EstimatedWait.Seconds())))
	}
	return chat.Info(text)
}

// Outcome maps the final outcome of a conversation turn to a reply.
func (f Formatter) Outcome(out inference.Outcome) chat.Reply {
	switch out.Kind {
	case inference.KindSuccess:
		return chat.Text(truncate(out.Text, f.cfg.MaxLength))
	case inference.KindModelLoading:
		return chat.Info(fmt.Sprintf(msgStillLoading, f.cfg.ModelName))
	case inference.KindRateLimited:
		return chat.Error(msgRateLimited)
	case inference.KindRemoteError:
		return chat.Error(fmt.Sprintf(msgRemoteError, out.StatusCode))
	case inference.KindExtractionFailed:
		return f.extractionFailure(out.Err)
	default:
		return chat.Error(msgTransport)
	}
}

func (f Formatter) extractionFailure(err error) chat.Reply {
	var exErr *inference.ExtractionError
	if !errors.As(err, &exErr) {
		return chat.Error(msgMalformed)
	}
	switch exErr.Kind {
	case inference.EmptyReply:
		if exErr.Text == "" {
			return chat.Error(msgNoResponse)
		}
		// one-character reply
		return chat.Text(f.cfg.SingleCharPrefix + exErr.Text)
	case inference.RemoteReportedError:
		return chat.Error(msgRemoteReported)
	default:
		return chat.Error(msgMalformed)
	}
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
