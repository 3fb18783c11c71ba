package inference

import (
	"fmt"
	"time"
)

// Kind tags a dispatch Outcome.
type Kind int

const (
	KindSuccess Kind = iota
	KindModelLoading
	KindRateLimited
	KindRemoteError
	KindTransportError
	KindExtractionFailed
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindModelLoading:
		return "model_loading"
	case KindRateLimited:
		return "rate_limited"
	case KindRemoteError:
		return "remote_error"
	case KindTransportError:
		return "transport_error"
	case KindExtractionFailed:
		return "extraction_failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of one Dispatch call. Only the fields that
// belong to Kind are set.
type Outcome struct {
	Kind     Kind
	Attempts int // sends performed

	Text string // success

	EstimatedWait time.Duration // model loading
	HasEstimate   bool

	StatusCode int    // remote error
	Body       string // remote error and model loading

	Err error // transport error, extraction failure
}

func successOutcome(text string) Outcome {
	return Outcome{Kind: KindSuccess, Text: text}
}

func loadingOutcome(wait time.Duration, ok bool, body string) Outcome {
	return Outcome{Kind: KindModelLoading, EstimatedWait: wait, HasEstimate: ok, StatusCode: 503, Body: body}
}

func rateLimitedOutcome() Outcome {
	return Outcome{Kind: KindRateLimited, StatusCode: 429}
}

func remoteErrorOutcome(status int, body string) Outcome {
	return Outcome{Kind: KindRemoteError, StatusCode: status, Body: body}
}

func transportOutcome(err error) Outcome {
	return Outcome{Kind: KindTransportError, Err: err}
}

func extractionOutcome(err error) Outcome {
	return Outcome{Kind: KindExtractionFailed, Err: err}
}

// OK reports whether the outcome carries reply text.
func (o Outcome) OK() bool {
	return o.Kind == KindSuccess
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindSuccess:
		return fmt.Sprintf("success(%q)", o.Text)
	case KindModelLoading:
		if o.HasEstimate {
			return fmt.Sprintf("model_loading(eta=%s)", o.EstimatedWait)
		}
		return "model_loading"
	case KindRateLimited:
		return fmt.Sprintf("rate_limited(attempts=%d)", o.Attempts)
	case KindRemoteError:
		return fmt.Sprintf("remote_error(status=%d)", o.StatusCode)
	default:
		return fmt.Sprintf("%s(%v)", o.Kind, o.Err)
	}
}
