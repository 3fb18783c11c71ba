package inference

import "fmt"

const (
	promptTemplate = "You say: %s\nI reply:"
	replyMarker    = "I reply:"
)

// GenerationRequest is built once per dispatch and never mutated.
type GenerationRequest struct {
	Prompt       string
	WaitForModel bool
}

func NewRequest(prompt string) GenerationRequest {
	return GenerationRequest{Prompt: prompt}
}

// Inputs renders the prompt the model continues from.
func (r GenerationRequest) Inputs() string {
	return fmt.Sprintf(promptTemplate, r.Prompt)
}

type payload struct {
	Inputs string `json:"inputs"`
}
