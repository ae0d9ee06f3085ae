package ai

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params are the generation settings taken from an assistant's config.
type Params struct {
	Model            string   `json:"model"`
	Temperature      *float32 `json:"temperature,omitempty"`
	FrequencyPenalty float32  `json:"frequency_penalty"`
	PresencePenalty  float32  `json:"presence_penalty"`
	MaxTokens        int      `json:"max_tokens"`
}

// Generation is one provider reply.
type Generation struct {
	Text             string
	Model            string
	TokensUsed       *int
	ProcessingTimeMs int64
}

// Provider is a single synchronous chat completion backend.
type Provider interface {
	Chat(ctx context.Context, messages []Message, params Params) (*Generation, error)
}

// ErrProviderUnavailable covers timeouts, non-2xx responses, malformed
// payloads and empty content.
var ErrProviderUnavailable = errors.New("ai provider unavailable")
