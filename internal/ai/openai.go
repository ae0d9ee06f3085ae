package ai

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
// such as OpenRouter, selected by BaseURL.
type OpenAIProvider struct {
	Model  string
	client *openai.Client
}

func NewOpenAIProvider(baseURL, apiKey, model string, httpClient *http.Client) (*OpenAIProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	cfg.HTTPClient = httpClient
	return &OpenAIProvider{Model: model, client: openai.NewClientWithConfig(cfg)}, nil
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, params Params) (*Generation, error) {
	model := strings.TrimSpace(params.Model)
	if model == "" {
		model = p.Model
	}
	if model == "" {
		return nil, errors.New("openai: model is required")
	}

	req := openai.ChatCompletionRequest{
		Model:            model,
		FrequencyPenalty: params.FrequencyPenalty,
		PresencePenalty:  params.PresencePenalty,
		MaxTokens:        params.MaxTokens,
		Messages: func() []openai.ChatCompletionMessage {
			out := make([]openai.ChatCompletionMessage, 0, len(messages))
			for _, m := range messages {
				out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
			}
			return out
		}(),
	}

	if params.Temperature != nil {
		req.Temperature = *params.Temperature
		// go-openai drops a zero temperature from the request body
		if req.Temperature == 0 {
			req.Temperature = math.SmallestNonzeroFloat32
		}
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty response")
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("openai: missing content")
	}

	gen := &Generation{
		Text:             content,
		Model:            model,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	if resp.Model != "" {
		gen.Model = resp.Model
	}
	if resp.Usage.TotalTokens > 0 {
		n := resp.Usage.TotalTokens
		gen.TokensUsed = &n
	}
	return gen, nil
}
