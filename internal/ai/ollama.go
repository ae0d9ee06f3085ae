package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL: baseURL,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type ollamaChatReq struct {
	Model    string        `json:"model"`
	Messages []ollamaMsg   `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature      *float32 `json:"temperature,omitempty"`
	FrequencyPenalty float32  `json:"frequency_penalty,omitempty"`
	PresencePenalty  float32  `json:"presence_penalty,omitempty"`
	NumPredict       int      `json:"num_predict,omitempty"`
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResp struct {
	Model           string     `json:"model"`
	Message         *ollamaMsg `json:"message"`
	PromptEvalCount int        `json:"prompt_eval_count"`
	EvalCount       int        `json:"eval_count"`
	Error           string     `json:"error,omitempty"`
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message, params Params) (*Generation, error) {
	if p.Client == nil {
		return nil, errors.New("ollama: http client is nil")
	}
	model := strings.TrimSpace(params.Model)
	if model == "" {
		model = p.Model
	}

	reqBody := ollamaChatReq{
		Model:  model,
		Stream: false,
		Options: ollamaOptions{
			Temperature:      params.Temperature,
			FrequencyPenalty: params.FrequencyPenalty,
			PresencePenalty:  params.PresencePenalty,
			NumPredict:       params.MaxTokens,
		},
		Messages: func() []ollamaMsg {
			out := make([]ollamaMsg, 0, len(messages))
			for _, m := range messages {
				out = append(out, ollamaMsg{Role: m.Role, Content: m.Content})
			}
			return out
		}(),
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/chat", strings.TrimRight(p.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			return nil, fmt.Errorf("ollama: status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("ollama: status %d: %s", resp.StatusCode, msg)
	}

	var decoded ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("ollama: decode: %w", err)
	}
	if decoded.Error != "" {
		return nil, errors.New(decoded.Error)
	}
	if decoded.Message == nil || strings.TrimSpace(decoded.Message.Content) == "" {
		return nil, errors.New("ollama: missing content")
	}

	gen := &Generation{
		Text:             decoded.Message.Content,
		Model:            model,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	if decoded.Model != "" {
		gen.Model = decoded.Model
	}
	if n := decoded.PromptEvalCount + decoded.EvalCount; n > 0 {
		gen.TokensUsed = &n
	}
	return gen, nil
}
