package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const DefaultTimeout = 90 * time.Second

// Gateway makes at most one provider call per turn, bounded by its own
// timeout. Every failure comes back wrapping ErrProviderUnavailable.
type Gateway struct {
	provider Provider
	timeout  time.Duration
	defaults Params
}

// NewGateway binds a provider. defaults fill Model and MaxTokens when an
// assistant leaves them empty.
func NewGateway(provider Provider, timeout time.Duration, defaults Params) *Gateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gateway{provider: provider, timeout: timeout, defaults: defaults}
}

// Effective returns params with platform defaults applied.
func (g *Gateway) Effective(params Params) Params {
	if strings.TrimSpace(params.Model) == "" {
		params.Model = g.defaults.Model
	}
	if params.MaxTokens <= 0 {
		params.MaxTokens = g.defaults.MaxTokens
	}
	return params
}

func (g *Gateway) Generate(ctx context.Context, messages []Message, params Params) (gen *Generation, err error) {
	// the provider deadline is independent of the caller's own deadline
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			gen, err = nil, fmt.Errorf("%w: provider panic: %v", ErrProviderUnavailable, r)
		}
	}()

	gen, err = g.provider.Chat(cctx, messages, g.Effective(params))
	if err != nil {
		if cctx.Err() != nil {
			return nil, fmt.Errorf("%w: timed out after %s: %v", ErrProviderUnavailable, g.timeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if gen == nil || strings.TrimSpace(gen.Text) == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrProviderUnavailable)
	}
	if gen.ProcessingTimeMs == 0 {
		gen.ProcessingTimeMs = time.Since(start).Milliseconds()
	}
	return gen, nil
}
