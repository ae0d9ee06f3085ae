package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/phoenix-ai/platform/internal/ai"
	"github.com/phoenix-ai/platform/internal/assistant"
	"github.com/phoenix-ai/platform/internal/common"
	"github.com/phoenix-ai/platform/internal/ledger"
	"github.com/phoenix-ai/platform/internal/moderation"
)

type AssistantSource interface {
	GetBySlug(ctx context.Context, slug string) (*assistant.Assistant, error)
}

type Ledger interface {
	Balance(ctx context.Context, userID uint64) (int64, error)
	DebitClamped(ctx context.Context, userID uint64, amount int64, opts ledger.DebitOpts) (ledger.ClampResult, error)
}

type Generator interface {
	Generate(ctx context.Context, messages []ai.Message, params ai.Params) (*ai.Generation, error)
	Effective(params ai.Params) ai.Params
}

type Screener interface {
	Screen(text string, blockedWords []string, filterEnabled bool) moderation.Verdict
}

// writeTimeout bounds each group of store writes made after the user
// message is stored.
const writeTimeout = 10 * time.Second

// Options are the platform-wide knobs of the turn pipeline.
type Options struct {
	CreditPerCharacter float64
	FallbackReply      string
	DefaultMemoryLimit int
	// FloorForTier returns the minimum balance required before calling the
	// provider for an assistant of that tier. Zero disables the pre-check.
	FloorForTier func(tier string) int64
}

type Service struct {
	repo       *Repo
	window     *WindowBuilder
	assistants AssistantSource
	ledger     Ledger
	gen        Generator
	gate       Screener
	opts       Options
	now        func() time.Time
}

func NewService(repo *Repo, assistants AssistantSource, l Ledger, gen Generator, gate Screener, opts Options) *Service {
	if opts.CreditPerCharacter <= 0 {
		opts.CreditPerCharacter = 1
	}
	if strings.TrimSpace(opts.FallbackReply) == "" {
		opts.FallbackReply = "Sorry, I'm having trouble responding right now. Please try again in a moment."
	}
	if opts.DefaultMemoryLimit <= 0 || opts.DefaultMemoryLimit > MaxMemoryLimit {
		opts.DefaultMemoryLimit = PlatformMemoryLimit
	}
	if opts.FloorForTier == nil {
		opts.FloorForTier = func(string) int64 { return 0 }
	}
	return &Service{
		repo:       repo,
		window:     NewWindowBuilder(repo),
		assistants: assistants,
		ledger:     l,
		gen:        gen,
		gate:       gate,
		opts:       opts,
		now:        time.Now,
	}
}

// TurnRequest carries everything one inbound chat request contributes.
type TurnRequest struct {
	RequestID      string
	ConversationID string
	AssistantSlug  string
	UserID         *uint64
	Text           string

	// Only applied when a new conversation is created.
	Language    string
	Tone        string
	Style       string
	MemoryLimit *int
}

type TurnResult struct {
	ConversationID     string
	Reply              string
	CreditsConsumed    int64
	UserMessageID      uint64
	AssistantMessageID uint64
	Flagged            bool
	Fallback           bool
}

// Submit runs one conversation turn. Validation, ownership, content and
// credit failures are returned before anything is written. Provider
// failures degrade to the fallback reply at zero cost, and a debit that
// loses a race is clamped; neither is returned as an error.
func (s *Service) Submit(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	text := strings.TrimSpace(req.Text)

	a, err := s.assistants.GetBySlug(ctx, req.AssistantSlug)
	if err != nil {
		if errors.Is(err, assistant.ErrNotFound) {
			return nil, fmt.Errorf("%w: assistant %q", ErrNotFound, req.AssistantSlug)
		}
		return nil, err
	}
	cfg := a.Config

	if err := validateLength(text, cfg.MinMessageLength, cfg.MaxMessageLength); err != nil {
		return nil, err
	}

	var conv *Conversation
	if req.ConversationID != "" {
		conv, err = s.ownedConversation(ctx, req.ConversationID, a.ID, req.UserID)
		if err != nil {
			return nil, err
		}
	}

	if err := validateOverrides(cfg, req); err != nil {
		return nil, err
	}

	verdict := s.gate.Screen(text, cfg.BlockedWords, cfg.ContentFilter)
	if verdict.Blocked {
		return nil, fmt.Errorf("%w: %s", ErrContentBlocked, verdict.Reason)
	}

	if err := s.preauthorize(ctx, a, req.UserID); err != nil {
		return nil, err
	}

	if conv == nil {
		conv, err = s.createConversation(ctx, a, req)
		if err != nil {
			return nil, err
		}
	}

	// the user message lands before any provider call
	userMsg := &Message{
		ConversationID: conv.ConversationID,
		UserID:         req.UserID,
		Role:           ai.RoleUser,
		Content:        text,
		IsFlagged:      verdict.Flagged,
		FlagReason:     reasonPtr(verdict),
	}
	if err := s.repo.InsertMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	// Once the user message is stored the turn runs to completion, even if
	// the caller goes away while the provider is working.
	detached := context.WithoutCancel(ctx)

	limit := ResolveMemoryLimit(conv.MemoryLimit, cfg.MemoryLimit, s.opts.DefaultMemoryLimit)
	bctx, cancelBuild := context.WithTimeout(detached, writeTimeout)
	window, err := s.window.Build(bctx, conv.ConversationID, Primer(a.Training, conv), limit)
	cancelBuild()
	if err != nil {
		return nil, err
	}

	params := s.gen.Effective(ai.Params{
		Model:            cfg.Model,
		Temperature:      cfg.Temperature,
		FrequencyPenalty: cfg.FrequencyPenalty,
		PresencePenalty:  cfg.PresencePenalty,
		MaxTokens:        cfg.MaxTokens,
	})

	res := &TurnResult{ConversationID: conv.ConversationID, UserMessageID: userMsg.ID, Flagged: verdict.Flagged}
	assistantMsg := &Message{
		ConversationID: conv.ConversationID,
		UserID:         req.UserID,
		Role:           ai.RoleAssistant,
		Meta: MessageMeta{Params: &Params{
			Model:            params.Model,
			Temperature:      params.Temperature,
			FrequencyPenalty: params.FrequencyPenalty,
			PresencePenalty:  params.PresencePenalty,
			MaxTokens:        params.MaxTokens,
		}},
	}

	gen, genErr := s.gen.Generate(detached, window, params)

	wctx, cancel := context.WithTimeout(detached, writeTimeout)
	defer cancel()
	if genErr != nil {
		log.Printf("[Submit] provider unavailable req=%s conversation=%s assistant=%s err=%v",
			req.RequestID, conv.ConversationID, a.Slug, genErr)
		res.Reply = s.opts.FallbackReply
		res.Fallback = true
		assistantMsg.Meta.Fallback = true
	} else {
		res.Reply = gen.Text
		res.CreditsConsumed = s.charge(wctx, req, conv.ConversationID, gen.Text)
		assistantMsg.Meta.TokensUsed = gen.TokensUsed
		assistantMsg.Meta.Model = gen.Model
		assistantMsg.Meta.ProcessingTimeMs = gen.ProcessingTimeMs

		if out := s.gate.Screen(gen.Text, cfg.BlockedWords, cfg.ContentFilter); out.Blocked || out.Flagged {
			assistantMsg.IsFlagged = true
			assistantMsg.FlagReason = reasonPtr(out)
		}
	}

	assistantMsg.Content = res.Reply
	assistantMsg.CreditsConsumed = res.CreditsConsumed
	if err := s.repo.InsertMessage(wctx, assistantMsg); err != nil {
		return nil, err
	}
	res.AssistantMessageID = assistantMsg.ID

	if err := s.repo.RecordTurn(wctx, conv.ConversationID, 2, res.CreditsConsumed, s.now()); err != nil {
		log.Printf("[Submit] counters update failed req=%s conversation=%s err=%v", req.RequestID, conv.ConversationID, err)
	}
	return res, nil
}

// charge debits the reply cost and returns what was actually taken.
// Anonymous turns are never billed.
func (s *Service) charge(ctx context.Context, req TurnRequest, conversationID string, reply string) int64 {
	if req.UserID == nil {
		return 0
	}
	cost := ledger.Cost(reply, s.opts.CreditPerCharacter)
	out, err := s.ledger.DebitClamped(ctx, *req.UserID, cost, ledger.DebitOpts{ConversationID: conversationID})
	if err != nil {
		log.Printf("[Submit] debit failed req=%s user=%d conversation=%s cost=%d err=%v",
			req.RequestID, *req.UserID, conversationID, cost, err)
		return 0
	}
	if out.Shortfall > 0 {
		log.Printf("[Submit] ledger race req=%s user=%d conversation=%s cost=%d charged=%d shortfall=%d",
			req.RequestID, *req.UserID, conversationID, cost, out.Charged, out.Shortfall)
	}
	return out.Charged
}

func (s *Service) preauthorize(ctx context.Context, a *assistant.Assistant, userID *uint64) error {
	floor := s.opts.FloorForTier(a.MinTier)
	if floor <= 0 {
		return nil
	}
	if userID == nil {
		return fmt.Errorf("%w: assistant %q requires a funded account", ErrInsufficientCredits, a.Slug)
	}
	balance, err := s.ledger.Balance(ctx, *userID)
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			return fmt.Errorf("%w: user %d", ErrNotFound, *userID)
		}
		return err
	}
	if balance < floor {
		return fmt.Errorf("%w: balance %d below floor %d", ErrInsufficientCredits, balance, floor)
	}
	return nil
}

func (s *Service) ownedConversation(ctx context.Context, conversationID string, assistantID uint64, userID *uint64) (*Conversation, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
		}
		return nil, err
	}
	if conv.AssistantID != assistantID {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}
	if conv.UserID != nil && (userID == nil || *conv.UserID != *userID) {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, conversationID)
	}
	return conv, nil
}

func (s *Service) createConversation(ctx context.Context, a *assistant.Assistant, req TurnRequest) (*Conversation, error) {
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	conv := &Conversation{
		ConversationID: id,
		UserID:         req.UserID,
		AssistantID:    a.ID,
		Language:       strings.TrimSpace(req.Language),
		Tone:           strings.TrimSpace(req.Tone),
		Style:          strings.TrimSpace(req.Style),
		MemoryLimit:    req.MemoryLimit,
		LastActivityAt: s.now(),
	}
	if err := s.repo.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListMessages pages through a conversation newest first after checking
// the caller may see it.
func (s *Service) ListMessages(ctx context.Context, userID *uint64, conversationID string, limit int, beforeID uint64) ([]Message, error) {
	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if conv.UserID != nil && (userID == nil || *conv.UserID != *userID) {
		return nil, ErrNotFound
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.repo.ListMessages(ctx, conversationID, limit, beforeID)
}

// FlagMessage is the administrative flag toggle.
func (s *Service) FlagMessage(ctx context.Context, messageID uint64, flagged bool, reason string) error {
	var r *string
	if flagged && strings.TrimSpace(reason) != "" {
		trimmed := strings.TrimSpace(reason)
		r = &trimmed
	}
	if err := s.repo.SetFlag(ctx, messageID, flagged, r); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: message %d", ErrNotFound, messageID)
		}
		return err
	}
	return nil
}

func validateLength(text string, minLen, maxLen int) error {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}
	if minLen > 0 && n < minLen {
		return fmt.Errorf("%w: message shorter than %d characters", ErrInvalidInput, minLen)
	}
	if maxLen > 0 && n > maxLen {
		return fmt.Errorf("%w: message longer than %d characters", ErrInvalidInput, maxLen)
	}
	return nil
}

func validateOverrides(cfg assistant.Config, req TurnRequest) error {
	if v := strings.TrimSpace(req.Language); v != "" && !assistant.Supports(cfg.Languages, v) {
		return fmt.Errorf("%w: unsupported language %q", ErrInvalidInput, v)
	}
	if v := strings.TrimSpace(req.Tone); v != "" && !assistant.Supports(cfg.Tones, v) {
		return fmt.Errorf("%w: unsupported tone %q", ErrInvalidInput, v)
	}
	if v := strings.TrimSpace(req.Style); v != "" && !assistant.Supports(cfg.Styles, v) {
		return fmt.Errorf("%w: unsupported style %q", ErrInvalidInput, v)
	}
	if m := req.MemoryLimit; m != nil && (*m < 1 || *m > MaxMemoryLimit) {
		return fmt.Errorf("%w: memory limit must be between 1 and %d", ErrInvalidInput, MaxMemoryLimit)
	}
	return nil
}

func reasonPtr(v moderation.Verdict) *string {
	if v.Reason == "" {
		return nil
	}
	r := v.Reason
	return &r
}
