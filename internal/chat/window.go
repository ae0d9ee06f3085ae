package chat

import (
	"context"
	"strings"

	"github.com/phoenix-ai/platform/internal/ai"
)

// PlatformMemoryLimit applies when neither the conversation nor the
// assistant sets a memory depth.
const PlatformMemoryLimit = 10

// MaxMemoryLimit caps a per-conversation memory depth.
const MaxMemoryLimit = 100

// WindowBuilder assembles the provider-facing message list for a turn.
type WindowBuilder struct {
	repo *Repo
}

func NewWindowBuilder(repo *Repo) *WindowBuilder {
	return &WindowBuilder{repo: repo}
}

// Build returns the system primer (when non-empty) followed by the most
// recent memoryLimit messages in chronological order. Older messages are
// dropped, never summarized.
func (b *WindowBuilder) Build(ctx context.Context, conversationID string, primer string, memoryLimit int) ([]ai.Message, error) {
	recentDesc, err := b.repo.ListRecentMessagesDesc(ctx, conversationID, memoryLimit)
	if err != nil {
		return nil, err
	}

	out := make([]ai.Message, 0, len(recentDesc)+1)
	if p := strings.TrimSpace(primer); p != "" {
		out = append(out, ai.Message{Role: ai.RoleSystem, Content: p})
	}
	// reverse to ASC (oldest -> newest)
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		out = append(out, ai.Message{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

// ResolveMemoryLimit picks the conversation override, then the assistant
// default, then the platform default.
func ResolveMemoryLimit(conversationOverride *int, assistantDefault, platformDefault int) int {
	if conversationOverride != nil && *conversationOverride > 0 {
		return *conversationOverride
	}
	if assistantDefault > 0 {
		return assistantDefault
	}
	if platformDefault > 0 {
		return platformDefault
	}
	return PlatformMemoryLimit
}

// Primer joins the assistant training text with the conversation's
// language/tone/style preferences.
func Primer(training string, c *Conversation) string {
	var prefs []string
	if c != nil {
		if c.Language != "" {
			prefs = append(prefs, "Respond in "+c.Language+".")
		}
		if c.Tone != "" {
			prefs = append(prefs, "Use a "+strings.ToLower(c.Tone)+" tone.")
		}
		if c.Style != "" {
			prefs = append(prefs, "Write in a "+strings.ToLower(c.Style)+" style.")
		}
	}
	training = strings.TrimSpace(training)
	if len(prefs) == 0 {
		return training
	}
	if training == "" {
		return strings.Join(prefs, " ")
	}
	return training + "\n\n" + strings.Join(prefs, " ")
}
