package moderation

import (
	"strings"
)

// Verdict annotates text; the gate never rewrites it.
type Verdict struct {
	Blocked bool
	Flagged bool
	Reason  string
}

// Gate screens text against platform hard terms (block) and an assistant's
// blocked-word list (flag). Matching is a case-insensitive substring test.
type Gate struct {
	hardTerms []string
}

func NewGate(hardTerms []string) *Gate {
	g := &Gate{}
	for _, t := range hardTerms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			g.hardTerms = append(g.hardTerms, t)
		}
	}
	return g
}

// Screen checks text. blockedWords only apply when filterEnabled is set.
func (g *Gate) Screen(text string, blockedWords []string, filterEnabled bool) Verdict {
	lower := strings.ToLower(text)

	for _, t := range g.hardTerms {
		if strings.Contains(lower, t) {
			return Verdict{Blocked: true, Reason: "blocked term: " + t}
		}
	}

	if !filterEnabled {
		return Verdict{}
	}
	for _, w := range blockedWords {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if strings.Contains(lower, w) {
			return Verdict{Flagged: true, Reason: "blocked word: " + w}
		}
	}
	return Verdict{}
}
