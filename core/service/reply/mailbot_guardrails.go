package reply

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxDraftRunes caps the length of a drafted reply body.
const MaxDraftRunes = 1800

// DefaultSafeStopPhrases are commitments a drafted reply must never make.
var DefaultSafeStopPhrases = []string{
	"refund approved",
	"discount code",
	"guarantee delivery",
	"free replacement",
}

var errEmptyDraft = errors.New("draft is empty")

// Guardrails validates language-model output before it can be sent.
type Guardrails struct {
	phrases  []string
	maxRunes int
}

// NewGuardrails creates guardrails with the given stop phrases.
func NewGuardrails(phrases []string, maxRunes int) *Guardrails {
	if maxRunes <= 0 {
		maxRunes = MaxDraftRunes
	}
	lower := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lower = append(lower, p)
		}
	}
	return &Guardrails{phrases: lower, maxRunes: maxRunes}
}

// Check returns the cleaned draft or an error when it must not be sent.
func (g *Guardrails) Check(draft string) (string, error) {
	draft = strings.TrimSpace(draft)
	if draft == "" {
		return "", errEmptyDraft
	}

	lower := strings.ToLower(draft)
	for _, p := range g.phrases {
		if strings.Contains(lower, p) {
			return "", fmt.Errorf("draft contains blocked phrase %q", p)
		}
	}

	if utf8.RuneCountInString(draft) > g.maxRunes {
		runes := []rune(draft)
		draft = strings.TrimSpace(string(runes[:g.maxRunes]))
	}
	return draft, nil
}
