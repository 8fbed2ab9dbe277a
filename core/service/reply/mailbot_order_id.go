package reply

import (
	"regexp"
	"strings"
)

var (
	hashOrderRe = regexp.MustCompile(`#(\d{4,})\b`)
	wordOrderRe = regexp.MustCompile(`(?i)\border\s*(?:#|no\.?|number)?\s*:?\s*(\d{4,})\b`)
)

// OrderIDExtractor pulls an order reference out of free text.
//
// Patterns are tried in this order, first match wins:
//  1. a configured store prefix followed by at least four digits (OU12345),
//     returned upper-cased
//  2. "#" followed by at least four digits, returned as "#digits"
//  3. "order" optionally followed by "#", "no." or "number" and at least
//     four digits, returned as "#digits"
//
// The subject is searched before the body.
type OrderIDExtractor struct {
	prefixRe *regexp.Regexp
}

// NewOrderIDExtractor builds an extractor for the given store prefixes.
func NewOrderIDExtractor(prefixes []string) *OrderIDExtractor {
	quoted := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p != "" {
			quoted = append(quoted, regexp.QuoteMeta(p))
		}
	}

	e := &OrderIDExtractor{}
	if len(quoted) > 0 {
		e.prefixRe = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)-?\d{4,}\b`)
	}
	return e
}

// Extract returns the first order id found in subject, then body.
func (e *OrderIDExtractor) Extract(subject, body string) (string, bool) {
	for _, text := range []string{subject, body} {
		if id, ok := e.extract(text); ok {
			return id, true
		}
	}
	return "", false
}

func (e *OrderIDExtractor) extract(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	if e.prefixRe != nil {
		if m := e.prefixRe.FindString(text); m != "" {
			return strings.ToUpper(strings.ReplaceAll(m, "-", "")), true
		}
	}
	if m := hashOrderRe.FindStringSubmatch(text); len(m) == 2 {
		return "#" + m[1], true
	}
	if m := wordOrderRe.FindStringSubmatch(text); len(m) == 2 {
		return "#" + m[1], true
	}
	return "", false
}
