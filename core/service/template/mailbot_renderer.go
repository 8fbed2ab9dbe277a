// Package template renders reply templates with {{variable}} placeholders.
package template

import (
	"regexp"
	"strings"

	"mailbot/core/domain"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Rendered is a template with placeholders substituted.
type Rendered struct {
	Subject string
	Body    string
}

// Render substitutes known variables in subject and body.
// Unknown placeholders stay exactly as written.
func Render(tpl domain.Template, vars map[string]string) Rendered {
	return Rendered{
		Subject: RenderText(tpl.Subject, vars),
		Body:    RenderText(tpl.Body, vars),
	}
}

// RenderText substitutes placeholders in a single pass, so substituted
// values are never expanded again.
func RenderText(text string, vars map[string]string) string {
	if text == "" || len(vars) == 0 || !strings.Contains(text, "{{") {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(token string) string {
		m := placeholderRe.FindStringSubmatch(token)
		if len(m) < 2 {
			return token
		}
		if v, ok := vars[m[1]]; ok {
			return v
		}
		return token
	})
}

// Placeholders lists the distinct placeholder names in text, in order of appearance.
func Placeholders(text string) []string {
	matches := placeholderRe.FindAllStringSubmatch(text, -1)

	seen := make(map[string]bool)
	var names []string
	for _, match := range matches {
		if len(match) >= 2 && !seen[match[1]] {
			seen[match[1]] = true
			names = append(names, match[1])
		}
	}
	return names
}
