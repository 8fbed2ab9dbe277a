package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"mailbot/core/domain"
	"mailbot/core/service/template"

	"gopkg.in/yaml.v3"
)

// Rulebook is the read-only rule and template configuration of a process.
type Rulebook struct {
	Rules     *domain.RuleSet
	Templates *domain.TemplateSet
	// Warnings lists problems that do not stop loading, such as rules
	// pointing at unknown templates.
	Warnings []string
	// Source is the file the rulebook came from, empty for built-in defaults.
	Source string
}

type rawRulebook struct {
	DefaultLabel     string                 `yaml:"default_label"`
	RoutineAutoReply bool                   `yaml:"routine_auto_reply"`
	RoutineTemplate  string                 `yaml:"routine_template"`
	Rules            []rawRule              `yaml:"rules"`
	Templates        map[string]rawTemplate `yaml:"templates"`
}

type rawRule struct {
	ID                string   `yaml:"id"`
	Category          string   `yaml:"category"`
	IfAny             []string `yaml:"if_any"`
	ApplyLabel        string   `yaml:"apply_label"`
	AutoReplyTemplate string   `yaml:"auto_reply_template"`
	AutoReply         *bool    `yaml:"auto_reply"`
}

type rawTemplate struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// envRefRe matches ${VAR}. Bare $ text is never a reference.
var envRefRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} with the variable's value. Unset variables are
// left as written.
func expandEnv(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envRefRe.ReplaceAllStringFunc(s, func(ref string) string {
		if v, ok := os.LookupEnv(ref[2 : len(ref)-1]); ok {
			return v
		}
		return ref
	})
}

// expandEnv resolves ${VAR} in labels, ids and keywords. Template subjects
// and bodies are customer copy and stay untouched.
func (r *rawRulebook) expandEnv() {
	r.DefaultLabel = expandEnv(r.DefaultLabel)
	r.RoutineTemplate = expandEnv(r.RoutineTemplate)
	for i := range r.Rules {
		rule := &r.Rules[i]
		rule.ID = expandEnv(rule.ID)
		rule.Category = expandEnv(rule.Category)
		rule.ApplyLabel = expandEnv(rule.ApplyLabel)
		rule.AutoReplyTemplate = expandEnv(rule.AutoReplyTemplate)
		for j := range rule.IfAny {
			rule.IfAny[j] = expandEnv(rule.IfAny[j])
		}
	}
}

// knownVariables are the placeholders the reply resolver can fill.
var knownVariables = map[string]bool{
	"name": true, "ticket_id": true, "order_id": true, "email": true, "subject": true, "brand": true,
	"status": true, "carrier": true, "tracking_number": true, "tracking_url": true, "last_update": true,
}

// DefaultRulebook returns the built-in rules and templates.
func DefaultRulebook() *Rulebook {
	rules, err := domain.NewRuleSet(domain.DefaultRules(), domain.RuleSetDefaults{Label: string(domain.CategoryRoutine)})
	if err != nil {
		panic(fmt.Sprintf("built-in rules are invalid: %v", err))
	}
	return &Rulebook{
		Rules:     rules,
		Templates: domain.NewTemplateSet(domain.DefaultTemplates(), nil),
	}
}

// LoadRulebook reads a YAML rulebook, expanding ${VAR} references in rule
// and label fields.
// A missing file yields the built-in defaults. Rules in the file replace the
// built-in rules; templates in the file overlay the built-in templates.
func LoadRulebook(path string) (*Rulebook, error) {
	if path == "" {
		return DefaultRulebook(), nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultRulebook(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rulebook: %w", err)
	}

	rb, err := ParseRulebook(data)
	if err != nil {
		return nil, fmt.Errorf("rulebook %s: %w", path, err)
	}
	rb.Source = path
	return rb, nil
}

// ParseRulebook parses rulebook YAML.
func ParseRulebook(data []byte) (*Rulebook, error) {
	var raw rawRulebook
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	raw.expandEnv()

	rules := domain.DefaultRules()
	if len(raw.Rules) > 0 {
		rules = make([]domain.Rule, 0, len(raw.Rules))
		for i, r := range raw.Rules {
			cat, err := domain.ParseCategory(r.Category)
			if err != nil {
				return nil, fmt.Errorf("rule %d: %w", i, err)
			}
			autoReply := r.AutoReplyTemplate != ""
			if r.AutoReply != nil {
				autoReply = *r.AutoReply
			}
			rules = append(rules, domain.Rule{
				ID:                r.ID,
				Category:          cat,
				IfAny:             r.IfAny,
				ApplyLabel:        r.ApplyLabel,
				AutoReplyTemplate: r.AutoReplyTemplate,
				AutoReply:         autoReply,
			})
		}
	}

	ruleSet, err := domain.NewRuleSet(rules, domain.RuleSetDefaults{
		Label:     raw.DefaultLabel,
		AutoReply: raw.RoutineAutoReply,
		Template:  raw.RoutineTemplate,
	})
	if err != nil {
		return nil, err
	}

	overrides := make(map[string]domain.Template, len(raw.Templates))
	for id, t := range raw.Templates {
		overrides[id] = domain.Template{ID: id, Subject: t.Subject, Body: t.Body}
	}
	templates := domain.NewTemplateSet(domain.DefaultTemplates(), overrides)

	rb := &Rulebook{Rules: ruleSet, Templates: templates}
	rb.Warnings = lint(ruleSet, templates, raw.RoutineTemplate)
	return rb, nil
}

func lint(rules *domain.RuleSet, templates *domain.TemplateSet, routineTemplate string) []string {
	var warnings []string

	refs := []string{routineTemplate}
	for _, r := range rules.Rules() {
		refs = append(refs, r.AutoReplyTemplate)
	}
	for _, id := range refs {
		if id == "" {
			continue
		}
		if _, ok := templates.Get(id); !ok {
			warnings = append(warnings, fmt.Sprintf("template %q is referenced but not defined", id))
		}
	}

	for _, id := range templates.IDs() {
		t, _ := templates.Get(id)
		for _, name := range template.Placeholders(t.Subject + "\n" + t.Body) {
			if !knownVariables[name] {
				warnings = append(warnings, fmt.Sprintf("template %q uses unknown placeholder {{%s}}", id, name))
			}
		}
	}
	return warnings
}
