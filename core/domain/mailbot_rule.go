package domain

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// Category
// =============================================================================

// Category is the classification outcome for a message.
type Category string

const (
	CategoryVIP       Category = "VIP"
	CategoryOrders    Category = "Orders"
	CategoryImportant Category = "Important"
	CategoryRoutine   Category = "Routine"
)

// CategoryPriority returns the evaluation rank of a category (lower wins).
func CategoryPriority(c Category) int {
	switch c {
	case CategoryVIP:
		return 0
	case CategoryOrders:
		return 1
	case CategoryImportant:
		return 2
	default:
		return 3
	}
}

// ParseCategory accepts a category name in any case.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vip":
		return CategoryVIP, nil
	case "orders", "order":
		return CategoryOrders, nil
	case "important":
		return CategoryImportant, nil
	case "routine":
		return CategoryRoutine, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// =============================================================================
// Rule
// =============================================================================

// Rule maps a keyword group onto a label and an optional auto-reply template.
type Rule struct {
	ID                string   `json:"id" yaml:"id"`
	Category          Category `json:"category" yaml:"category"`
	IfAny             []string `json:"if_any" yaml:"if_any"`
	ApplyLabel        string   `json:"apply_label" yaml:"apply_label"`
	AutoReplyTemplate string   `json:"auto_reply_template,omitempty" yaml:"auto_reply_template"`
	AutoReply         bool     `json:"auto_reply" yaml:"auto_reply"`
}

// Matches reports whether any keyword is a substring of the normalized text.
func (r Rule) Matches(text string) bool {
	for _, kw := range r.IfAny {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// RuleSet is an immutable, priority-ordered list of rules plus the Routine fallback.
type RuleSet struct {
	rules            []Rule
	defaultLabel     string
	routineAutoReply bool
	routineTemplate  string
}

// RuleSetDefaults describes the Routine outcome used when no rule matches.
type RuleSetDefaults struct {
	Label     string
	AutoReply bool
	Template  string
}

// NewRuleSet validates rules and orders them VIP > Orders > Important.
// Declaration order is kept within a category. Keywords are lowercased and
// empty keywords dropped so matching never has to normalize again.
func NewRuleSet(rules []Rule, defaults RuleSetDefaults) (*RuleSet, error) {
	if defaults.Label == "" {
		defaults.Label = string(CategoryRoutine)
	}

	out := make([]Rule, 0, len(rules))
	for i, r := range rules {
		if r.Category == CategoryRoutine {
			return nil, fmt.Errorf("rule %d (%s): Routine is the implicit default and cannot be declared", i, r.ID)
		}
		if CategoryPriority(r.Category) > 2 {
			return nil, fmt.Errorf("rule %d (%s): unknown category %q", i, r.ID, r.Category)
		}
		if strings.TrimSpace(r.ApplyLabel) == "" {
			return nil, fmt.Errorf("rule %d (%s): apply_label is required", i, r.ID)
		}

		keywords := make([]string, 0, len(r.IfAny))
		for _, kw := range r.IfAny {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				keywords = append(keywords, kw)
			}
		}
		if len(keywords) == 0 {
			return nil, fmt.Errorf("rule %d (%s): if_any must contain at least one keyword", i, r.ID)
		}

		if r.ID == "" {
			r.ID = fmt.Sprintf("%s-%d", strings.ToLower(string(r.Category)), i)
		}
		r.IfAny = keywords
		r.ApplyLabel = strings.TrimSpace(r.ApplyLabel)
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return CategoryPriority(out[i].Category) < CategoryPriority(out[j].Category)
	})

	return &RuleSet{
		rules:            out,
		defaultLabel:     defaults.Label,
		routineAutoReply: defaults.AutoReply,
		routineTemplate:  defaults.Template,
	}, nil
}

// Rules returns a copy of the ordered rules.
func (s *RuleSet) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Match returns the outcome of the first rule whose keywords occur in text,
// which must already be lowercased. It does not copy the rule list.
func (s *RuleSet) Match(text string) (ClassificationResult, bool) {
	for i := range s.rules {
		r := &s.rules[i]
		if r.Matches(text) {
			return ClassificationResult{
				Category:   r.Category,
				Label:      r.ApplyLabel,
				TemplateID: r.AutoReplyTemplate,
				AutoReply:  r.AutoReply,
				RuleID:     r.ID,
			}, true
		}
	}
	return ClassificationResult{}, false
}

// Len returns the number of declared rules.
func (s *RuleSet) Len() int { return len(s.rules) }

// Default returns the Routine classification.
func (s *RuleSet) Default() ClassificationResult {
	return ClassificationResult{
		Category:   CategoryRoutine,
		Label:      s.defaultLabel,
		TemplateID: s.routineTemplate,
		AutoReply:  s.routineAutoReply,
	}
}

// Labels returns every distinct label the rule set can apply.
func (s *RuleSet) Labels() []string {
	seen := map[string]bool{}
	var labels []string
	for _, r := range s.rules {
		if !seen[r.ApplyLabel] {
			seen[r.ApplyLabel] = true
			labels = append(labels, r.ApplyLabel)
		}
	}
	if !seen[s.defaultLabel] {
		labels = append(labels, s.defaultLabel)
	}
	return labels
}

// ClassificationResult is produced by the classifier and consumed by the
// label applier and reply resolver.
type ClassificationResult struct {
	Category   Category `json:"category"`
	Label      string   `json:"label"`
	TemplateID string   `json:"template_id,omitempty"`
	AutoReply  bool     `json:"auto_reply"`
	RuleID     string   `json:"rule_id,omitempty"`
}

// HasTemplate reports whether a reply template is attached.
func (c ClassificationResult) HasTemplate() bool { return c.TemplateID != "" }

// DefaultRules are the keyword groups used when no rulebook file is configured.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "vip",
			Category: CategoryVIP,
			IfAny: []string{
				"press", "investor", "wholesale", "bulk order", "partnership",
				"collaboration", "media", "sponsorship",
			},
			ApplyLabel:        "VIP",
			AutoReplyTemplate: "vip_welcome",
			AutoReply:         true,
		},
		{
			ID:       "orders",
			Category: CategoryOrders,
			IfAny: []string{
				"order", "package", "delivery", "tracking", "shipment", "arrived",
				"missing", "unreceived", "not received", "where is",
				"hasn't arrived", "hasnt arrived",
			},
			ApplyLabel:        "Orders",
			AutoReplyTemplate: "order_missing",
			AutoReply:         true,
		},
		{
			ID:       "important",
			Category: CategoryImportant,
			IfAny: []string{
				"refund", "return", "chargeback", "angry", "complaint",
				"wrong item", "broken", "cancel", "late", "delayed",
			},
			ApplyLabel:        "Admin",
			AutoReplyTemplate: "support_default",
			AutoReply:         true,
		},
	}
}
