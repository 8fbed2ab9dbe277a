// Package classification assigns a category, label and reply template to inbox messages.
package classification

import (
	"mailbot/core/domain"
)

// Classifier evaluates an ordered rule set against a message.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	rules *domain.RuleSet
}

// NewClassifier creates a classifier over rules.
func NewClassifier(rules *domain.RuleSet) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the first matching rule's outcome, or the Routine default.
// Missing subject or body match as empty strings.
func (c *Classifier) Classify(msg *domain.Message) domain.ClassificationResult {
	if result, ok := c.rules.Match(msg.MatchText()); ok {
		return result
	}
	return c.rules.Default()
}
