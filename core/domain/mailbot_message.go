package domain

import (
	"strings"
	"time"
)

// Message is a candidate inbox message as handed over by the fetcher.
// Body text is already decoded from its transport encoding.
type Message struct {
	MessageID    string    `json:"message_id"`
	ThreadID     string    `json:"thread_id"`
	From         string    `json:"from"`
	FromName     string    `json:"from_name,omitempty"`
	FromEmail    string    `json:"from_email,omitempty"`
	Subject      string    `json:"subject"`
	BodyText     string    `json:"body_text"`
	ReceivedAt   time.Time `json:"received_at"`
	LabelIDs     []string  `json:"label_ids,omitempty"`
	RFCMessageID string    `json:"rfc_message_id,omitempty"`
	References   string    `json:"references,omitempty"`

	// Automated is set when headers mark the message as machine generated
	// (Auto-Submitted, Precedence: bulk/list/junk).
	Automated bool `json:"automated,omitempty"`
}

// MatchText returns the lowercased subject and body used for keyword matching.
func (m *Message) MatchText() string {
	if m == nil {
		return ""
	}
	return strings.ToLower(m.Subject + "\n" + m.BodyText)
}

// HasLabel reports whether the message already carries the given label id.
func (m *Message) HasLabel(labelID string) bool {
	if m == nil || labelID == "" {
		return false
	}
	for _, id := range m.LabelIDs {
		if id == labelID {
			return true
		}
	}
	return false
}

// FirstName returns a greeting name for the sender.
// Falls back to the capitalized mailbox local part, then to "there".
func (m *Message) FirstName() string {
	if m == nil {
		return "there"
	}
	if name := strings.TrimSpace(strings.Trim(m.FromName, `"'`)); name != "" {
		if fields := strings.Fields(name); len(fields) > 0 {
			return fields[0]
		}
	}
	if at := strings.Index(m.FromEmail, "@"); at > 0 {
		local := m.FromEmail[:at]
		for _, sep := range []string{".", "_", "+", "-"} {
			if i := strings.Index(local, sep); i > 0 {
				local = local[:i]
			}
		}
		if local != "" && !isDigits(local) {
			return strings.ToUpper(local[:1]) + strings.ToLower(local[1:])
		}
	}
	return "there"
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
