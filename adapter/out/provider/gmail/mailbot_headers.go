// Package gmail holds the header conventions shared by the Gmail adapter.
package gmail

import "strings"

// AutoReplyHeaders are stamped on every reply so other responders do not
// answer back (RFC 3834, Exchange suppression, bulk precedence).
var AutoReplyHeaders = [][2]string{
	{"Auto-Submitted", "auto-replied"},
	{"X-Auto-Response-Suppress", "All"},
	{"Precedence", "bulk"},
}

// Label visibility used when creating labels.
const (
	LabelListVisibility   = "labelShow"
	MessageListVisibility = "show"
)

// IsAutomated reports whether the headers mark a message as machine generated.
func IsAutomated(autoSubmitted, precedence, listID string) bool {
	if v := strings.ToLower(strings.TrimSpace(autoSubmitted)); v != "" && v != "no" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(precedence)) {
	case "bulk", "list", "junk", "auto_reply":
		return true
	}
	return strings.TrimSpace(listID) != ""
}
