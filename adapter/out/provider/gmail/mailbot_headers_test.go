package gmail

import "testing"

func TestIsAutomated(t *testing.T) {
	tests := []struct {
		name          string
		autoSubmitted string
		precedence    string
		listID        string
		want          bool
	}{
		{"plain message", "", "", "", false},
		{"auto-submitted no", "no", "", "", false},
		{"auto-replied", "auto-replied", "", "", true},
		{"auto-generated mixed case", " Auto-Generated ", "", "", true},
		{"bulk precedence", "", "bulk", "", true},
		{"list precedence", "", "List", "", true},
		{"first-class precedence", "", "first-class", "", false},
		{"mailing list id", "", "", "<news.example.com>", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAutomated(tt.autoSubmitted, tt.precedence, tt.listID); got != tt.want {
				t.Errorf("IsAutomated(%q, %q, %q) = %v, want %v", tt.autoSubmitted, tt.precedence, tt.listID, got, tt.want)
			}
		})
	}
}
