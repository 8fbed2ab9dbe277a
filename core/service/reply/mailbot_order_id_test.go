package reply

import "testing"

func TestOrderIDExtractor_Extract(t *testing.T) {
	e := NewOrderIDExtractor([]string{"OU"})

	tests := []struct {
		name    string
		subject string
		body    string
		want    string
		wantOK  bool
	}{
		{"prefixed token", "Order OU12345 status", "Where is my package?", "OU12345", true},
		{"prefixed lowercase", "", "my order ou-98765 is late", "OU98765", true},
		{"hash", "Where is #1042", "", "#1042", true},
		{"order number", "", "Order number 55512 hasn't arrived", "#55512", true},
		{"order no.", "", "order no. 77777", "#77777", true},
		{"subject wins", "#2222 late", "#3333", "#2222", true},
		{"too short", "#123", "order 99", "", false},
		{"word boundary", "", "reorder12345", "", false},
		{"nothing", "hello", "world", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := e.Extract(tt.subject, tt.body)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Extract() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestOrderIDExtractor_NoPrefixes(t *testing.T) {
	e := NewOrderIDExtractor(nil)
	if got, ok := e.Extract("OU12345", ""); ok {
		t.Errorf("Extract() = %q, want no match", got)
	}
}
