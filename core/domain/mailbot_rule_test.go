package domain

import (
	"testing"
)

func TestNewRuleSet_OrdersByCategoryPriority(t *testing.T) {
	rules := []Rule{
		{ID: "imp", Category: CategoryImportant, IfAny: []string{"refund"}, ApplyLabel: "Admin"},
		{ID: "ord", Category: CategoryOrders, IfAny: []string{"order"}, ApplyLabel: "Orders"},
		{ID: "vip", Category: CategoryVIP, IfAny: []string{"press"}, ApplyLabel: "VIP"},
		{ID: "ord2", Category: CategoryOrders, IfAny: []string{"package"}, ApplyLabel: "Orders"},
	}

	set, err := NewRuleSet(rules, RuleSetDefaults{})
	if err != nil {
		t.Fatalf("NewRuleSet() error = %v", err)
	}

	want := []string{"vip", "ord", "ord2", "imp"}
	got := set.Rules()
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("rules[%d].ID = %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestNewRuleSet_Validation(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
	}{
		{"routine declared", Rule{Category: CategoryRoutine, IfAny: []string{"x"}, ApplyLabel: "R"}},
		{"unknown category", Rule{Category: Category("Spam"), IfAny: []string{"x"}, ApplyLabel: "S"}},
		{"missing label", Rule{Category: CategoryVIP, IfAny: []string{"x"}}},
		{"blank keywords", Rule{Category: CategoryVIP, IfAny: []string{" ", ""}, ApplyLabel: "VIP"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRuleSet([]Rule{tt.rule}, RuleSetDefaults{}); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestNewRuleSet_NormalizesKeywords(t *testing.T) {
	set, err := NewRuleSet([]Rule{
		{Category: CategoryVIP, IfAny: []string{"  Bulk ORDER ", ""}, ApplyLabel: " VIP "},
	}, RuleSetDefaults{Label: "Inbox"})
	if err != nil {
		t.Fatalf("NewRuleSet() error = %v", err)
	}

	r := set.Rules()[0]
	if len(r.IfAny) != 1 || r.IfAny[0] != "bulk order" {
		t.Errorf("IfAny = %v, want [bulk order]", r.IfAny)
	}
	if r.ApplyLabel != "VIP" {
		t.Errorf("ApplyLabel = %q, want VIP", r.ApplyLabel)
	}
	if r.ID == "" {
		t.Error("expected generated rule id")
	}
	if d := set.Default(); d.Label != "Inbox" || d.Category != CategoryRoutine || d.HasTemplate() {
		t.Errorf("Default() = %+v", d)
	}
}

func TestRuleSet_Match(t *testing.T) {
	set, err := NewRuleSet([]Rule{
		{ID: "imp", Category: CategoryImportant, IfAny: []string{"refund"}, ApplyLabel: "Admin", AutoReplyTemplate: "support_default", AutoReply: true},
		{ID: "ord", Category: CategoryOrders, IfAny: []string{"order"}, ApplyLabel: "Orders"},
	}, RuleSetDefaults{})
	if err != nil {
		t.Fatal(err)
	}

	got, ok := set.Match("refund for my order please")
	if !ok || got.RuleID != "ord" || got.Label != "Orders" || got.Category != CategoryOrders {
		t.Errorf("Match = %+v, %v; want the higher priority orders rule", got, ok)
	}
	got, ok = set.Match("i want a refund")
	if !ok || got.RuleID != "imp" || got.TemplateID != "support_default" || !got.AutoReply {
		t.Errorf("Match = %+v, %v", got, ok)
	}
	if _, ok := set.Match("hello there"); ok {
		t.Error("no keyword should not match")
	}

	allocs := testing.AllocsPerRun(100, func() {
		_, _ = set.Match("where is my order")
	})
	if allocs != 0 {
		t.Errorf("Match allocated %.0f times per call, want 0", allocs)
	}
}

func TestMessage_FirstName(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want string
	}{
		{"display name", &Message{FromName: "Jane Doe", FromEmail: "jd@example.com"}, "Jane"},
		{"quoted display name", &Message{FromName: `"Ana"`, FromEmail: "x@example.com"}, "Ana"},
		{"local part", &Message{FromEmail: "mark.smith@example.com"}, "Mark"},
		{"numeric local part", &Message{FromEmail: "12345@example.com"}, "there"},
		{"nothing", &Message{}, "there"},
		{"nil", nil, "there"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.FirstName(); got != tt.want {
				t.Errorf("FirstName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewTemplateSet_Overlay(t *testing.T) {
	set := NewTemplateSet(DefaultTemplates(), map[string]Template{
		TemplateVIPWelcome: {Subject: "Welcome aboard"},
		"custom":           {Subject: "Custom", Body: "Hi {{name}}"},
	})

	vip, ok := set.Get(TemplateVIPWelcome)
	if !ok {
		t.Fatal("vip_welcome missing")
	}
	if vip.Subject != "Welcome aboard" {
		t.Errorf("Subject = %q", vip.Subject)
	}
	if vip.Body == "" {
		t.Error("Body should keep default when override is empty")
	}
	if _, ok := set.Get("custom"); !ok {
		t.Error("custom template missing")
	}
	if _, ok := set.Get(""); ok {
		t.Error("empty id should not resolve")
	}
}
