package domain

import "sort"

// Template is a named subject/body pair with {{variable}} placeholders.
type Template struct {
	ID      string `json:"id" yaml:"id"`
	Subject string `json:"subject" yaml:"subject"`
	Body    string `json:"body" yaml:"body"`
}

// Well-known template ids.
const (
	TemplateSupportDefault = "support_default"
	TemplateQuietHoursAck  = "quiet_hours_ack"
	TemplateOrderMissing   = "order_missing"
	TemplateVIPWelcome     = "vip_welcome"
	TemplateOrderStatus    = "order_status"
)

// TemplateSet is a read-only template table.
type TemplateSet struct {
	byID map[string]Template
}

// NewTemplateSet builds a table from defaults with overrides applied on top.
// An override with an empty subject or body keeps the default's value.
func NewTemplateSet(defaults []Template, overrides map[string]Template) *TemplateSet {
	byID := make(map[string]Template, len(defaults)+len(overrides))
	for _, t := range defaults {
		byID[t.ID] = t
	}
	for id, o := range overrides {
		base := byID[id]
		base.ID = id
		if o.Subject != "" {
			base.Subject = o.Subject
		}
		if o.Body != "" {
			base.Body = o.Body
		}
		byID[id] = base
	}
	return &TemplateSet{byID: byID}
}

// Get returns the template for id.
func (s *TemplateSet) Get(id string) (Template, bool) {
	if s == nil || id == "" {
		return Template{}, false
	}
	t, ok := s.byID[id]
	return t, ok
}

// IDs returns the sorted template ids.
func (s *TemplateSet) IDs() []string {
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultTemplates returns the built-in reply templates.
func DefaultTemplates() []Template {
	return []Template{
		{
			ID:      TemplateSupportDefault,
			Subject: "Thanks for reaching out -- we're on it",
			Body: "Hello {{name}},\n\n" +
				"Thanks for reaching out to {{brand}}. We've received your message and opened a ticket " +
				"(#{{ticket_id}}). A team member will follow up within 1 business day.\n\n" +
				"If this is about an order, please include your order number so we can check status and tracking.\n\n" +
				"-- {{brand}} Support",
		},
		{
			ID:      TemplateQuietHoursAck,
			Subject: "We received your message",
			Body: "Hello {{name}},\n\n" +
				"We've received your message and our support team will follow up first thing in the morning.\n\n" +
				"-- {{brand}} Support",
		},
		{
			ID:      TemplateOrderMissing,
			Subject: "We're on it -- order {{order_id}}",
			Body: "Hello {{name}},\n\n" +
				"Thanks for reaching out. Please reply with your order number so we can check the status and tracking.\n\n" +
				"-- {{brand}} Support",
		},
		{
			ID:      TemplateVIPWelcome,
			Subject: "Thanks for reaching out",
			Body: "Hello {{name}},\n\n" +
				"We've received your message and will jump on this right away.\n\n" +
				"-- {{brand}} VIP Support",
		},
		{
			ID:      TemplateOrderStatus,
			Subject: "Update on your order {{order_id}}",
			Body: "Hello {{name}},\n\n" +
				"Here is the latest on order {{order_id}}.\n\n" +
				"Status: {{status}}\n" +
				"Carrier: {{carrier}}\n" +
				"Tracking number: {{tracking_number}}\n" +
				"Tracking link: {{tracking_url}}\n" +
				"Last update: {{last_update}}\n\n" +
				"If anything looks off, just reply to this email.\n\n" +
				"-- {{brand}} Support",
		},
	}
}
