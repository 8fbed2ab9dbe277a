// Package reply decides the text of an automatic reply.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"mailbot/core/domain"
	"mailbot/core/port/out"
	tmpl "mailbot/core/service/template"

	"github.com/rs/zerolog"
)

// DefaultSystemPrompt is sent with every draft request.
const DefaultSystemPrompt = `You are a friendly, concise customer support agent for an online store.
Write a short plain-text reply (under 150 words) to the customer email below.
Acknowledge the request, say what happens next and sign off as the support team.
Never promise refunds, replacements, discounts or delivery dates, and never invent
order details, tracking numbers or policies. If information is missing, ask for it.`

const maxPromptRunes = 4000

// TicketIssuer hands out support ticket ids.
type TicketIssuer interface {
	NextTicketID() string
}

// ResolverConfig wires the resolver's collaborators. Commerce, Drafter,
// Quota, Hours and Tickets are optional.
type ResolverConfig struct {
	Templates     *domain.TemplateSet
	Commerce      out.CommercePort
	Drafter       out.DrafterPort
	Quota         out.DraftQuota
	Hours         *BusinessHours
	OrderIDs      *OrderIDExtractor
	Guardrails    *Guardrails
	Tickets       TicketIssuer
	Brand         string
	SystemPrompt  string
	LookupTimeout time.Duration
	DraftTimeout  time.Duration
	Now           func() time.Time
	Logger        zerolog.Logger
}

// Resolver runs the reply fallback chain:
// order lookup, then template, then language-model draft, then canned reply.
type Resolver struct {
	cfg ResolverConfig
	log zerolog.Logger
}

// NewResolver creates a resolver, filling defaults for unset fields.
func NewResolver(cfg ResolverConfig) *Resolver {
	if cfg.Templates == nil {
		cfg.Templates = domain.NewTemplateSet(domain.DefaultTemplates(), nil)
	}
	if cfg.OrderIDs == nil {
		cfg.OrderIDs = NewOrderIDExtractor([]string{"OU"})
	}
	if cfg.Guardrails == nil {
		cfg.Guardrails = NewGuardrails(DefaultSafeStopPhrases, MaxDraftRunes)
	}
	if cfg.Brand == "" {
		cfg.Brand = "Customer"
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 10 * time.Second
	}
	if cfg.DraftTimeout <= 0 {
		cfg.DraftTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Resolver{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "reply_resolver").Logger(),
	}
}

// resolution carries the state of one Resolve call.
type resolution struct {
	msg      *domain.Message
	class    domain.ClassificationResult
	decision domain.ReplyDecision
	log      zerolog.Logger
}

func (r *resolution) enter(state domain.ResolverState) {
	r.decision.Trace = append(r.decision.Trace, state)
	r.log.Debug().Str("state", string(state)).Msg("resolver transition")
}

// useTemplate keeps the reply on the customer's thread subject and moves the
// template subject to the top of the body.
func (r *resolution) useTemplate(rendered tmpl.Rendered) {
	heading := strings.TrimSpace(rendered.Subject)
	r.decision.Subject = replySubject(r.msg.Subject)
	r.decision.Heading = heading
	r.decision.Body = rendered.Body
	if heading != "" && !strings.EqualFold(heading, r.decision.Subject) {
		r.decision.Body = heading + "\n\n" + rendered.Body
	}
}

// Resolve always returns a decision; every collaborator failure degrades to
// the next strategy and finally to the canned reply.
func (r *Resolver) Resolve(ctx context.Context, msg *domain.Message, class domain.ClassificationResult) domain.ReplyDecision {
	if msg == nil {
		msg = &domain.Message{}
	}
	res := &resolution{
		msg:   msg,
		class: class,
		log:   r.log.With().Str("message_id", msg.MessageID).Str("category", string(class.Category)).Logger(),
	}
	res.enter(domain.StateNotStarted)
	if r.cfg.Tickets != nil {
		res.decision.TicketID = r.cfg.Tickets.NextTicketID()
	}

	if id, ok := r.cfg.OrderIDs.Extract(msg.Subject, msg.BodyText); ok {
		res.decision.OrderID = id
	}

	if class.Category == domain.CategoryOrders && res.decision.OrderID != "" {
		if r.orderStage(ctx, res) {
			return r.finish(res)
		}
	}

	if class.HasTemplate() {
		if r.templateStage(res) {
			return r.finish(res)
		}
	}

	if r.draftStage(ctx, res) {
		return r.finish(res)
	}

	r.canned(res)
	return r.finish(res)
}

func (r *Resolver) finish(res *resolution) domain.ReplyDecision {
	res.enter(domain.StateResolved)
	res.log.Info().
		Str("source", string(res.decision.Source)).
		Str("template_id", res.decision.TemplateID).
		Str("order_id", res.decision.OrderID).
		Msg("reply resolved")
	return res.decision
}

// =============================================================================
// Stages
// =============================================================================

func (r *Resolver) orderStage(ctx context.Context, res *resolution) bool {
	res.enter(domain.StateOrderLookupAttempted)

	if r.cfg.Commerce == nil {
		res.log.Debug().Msg("order lookup skipped: commerce not configured")
		res.enter(domain.StateOrderNotFound)
		return false
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.cfg.LookupTimeout)
	defer cancel()

	order, err := r.cfg.Commerce.LookupOrder(lookupCtx, res.decision.OrderID)
	if err != nil || order == nil {
		ev := res.log.Warn()
		if errors.Is(err, out.ErrOrderNotFound) || err == nil {
			ev = res.log.Info()
		}
		ev.Err(err).Str("stage", "order_lookup").Str("order_id", res.decision.OrderID).Msg("order not found")
		res.enter(domain.StateOrderNotFound)
		return false
	}
	res.enter(domain.StateOrderFound)

	tpl, ok := r.cfg.Templates.Get(domain.TemplateOrderStatus)
	if !ok {
		tpl = builtinTemplate(domain.TemplateOrderStatus)
	}
	if order.OrderID != "" {
		res.decision.OrderID = order.OrderID
	}

	vars := r.baseVars(res)
	vars["status"] = orUnknown(humanize(order.Status))
	vars["carrier"] = orUnknown(order.Carrier)
	vars["tracking_number"] = orUnknown(order.TrackingNumber)
	vars["tracking_url"] = orUnknown(order.TrackingURL)
	if order.LastUpdate.IsZero() {
		vars["last_update"] = "not available yet"
	} else {
		vars["last_update"] = order.LastUpdate.Format("Jan 2, 2006 15:04 MST")
	}

	res.useTemplate(tmpl.Render(tpl, vars))
	res.decision.Source = domain.ReplySourceOrderLookup
	res.decision.TemplateID = domain.TemplateOrderStatus
	return true
}

func (r *Resolver) templateStage(res *resolution) bool {
	res.enter(domain.StateTemplateAttempted)

	tpl, ok := r.cfg.Templates.Get(res.class.TemplateID)
	if !ok {
		res.log.Warn().Str("stage", "template").Str("template_id", res.class.TemplateID).Msg("template missing")
		res.enter(domain.StateTemplateMissing)
		return false
	}
	res.enter(domain.StateTemplateFound)

	res.useTemplate(tmpl.Render(tpl, r.baseVars(res)))
	res.decision.Source = domain.ReplySourceTemplate
	res.decision.TemplateID = tpl.ID
	return true
}

func (r *Resolver) draftStage(ctx context.Context, res *resolution) bool {
	res.enter(domain.StateAIDraftAttempted)

	body, err := r.draft(ctx, res)
	if err != nil {
		res.log.Warn().Err(err).Str("stage", "ai_draft").Bool("retryable", out.IsRetryable(err)).Msg("draft unavailable")
		res.enter(domain.StateAIDraftFailed)
		return false
	}
	res.enter(domain.StateAIDraftSucceeded)

	res.decision.Subject = replySubject(res.msg.Subject)
	res.decision.Body = body
	res.decision.Source = domain.ReplySourceAIDraft
	return true
}

func (r *Resolver) draft(ctx context.Context, res *resolution) (string, error) {
	if r.cfg.Drafter == nil {
		return "", out.ErrDrafterUnavailable
	}
	if now := r.cfg.Now(); !r.cfg.Hours.IsOperatingHours(now) {
		return "", fmt.Errorf("outside operating hours at %s", now.Format(time.RFC3339))
	}
	if r.cfg.Quota != nil {
		if err := r.cfg.Quota.Reserve(ctx); err != nil {
			return "", err
		}
	}

	draftCtx, cancel := context.WithTimeout(ctx, r.cfg.DraftTimeout)
	defer cancel()

	text, err := r.cfg.Drafter.DraftReply(draftCtx, r.cfg.SystemPrompt, r.promptText(res))
	if err != nil {
		return "", err
	}
	return r.cfg.Guardrails.Check(text)
}

func (r *Resolver) canned(res *resolution) {
	id := "canned"
	quiet := r.cfg.Hours != nil && r.cfg.Hours.IsQuietHours(r.cfg.Now())
	if quiet {
		id = domain.TemplateQuietHoursAck
	}

	tpl, ok := r.cfg.Templates.Get(id)
	if !ok {
		tpl = cannedTemplate
	}
	rendered := tmpl.Render(tpl, r.baseVars(res))

	res.decision.Subject = replySubject(res.msg.Subject)
	res.decision.Body = rendered.Body
	res.decision.Source = domain.ReplySourceNone
	res.decision.TemplateID = ""
	res.decision.NeedsFollowUp = quiet
}

// =============================================================================
// Helpers
// =============================================================================

var cannedTemplate = domain.Template{
	ID:      "canned",
	Subject: "Re: Your message",
	Body: "Hello {{name}},\n\n" +
		"Thanks for your message. We've received it and a member of our team will get back to you shortly.\n\n" +
		"-- {{brand}} Support",
}

func (r *Resolver) baseVars(res *resolution) map[string]string {
	vars := map[string]string{
		"name":    res.msg.FirstName(),
		"email":   res.msg.FromEmail,
		"subject": res.msg.Subject,
		"brand":   r.cfg.Brand,
	}
	if res.decision.TicketID != "" {
		vars["ticket_id"] = res.decision.TicketID
	}
	if res.decision.OrderID != "" {
		vars["order_id"] = res.decision.OrderID
	}
	return vars
}

func (r *Resolver) promptText(res *resolution) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Customer name: %s\n", res.msg.FirstName())
	fmt.Fprintf(&b, "Category: %s\n", res.class.Category)
	if res.decision.OrderID != "" {
		fmt.Fprintf(&b, "Order reference: %s (status unknown)\n", res.decision.OrderID)
	}
	fmt.Fprintf(&b, "Subject: %s\n\n", res.msg.Subject)

	body := res.msg.BodyText
	if utf8.RuneCountInString(body) > maxPromptRunes {
		body = string([]rune(body)[:maxPromptRunes])
	}
	b.WriteString(body)
	return b.String()
}

func builtinTemplate(id string) domain.Template {
	for _, t := range domain.DefaultTemplates() {
		if t.ID == id {
			return t
		}
	}
	return cannedTemplate
}

func replySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return cannedTemplate.Subject
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

func humanize(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "_", " ")
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "not available yet"
	}
	return s
}
