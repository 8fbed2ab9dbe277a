package http

import (
	"errors"
	"strings"

	"mailbot/core/domain"
	"mailbot/core/port/in"
	"mailbot/core/port/out"
	"mailbot/core/service/inbox"
	"mailbot/pkg/apperr"
	"mailbot/pkg/logger"
	"mailbot/pkg/response"

	"github.com/gofiber/fiber/v2"
)

const maxMessagesPerRequest = 500

// InboxHandler triggers runs and classification previews.
type InboxHandler struct {
	inbox in.InboxService
}

func NewInboxHandler(inboxSvc in.InboxService) *InboxHandler {
	return &InboxHandler{inbox: inboxSvc}
}

func (h *InboxHandler) Register(api fiber.Router) {
	api.Post("/inbox/process", h.Process)
	api.Post("/classify", h.Classify)
}

type processRequest struct {
	Query       string `json:"query"`
	MaxMessages int    `json:"max_messages"`
	DryRun      bool   `json:"dry_run"`
}

// Process runs the inbox once and returns the run report.
// POST /v1/inbox/process {"query": "...", "max_messages": 25, "dry_run": false}
func (h *InboxHandler) Process(c *fiber.Ctx) error {
	var req processRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperr.BadRequest("invalid request body")
		}
	}
	if q := QueryBool(c, "dry_run"); q != nil {
		req.DryRun = *q
	}
	if req.MaxMessages < 0 || req.MaxMessages > maxMessagesPerRequest {
		return apperr.InvalidInput("max_messages", "must be between 0 and 500")
	}

	report, err := h.inbox.Run(c.UserContext(), in.RunOptions{
		Query:       strings.TrimSpace(req.Query),
		MaxMessages: req.MaxMessages,
		DryRun:      req.DryRun,
	})
	if errors.Is(err, inbox.ErrRunInProgress) {
		return apperr.RunInProgress()
	}
	if err != nil {
		log := logger.WithError(err)
		log.Error().Msg("[InboxHandler.Process] run failed")
		return apperr.FetchFailed(err, out.IsRetryable(err))
	}
	return response.OK(c, report)
}

type classifyRequest struct {
	From    string `json:"from"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Classify previews the category and reply template for a message without
// touching the mailbox.
func (h *InboxHandler) Classify(c *fiber.Ctx) error {
	var req classifyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if strings.TrimSpace(req.Subject) == "" && strings.TrimSpace(req.Body) == "" {
		return apperr.InvalidInput("subject", "subject or body is required")
	}

	result := h.inbox.Classify(&domain.Message{
		From:      req.From,
		FromEmail: strings.ToLower(strings.TrimSpace(req.From)),
		Subject:   req.Subject,
		BodyText:  req.Body,
	})
	return response.OK(c, result)
}

// QueryBool parses a boolean query parameter (returns nil if not present).
func QueryBool(c *fiber.Ctx, key string) *bool {
	val := c.Query(key)
	if val == "" {
		return nil
	}
	b := val == "true" || val == "1"
	return &b
}
