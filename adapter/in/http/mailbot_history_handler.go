package http

import (
	"errors"

	"mailbot/core/port/in"
	"mailbot/core/port/out"
	"mailbot/core/service/inbox"
	"mailbot/pkg/apperr"
	"mailbot/pkg/metrics"
	"mailbot/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// HistoryHandler serves sent replies, stored run reports and latency stats.
type HistoryHandler struct {
	history in.ReplyHistoryService
	metrics *metrics.Registry
	extra   map[string]func() any
}

func NewHistoryHandler(history in.ReplyHistoryService, registry *metrics.Registry) *HistoryHandler {
	return &HistoryHandler{history: history, metrics: registry, extra: make(map[string]func() any)}
}

// AddStats adds a named section to GET /stats.
func (h *HistoryHandler) AddStats(name string, fn func() any) *HistoryHandler {
	h.extra[name] = fn
	return h
}

func (h *HistoryHandler) Register(api fiber.Router) {
	api.Get("/replies", h.ListReplies)
	api.Get("/runs", h.ListRuns)
	api.Get("/runs/:id", h.GetRun)
	api.Get("/stats", h.Stats)
}

func (h *HistoryHandler) ListReplies(c *fiber.Ctx) error {
	limit := response.Limit(c, 50, 200)
	entries, err := h.history.RecentReplies(c.UserContext(), limit)
	if err != nil {
		return historyError(err)
	}
	return response.List(c, entries, limit)
}

func (h *HistoryHandler) ListRuns(c *fiber.Ctx) error {
	limit := response.Limit(c, 20, 200)
	reports, err := h.history.RecentRuns(c.UserContext(), limit)
	if err != nil {
		return historyError(err)
	}
	return response.List(c, reports, limit)
}

func (h *HistoryHandler) GetRun(c *fiber.Ctx) error {
	report, err := h.history.RunReport(c.UserContext(), c.Params("id"))
	if err != nil {
		return historyError(err)
	}
	return response.OK(c, report)
}

func (h *HistoryHandler) Stats(c *fiber.Ctx) error {
	data := fiber.Map{"stages": h.metrics.Snapshot()}
	for name, fn := range h.extra {
		data[name] = fn()
	}
	return response.OK(c, data)
}

func historyError(err error) error {
	switch {
	case errors.Is(err, inbox.ErrHistoryUnavailable):
		return apperr.NotConfigured("history store")
	case errors.Is(err, out.ErrRunReportNotFound):
		return apperr.NotFound("run report")
	}
	return apperr.InternalWithError(err)
}
