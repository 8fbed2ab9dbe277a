// Package response provides the JSON envelope used by the HTTP API.
package response

import (
	"github.com/gofiber/fiber/v2"
)

// Response is the standard API response structure.
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
	Meta    *Meta      `json:"meta,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Meta contains list metadata.
type Meta struct {
	Count int `json:"count"`
	Limit int `json:"limit,omitempty"`
}

// OK returns a successful response.
func OK(c *fiber.Ctx, data any) error {
	return c.JSON(Response{Success: true, Data: data})
}

// List returns a successful list response with count metadata.
func List[T any](c *fiber.Ctx, items []T, limit int) error {
	if items == nil {
		items = []T{}
	}
	return c.JSON(Response{
		Success: true,
		Data:    items,
		Meta:    &Meta{Count: len(items), Limit: limit},
	})
}

// Error returns an error response.
func Error(c *fiber.Ctx, status int, code, message string, details map[string]any) error {
	return c.Status(status).JSON(Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// Limit reads the "limit" query parameter clamped to [1, max].
func Limit(c *fiber.Ctx, def, max int) int {
	limit := c.QueryInt("limit", def)
	if limit < 1 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}
