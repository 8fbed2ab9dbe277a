package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"mailbot/pkg/apperr"
	"mailbot/pkg/logger"
	"mailbot/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// MailboxAuthorizer runs the mailbox OAuth consent flow.
type MailboxAuthorizer interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) error
	Authorized() bool
}

// OAuthStateStore OAuth state 저장/검증 인터페이스 (CSRF 보호)
type OAuthStateStore interface {
	StoreState(ctx context.Context, state string, ttl time.Duration) error
	// ConsumeState 검증 후 삭제
	ConsumeState(ctx context.Context, state string) (bool, error)
}

// OAuthStateTTL state 유효 시간 (10분)
const OAuthStateTTL = 10 * time.Minute

type OAuthHandler struct {
	auth       MailboxAuthorizer
	stateStore OAuthStateStore
}

func NewOAuthHandler(auth MailboxAuthorizer, stateStore OAuthStateStore) *OAuthHandler {
	return &OAuthHandler{auth: auth, stateStore: stateStore}
}

// generateSecureState 암호학적으로 안전한 state 생성
func generateSecureState() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure state: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// Register mounts the consent URL and status under the protected api group.
func (h *OAuthHandler) Register(api fiber.Router) {
	api.Get("/auth/url", h.AuthURL)
	api.Get("/auth/status", h.Status)
}

// RegisterCallback mounts the redirect target. Google calls it without an
// API token, so it is protected by the state parameter alone.
func (h *OAuthHandler) RegisterCallback(app fiber.Router) {
	app.Get("/oauth2callback", h.Callback)
}

func (h *OAuthHandler) AuthURL(c *fiber.Ctx) error {
	state, err := generateSecureState()
	if err != nil {
		return apperr.InternalWithError(err)
	}
	if err := h.stateStore.StoreState(c.UserContext(), state, OAuthStateTTL); err != nil {
		return apperr.InternalWithError(fmt.Errorf("store oauth state: %w", err))
	}
	return response.OK(c, fiber.Map{
		"auth_url": h.auth.AuthURL(state),
		"state":    state,
	})
}

func (h *OAuthHandler) Status(c *fiber.Ctx) error {
	return response.OK(c, fiber.Map{"authorized": h.auth.Authorized()})
}

func (h *OAuthHandler) Callback(c *fiber.Ctx) error {
	if denied := c.Query("error"); denied != "" {
		return apperr.BadRequest("authorization denied: " + denied)
	}
	code := c.Query("code")
	state := c.Query("state")
	if code == "" {
		return apperr.InvalidInput("code", "missing")
	}

	ok, err := h.stateStore.ConsumeState(c.UserContext(), state)
	if err != nil {
		return apperr.InternalWithError(fmt.Errorf("check oauth state: %w", err))
	}
	if !ok {
		logger.Warn("[OAuthHandler.Callback] rejected unknown or expired state")
		return apperr.InvalidInput("state", "unknown or expired")
	}

	if err := h.auth.Exchange(c.UserContext(), code); err != nil {
		return apperr.OAuthFailed("google", err)
	}
	logger.Info("[OAuthHandler.Callback] mailbox authorized")
	return response.OK(c, fiber.Map{"authorized": true})
}
