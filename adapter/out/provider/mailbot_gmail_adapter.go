// Package provider implements the Gmail mailbox adapter.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"mailbot/adapter/out/provider/gmail"
	"mailbot/core/domain"
	"mailbot/core/port/out"
	"mailbot/pkg/httputil"
	"mailbot/pkg/resilience"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	gmailUser            = "me"
	fetchConcurrency     = 10
	perMessageTimeout    = 15 * time.Second
	defaultGmailTimeout  = 30 * time.Second
	defaultFetchMaxLimit = 500
)

// GmailConfig holds Gmail configuration.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// FromAddress is written into the From header of replies when set.
	FromAddress string
	Timeout     time.Duration

	// Endpoint overrides the API base URL.
	Endpoint string
}

// GmailAdapter implements out.MailboxPort against the Gmail API.
type GmailAdapter struct {
	config     *oauth2.Config
	tokens     *TokenStore
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	log        zerolog.Logger

	from     string
	timeout  time.Duration
	endpoint string

	// newService is swapped in tests.
	newService func(ctx context.Context) (*gmailv1.Service, error)

	profileMu sync.Mutex
	profile   string
}

// NewGmailAdapter creates a new Gmail adapter.
func NewGmailAdapter(cfg *GmailConfig, tokens *TokenStore, log zerolog.Logger) *GmailAdapter {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			gmailv1.GmailReadonlyScope,
			gmailv1.GmailSendScope,
			gmailv1.GmailModifyScope,
			gmailv1.GmailLabelsScope,
		},
		Endpoint: google.Endpoint,
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGmailTimeout
	}

	log = log.With().Str("adapter", "gmail").Logger()
	a := &GmailAdapter{
		config:     oauthCfg,
		tokens:     tokens,
		httpClient: httputil.NewOptimizedClient(httputil.GmailClientConfig()),
		cb:         resilience.NewBreaker(resilience.DefaultBreakerConfig("gmail-api"), log),
		log:        log,
		from:       cfg.FromAddress,
		timeout:    timeout,
		endpoint:   cfg.Endpoint,
	}
	a.newService = a.oauthService
	return a
}

// =============================================================================
// Authentication
// =============================================================================

// AuthURL returns the consent screen URL.
func (a *GmailAdapter) AuthURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and stores it.
func (a *GmailAdapter) Exchange(ctx context.Context, code string) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		return out.NewRemoteServiceError("gmail", out.RemoteErrAuth, "failed to exchange code", err, false)
	}
	if err := a.tokens.Save(token); err != nil {
		return err
	}
	a.log.Info().Str("token_file", a.tokens.Path()).Msg("gmail token stored")
	return nil
}

// Authorized reports whether a token is stored.
func (a *GmailAdapter) Authorized() bool {
	_, err := a.tokens.Load()
	return err == nil
}

// =============================================================================
// MailboxPort
// =============================================================================

// FetchCandidateMessages lists messages matching query and fetches them in full.
// Messages that fail to load individually are logged and left out.
func (a *GmailAdapter) FetchCandidateMessages(ctx context.Context, query string, max int) ([]*domain.Message, error) {
	if max <= 0 || max > defaultFetchMaxLimit {
		max = defaultFetchMaxLimit
	}

	svc, err := a.newService(ctx)
	if err != nil {
		return nil, err
	}

	listCtx, cancel := a.withTimeout(ctx)
	defer cancel()

	var refs []*gmailv1.Message
	err = a.executeWithCircuitBreaker(listCtx, "list", func() error {
		call := svc.Users.Messages.List(gmailUser).MaxResults(int64(max)).Context(listCtx)
		if query != "" {
			call = call.Q(query)
		}
		resp, err := call.Do()
		if err != nil {
			return err
		}
		refs = resp.Messages
		return nil
	})
	if err != nil {
		return nil, a.wrapError(err, "failed to list messages")
	}
	if len(refs) == 0 {
		return nil, nil
	}

	return a.fetchMessagesParallel(ctx, svc, refs), nil
}

func (a *GmailAdapter) fetchMessagesParallel(ctx context.Context, svc *gmailv1.Service, refs []*gmailv1.Message) []*domain.Message {
	type result struct {
		idx int
		msg *domain.Message
	}

	results := make(chan result, len(refs))
	sem := make(chan struct{}, fetchConcurrency)
	var wg sync.WaitGroup

	for i, ref := range refs {
		wg.Add(1)
		go func(idx int, id string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			msgCtx, cancel := context.WithTimeout(ctx, perMessageTimeout)
			defer cancel()

			var full *gmailv1.Message
			err := a.executeWithCircuitBreaker(msgCtx, "get", func() error {
				m, err := svc.Users.Messages.Get(gmailUser, id).Format("full").Context(msgCtx).Do()
				if err != nil {
					return err
				}
				full = m
				return nil
			})
			if err != nil {
				a.log.Warn().Err(err).Str("message_id", id).Msg("failed to fetch message")
				return
			}
			results <- result{idx: idx, msg: convertMessage(full)}
		}(i, ref.Id)
	}

	wg.Wait()
	close(results)

	ordered := make([]*domain.Message, len(refs))
	for r := range results {
		ordered[r.idx] = r.msg
	}

	messages := make([]*domain.Message, 0, len(refs))
	for _, m := range ordered {
		if m != nil {
			messages = append(messages, m)
		}
	}
	return messages
}

// EnsureLabel returns the id of the user label named name, creating it if needed.
// A concurrent create surfaces as out.ErrLabelExists.
func (a *GmailAdapter) EnsureLabel(ctx context.Context, name string) (string, error) {
	svc, err := a.newService(ctx)
	if err != nil {
		return "", err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	var labels []*gmailv1.Label
	err = a.executeWithCircuitBreaker(ctx, "labels.list", func() error {
		resp, err := svc.Users.Labels.List(gmailUser).Context(ctx).Do()
		if err != nil {
			return err
		}
		labels = resp.Labels
		return nil
	})
	if err != nil {
		return "", a.wrapError(err, "failed to list labels")
	}

	for _, l := range labels {
		if strings.EqualFold(l.Name, name) {
			return l.Id, nil
		}
	}

	var created *gmailv1.Label
	err = a.executeWithCircuitBreaker(ctx, "labels.create", func() error {
		l, err := svc.Users.Labels.Create(gmailUser, &gmailv1.Label{
			Name:                  name,
			LabelListVisibility:   gmail.LabelListVisibility,
			MessageListVisibility: gmail.MessageListVisibility,
		}).Context(ctx).Do()
		if err != nil {
			return err
		}
		created = l
		return nil
	})
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			return "", out.ErrLabelExists
		}
		return "", a.wrapError(err, "failed to create label")
	}

	a.log.Info().Str("label", name).Str("label_id", created.Id).Msg("label created")
	return created.Id, nil
}

// ApplyLabel adds the label to every message of the thread.
func (a *GmailAdapter) ApplyLabel(ctx context.Context, threadID, labelID string) error {
	svc, err := a.newService(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	err = a.executeWithCircuitBreaker(ctx, "threads.modify", func() error {
		_, err := svc.Users.Threads.Modify(gmailUser, threadID, &gmailv1.ModifyThreadRequest{
			AddLabelIds: []string{labelID},
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return a.wrapError(err, "failed to apply label")
	}
	return nil
}

// SendReply sends a plain-text reply in the original thread.
func (a *GmailAdapter) SendReply(ctx context.Context, reply out.OutgoingReply) (string, error) {
	if reply.To == "" {
		return "", out.NewRemoteServiceError("gmail", out.RemoteErrInvalidInput, "reply has no recipient", nil, false)
	}

	svc, err := a.newService(ctx)
	if err != nil {
		return "", err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()

	raw := buildRawReply(a.fromAddress(ctx, svc), reply)
	msg := &gmailv1.Message{
		Raw:      base64.URLEncoding.EncodeToString([]byte(raw)),
		ThreadId: reply.ThreadID,
	}

	var sent *gmailv1.Message
	err = a.executeWithCircuitBreaker(ctx, "send", func() error {
		m, err := svc.Users.Messages.Send(gmailUser, msg).Context(ctx).Do()
		if err != nil {
			return err
		}
		sent = m
		return nil
	})
	if err != nil {
		return "", a.wrapError(err, "failed to send reply")
	}
	return sent.Id, nil
}

// ProfileAddress returns the mailbox's own address, or "" when unknown.
func (a *GmailAdapter) ProfileAddress(ctx context.Context) string {
	svc, err := a.newService(ctx)
	if err != nil {
		return ""
	}
	return a.fromAddress(ctx, svc)
}

// =============================================================================
// Helpers
// =============================================================================

func (a *GmailAdapter) fromAddress(ctx context.Context, svc *gmailv1.Service) string {
	if a.from != "" {
		return a.from
	}

	// Only a successful lookup is cached; a failure is retried next call.
	a.profileMu.Lock()
	defer a.profileMu.Unlock()
	if a.profile != "" {
		return a.profile
	}
	p, err := svc.Users.GetProfile(gmailUser).Context(ctx).Do()
	if err != nil {
		a.log.Debug().Err(err).Msg("profile lookup failed")
		return ""
	}
	a.profile = p.EmailAddress
	return a.profile
}

func (a *GmailAdapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

func (a *GmailAdapter) oauthService(ctx context.Context) (*gmailv1.Service, error) {
	token, err := a.tokens.Load()
	if err != nil {
		if errors.Is(err, ErrNoToken) {
			return nil, out.NewRemoteServiceError("gmail", out.RemoteErrAuth, "mailbox not authorized, complete the consent flow", err, false)
		}
		return nil, out.NewRemoteServiceError("gmail", out.RemoteErrAuth, "failed to load token", err, false)
	}

	// The token source outlives any single call, so it gets its own context.
	tsCtx := context.WithValue(context.Background(), oauth2.HTTPClient, a.httpClient)
	ts := newPersistingTokenSource(a.config.TokenSource(tsCtx, token), a.tokens, token)

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(tsCtx, ts))}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}
	svc, err := gmailv1.NewService(ctx, opts...)
	if err != nil {
		return nil, out.NewRemoteServiceError("gmail", out.RemoteErrNetwork, "failed to create service", err, true)
	}
	return svc, nil
}

// executeWithCircuitBreaker wraps an API call with circuit breaker protection.
// Client errors are passed through without counting as failures.
func (a *GmailAdapter) executeWithCircuitBreaker(ctx context.Context, operation string, fn func() error) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) {
				switch apiErr.Code {
				case 400, 401, 403, 404, 409:
					return nil, resilience.Permanent(err)
				}
			}
			return nil, err
		}
		return nil, nil
	})
	err = resilience.Unwrap(err)

	if err != nil && resilience.IsOpen(err) {
		a.log.Warn().
			Str("operation", operation).
			Str("state", a.cb.State().String()).
			Msg("gmail circuit open")
	}
	return err
}

// CircuitState returns the breaker state for the readiness endpoint.
func (a *GmailAdapter) CircuitState() string {
	return a.cb.State().String()
}

func (a *GmailAdapter) wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}
	if resilience.IsOpen(err) {
		return out.NewRemoteServiceError("gmail", out.RemoteErrUnavailable, "circuit open", err, true)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return out.NewRemoteServiceError("gmail", out.RemoteErrNetwork, "request timed out", err, true)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 400:
			return out.NewRemoteServiceError("gmail", out.RemoteErrInvalidInput, "Invalid request", err, false)
		case 401:
			return out.NewRemoteServiceError("gmail", out.RemoteErrTokenExpired, "Token expired", err, false)
		case 403:
			if isRateLimitReason(apiErr) {
				return out.NewRemoteServiceError("gmail", out.RemoteErrRateLimit, "Rate limit exceeded", err, true)
			}
			return out.NewRemoteServiceError("gmail", out.RemoteErrAuth, "Access denied", err, false)
		case 404:
			return out.NewRemoteServiceError("gmail", out.RemoteErrNotFound, "Not found", err, false)
		case 409:
			return out.NewRemoteServiceError("gmail", out.RemoteErrConflict, "Conflict", err, false)
		case 429:
			return out.NewRemoteServiceError("gmail", out.RemoteErrRateLimit, "Too many requests", err, true)
		case 500, 502, 503, 504:
			return out.NewRemoteServiceError("gmail", out.RemoteErrServer, "Server error", err, true)
		}
	}

	return out.NewRemoteServiceError("gmail", out.RemoteErrServer, defaultMsg, err, true)
}

func isRateLimitReason(apiErr *googleapi.Error) bool {
	if strings.Contains(apiErr.Message, "Rate Limit") {
		return true
	}
	for _, item := range apiErr.Errors {
		if strings.Contains(strings.ToLower(item.Reason), "ratelimitexceeded") {
			return true
		}
	}
	return false
}

var _ out.MailboxPort = (*GmailAdapter)(nil)
