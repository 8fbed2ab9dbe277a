package http

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	outcache "mailbot/adapter/out/cache"
	"mailbot/core/domain"
	"mailbot/core/port/in"
	"mailbot/core/port/out"
	"mailbot/core/service/inbox"
	"mailbot/infra/middleware"
	"mailbot/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeInbox struct {
	report   *domain.RunReport
	err      error
	lastOpts in.RunOptions
}

func (f *fakeInbox) Run(_ context.Context, opts in.RunOptions) (*domain.RunReport, error) {
	f.lastOpts = opts
	return f.report, f.err
}

func (f *fakeInbox) ProcessMessage(context.Context, *domain.Message, bool) *domain.MessageOutcome {
	return &domain.MessageOutcome{}
}

func (f *fakeInbox) Classify(msg *domain.Message) domain.ClassificationResult {
	if strings.Contains(strings.ToLower(msg.Subject), "order") {
		return domain.ClassificationResult{Category: domain.CategoryOrders, Label: "Orders", AutoReply: true}
	}
	return domain.ClassificationResult{Category: domain.CategoryRoutine, Label: "Routine"}
}

type fakeHistory struct {
	replies []*domain.ReplyLogEntry
	reports map[string]*domain.RunReport
	err     error
}

func (f *fakeHistory) RecentReplies(context.Context, int) ([]*domain.ReplyLogEntry, error) {
	return f.replies, f.err
}

func (f *fakeHistory) RunReport(_ context.Context, id string) (*domain.RunReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	r, ok := f.reports[id]
	if !ok {
		return nil, out.ErrRunReportNotFound
	}
	return r, nil
}

func (f *fakeHistory) RecentRuns(context.Context, int) ([]*domain.RunReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	var list []*domain.RunReport
	for _, r := range f.reports {
		list = append(list, r)
	}
	return list, nil
}

type fakeAuthorizer struct {
	authorized bool
	exchanged  string
	err        error
}

func (f *fakeAuthorizer) AuthURL(state string) string {
	return "https://accounts.example/auth?state=" + state
}

func (f *fakeAuthorizer) Exchange(_ context.Context, code string) error {
	if f.err != nil {
		return f.err
	}
	f.exchanged = code
	f.authorized = true
	return nil
}

func (f *fakeAuthorizer) Authorized() bool { return f.authorized }

// =============================================================================
// Helpers
// =============================================================================

func newTestApp() *fiber.App {
	return fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler()})
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, envelope) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(resp.Body)
	var env envelope
	_ = json.Unmarshal(raw, &env)
	return resp.StatusCode, env
}

// =============================================================================
// Inbox
// =============================================================================

func TestInboxHandler_Process(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		path     string
		err      error
		status   int
		code     string
		wantOpts in.RunOptions
	}{
		{
			name:   "defaults",
			path:   "/v1/inbox/process",
			status: 200,
		},
		{
			name:     "options from body and query",
			path:     "/v1/inbox/process?dry_run=true",
			body:     `{"query":" label:vip ","max_messages":5}`,
			status:   200,
			wantOpts: in.RunOptions{Query: "label:vip", MaxMessages: 5, DryRun: true},
		},
		{
			name:   "run in progress",
			path:   "/v1/inbox/process",
			err:    inbox.ErrRunInProgress,
			status: 409,
			code:   "RUN_IN_PROGRESS",
		},
		{
			name:   "fetch failure",
			path:   "/v1/inbox/process",
			err:    out.NewRemoteServiceError("gmail", out.RemoteErrServer, "down", nil, true),
			status: 502,
			code:   "FETCH_FAILED",
		},
		{
			name:   "max messages out of range",
			path:   "/v1/inbox/process",
			body:   `{"max_messages":9999}`,
			status: 400,
			code:   "INVALID_INPUT",
		},
		{
			name:   "malformed body",
			path:   "/v1/inbox/process",
			body:   `{"query":`,
			status: 400,
			code:   "BAD_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeInbox{report: &domain.RunReport{RunID: "run-1", Processed: 2}, err: tt.err}
			app := newTestApp()
			NewInboxHandler(svc).Register(app.Group("/v1"))

			status, env := do(t, app, "POST", tt.path, tt.body)
			if status != tt.status {
				t.Fatalf("status = %d, want %d", status, tt.status)
			}
			if tt.code != "" {
				if env.Error == nil || env.Error.Code != tt.code {
					t.Errorf("error = %+v, want code %s", env.Error, tt.code)
				}
				return
			}
			if svc.lastOpts != tt.wantOpts {
				t.Errorf("run options = %+v, want %+v", svc.lastOpts, tt.wantOpts)
			}
			var report domain.RunReport
			if err := json.Unmarshal(env.Data, &report); err != nil || report.RunID != "run-1" {
				t.Errorf("report = %s, %v", env.Data, err)
			}
		})
	}
}

func TestInboxHandler_FetchFailureCarriesRetryable(t *testing.T) {
	svc := &fakeInbox{err: out.NewRemoteServiceError("gmail", out.RemoteErrTokenExpired, "expired", nil, false)}
	app := newTestApp()
	NewInboxHandler(svc).Register(app.Group("/v1"))

	_, env := do(t, app, "POST", "/v1/inbox/process", "")
	if env.Error == nil || env.Error.Details["retryable"] != false {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestInboxHandler_Classify(t *testing.T) {
	app := newTestApp()
	NewInboxHandler(&fakeInbox{}).Register(app.Group("/v1"))

	status, env := do(t, app, "POST", "/v1/classify", `{"from":"a@b.c","subject":"Order late","body":"hi"}`)
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	var result domain.ClassificationResult
	if err := json.Unmarshal(env.Data, &result); err != nil || result.Category != domain.CategoryOrders {
		t.Errorf("result = %s, %v", env.Data, err)
	}

	status, env = do(t, app, "POST", "/v1/classify", `{"from":"a@b.c"}`)
	if status != 400 || env.Error.Code != "INVALID_INPUT" {
		t.Errorf("empty message: status = %d, error = %+v", status, env.Error)
	}
}

// =============================================================================
// History
// =============================================================================

func TestHistoryHandler(t *testing.T) {
	hist := &fakeHistory{
		replies: []*domain.ReplyLogEntry{{MessageID: "m1", ToAddr: "a@b.c"}},
		reports: map[string]*domain.RunReport{"run-1": {RunID: "run-1", Replied: 1}},
	}
	registry := metrics.NewRegistry(10)
	registry.Record("send", 30*time.Millisecond, false)

	app := newTestApp()
	NewHistoryHandler(hist, registry).
		AddStats("running", func() any { return false }).
		Register(app.Group("/v1"))

	status, env := do(t, app, "GET", "/v1/replies?limit=5", "")
	if status != 200 || !strings.Contains(string(env.Data), `"m1"`) {
		t.Errorf("replies: %d %s", status, env.Data)
	}

	status, env = do(t, app, "GET", "/v1/runs/run-1", "")
	if status != 200 || !strings.Contains(string(env.Data), `"run-1"`) {
		t.Errorf("run: %d %s", status, env.Data)
	}

	status, env = do(t, app, "GET", "/v1/runs/missing", "")
	if status != 404 || env.Error.Code != "NOT_FOUND" {
		t.Errorf("missing run: %d %+v", status, env.Error)
	}

	status, env = do(t, app, "GET", "/v1/runs", "")
	if status != 200 || !strings.Contains(string(env.Data), `"run-1"`) {
		t.Errorf("runs: %d %s", status, env.Data)
	}

	status, env = do(t, app, "GET", "/v1/stats", "")
	if status != 200 || !strings.Contains(string(env.Data), `"send"`) || !strings.Contains(string(env.Data), `"running"`) {
		t.Errorf("stats: %d %s", status, env.Data)
	}
}

func TestHistoryHandler_Unconfigured(t *testing.T) {
	app := newTestApp()
	NewHistoryHandler(&fakeHistory{err: inbox.ErrHistoryUnavailable}, nil).Register(app.Group("/v1"))

	status, env := do(t, app, "GET", "/v1/replies", "")
	if status != 503 || env.Error.Code != "NOT_CONFIGURED" {
		t.Errorf("status = %d, error = %+v", status, env.Error)
	}
}

// =============================================================================
// OAuth
// =============================================================================

func TestOAuthHandler_Flow(t *testing.T) {
	auth := &fakeAuthorizer{}
	h := NewOAuthHandler(auth, outcache.NewMemoryStateStore())
	app := newTestApp()
	h.Register(app.Group("/v1"))
	h.RegisterCallback(app)

	status, env := do(t, app, "GET", "/v1/auth/url", "")
	if status != 200 {
		t.Fatalf("auth url status = %d", status)
	}
	var data struct {
		AuthURL string `json:"auth_url"`
		State   string `json:"state"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || len(data.State) != 64 {
		t.Fatalf("auth url data = %s, %v", env.Data, err)
	}
	if !strings.HasSuffix(data.AuthURL, data.State) {
		t.Errorf("auth url %q does not carry state", data.AuthURL)
	}

	status, env = do(t, app, "GET", "/oauth2callback?code=c1&state=forged", "")
	if status != 400 || env.Error.Code != "INVALID_INPUT" || auth.exchanged != "" {
		t.Errorf("forged state: %d %+v", status, env.Error)
	}

	status, _ = do(t, app, "GET", "/oauth2callback?code=c1&state="+data.State, "")
	if status != 200 || auth.exchanged != "c1" {
		t.Fatalf("callback: %d, exchanged %q", status, auth.exchanged)
	}

	status, _ = do(t, app, "GET", "/oauth2callback?code=c2&state="+data.State, "")
	if status != 400 {
		t.Errorf("replayed state status = %d, want 400", status)
	}

	_, env = do(t, app, "GET", "/v1/auth/status", "")
	if !strings.Contains(string(env.Data), `"authorized":true`) {
		t.Errorf("status = %s", env.Data)
	}
}

func TestOAuthHandler_CallbackErrors(t *testing.T) {
	store := outcache.NewMemoryStateStore()
	auth := &fakeAuthorizer{err: errors.New("invalid_grant")}
	h := NewOAuthHandler(auth, store)
	app := newTestApp()
	h.RegisterCallback(app)

	status, _ := do(t, app, "GET", "/oauth2callback?error=access_denied", "")
	if status != 400 {
		t.Errorf("denied status = %d", status)
	}
	status, _ = do(t, app, "GET", "/oauth2callback?state=x", "")
	if status != 400 {
		t.Errorf("missing code status = %d", status)
	}

	_ = store.StoreState(context.Background(), "s1", time.Minute)
	status, env := do(t, app, "GET", "/oauth2callback?code=c&state=s1", "")
	if status != 502 || env.Error.Code != "OAUTH_FAILED" {
		t.Errorf("exchange failure: %d %+v", status, env.Error)
	}
}

// =============================================================================
// Health
// =============================================================================

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler().
		AddCheck("gmail", func(context.Context) error { return nil }).
		AddBreaker("gmail-api", func() string { return "open" })
	app := newTestApp()
	h.Register(app)

	status, _ := do(t, app, "GET", "/health", "")
	if status != 200 {
		t.Errorf("health = %d", status)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/ready", nil))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != 200 || !strings.Contains(string(body), `"gmail-api":"open"`) {
		t.Errorf("ready = %d %s", resp.StatusCode, body)
	}

	h.AddCheck("mailbox", func(context.Context) error { return errors.New("not authorized") })
	resp, err = app.Test(httptest.NewRequest("GET", "/ready", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != 503 {
		t.Errorf("ready with failing check = %d, want 503", resp.StatusCode)
	}
}
