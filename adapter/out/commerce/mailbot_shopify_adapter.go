// Package commerce implements the Shopify order lookup adapter.
package commerce

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"mailbot/core/domain"
	"mailbot/core/port/out"
	"mailbot/pkg/cache"
	"mailbot/pkg/httputil"
	"mailbot/pkg/resilience"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const (
	defaultAPIVersion = "2024-10"
	defaultTimeout    = 10 * time.Second
	maxErrorBody      = 2048
)

// ShopifyConfig holds Shopify Admin API settings.
type ShopifyConfig struct {
	Store      string // e.g. shop.myshopify.com
	Token      string
	APIVersion string
	Timeout    time.Duration

	// BaseURL overrides https://{store}/admin/api/{version}.
	BaseURL string

	// CacheTTL keeps lookups in Redis when a cache is given.
	CacheTTL time.Duration
}

// ShopifyAdapter implements out.CommercePort with the Shopify Admin REST API.
type ShopifyAdapter struct {
	baseURL string
	token   string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	cache   *cache.RedisCache
	ttl     time.Duration
	log     zerolog.Logger
}

// NewShopifyAdapter creates the adapter. orderCache may be nil.
func NewShopifyAdapter(cfg ShopifyConfig, orderCache *cache.RedisCache, log zerolog.Logger) (*ShopifyAdapter, error) {
	if cfg.Token == "" {
		return nil, errors.New("shopify: access token is required")
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		if cfg.Store == "" {
			return nil, errors.New("shopify: store domain is required")
		}
		version := cfg.APIVersion
		if version == "" {
			version = defaultAPIVersion
		}
		store := strings.TrimPrefix(strings.TrimPrefix(cfg.Store, "https://"), "http://")
		base = fmt.Sprintf("https://%s/admin/api/%s", strings.TrimRight(store, "/"), version)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	log = log.With().Str("adapter", "shopify").Logger()
	return &ShopifyAdapter{
		baseURL: base,
		token:   cfg.Token,
		client:  httputil.NewOptimizedClient(httputil.ShopifyClientConfig(timeout)),
		cb:      resilience.NewBreaker(resilience.DefaultBreakerConfig("shopify-api"), log),
		cache:   orderCache,
		ttl:     cfg.CacheTTL,
		log:     log,
	}, nil
}

// =============================================================================
// Wire types
// =============================================================================

type ordersResponse struct {
	Orders []shopifyOrder `json:"orders"`
}

type shopifyOrder struct {
	ID                int64                `json:"id"`
	Name              string               `json:"name"`
	FinancialStatus   string               `json:"financial_status"`
	FulfillmentStatus *string              `json:"fulfillment_status"`
	UpdatedAt         time.Time            `json:"updated_at"`
	Fulfillments      []shopifyFulfillment `json:"fulfillments"`
}

type shopifyFulfillment struct {
	Status          string    `json:"status"`
	ShipmentStatus  *string   `json:"shipment_status"`
	TrackingCompany *string   `json:"tracking_company"`
	TrackingNumber  *string   `json:"tracking_number"`
	TrackingURL     *string   `json:"tracking_url"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CircuitState returns the breaker state for the readiness endpoint.
func (a *ShopifyAdapter) CircuitState() string {
	return a.cb.State().String()
}

// =============================================================================
// CommercePort
// =============================================================================

// LookupOrder finds an order by its name (#1234 style) or prefixed id.
func (a *ShopifyAdapter) LookupOrder(ctx context.Context, orderID string) (*domain.OrderRecord, error) {
	name := normalizeOrderName(orderID)
	if name == "" {
		return nil, out.ErrOrderNotFound
	}

	cacheKey := ""
	if a.cache != nil && a.ttl > 0 {
		cacheKey = a.cache.Key("order", name)
		var cached domain.OrderRecord
		if ok, err := a.cache.GetJSON(ctx, cacheKey, &cached); err == nil && ok {
			return &cached, nil
		} else if err != nil {
			a.log.Debug().Err(err).Str("order_id", name).Msg("order cache read failed")
		}
	}

	result, err := a.cb.Execute(func() (interface{}, error) {
		order, err := a.fetchOrder(ctx, name)
		if errors.Is(err, out.ErrOrderNotFound) {
			return nil, resilience.Permanent(err)
		}
		return order, err
	})
	err = resilience.Unwrap(err)
	if err != nil {
		if resilience.IsOpen(err) {
			return nil, out.NewRemoteServiceError("shopify", out.RemoteErrUnavailable, "circuit open", err, true)
		}
		return nil, err
	}

	record := toOrderRecord(result.(*shopifyOrder), name)
	if cacheKey != "" {
		if err := a.cache.SetJSON(ctx, cacheKey, record, a.ttl); err != nil {
			a.log.Debug().Err(err).Str("order_id", name).Msg("order cache write failed")
		}
	}
	return record, nil
}

func (a *ShopifyAdapter) fetchOrder(ctx context.Context, name string) (*shopifyOrder, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("status", "any")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/orders.json?"+q.Encode(), nil)
	if err != nil {
		return nil, out.NewRemoteServiceError("shopify", out.RemoteErrInvalidInput, "failed to build request", err, false)
	}
	req.Header.Set("X-Shopify-Access-Token", a.token)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, out.NewRemoteServiceError("shopify", out.RemoteErrNetwork, "request failed", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, statusError(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload ordersResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, out.NewRemoteServiceError("shopify", out.RemoteErrMalformed, "failed to decode orders", err, false)
	}
	if len(payload.Orders) == 0 {
		return nil, out.ErrOrderNotFound
	}
	return &payload.Orders[0], nil
}

func statusError(status int, body string) error {
	msg := fmt.Sprintf("unexpected status %d", status)
	cause := errors.New(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return out.NewRemoteServiceError("shopify", out.RemoteErrAuth, msg, cause, false)
	case status == http.StatusNotFound:
		return out.NewRemoteServiceError("shopify", out.RemoteErrNotFound, msg, cause, false)
	case status == http.StatusTooManyRequests:
		return out.NewRemoteServiceError("shopify", out.RemoteErrRateLimit, msg, cause, true)
	case status >= 500:
		return out.NewRemoteServiceError("shopify", out.RemoteErrServer, msg, cause, true)
	default:
		return out.NewRemoteServiceError("shopify", out.RemoteErrInvalidInput, msg, cause, false)
	}
}

// normalizeOrderName turns bare digits into Shopify's "#1234" order name.
func normalizeOrderName(orderID string) string {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return ""
	}
	if isDigits(id) {
		return "#" + id
	}
	return id
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func toOrderRecord(o *shopifyOrder, requested string) *domain.OrderRecord {
	record := &domain.OrderRecord{
		OrderID:    o.Name,
		Status:     "unfulfilled",
		LastUpdate: o.UpdatedAt,
	}
	if record.OrderID == "" {
		record.OrderID = requested
	}
	if o.FulfillmentStatus != nil && *o.FulfillmentStatus != "" {
		record.Status = *o.FulfillmentStatus
	}

	if len(o.Fulfillments) == 0 {
		return record
	}

	fulfillments := append([]shopifyFulfillment(nil), o.Fulfillments...)
	sort.SliceStable(fulfillments, func(i, j int) bool {
		return fulfillments[i].UpdatedAt.After(fulfillments[j].UpdatedAt)
	})
	latest := fulfillments[0]

	record.Carrier = deref(latest.TrackingCompany)
	record.TrackingNumber = deref(latest.TrackingNumber)
	record.TrackingURL = deref(latest.TrackingURL)
	if s := deref(latest.ShipmentStatus); s != "" {
		record.Status = s
	}
	if !latest.UpdatedAt.IsZero() {
		record.LastUpdate = latest.UpdatedAt
	}
	return record
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ out.CommercePort = (*ShopifyAdapter)(nil)
