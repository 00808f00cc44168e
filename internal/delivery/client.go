// Package delivery implements webhook delivery: the outbound HTTP client
// with per-host circuit breaking, and the engine that drives the reminder
// state machine on each attempt's outcome.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"urns/internal/config"
	"urns/internal/security"
	"urns/internal/types"
)

// Delivery headers presented to receiving applications.
const (
	headerAppID    = "X-App-Id"
	headerAttempt  = "X-URNS-Delivery"
	headerAppKey   = "X-App-Key"
	headerTraceID  = "X-Trace-Id"
	contentTypeKey = "Content-Type"
	jsonMediaType  = "application/json"
)

// maxErrorBodyRead limits how much of a failure response body is read for
// the stored error message.
const maxErrorBodyRead = 1024

// Client posts delivery payloads to webhook endpoints. Each target host gets
// its own circuit breaker so one persistently failing receiver cannot trip
// deliveries to healthy ones. A breaker rejection counts as an ordinary
// delivery failure and flows into the normal retry path.
type Client struct {
	httpClient *http.Client
	appKey     types.SecretString
	userAgent  string
	logger     *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]
}

// NewClient creates a webhook delivery client from delivery configuration.
// Unless the config explicitly allows private webhook targets, the client
// dials through the SSRF-safe transport so deliveries cannot reach internal
// infrastructure.
func NewClient(cfg config.DeliveryConfig, appKey types.SecretString, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	var httpClient *http.Client
	if cfg.AllowPrivateWebhooks {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	} else {
		httpClient = security.NewSafeHTTPClient(cfg.Timeout, cfg.MaxRedirects)
	}

	return &Client{
		httpClient: httpClient,
		appKey:     appKey,
		userAgent:  cfg.UserAgent,
		logger:     logger,
		breakers:   make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
}

// NewClientWithHTTPClient creates a Client with a caller-supplied HTTP
// client. This constructor exists for testing against httptest servers.
func NewClientWithHTTPClient(httpClient *http.Client, appKey types.SecretString, userAgent string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		appKey:     appKey,
		userAgent:  userAgent,
		logger:     logger,
		breakers:   make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
}

// Deliver posts one delivery attempt to the reminder's webhook URL. attempt
// is 1-based and surfaced to the receiver in the X-URNS-Delivery header.
// Any response outside 2xx is a failure.
func (c *Client) Deliver(ctx context.Context, rem *types.Reminder, attempt int, firedAt time.Time) error {
	// Receivers always get an object under "payload", never null.
	forwarded := rem.Payload
	if forwarded == nil {
		forwarded = map[string]any{}
	}
	payload := types.DeliveryPayload{
		ReminderID: rem.ID,
		AppID:      rem.AppID,
		FiredAt:    firedAt.UTC().Format(time.RFC3339),
		Payload:    forwarded,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal delivery payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rem.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set(contentTypeKey, jsonMediaType)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(headerAppID, rem.AppID)
	req.Header.Set(headerAttempt, strconv.Itoa(attempt))
	req.Header.Set(headerAppKey, c.appKey.Unmask())
	if reqID := types.GetRequestID(ctx); reqID != "" {
		req.Header.Set(headerTraceID, reqID)
	}

	breaker, err := c.breakerFor(rem.WebhookURL)
	if err != nil {
		return err
	}

	resp, err := breaker.Execute(func() (*http.Response, error) {
		return c.do(req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("webhook host circuit open: %w", err)
		}
		return err
	}

	// Success: drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyRead))
	_ = resp.Body.Close()
	return nil
}

// do performs the HTTP exchange and converts non-2xx responses into errors
// so the circuit breaker counts them as failures.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyRead))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(snippet))
	}

	return resp, nil
}

// breakerFor returns the circuit breaker for the URL's host, creating it on
// first use.
func (c *Client) breakerFor(rawURL string) (*gobreaker.CircuitBreaker[*http.Response], error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", rawURL)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[u.Host]; ok {
		return cb, nil
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "webhook:" + u.Host,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("webhook breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	c.breakers[u.Host] = cb
	return cb, nil
}
