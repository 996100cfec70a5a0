// Package feeclaim collects accrued creator fees through the PumpPortal trade API.
package feeclaim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"solana-holder-lottery/internal/observability"
)

// Defaults for the PumpPortal trade endpoint.
const (
	DefaultEndpoint    = "https://pumpportal.fun/api/trade"
	DefaultAction      = "collectCreatorFee"
	DefaultPool        = "pump"
	DefaultPriorityFee = 0.000001
	DefaultTimeout     = 30 * time.Second

	// maxBody bounds how much of a response is kept.
	maxBody = 1 << 20
)

// Claimer requests settlement of accrued creator fees into the operating wallet.
type Claimer interface {
	Claim(ctx context.Context) (*Result, error)
}

// Result is the API's response body, passed through verbatim.
type Result struct {
	StatusCode int
	Body       json.RawMessage
}

// ClaimError reports a failed claim request.
type ClaimError struct {
	StatusCode int    // 0 for transport failures
	Body       string // response body, if any
	Err        error
	// Attempted is set once the request was handed to the transport.
	// An attempted claim may have settled fees even if it reports failure.
	Attempted bool
}

func (e *ClaimError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fee claim failed with status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("fee claim failed: %v", e.Err)
}

func (e *ClaimError) Unwrap() error {
	return e.Err
}

// Client implements Claimer over HTTP.
type Client struct {
	endpoint    string
	apiKey      string
	action      string
	pool        string
	priorityFee float64
	client      *http.Client
}

var _ Claimer = (*Client)(nil)

// Option configures Client.
type Option func(*Client)

// WithEndpoint overrides the trade API URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		c.endpoint = endpoint
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithPool sets the pool field of the request.
func WithPool(pool string) Option {
	return func(c *Client) {
		c.pool = pool
	}
}

// WithPriorityFee sets the priority fee in SOL.
func WithPriorityFee(fee float64) Option {
	return func(c *Client) {
		c.priorityFee = fee
	}
}

// NewClient creates a claim client authenticated by apiKey.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:    DefaultEndpoint,
		apiKey:      apiKey,
		action:      DefaultAction,
		pool:        DefaultPool,
		priorityFee: DefaultPriorityFee,
		client:      &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type claimRequest struct {
	Action      string  `json:"action"`
	PriorityFee float64 `json:"priorityFee"`
	Pool        string  `json:"pool"`
}

// Claim sends one collect request. It is never retried.
func (c *Client) Claim(ctx context.Context) (*Result, error) {
	start := time.Now()
	res, err := c.claim(ctx)
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.RecordClaim(status, time.Since(start).Seconds())
	return res, err
}

func (c *Client) claim(ctx context.Context) (*Result, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, &ClaimError{Err: fmt.Errorf("parse endpoint: %w", err)}
	}
	q := u.Query()
	q.Set("api-key", c.apiKey)
	u.RawQuery = q.Encode()

	body, err := json.Marshal(claimRequest{
		Action:      c.action,
		PriorityFee: c.priorityFee,
		Pool:        c.pool,
	})
	if err != nil {
		return nil, &ClaimError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, &ClaimError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ClaimError{Err: fmt.Errorf("http request: %w", err), Attempted: true}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &ClaimError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err), Attempted: true}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ClaimError{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
			Attempted:  true,
		}
	}

	return &Result{StatusCode: resp.StatusCode, Body: rawJSON(respBody)}, nil
}

// rawJSON returns body if it is valid JSON, otherwise the body as a JSON string.
func rawJSON(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return json.RawMessage("null")
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(trimmed))
	return json.RawMessage(quoted)
}
