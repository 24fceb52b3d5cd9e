// Package requestgw provides the HTTP client for the upstream clinical
// request service. It implements the settlement boundary interfaces and
// shields callers from upstream flakiness with a circuit breaker.
package requestgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/careops/go-settle/internal/domain/request"
	"github.com/careops/go-settle/internal/settlement"
	"github.com/careops/go-settle/pkg/circuitbreaker"
)

// Config holds gateway configuration
type Config struct {
	// BaseURL is the upstream request service root, e.g. http://host/Request
	BaseURL string
	// APIKey is sent on every call
	APIKey string
	// Timeout is the HTTP client timeout
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Timeout: 15 * time.Second,
	}
}

// Client talks to the upstream clinical request service.
type Client struct {
	config  Config
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

var (
	_ settlement.RequestSource = (*Client)(nil)
	_ settlement.ItemService   = (*Client)(nil)
)

// NewClient creates a gateway client. breaker may be nil, in which case
// calls go straight through.
func NewClient(cfg Config, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig(cfg.BaseURL).Timeout
	}
	return &Client{
		config:  cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}
}

// fetchEnvelope mirrors the upstream response wrapper.
type fetchEnvelope struct {
	Data struct {
		Value []request.RawRecord `json:"value"`
	} `json:"data"`
}

// FetchActiveRequests retrieves the raw records awaiting settlement.
func (c *Client) FetchActiveRequests(ctx context.Context) ([]request.RawRecord, error) {
	var envelope fetchEnvelope
	err := c.execute(ctx, "fetch", "", func() error {
		return c.getJSON(ctx, c.config.BaseURL+"/doctor/get-request-pharma", &envelope)
	})
	if err != nil {
		return nil, err
	}
	return envelope.Data.Value, nil
}

// CancelItem issues the phase-1 cancel primitive for one item.
func (c *Client) CancelItem(ctx context.Context, itemID string) error {
	return c.execute(ctx, "cancel", itemID, func() error {
		url := fmt.Sprintf("%s/doctor/cancel-request/%s", c.config.BaseURL, itemID)
		return c.do(ctx, http.MethodDelete, url, nil)
	})
}

// submitPayload mirrors the upstream pend-request body.
type submitPayload struct {
	ID                string          `json:"id"`
	PatientCardNumber string          `json:"patientCardnumber"`
	GroupID           string          `json:"groupId"`
	Price             decimal.Decimal `json:"price"`
}

// SubmitItem issues the phase-2 submit primitive for one included item.
func (c *Client) SubmitItem(ctx context.Context, req settlement.SubmitRequest) error {
	return c.execute(ctx, "submit", req.ItemID, func() error {
		payload := submitPayload{
			ID:                req.ItemID,
			PatientCardNumber: req.SubjectID,
			GroupID:           req.BatchID,
			Price:             req.Amount,
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		return c.do(ctx, http.MethodPut, c.config.BaseURL+"/doctor/pend-request", body)
	})
}

// execute runs one upstream call through the breaker and wraps failures as
// transport errors.
func (c *Client) execute(ctx context.Context, op, itemID string, fn func() error) error {
	call := func() (interface{}, error) { return nil, fn() }

	var err error
	if c.breaker != nil {
		_, err = c.breaker.Execute(ctx, call)
	} else {
		_, err = call()
	}
	if err != nil {
		c.logger.Warn("upstream call failed",
			zap.String("op", op),
			zap.String("item_id", itemID),
			zap.Error(err))
		return &settlement.TransportError{Op: op, ItemID: itemID, Err: err}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("X-API-Key", c.config.APIKey)
	}
}
