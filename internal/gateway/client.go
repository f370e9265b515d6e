package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quickcart/order-engine/internal/redisx"

	"github.com/redis/go-redis/v9"
)

// ErrGatewayUnavailable is reported distinctly from validation and stock
// errors so callers can hide the payment method instead of showing a
// generic failure.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// Intent is the display payload returned to the buyer after the gateway
// accepted a payment request.
type Intent struct {
	InvoiceID   string    `json:"invoice_id"`
	Amount      int64     `json:"amount"`
	QRString    string    `json:"qr_string"`
	CheckoutURL string    `json:"checkout_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Client talks to a Pakasir-compatible QRIS payment API.
type Client struct {
	BaseURL string
	Project string
	APIKey  string

	HTTP  *http.Client
	Redis *redis.Client // optional probe-result cache
}

func (c *Client) http() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Healthy probes gateway reachability. Order creation consults this before
// offering QRIS, so an outage degrades to a hidden method rather than a
// stuck pending order. The result is cached briefly in redis.
func (c *Client) Healthy(ctx context.Context) bool {
	if c.Redis != nil {
		if v, err := c.Redis.Get(ctx, redisx.KeyGatewayHealth).Result(); err == nil {
			return v == "1"
		}
	}

	ok := c.probe(ctx)

	if c.Redis != nil {
		v := "0"
		if ok {
			v = "1"
		}
		_ = c.Redis.Set(ctx, redisx.KeyGatewayHealth, v, redisx.TTLGatewayHealth).Err()
	}
	return ok
}

func (c *Client) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.http().Do(req)
	if err != nil {
		slog.Warn("gateway health probe failed", "err", err)
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

type createResp struct {
	QRString  string    `json:"qr_string"`
	ExpiredAt time.Time `json:"expired_at"`
}

// CreateIntent asks the gateway for a QRIS payment request keyed by the
// order's invoice id. The returned expiry never exceeds orderDeadline.
func (c *Client) CreateIntent(ctx context.Context, invoiceID string, amount int64, orderDeadline time.Time) (Intent, error) {
	body, _ := json.Marshal(map[string]any{
		"project":  c.Project,
		"order_id": invoiceID,
		"amount":   amount,
		"api_key":  c.APIKey,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/api/transactioncreate/qris", bytes.NewReader(body))
	if err != nil {
		return Intent{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http().Do(req)
	if err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Intent{}, fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var cr createResp
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Intent{}, fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
	}

	expires := cr.ExpiredAt
	if expires.IsZero() || expires.After(orderDeadline) {
		expires = orderDeadline
	}
	return Intent{
		InvoiceID:   invoiceID,
		Amount:      amount,
		QRString:    cr.QRString,
		CheckoutURL: c.CheckoutURL(invoiceID),
		ExpiresAt:   expires,
	}, nil
}

// CheckStatus is a manual passthrough for support tooling; the engine
// itself relies on webhooks, not polling.
func (c *Client) CheckStatus(ctx context.Context, invoiceID string) (string, error) {
	body, _ := json.Marshal(map[string]any{
		"project":  c.Project,
		"order_id": invoiceID,
		"api_key":  c.APIKey,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/api/checkstatus", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http().Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *Client) CheckoutURL(invoiceID string) string {
	return fmt.Sprintf("%s/%s/%s", c.BaseURL, c.Project, invoiceID)
}
