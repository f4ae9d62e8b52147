package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/google/uuid"
)

const defaultGatewayBaseURL = "https://api.payment-gateway.example"

// Charger is the part of the gateway the billing service depends on.
type Charger interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// Client talks to the payment gateway's REST API.
type Client struct {
	BaseURL   string
	SecretKey string

	HTTPClient *http.Client
}

// NewClientFromEnv builds a gateway client from environment configuration.
func NewClientFromEnv() *Client {
	timeout := 15
	if v, err := strconv.Atoi(env.GetEnv("GATEWAY_TIMEOUT_SECONDS", "15")); err == nil && v > 0 {
		timeout = v
	}

	return &Client{
		BaseURL:   strings.TrimRight(env.GetEnv("GATEWAY_BASE_URL", defaultGatewayBaseURL), "/"),
		SecretKey: strings.TrimSpace(env.GetEnv("GATEWAY_SECRET_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
	}
}

type chargeResponse struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Code          string `json:"code"`
	Message       string `json:"message"`
	Retriable     *bool  `json:"retriable"`
}

// Charge submits a billing-key charge. The outcome is always terminal for
// this single attempt: approved result, declined result, or an error the
// caller treats as a transient fault.
func (c *Client) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	if strings.TrimSpace(c.SecretKey) == "" {
		return nil, &Error{StatusCode: 0, Message: "GATEWAY_SECRET_KEY is not configured", Transient: false}
	}
	if strings.TrimSpace(req.BillingKey) == "" {
		return nil, &Error{StatusCode: 0, Message: "billing key is required", Transient: false}
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		return nil, &Error{StatusCode: 0, Message: "idempotency key is required", Transient: false}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode charge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/payments/charge", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build charge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.SecretKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{StatusCode: 0, Message: "charge request timed out", Transient: true}
		}
		return nil, &Error{StatusCode: 0, Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Message: "read charge response: " + err.Error(), Transient: true}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var cr chargeResponse
		if err := json.Unmarshal(raw, &cr); err != nil {
			return nil, &Error{StatusCode: resp.StatusCode, Message: "malformed charge response", Transient: true}
		}
		return &ChargeResult{Approved: true, TransactionID: cr.TransactionID}, nil

	case resp.StatusCode == http.StatusPaymentRequired || resp.StatusCode == http.StatusUnprocessableEntity:
		// Explicit decline: a business outcome, not a fault.
		var cr chargeResponse
		if err := json.Unmarshal(raw, &cr); err != nil {
			return nil, &Error{StatusCode: resp.StatusCode, Message: "malformed decline response", Transient: true}
		}
		retriable := true
		if cr.Retriable != nil {
			retriable = *cr.Retriable
		}
		return &ChargeResult{
			Approved:       false,
			TransactionID:  cr.TransactionID,
			FailureCode:    cr.Code,
			FailureMessage: cr.Message,
			Retriable:      retriable,
		}, nil

	case resp.StatusCode >= 500:
		return nil, &Error{StatusCode: resp.StatusCode, Message: "gateway unavailable", Transient: true}

	default:
		return nil, &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw)), Transient: false}
	}
}

// RemoveBillingKey revokes a stored credential at the gateway.
func (c *Client) RemoveBillingKey(ctx context.Context, billingKey string) error {
	if strings.TrimSpace(billingKey) == "" {
		return errors.New("billing key is required")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.BaseURL+"/v1/billing-keys/"+billingKey, nil)
	if err != nil {
		return fmt.Errorf("build remove request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.SecretKey)
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return &Error{StatusCode: 0, Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return &Error{StatusCode: resp.StatusCode, Message: "billing key removal failed", Transient: resp.StatusCode >= 500}
}
