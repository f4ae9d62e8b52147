package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// EventPayload is the JSON body the gateway posts. EventID may instead
// arrive in a delivery header; Data's shape depends on the event type.
type EventPayload struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType" validate:"required"`
	Timestamp string          `json:"timestamp" validate:"required"`
	Data      json.RawMessage `json:"data" validate:"required"`
}

// EventData is the superset of fields the individual event types carry.
type EventData struct {
	SubscriptionID uint            `json:"subscriptionId"`
	UserID         uint            `json:"userId"`
	BillingKey     string          `json:"billingKey"`
	TransactionID  string          `json:"transactionId"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason"`
	IssuedAt       *time.Time      `json:"issuedAt,omitempty"`
}

// ParsedTimestamp returns the payload timestamp when it is RFC3339, nil
// otherwise. A bad timestamp alone does not reject the event.
func (p *EventPayload) ParsedTimestamp() *time.Time {
	t, err := time.Parse(time.RFC3339, p.Timestamp)
	if err != nil {
		return nil
	}
	return &t
}

// FallbackEventID derives a deterministic identifier from the payload
// bytes for gateways that omit one. Identical redeliveries still
// deduplicate.
func FallbackEventID(payload []byte) string {
	sum := sha256.Sum256(payload)
	return "hash:" + hex.EncodeToString(sum[:])
}

// RetryReport summarizes one webhook retry run.
type RetryReport struct {
	RunID     string    `json:"run_id"`
	Scanned   int       `json:"scanned"`
	Recovered int       `json:"recovered"`
	Failed    int       `json:"failed"`
	StartedAt time.Time `json:"started_at"`
}
