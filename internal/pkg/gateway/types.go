package gateway

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ChargeRequest asks the gateway to charge a stored billing key. The
// idempotency key makes repeated submissions one logical charge: the
// gateway replays the original outcome instead of charging again.
type ChargeRequest struct {
	BillingKey     string          `json:"billing_key"`
	IdempotencyKey string          `json:"-"`
	OrderName      string          `json:"order_name"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
}

// ChargeResult is the business outcome of a charge attempt. A declined
// charge is a result, not an error; errors are reserved for faults
// (connectivity, timeouts, gateway 5xx).
type ChargeResult struct {
	Approved       bool   `json:"approved"`
	TransactionID  string `json:"transaction_id"`
	FailureCode    string `json:"failure_code,omitempty"`
	FailureMessage string `json:"failure_message,omitempty"`
	// Retriable is false when the gateway marks the decline permanent
	// (e.g. a removed billing key); retrying is pointless then.
	Retriable bool `json:"retriable"`
}

// Error represents a gateway fault. Declines never surface as Error.
type Error struct {
	StatusCode int
	Message    string
	Transient  bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway: %s (status %d)", e.Message, e.StatusCode)
}

// IsTransient reports whether the fault is worth retrying in a later run
// (timeouts, transport errors, gateway 5xx).
func IsTransient(err error) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Transient
	}
	// Transport-level failures (DNS, connection reset, context deadline)
	// are transient by nature.
	return err != nil
}
