package webhook

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/testutil"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *testutil.Store) {
	t.Helper()
	store := testutil.NewStore()
	svc := billing.NewService(store.Repositories(), &testutil.FakeGateway{}, billing.Config{
		Location: time.UTC,
	})
	return NewDispatcher(svc, store.Repositories().WebhookEvent), store
}

func seedBillableSubscription(store *testutil.Store) *models.Subscription {
	store.AddUser(&models.User{ID: 7, Email: "max@example.com", CountryCode: "DE", Status: models.STATUS_ACTIVE})
	store.AddPlan(&models.Plan{ID: 3, Code: "basic-monthly", Name: "Basic", Price: decimal.NewFromInt(5), Currency: "USD", IntervalMonths: 1, IsActive: true})
	next := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	sub := &models.Subscription{
		ID:              42,
		UserID:          7,
		PlanID:          3,
		Status:          models.SubscriptionStatusActive,
		RecurringStatus: models.RecurringStatusActive,
		AutoRenew:       true,
		NextBillingDate: &next,
		EndDate:         next,
	}
	store.AddSubscription(sub)
	return sub
}

func storeEvent(t *testing.T, store *testutil.Store, eventID, eventType, dataJSON string) (*models.WebhookEvent, *EventPayload) {
	t.Helper()
	raw := fmt.Sprintf(`{"eventId":%q,"eventType":%q,"timestamp":"2025-06-15T09:00:00Z","data":%s}`, eventID, eventType, dataJSON)
	created, stored, err := store.Repositories().WebhookEvent.CreateIfNotExists(&models.WebhookEvent{
		EventID:        eventID,
		EventType:      eventType,
		PayloadJSON:    raw,
		SignatureValid: true,
	})
	require.NoError(t, err)
	require.True(t, created)

	d := NewDispatcher(nil, nil)
	payload, err := d.ParsePayload([]byte(raw))
	require.NoError(t, err)
	return stored, payload
}

func TestParsePayloadRejectsMalformedBodies(t *testing.T) {
	d := NewDispatcher(nil, nil)

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "this is not json"},
		{"missing event type", `{"timestamp":"2025-06-15T09:00:00Z","data":{}}`},
		{"missing timestamp", `{"eventType":"payment.succeeded","data":{}}`},
		{"missing data", `{"eventType":"payment.succeeded","timestamp":"2025-06-15T09:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.ParsePayload([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestProcessPaymentSucceededRenewsSubscription(t *testing.T) {
	d, store := newTestDispatcher(t)
	sub := seedBillableSubscription(store)

	stored, payload := storeEvent(t, store, "evt_1", models.EventPaymentSucceeded,
		`{"subscriptionId":42,"transactionId":"tx_9","amount":"5"}`)

	require.NoError(t, d.Process(context.Background(), stored, payload))

	got := store.Subscription(sub.ID)
	assert.True(t, got.EndDate.Equal(sub.EndDate.AddDate(0, 1, 0)))

	rows := store.LedgerRows(sub.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.BillingStatusSuccess, rows[0].Status)

	ev := store.Event("evt_1")
	require.NotNil(t, ev)
	assert.True(t, ev.Processed())
}

func TestProcessPaymentSucceededIsIdempotentPerCycle(t *testing.T) {
	d, store := newTestDispatcher(t)
	sub := seedBillableSubscription(store)

	stored, payload := storeEvent(t, store, "evt_1", models.EventPaymentSucceeded,
		`{"subscriptionId":42,"transactionId":"tx_9","amount":"5"}`)
	require.NoError(t, d.Process(context.Background(), stored, payload))

	// same cycle reported again under a fresh event ID
	stored2, payload2 := storeEvent(t, store, "evt_2", models.EventPaymentSucceeded,
		`{"subscriptionId":42,"transactionId":"tx_9","amount":"5"}`)

	// reset the advanced billing date so both events target the same cycle
	got := store.Subscription(sub.ID)
	next := *sub.NextBillingDate
	got.NextBillingDate = &next
	require.NoError(t, store.Repositories().Subscription.Update(got))

	require.NoError(t, d.Process(context.Background(), stored2, payload2))

	assert.Len(t, store.LedgerRows(sub.ID), 1, "one cycle, one success row")
}

func TestProcessPaymentFailedConsumesRetrySlot(t *testing.T) {
	d, store := newTestDispatcher(t)
	sub := seedBillableSubscription(store)

	stored, payload := storeEvent(t, store, "evt_1", models.EventPaymentFailed,
		`{"subscriptionId":42,"reason":"card expired"}`)
	require.NoError(t, d.Process(context.Background(), stored, payload))

	rows := store.LedgerRows(sub.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.BillingStatusFailed, rows[0].Status)
	assert.Equal(t, "card expired", rows[0].ErrorMessage)

	got := store.Subscription(sub.ID)
	assert.Equal(t, models.RecurringStatusActive, got.RecurringStatus, "one failure does not abandon recurring billing")
}

func TestProcessBillingKeyIssuedReactivatesRecurring(t *testing.T) {
	d, store := newTestDispatcher(t)
	sub := seedBillableSubscription(store)

	// recurring billing was abandoned earlier
	got := store.Subscription(sub.ID)
	got.DeactivateRecurring()
	require.NoError(t, store.Repositories().Subscription.Update(got))

	stored, payload := storeEvent(t, store, "evt_key", models.EventBillingKeyIssued,
		`{"userId":7,"billingKey":"bk_new_1"}`)
	require.NoError(t, d.Process(context.Background(), stored, payload))

	got = store.Subscription(sub.ID)
	assert.Equal(t, models.RecurringStatusActive, got.RecurringStatus)
	require.NotNil(t, got.NextBillingDate)

	hasActive, err := store.Repositories().Credential.HasActiveForUser(7)
	require.NoError(t, err)
	assert.True(t, hasActive)
}

func TestProcessBillingKeyRemovedDisablesAutoRenew(t *testing.T) {
	d, store := newTestDispatcher(t)
	sub := seedBillableSubscription(store)
	store.AddCredential(models.PaymentCredential{UserID: 7, BillingKey: "bk_old", Active: true})

	stored, payload := storeEvent(t, store, "evt_rm", models.EventBillingKeyRemoved,
		`{"userId":7,"billingKey":"bk_old"}`)
	require.NoError(t, d.Process(context.Background(), stored, payload))

	got := store.Subscription(sub.ID)
	assert.False(t, got.AutoRenew)
	assert.Nil(t, got.NextBillingDate)

	hasActive, err := store.Repositories().Credential.HasActiveForUser(7)
	require.NoError(t, err)
	assert.False(t, hasActive)
}

func TestProcessUnknownEventTypeIsAcknowledged(t *testing.T) {
	d, store := newTestDispatcher(t)

	stored, payload := storeEvent(t, store, "evt_x", "gateway.maintenance", `{}`)
	require.NoError(t, d.Process(context.Background(), stored, payload))

	ev := store.Event("evt_x")
	require.NotNil(t, ev)
	assert.True(t, ev.Processed())
}

func TestProcessHandlerFailureLeavesEventUnprocessed(t *testing.T) {
	d, store := newTestDispatcher(t)
	// subscription 42 does not exist yet

	stored, payload := storeEvent(t, store, "evt_fail", models.EventPaymentSucceeded,
		`{"subscriptionId":42,"transactionId":"tx_9"}`)
	require.Error(t, d.Process(context.Background(), stored, payload))

	ev := store.Event("evt_fail")
	require.NotNil(t, ev)
	assert.False(t, ev.Processed())
	assert.Equal(t, 1, ev.RetryCount)
	assert.NotEmpty(t, ev.LastError)
}
