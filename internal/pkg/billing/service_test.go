package billing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
	"github.com/ManuelReschke/PayFox/internal/pkg/testutil"
)

var testNow = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func newTestService(store *testutil.Store, gw *testutil.FakeGateway) *Service {
	svc := NewService(store.Repositories(), gw, Config{
		Location:      time.UTC,
		GracePeriod:   72 * time.Hour,
		MaxRetries:    3,
		ChargeTimeout: 5 * time.Second,
	})
	svc.now = func() time.Time { return testNow }
	return svc
}

func seedSubscription(store *testutil.Store) *models.Subscription {
	store.AddUser(&models.User{ID: 1, Email: "jane@example.com", CountryCode: "DE", Status: models.STATUS_ACTIVE})
	store.AddPlan(&models.Plan{
		ID:             10,
		Code:           "premium-monthly",
		Name:           "Premium",
		Price:          decimal.NewFromFloat(9.99),
		Currency:       "USD",
		IntervalMonths: 1,
		IsActive:       true,
	})
	next := testNow.Truncate(time.Hour)
	sub := &models.Subscription{
		ID:              100,
		UserID:          1,
		PlanID:          10,
		Status:          models.SubscriptionStatusActive,
		RecurringStatus: models.RecurringStatusActive,
		AutoRenew:       true,
		NextBillingDate: &next,
		EndDate:         next,
	}
	store.AddSubscription(sub)
	return sub
}

func seedCredential(store *testutil.Store) {
	store.AddCredential(models.PaymentCredential{UserID: 1, BillingKey: "bk_live_abc", Active: true})
}

func TestProcessSubscriptionsDue_ChargesAndExtends(t *testing.T) {
	store := testutil.NewStore()
	sub := seedSubscription(store)
	seedCredential(store)
	gw := &testutil.FakeGateway{}
	svc := newTestService(store, gw)

	report, err := svc.ProcessSubscriptionsDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 0, report.Failed)

	rows := store.LedgerRows(sub.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.BillingStatusSuccess, rows[0].Status)
	assert.Equal(t, IdempotencyKey(sub.ID, *sub.NextBillingDate), rows[0].IdempotencyKey)
	assert.True(t, rows[0].Amount.Equal(decimal.NewFromFloat(9.99)))

	got := store.Subscription(sub.ID)
	wantEnd := sub.EndDate.AddDate(0, 1, 0)
	assert.True(t, got.EndDate.Equal(wantEnd), "end date should advance one interval")
	require.NotNil(t, got.NextBillingDate)
	assert.True(t, got.NextBillingDate.Equal(wantEnd), "next billing date should equal the new end date")

	require.Equal(t, 1, gw.CallCount())
	assert.Equal(t, "bk_live_abc", gw.Calls[0].BillingKey)
	assert.Equal(t, rows[0].IdempotencyKey, gw.Calls[0].IdempotencyKey)
}

func TestProcessSubscriptionsDue_RerunDoesNotChargeTwice(t *testing.T) {
	store := testutil.NewStore()
	sub := seedSubscription(store)
	seedCredential(store)
	gw := &testutil.FakeGateway{}
	svc := newTestService(store, gw)

	_, err := svc.ProcessSubscriptionsDue(context.Background())
	require.NoError(t, err)

	// A crashed run resumes by re-running the batch: the charged
	// subscription is no longer due, so nothing happens.
	report, err := svc.ProcessSubscriptionsDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed)

	// Even if the subscription row were to show up again, the ledger's
	// success row for the cycle key blocks a second charge.
	reset := store.Subscription(sub.ID)
	next := *sub.NextBillingDate
	reset.NextBillingDate = &next
	require.NoError(t, store.Repositories().Subscription.Update(reset))

	report, err = svc.ProcessSubscriptionsDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Succeeded)

	assert.Equal(t, 1, gw.CallCount(), "gateway must see exactly one charge")
	assert.Len(t, store.LedgerRows(sub.ID), 1)
}

func TestProcessSubscriptionsDue_MissingCredential(t *testing.T) {
	store := testutil.NewStore()
	sub := seedSubscription(store)
	gw := &testutil.FakeGateway{}
	svc := newTestService(store, gw)

	report, err := svc.ProcessSubscriptionsDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	rows := store.LedgerRows(sub.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.BillingStatusFailed, rows[0].Status)
	assert.Contains(t, rows[0].ErrorMessage, "no active payment credential")

	// the subscription stays due for the retry job
	got := store.Subscription(sub.ID)
	require.NotNil(t, got.NextBillingDate)
	assert.Equal(t, models.RecurringStatusActive, got.RecurringStatus)
	assert.Equal(t, 0, gw.CallCount())
}

func TestProcessSubscriptionsDue_TransientFaultKeepsSubscriptionDue(t *testing.T) {
	store := testutil.NewStore()
	sub := seedSubscription(store)
	seedCredential(store)
	gw := &testutil.FakeGateway{}
	gw.Enqueue(nil, &gateway.Error{StatusCode: 503, Message: "gateway unavailable", Transient: true})
	svc := newTestService(store, gw)

	report, err := svc.ProcessSubscriptionsDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	got := store.Subscription(sub.ID)
	require.NotNil(t, got.NextBillingDate)
	assert.True(t, got.EndDate.Equal(sub.EndDate), "a fault must not advance the paid period")

	rows := store.LedgerRows(sub.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.BillingStatusFailed, rows[0].Status)
}

func TestProcessSubscriptionsDue_NonRetriableDeclineDeactivates(t *testing.T) {
	store := testutil.NewStore()
	sub := seedSubscription(store)
	seedCredential(store)
	gw := &testutil.FakeGateway{}
	gw.Enqueue(testutil.Declined("billing_key_removed", false), nil)
	svc := newTestService(store, gw)

	report, err := svc.ProcessSubscriptionsDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deactivated)

	got := store.Subscription(sub.ID)
	assert.Equal(t, models.RecurringStatusInactive, got.RecurringStatus)
	assert.Nil(t, got.NextBillingDate)

	rows := store.LedgerRows(sub.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.BillingStatusFailed, rows[0].Status)
	assert.Contains(t, rows[0].ErrorMessage, "non-retriable")
}

func TestRetryFailedPayments_RecoversWithSameCycleKey(t *testing.T) {
	store := testutil.NewStore()
	sub := seedSubscription(store)
	seedCredential(store)
	gw := &testutil.FakeGateway{}
	gw.Enqueue(testutil.Declined("insufficient_funds", true), nil)
	svc := newTestService(store, gw)

	_, err := svc.ProcessSubscriptionsDue(context.Background())
	require.NoError(t, err)
	require.Len(t, store.LedgerRows(sub.ID), 1)

	report, err := svc.RetryFailedPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)

	rows := store.LedgerRows(sub.ID)
	require.Len(t, rows, 2)
	assert.Equal(t, models.BillingStatusFailed, rows[0].Status)
	assert.Equal(t, models.BillingStatusSuccess, rows[1].Status)
	assert.Equal(t, rows[0].IdempotencyKey, rows[1].IdempotencyKey, "retry must reuse the cycle's key")

	require.Equal(t, 2, gw.CallCount())
	assert.Equal(t, gw.Calls[0].IdempotencyKey, gw.Calls[1].IdempotencyKey)

	got := store.Subscription(sub.ID)
	assert.True(t, got.EndDate.Equal(sub.EndDate.AddDate(0, 1, 0)))
}

func TestRetryFailedPayments_BudgetExhaustedDeactivates(t *testing.T) {
	store := testutil.NewStore()
	sub := seedSubscription(store)
	seedCredential(store)
	gw := &testutil.FakeGateway{}
	gw.Enqueue(testutil.Declined("insufficient_funds", true), nil)
	gw.Enqueue(testutil.Declined("insufficient_funds", true), nil)
	gw.Enqueue(testutil.Declined("insufficient_funds", true), nil)
	svc := newTestService(store, gw)

	_, err := svc.ProcessSubscriptionsDue(context.Background())
	require.NoError(t, err)

	report, err := svc.RetryFailedPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Deactivated)

	report, err = svc.RetryFailedPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deactivated, "third failure burns the budget")

	got := store.Subscription(sub.ID)
	assert.Equal(t, models.RecurringStatusInactive, got.RecurringStatus)
	assert.Nil(t, got.NextBillingDate)
	assert.Equal(t, 3, gw.CallCount())

	// a further retry run must not touch the subscription again
	report, err = svc.RetryFailedPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Deactivated)
	assert.Equal(t, 3, gw.CallCount())
}

func TestRetryFailedPayments_SkipsCycleRecoveredByWebhook(t *testing.T) {
	store := testutil.NewStore()
	sub := seedSubscription(store)
	seedCredential(store)
	gw := &testutil.FakeGateway{}
	gw.Enqueue(testutil.Declined("insufficient_funds", true), nil)
	svc := newTestService(store, gw)

	_, err := svc.ProcessSubscriptionsDue(context.Background())
	require.NoError(t, err)

	// webhook reconciliation confirmed the payment out of band
	require.NoError(t, svc.ApplyExternalPaymentSuccess(context.Background(), sub.ID, "tx_123", decimal.Zero, testNow))

	report, err := svc.RetryFailedPayments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, gw.CallCount(), "a recovered cycle must not be charged again")

	// the only gateway attempt belongs to the settled cycle, never the next one
	assert.Equal(t, IdempotencyKey(sub.ID, testNow), gw.Calls[0].IdempotencyKey)

	// the recovery already scheduled the next cycle; retrying must not move it
	current := store.Subscription(sub.ID)
	require.NotNil(t, current.NextBillingDate)
	assert.Equal(t, current.EndDate, *current.NextBillingDate)
	assert.Len(t, store.LedgerRows(sub.ID), 2, "one failed attempt plus the reconciled success")
}

func TestHealthReportsLedgerState(t *testing.T) {
	store := testutil.NewStore()
	seedSubscription(store)
	gw := &testutil.FakeGateway{}
	svc := newTestService(store, gw)

	report, err := svc.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.DueToday)
	assert.Equal(t, int64(0), report.FailedLast24h)
	assert.Nil(t, report.LastSuccessAt)

	// one failed run shows up in the failure window
	_, err = svc.ProcessSubscriptionsDue(context.Background())
	require.NoError(t, err)

	report, err = svc.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.FailedLast24h)
}

func TestIdempotencyKeyIsStablePerCycle(t *testing.T) {
	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "sub-100-2025-06-15", IdempotencyKey(100, day))
	assert.Equal(t, IdempotencyKey(100, day), IdempotencyKey(100, day.Add(13*time.Hour)))
	assert.NotEqual(t, IdempotencyKey(100, day), IdempotencyKey(100, day.AddDate(0, 0, 1)))
}
