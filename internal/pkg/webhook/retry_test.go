package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/testutil"
)

func newTestRetryJob(t *testing.T) (*RetryJob, *Dispatcher, *testutil.Store) {
	t.Helper()
	d, store := newTestDispatcher(t)
	return NewRetryJob(d, store.Repositories().WebhookEvent), d, store
}

func TestProcessFailedWebhooksRecoversAfterDependencyAppears(t *testing.T) {
	job, d, store := newTestRetryJob(t)

	// event arrives before the subscription row exists, handler fails
	stored, payload := storeEvent(t, store, "evt_early", models.EventPaymentSucceeded,
		`{"subscriptionId":42,"transactionId":"tx_1","amount":"5"}`)
	require.Error(t, d.Process(context.Background(), stored, payload))
	require.False(t, store.Event("evt_early").Processed())

	// the subscription shows up (e.g. replication caught up)
	sub := seedBillableSubscription(store)

	report, err := job.ProcessFailedWebhooks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Recovered)
	assert.Equal(t, 0, report.Failed)

	assert.True(t, store.Event("evt_early").Processed())
	assert.Len(t, store.LedgerRows(sub.ID), 1)
}

func TestProcessFailedWebhooksSkipsProcessedEvents(t *testing.T) {
	job, d, store := newTestRetryJob(t)
	seedBillableSubscription(store)

	stored, payload := storeEvent(t, store, "evt_done", models.EventPaymentSucceeded,
		`{"subscriptionId":42,"transactionId":"tx_1","amount":"5"}`)
	require.NoError(t, d.Process(context.Background(), stored, payload))

	report, err := job.ProcessFailedWebhooks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
}

func TestProcessFailedWebhooksBurnsSlotsOnUnparseablePayload(t *testing.T) {
	job, _, store := newTestRetryJob(t)

	created, _, err := store.Repositories().WebhookEvent.CreateIfNotExists(&models.WebhookEvent{
		EventID:     "evt_broken",
		EventType:   models.EventPaymentSucceeded,
		PayloadJSON: "{broken json",
	})
	require.NoError(t, err)
	require.True(t, created)

	report, err := job.ProcessFailedWebhooks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	ev := store.Event("evt_broken")
	require.NotNil(t, ev)
	assert.Equal(t, 1, ev.RetryCount)
	assert.False(t, ev.Processed())
}

func TestProcessFailedWebhooksRespectsRetryBudget(t *testing.T) {
	job, _, store := newTestRetryJob(t)

	// budget already exhausted, the scan must leave the event alone
	created, stored, err := store.Repositories().WebhookEvent.CreateIfNotExists(&models.WebhookEvent{
		EventID:     "evt_exhausted",
		EventType:   models.EventPaymentSucceeded,
		PayloadJSON: "{broken json",
	})
	require.NoError(t, err)
	require.True(t, created)
	for i := 0; i < job.maxRetries; i++ {
		require.NoError(t, store.Repositories().WebhookEvent.RecordFailure(stored.ID, "still broken"))
	}

	report, err := job.ProcessFailedWebhooks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	assert.Equal(t, job.maxRetries, store.Event("evt_exhausted").RetryCount)
}

func TestCleanupOldWebhooksRemovesOnlyProcessedOldEvents(t *testing.T) {
	job, _, store := newTestRetryJob(t)

	repo := store.Repositories().WebhookEvent
	old := time.Now().AddDate(0, 0, -45)

	_, oldProcessed, err := repo.CreateIfNotExists(&models.WebhookEvent{
		EventID: "evt_old_done", EventType: "payment.succeeded", PayloadJSON: "{}", CreatedAt: old,
	})
	require.NoError(t, err)
	require.NoError(t, repo.MarkProcessed(oldProcessed.ID))

	_, _, err = repo.CreateIfNotExists(&models.WebhookEvent{
		EventID: "evt_old_pending", EventType: "payment.succeeded", PayloadJSON: "{}", CreatedAt: old,
	})
	require.NoError(t, err)

	_, freshProcessed, err := repo.CreateIfNotExists(&models.WebhookEvent{
		EventID: "evt_fresh_done", EventType: "payment.succeeded", PayloadJSON: "{}",
	})
	require.NoError(t, err)
	require.NoError(t, repo.MarkProcessed(freshProcessed.ID))

	removed, err := job.CleanupOldWebhooks(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	assert.Nil(t, store.Event("evt_old_done"), "old processed events are purged")
	assert.NotNil(t, store.Event("evt_old_pending"), "unprocessed events survive for inspection")
	assert.NotNil(t, store.Event("evt_fresh_done"), "recent events stay within retention")
}

func TestRecordCancelledPaymentAppendsLedgerRow(t *testing.T) {
	d, store := newTestDispatcher(t)
	sub := seedBillableSubscription(store)

	stored, payload := storeEvent(t, store, "evt_refund", models.EventPaymentPartiallyCancelled,
		`{"subscriptionId":42,"amount":"2.50","reason":"partial refund"}`)
	require.NoError(t, d.Process(context.Background(), stored, payload))

	rows := store.LedgerRows(sub.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.BillingStatusCancelled, rows[0].Status)
	assert.True(t, rows[0].Amount.Equal(decimal.NewFromFloat(2.50)))

	got := store.Subscription(sub.ID)
	assert.True(t, got.EndDate.Equal(sub.EndDate), "refund rows never claw back paid access")
}
