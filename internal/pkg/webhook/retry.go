package webhook

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/env"
)

const retryBatchLimit = 200

// RetryJob re-drives unprocessed webhook events and prunes old ones.
type RetryJob struct {
	dispatcher *Dispatcher
	events     repository.WebhookEventRepository
	lookback   time.Duration
	maxRetries int
}

// NewRetryJob creates the webhook retry/cleanup job.
func NewRetryJob(dispatcher *Dispatcher, events repository.WebhookEventRepository) *RetryJob {
	lookbackHours := 24
	if v, err := strconv.Atoi(env.GetEnv("WEBHOOK_RETRY_LOOKBACK_HOURS", "24")); err == nil && v > 0 {
		lookbackHours = v
	}
	maxRetries := 5
	if v, err := strconv.Atoi(env.GetEnv("WEBHOOK_MAX_RETRIES", "5")); err == nil && v > 0 {
		maxRetries = v
	}
	return &RetryJob{
		dispatcher: dispatcher,
		events:     events,
		lookback:   time.Duration(lookbackHours) * time.Hour,
		maxRetries: maxRetries,
	}
}

// ProcessFailedWebhooks re-attempts unprocessed events within the lookback
// window. Events that exhaust their retry budget drop out of the scan and
// stay visible for manual intervention.
func (j *RetryJob) ProcessFailedWebhooks(ctx context.Context) (*RetryReport, error) {
	report := &RetryReport{RunID: uuid.NewString(), StartedAt: time.Now()}

	pending, err := j.events.FindUnprocessed(report.StartedAt.Add(-j.lookback), j.maxRetries, retryBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("find unprocessed webhook events: %w", err)
	}

	log.Infof("[WebhookRetry] run %s: %d unprocessed events", report.RunID, len(pending))

	for i := range pending {
		ev := pending[i]
		report.Scanned++

		payload, err := j.dispatcher.ParsePayload([]byte(ev.PayloadJSON))
		if err != nil {
			// A payload that no longer parses will never succeed; burn a
			// retry slot each run until the budget excludes it.
			if recErr := j.events.RecordFailure(ev.ID, err.Error()); recErr != nil {
				log.Errorf("[WebhookRetry] record parse failure for event %s: %v", ev.EventID, recErr)
			}
			report.Failed++
			continue
		}

		if err := j.dispatcher.Process(ctx, &ev, payload); err != nil {
			log.Warnf("[WebhookRetry] event %s still failing (attempt %d): %v", ev.EventID, ev.RetryCount+1, err)
			report.Failed++
			continue
		}
		report.Recovered++
	}

	return report, nil
}

// CleanupOldWebhooks deletes processed events older than the retention
// horizon and returns the count removed. Pure storage hygiene.
func (j *RetryJob) CleanupOldWebhooks(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	removed, err := j.events.DeleteProcessedOlderThan(cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup webhook events: %w", err)
	}
	if removed > 0 {
		log.Infof("[WebhookRetry] removed %d processed events older than %d days", removed, retentionDays)
	}
	return removed, nil
}
