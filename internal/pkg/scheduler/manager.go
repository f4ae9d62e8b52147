package scheduler

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/ManuelReschke/PayFox/internal/pkg/billing"
	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
)

// Manager drives the recurring billing jobs in-process. The same jobs stay
// reachable over the /api/internal/jobs endpoints so an external scheduler
// can take over when SCHEDULER_ENABLED is false.
type Manager struct {
	billing       *billing.Service
	webhookRetry  *webhook.RetryJob
	billingTicker *time.Ticker
	paymentTicker *time.Ticker
	webhookTicker *time.Ticker
	cleanupTicker *time.Ticker
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// InitializeManager builds the global scheduler manager (singleton).
func InitializeManager(billingSvc *billing.Service, retry *webhook.RetryJob) *Manager {
	managerOnce.Do(func() {
		globalManager = &Manager{
			billing:      billingSvc,
			webhookRetry: retry,
			stopCh:       make(chan struct{}),
		}
	})
	return globalManager
}

// GetManager returns the global scheduler manager, nil before initialization.
func GetManager() *Manager {
	return globalManager
}

// Enabled reports whether the in-process scheduler should run at all.
func Enabled() bool {
	return env.GetEnv("SCHEDULER_ENABLED", "true") == "true"
}

// Start launches the background job tickers.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so the manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Scheduler] Starting background billing jobs")

	m.billingTicker = time.NewTicker(intervalFromEnv("SCHEDULER_BILLING_INTERVAL_MINUTES", 60))
	m.wg.Add(1)
	go m.billingWorker()

	m.paymentTicker = time.NewTicker(intervalFromEnv("SCHEDULER_PAYMENT_RETRY_INTERVAL_MINUTES", 360))
	m.wg.Add(1)
	go m.paymentRetryWorker()

	m.webhookTicker = time.NewTicker(intervalFromEnv("SCHEDULER_WEBHOOK_RETRY_INTERVAL_MINUTES", 15))
	m.wg.Add(1)
	go m.webhookRetryWorker()

	m.cleanupTicker = time.NewTicker(intervalFromEnv("SCHEDULER_CLEANUP_INTERVAL_MINUTES", 1440))
	m.wg.Add(1)
	go m.cleanupWorker()

	log.Info("[Scheduler] Started successfully")
}

// Stop halts all tickers and waits for in-flight runs to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Scheduler] Stopping background billing jobs...")

	if m.billingTicker != nil {
		m.billingTicker.Stop()
	}
	if m.paymentTicker != nil {
		m.paymentTicker.Stop()
	}
	if m.webhookTicker != nil {
		m.webhookTicker.Stop()
	}
	if m.cleanupTicker != nil {
		m.cleanupTicker.Stop()
	}

	close(m.stopCh)
	m.running = false

	m.wg.Wait()

	log.Info("[Scheduler] Stopped successfully")
}

// IsRunning returns whether the manager is currently running.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) billingWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[Scheduler] Billing worker stopping")
			return
		case <-m.billingTicker.C:
			runID := uuid.New().String()[:8]
			report, err := m.billing.ProcessSubscriptionsDue(context.Background())
			if err != nil {
				log.Errorf("[Scheduler] [%s] Billing run failed: %v", runID, err)
				continue
			}
			log.Infof("[Scheduler] [%s] Billing run done: %d processed, %d succeeded, %d failed",
				runID, report.Processed, report.Succeeded, report.Failed)
		}
	}
}

func (m *Manager) paymentRetryWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[Scheduler] Payment retry worker stopping")
			return
		case <-m.paymentTicker.C:
			runID := uuid.New().String()[:8]
			report, err := m.billing.RetryFailedPayments(context.Background())
			if err != nil {
				log.Errorf("[Scheduler] [%s] Payment retry run failed: %v", runID, err)
				continue
			}
			log.Infof("[Scheduler] [%s] Payment retry run done: %d processed, %d succeeded, %d deactivated",
				runID, report.Processed, report.Succeeded, report.Deactivated)
		}
	}
}

func (m *Manager) webhookRetryWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[Scheduler] Webhook retry worker stopping")
			return
		case <-m.webhookTicker.C:
			report, err := m.webhookRetry.ProcessFailedWebhooks(context.Background())
			if err != nil {
				log.Errorf("[Scheduler] Webhook retry run failed: %v", err)
				continue
			}
			if report.Scanned > 0 {
				log.Infof("[Scheduler] Webhook retry run done: %d scanned, %d recovered", report.Scanned, report.Recovered)
			}
		}
	}
}

func (m *Manager) cleanupWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[Scheduler] Cleanup worker stopping")
			return
		case <-m.cleanupTicker.C:
			deleted, err := m.webhookRetry.CleanupOldWebhooks(context.Background(), 30)
			if err != nil {
				log.Errorf("[Scheduler] Webhook cleanup failed: %v", err)
				continue
			}
			if deleted > 0 {
				log.Infof("[Scheduler] Webhook cleanup removed %d processed events", deleted)
			}
		}
	}
}

func intervalFromEnv(key string, defaultMinutes int) time.Duration {
	minutes := defaultMinutes
	if raw := env.GetEnv(key, ""); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			minutes = parsed
		}
	}
	return time.Duration(minutes) * time.Minute
}
