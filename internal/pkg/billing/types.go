package billing

import (
	"strconv"
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/env"
)

// Config holds the tunables of the billing engine.
type Config struct {
	// Location is the timezone whose calendar days define "due today".
	Location *time.Location
	// GracePeriod bounds how long after a failed charge retries keep
	// running before recurring billing is abandoned.
	GracePeriod time.Duration
	// MaxRetries is the failed-attempt budget per billing cycle.
	MaxRetries int
	// ChargeTimeout caps a single gateway call.
	ChargeTimeout time.Duration
}

// ConfigFromEnv reads the billing configuration, falling back to the
// defaults the engine ships with.
func ConfigFromEnv() Config {
	loc, err := time.LoadLocation(env.GetEnv("APP_TIMEZONE", "Local"))
	if err != nil {
		loc = time.Local
	}
	return Config{
		Location:      loc,
		GracePeriod:   time.Duration(envInt("BILLING_GRACE_PERIOD_HOURS", 72)) * time.Hour,
		MaxRetries:    envInt("BILLING_MAX_RETRIES", 3),
		ChargeTimeout: time.Duration(envInt("GATEWAY_TIMEOUT_SECONDS", 15)) * time.Second,
	}
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(env.GetEnv(key, strconv.Itoa(def))); err == nil && v > 0 {
		return v
	}
	return def
}

// RunReport summarizes one scheduled run for the trigger endpoints and
// operator logs.
type RunReport struct {
	RunID       string    `json:"run_id"`
	Processed   int       `json:"processed"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Deactivated int       `json:"deactivated"`
	Skipped     int       `json:"skipped"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// HealthReport feeds the external uptime monitoring endpoint.
type HealthReport struct {
	DueToday      int64      `json:"due_today"`
	FailedLast24h int64      `json:"failed_last_24h"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
}
