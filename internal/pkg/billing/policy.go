package billing

import (
	"strings"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/env"
)

// RenewalPolicy captures the country-dependent rules around switching
// automatic renewal off and on. The two variants exist because some
// jurisdictions require a full cancellation instead of a silent auto-renew
// toggle.
type RenewalPolicy interface {
	Name() string
	// DisableAutoRenew applies the country's semantics for turning
	// automatic renewal off.
	DisableAutoRenew(sub *models.Subscription)
	// CanEnableAutoRenew reports whether auto-renew may be switched back
	// on given the user's stored-credential situation.
	CanEnableAutoRenew(hasActiveCredential bool) bool
}

// cancelOnlyPolicy: turning auto-renew off cancels the recurring contract
// as a whole; it cannot be re-enabled on the same subscription.
type cancelOnlyPolicy struct{}

func (cancelOnlyPolicy) Name() string { return "cancel_only" }

func (cancelOnlyPolicy) DisableAutoRenew(sub *models.Subscription) {
	sub.AutoRenew = false
	sub.RecurringStatus = models.RecurringStatusCancelled
	sub.NextBillingDate = nil
}

func (cancelOnlyPolicy) CanEnableAutoRenew(bool) bool { return false }

// togglePolicy: auto-renew is an independent switch; re-enabling requires
// an active stored credential to charge.
type togglePolicy struct{}

func (togglePolicy) Name() string { return "toggle" }

func (togglePolicy) DisableAutoRenew(sub *models.Subscription) {
	sub.AutoRenew = false
	sub.NextBillingDate = nil
}

func (togglePolicy) CanEnableAutoRenew(hasActiveCredential bool) bool {
	return hasActiveCredential
}

// PolicyForCountry resolves the renewal policy for an ISO-3166 alpha-2
// country code. The cancel-only set comes from the environment so legal
// can extend it without a deploy.
func PolicyForCountry(countryCode string) RenewalPolicy {
	code := strings.ToUpper(strings.TrimSpace(countryCode))
	for _, c := range strings.Split(env.GetEnv("BILLING_CANCEL_ONLY_COUNTRIES", "KR"), ",") {
		if code != "" && code == strings.ToUpper(strings.TrimSpace(c)) {
			return cancelOnlyPolicy{}
		}
	}
	return togglePolicy{}
}
