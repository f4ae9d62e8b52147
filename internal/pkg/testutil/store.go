// Package testutil provides in-memory repository fakes and a scriptable
// gateway for exercising the billing core without MySQL.
package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/gateway"
)

// Store holds all billing state behind the repository interfaces. Reads
// hand out copies so service-side mutations only stick through the
// repository write methods, mirroring how GORM rows behave.
type Store struct {
	mu sync.Mutex

	Users  map[uint]*models.User
	Plans  map[uint]*models.Plan
	Subs   map[uint]*models.Subscription
	Ledger []models.BillingHistory
	Events []models.WebhookEvent
	Creds  []models.PaymentCredential

	nextLedgerID uint
	nextEventID  uint
	nextCredID   uint
}

func NewStore() *Store {
	return &Store{
		Users: map[uint]*models.User{},
		Plans: map[uint]*models.Plan{},
		Subs:  map[uint]*models.Subscription{},
	}
}

// Repositories exposes the store through the production interfaces.
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{
		User:           userRepo{s},
		Plan:           planRepo{s},
		Subscription:   subscriptionRepo{s},
		BillingHistory: historyRepo{s},
		WebhookEvent:   webhookRepo{s},
		Credential:     credentialRepo{s},
	}
}

// AddUser stores the user and returns it for further setup.
func (s *Store) AddUser(u *models.User) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Users[u.ID] = u
	return u
}

func (s *Store) AddPlan(p *models.Plan) *models.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Plans[p.ID] = p
	return p
}

func (s *Store) AddSubscription(sub *models.Subscription) *models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.Subs[sub.ID] = &cp
	return sub
}

func (s *Store) AddCredential(c models.PaymentCredential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCredID++
	c.ID = s.nextCredID
	s.Creds = append(s.Creds, c)
}

// Subscription returns the stored state for assertions.
func (s *Store) Subscription(id uint) *models.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.Subs[id]; ok {
		cp := *sub
		return &cp
	}
	return nil
}

// LedgerRows returns ledger entries for the subscription, oldest first.
func (s *Store) LedgerRows(subscriptionID uint) []models.BillingHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []models.BillingHistory
	for _, e := range s.Ledger {
		if e.SubscriptionID == subscriptionID {
			rows = append(rows, e)
		}
	}
	return rows
}

// Event returns the stored webhook event by its external event ID.
func (s *Store) Event(eventID string) *models.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.Events {
		if s.Events[i].EventID == eventID {
			cp := s.Events[i]
			return &cp
		}
	}
	return nil
}

func (s *Store) appendLedgerLocked(entry *models.BillingHistory) {
	s.nextLedgerID++
	entry.ID = s.nextLedgerID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.Ledger = append(s.Ledger, *entry)
}

type userRepo struct{ s *Store }

func (r userRepo) GetByID(id uint) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.Users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

type planRepo struct{ s *Store }

func (r planRepo) GetByID(id uint) (*models.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.Plans[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (r planRepo) GetByCode(code string) (*models.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.Plans {
		if p.Code == code {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

type subscriptionRepo struct{ s *Store }

func (r subscriptionRepo) Create(sub *models.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *sub
	r.s.Subs[sub.ID] = &cp
	return nil
}

func (r subscriptionRepo) GetByID(id uint) (*models.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.s.Subs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r subscriptionRepo) GetActiveByUserID(userID uint) (*models.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sub := range r.s.Subs {
		if sub.UserID == userID && sub.Status == models.SubscriptionStatusActive {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r subscriptionRepo) Update(sub *models.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *sub
	r.s.Subs[sub.ID] = &cp
	return nil
}

func (r subscriptionRepo) FindDue(dayStart, dayEnd time.Time) ([]models.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var due []models.Subscription
	for _, sub := range r.s.Subs {
		if r.isDueLocked(sub, dayStart, dayEnd) {
			due = append(due, *sub)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

func (r subscriptionRepo) CountDue(dayStart, dayEnd time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, sub := range r.s.Subs {
		if r.isDueLocked(sub, dayStart, dayEnd) {
			n++
		}
	}
	return n, nil
}

func (r subscriptionRepo) isDueLocked(sub *models.Subscription, dayStart, dayEnd time.Time) bool {
	return sub.IsChargeable() &&
		sub.NextBillingDate != nil &&
		!sub.NextBillingDate.Before(dayStart) &&
		sub.NextBillingDate.Before(dayEnd)
}

func (r subscriptionRepo) ApplyChargeSuccess(sub *models.Subscription, entry *models.BillingHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.appendLedgerLocked(entry)
	cp := *sub
	r.s.Subs[sub.ID] = &cp
	return nil
}

func (r subscriptionRepo) ApplyRecurringDeactivation(sub *models.Subscription, entry *models.BillingHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.appendLedgerLocked(entry)
	cp := *sub
	r.s.Subs[sub.ID] = &cp
	return nil
}

type historyRepo struct{ s *Store }

func (r historyRepo) Create(entry *models.BillingHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.appendLedgerLocked(entry)
	return nil
}

func (r historyRepo) HasSuccessForKey(idempotencyKey string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.Ledger {
		if e.IdempotencyKey == idempotencyKey && e.Status == models.BillingStatusSuccess {
			return true, nil
		}
	}
	return false, nil
}

func (r historyRepo) HasSuccessSince(subscriptionID uint, since time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.Ledger {
		if e.SubscriptionID == subscriptionID && e.Status == models.BillingStatusSuccess && !e.ProcessedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r historyRepo) CountFailedSince(subscriptionID uint, since time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, e := range r.s.Ledger {
		if e.SubscriptionID == subscriptionID && e.Status == models.BillingStatusFailed && !e.ProcessedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r historyRepo) SubscriptionIDsWithRecentFailure(cutoff time.Time) ([]uint, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := map[uint]bool{}
	var ids []uint
	for _, e := range r.s.Ledger {
		if e.Status == models.BillingStatusFailed && !e.ProcessedAt.Before(cutoff) && !seen[e.SubscriptionID] {
			seen[e.SubscriptionID] = true
			ids = append(ids, e.SubscriptionID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r historyRepo) CountAllFailedSince(since time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, e := range r.s.Ledger {
		if e.Status == models.BillingStatusFailed && !e.ProcessedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r historyRepo) LastSuccessAt() (*time.Time, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var last *time.Time
	for _, e := range r.s.Ledger {
		if e.Status != models.BillingStatusSuccess {
			continue
		}
		t := e.ProcessedAt
		if last == nil || t.After(*last) {
			last = &t
		}
	}
	return last, nil
}

type webhookRepo struct{ s *Store }

func (r webhookRepo) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.Events {
		if r.s.Events[i].EventID == event.EventID {
			cp := r.s.Events[i]
			return false, &cp, nil
		}
	}
	r.s.nextEventID++
	event.ID = r.s.nextEventID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	r.s.Events = append(r.s.Events, *event)
	cp := *event
	return true, &cp, nil
}

func (r webhookRepo) GetByEventID(eventID string) (*models.WebhookEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.Events {
		if r.s.Events[i].EventID == eventID {
			cp := r.s.Events[i]
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r webhookRepo) MarkProcessed(id uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.Events {
		if r.s.Events[i].ID == id {
			now := time.Now()
			r.s.Events[i].ProcessedAt = &now
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r webhookRepo) RecordFailure(id uint, processingErr string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.Events {
		if r.s.Events[i].ID == id {
			r.s.Events[i].RetryCount++
			r.s.Events[i].LastError = processingErr
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r webhookRepo) FindUnprocessed(since time.Time, maxRetries int, limit int) ([]models.WebhookEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.WebhookEvent
	for i := range r.s.Events {
		e := r.s.Events[i]
		if e.ProcessedAt == nil && e.RetryCount < maxRetries && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r webhookRepo) DeleteProcessedOlderThan(cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var kept []models.WebhookEvent
	var deleted int64
	for i := range r.s.Events {
		e := r.s.Events[i]
		if e.ProcessedAt != nil && e.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	r.s.Events = kept
	return deleted, nil
}

type credentialRepo struct{ s *Store }

func (r credentialRepo) GetActiveByUserID(userID uint) (*models.PaymentCredential, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	// the most recently stored active credential wins
	for i := len(r.s.Creds) - 1; i >= 0; i-- {
		c := r.s.Creds[i]
		if c.UserID == userID && c.Active {
			return &c, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r credentialRepo) HasActiveForUser(userID uint) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.Creds {
		if c.UserID == userID && c.Active {
			return true, nil
		}
	}
	return false, nil
}

func (r credentialRepo) UpsertBillingKey(userID uint, billingKey string, issuedAt *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.Creds {
		if r.s.Creds[i].BillingKey == billingKey {
			r.s.Creds[i].UserID = userID
			r.s.Creds[i].Active = true
			r.s.Creds[i].IssuedAt = issuedAt
			return nil
		}
	}
	r.s.nextCredID++
	r.s.Creds = append(r.s.Creds, models.PaymentCredential{
		ID:         r.s.nextCredID,
		UserID:     userID,
		BillingKey: billingKey,
		Active:     true,
		IssuedAt:   issuedAt,
	})
	return nil
}

func (r credentialRepo) DeactivateByBillingKey(billingKey string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.Creds {
		if r.s.Creds[i].BillingKey == billingKey {
			r.s.Creds[i].Active = false
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

// ChargeReply is one scripted gateway answer.
type ChargeReply struct {
	Result *gateway.ChargeResult
	Err    error
}

// FakeGateway replays scripted replies in order and approves everything
// once the script runs out.
type FakeGateway struct {
	mu     sync.Mutex
	Script []ChargeReply
	Calls  []gateway.ChargeRequest
}

func (g *FakeGateway) Charge(_ context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls = append(g.Calls, req)
	if len(g.Script) > 0 {
		reply := g.Script[0]
		g.Script = g.Script[1:]
		return reply.Result, reply.Err
	}
	return &gateway.ChargeResult{Approved: true, TransactionID: uuid.NewString()}, nil
}

// Enqueue appends a scripted reply.
func (g *FakeGateway) Enqueue(result *gateway.ChargeResult, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Script = append(g.Script, ChargeReply{Result: result, Err: err})
}

// CallCount returns how many charges the gateway has seen.
func (g *FakeGateway) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Calls)
}

// Declined builds a declined result.
func Declined(code string, retriable bool) *gateway.ChargeResult {
	return &gateway.ChargeResult{Approved: false, FailureCode: code, FailureMessage: code, Retriable: retriable}
}
