// Package memory is an in-process store with the same conditional-write
// semantics as the DynamoDB repositories. It backs tests and local runs
// without AWS credentials.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/acastrillo/spotbuddy/app/models"
	"github.com/acastrillo/spotbuddy/app/repository"
)

const defaultRetention = 7 * 24 * time.Hour

// Store implements AccountRepository, CounterRepository and LedgerRepository.
type Store struct {
	mu        sync.RWMutex
	accounts  map[string]*models.Account
	claims    map[string]repository.EmailClaim
	ledger    map[string]models.ProcessedEvent
	retention time.Duration
	now       func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRetention sets the ledger retention window.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		accounts:  make(map[string]*models.Account),
		claims:    make(map[string]repository.EmailClaim),
		ledger:    make(map[string]models.ProcessedEvent),
		retention: defaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Repositories exposes the store through the repository contracts.
func (s *Store) Repositories() *repository.Repositories {
	return &repository.Repositories{Accounts: s, Counters: s, Ledger: s}
}

// Len returns the number of account records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// LedgerLen returns the number of ledger entries, expired ones included.
func (s *Store) LedgerLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ledger)
}

func checkContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return &repository.StoreError{Op: op, Err: err}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string, _ bool) (*models.Account, error) {
	if err := checkContext(ctx, "get account"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a.Clone(), nil
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	all, err := s.GetAllByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, repository.ErrNotFound
	}
	return &all[0], nil
}

func (s *Store) GetAllByEmail(ctx context.Context, email string) ([]models.Account, error) {
	if err := checkContext(ctx, "query email index"); err != nil {
		return nil, err
	}
	normalized := models.NormalizeEmail(email)
	if normalized == "" {
		return nil, nil
	}
	s.mu.RLock()
	var out []models.Account
	for _, a := range s.accounts {
		if a.Email == normalized {
			out = append(out, *a.Clone())
		}
	}
	s.mu.RUnlock()
	models.SortCanonical(out)
	return out, nil
}

func (s *Store) GetByBillingCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	if err := checkContext(ctx, "query customer index"); err != nil {
		return nil, err
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, repository.ErrNotFound
	}
	s.mu.RLock()
	var matches []models.Account
	for _, a := range s.accounts {
		if a.BillingCustomerID != nil && *a.BillingCustomerID == customerID {
			matches = append(matches, *a.Clone())
		}
	}
	s.mu.RUnlock()
	canonical := models.CanonicalAccount(matches)
	if canonical == nil {
		return nil, repository.ErrNotFound
	}
	return canonical, nil
}

func (s *Store) LookupEmailClaim(ctx context.Context, email string) (*repository.EmailClaim, error) {
	if err := checkContext(ctx, "lookup email claim"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	claim, ok := s.claims[models.NormalizeEmail(email)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &claim, nil
}

func (s *Store) ReleaseEmailClaim(ctx context.Context, email, accountID string) error {
	if err := checkContext(ctx, "release email claim"); err != nil {
		return err
	}
	normalized := models.NormalizeEmail(email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if claim, ok := s.claims[normalized]; ok && claim.AccountID == accountID {
		delete(s.claims, normalized)
	}
	return nil
}

func (s *Store) Upsert(ctx context.Context, account *models.Account, opts repository.UpsertOptions) (repository.UpsertResult, error) {
	if account == nil || account.ID == "" {
		return 0, fmt.Errorf("%w: upsert requires an account id", repository.ErrInvalidArgument)
	}
	if err := checkContext(ctx, "upsert account"); err != nil {
		return 0, err
	}
	now := s.now().UTC()
	account.Email = models.NormalizeEmail(account.Email)
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.accounts[account.ID]
	if !opts.RequireAbsent {
		if opts.ExpectedUpdatedAt != nil && (!exists || !stored.UpdatedAt.Equal(*opts.ExpectedUpdatedAt)) {
			return repository.UpsertConflict, nil
		}
		s.accounts[account.ID] = account.Clone()
		if exists {
			return repository.UpsertUpdated, nil
		}
		return repository.UpsertCreated, nil
	}

	if account.Email != "" {
		if claim, ok := s.claims[account.Email]; ok && claim.AccountID != account.ID {
			return repository.UpsertConflict, nil
		}
	}
	if exists {
		return repository.UpsertConflict, nil
	}
	if account.Email != "" {
		s.claims[account.Email] = repository.EmailClaim{Email: account.Email, AccountID: account.ID, ClaimedAt: now}
	}
	s.accounts[account.ID] = account.Clone()
	return repository.UpsertCreated, nil
}

// mutate applies fn to the stored record under the write lock and stamps
// updatedAt. A missing record is ErrNotFound.
func (s *Store) mutate(ctx context.Context, op, id string, fn func(a *models.Account, now time.Time)) (*models.Account, error) {
	if err := checkContext(ctx, op); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	fn(a, now)
	a.UpdatedAt = now
	return a.Clone(), nil
}

func (s *Store) UpdateSubscription(ctx context.Context, id string, u repository.SubscriptionUpdate) (*models.Account, error) {
	return s.mutate(ctx, "update subscription", id, func(a *models.Account, _ time.Time) {
		if u.Tier != nil {
			a.Tier = *u.Tier
		}
		if u.Status != nil {
			a.Status = *u.Status
		}
		if u.BillingCustomerID != nil {
			if *u.BillingCustomerID == "" {
				a.BillingCustomerID = nil
			} else {
				v := *u.BillingCustomerID
				a.BillingCustomerID = &v
			}
		}
		if u.BillingSubscriptionID != nil {
			a.BillingSubscriptionID = *u.BillingSubscriptionID
		}
		if u.PeriodStart != nil {
			v := u.PeriodStart.UTC()
			a.PeriodStart = &v
		}
		if u.PeriodEnd != nil {
			v := u.PeriodEnd.UTC()
			a.PeriodEnd = &v
		}
		if u.TrialEndsAt != nil {
			v := u.TrialEndsAt.UTC()
			a.TrialEndsAt = &v
		}
	})
}

func (s *Store) UpdateProfile(ctx context.Context, id string, u repository.ProfileUpdate) (*models.Account, error) {
	return s.mutate(ctx, "update profile", id, func(a *models.Account, _ time.Time) {
		if u.FirstName != nil {
			a.FirstName = strings.TrimSpace(*u.FirstName)
		}
		if u.LastName != nil {
			a.LastName = strings.TrimSpace(*u.LastName)
		}
		if u.OnboardingCompleted != nil {
			a.OnboardingCompleted = *u.OnboardingCompleted
		}
		if u.OnboardingSkipped != nil {
			a.OnboardingSkipped = *u.OnboardingSkipped
		}
	})
}

func (s *Store) SetDisabled(ctx context.Context, id string, u repository.DisableUpdate) (*models.Account, error) {
	return s.mutate(ctx, "set disabled", id, func(a *models.Account, now time.Time) {
		a.IsDisabled = u.Disabled
		if u.Disabled {
			at := now
			a.DisabledAt = &at
			a.DisabledBy = u.By
			a.DisabledReason = u.Reason
			return
		}
		a.DisabledAt = nil
		a.DisabledBy = ""
		a.DisabledReason = ""
	})
}

func counterPtr(a *models.Account, field models.CounterField) (*int64, **time.Time) {
	switch field {
	case models.CounterOCR:
		return &a.OCRUsed, &a.OCRResetAt
	case models.CounterAIRequests:
		return &a.AIRequestsUsed, &a.AIRequestsResetAt
	case models.CounterWorkouts:
		return &a.WorkoutsSaved, &a.WorkoutsResetAt
	default:
		return nil, nil
	}
}

func validCounter(field models.CounterField, amount int64) error {
	if !field.Valid() {
		return fmt.Errorf("%w: unknown counter %q", repository.ErrInvalidArgument, field)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: counter amount must be positive, got %d", repository.ErrInvalidArgument, amount)
	}
	return nil
}

func (s *Store) Increment(ctx context.Context, id string, field models.CounterField, amount int64) (int64, error) {
	if err := validCounter(field, amount); err != nil {
		return 0, err
	}
	a, err := s.mutate(ctx, "increment "+field.Key(), id, func(a *models.Account, _ time.Time) {
		v, _ := counterPtr(a, field)
		*v += amount
	})
	if err != nil {
		return 0, err
	}
	return a.CounterValue(field), nil
}

// Decrement keeps the read-then-write shape of the DynamoDB store: the read
// and the write take the lock separately.
func (s *Store) Decrement(ctx context.Context, id string, field models.CounterField, amount int64) (int64, error) {
	if err := validCounter(field, amount); err != nil {
		return 0, err
	}
	current, err := s.Get(ctx, id, true)
	if err != nil {
		return 0, err
	}
	next := current.CounterValue(field) - amount
	if next < 0 {
		next = 0
	}
	a, err := s.mutate(ctx, "decrement "+field.Key(), id, func(a *models.Account, _ time.Time) {
		v, _ := counterPtr(a, field)
		*v = next
	})
	if err != nil {
		return 0, err
	}
	return a.CounterValue(field), nil
}

func (s *Store) Reset(ctx context.Context, id string, field models.CounterField, stampReset bool) error {
	if !field.Valid() {
		return fmt.Errorf("%w: unknown counter %q", repository.ErrInvalidArgument, field)
	}
	_, err := s.mutate(ctx, "reset "+field.Key(), id, func(a *models.Account, now time.Time) {
		v, resetAt := counterPtr(a, field)
		*v = 0
		if stampReset {
			at := now.Truncate(time.Second)
			*resetAt = &at
		}
	})
	return err
}

// RollOver tests the stored reset stamp and writes under one lock. A lost
// condition leaves the record, updatedAt included, untouched.
func (s *Store) RollOver(ctx context.Context, id string, field models.CounterField, periodStart time.Time) (bool, int64, error) {
	if !field.Valid() {
		return false, 0, fmt.Errorf("%w: unknown counter %q", repository.ErrInvalidArgument, field)
	}
	if err := checkContext(ctx, "roll over "+field.Key()); err != nil {
		return false, 0, err
	}
	now := s.now().UTC().Truncate(time.Second)
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return false, 0, repository.ErrNotFound
	}
	v, resetAt := counterPtr(a, field)
	if *resetAt != nil && !(*resetAt).Before(periodStart) {
		return false, *v, nil
	}
	*v = 0
	*resetAt = &now
	a.UpdatedAt = now
	return true, 0, nil
}

func (s *Store) IsProcessed(ctx context.Context, eventID string) (*models.ProcessedEvent, error) {
	if err := checkContext(ctx, "get ledger entry"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.ledger[strings.TrimSpace(eventID)]
	if !ok || entry.Expired(s.now()) {
		return nil, repository.ErrNotFound
	}
	return &entry, nil
}

func (s *Store) MarkProcessed(ctx context.Context, eventID, eventType string) (repository.MarkResult, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return 0, fmt.Errorf("%w: event id is required", repository.ErrInvalidArgument)
	}
	if err := checkContext(ctx, "mark processed"); err != nil {
		return 0, err
	}
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.ledger[eventID]; ok && !entry.Expired(now) {
		return repository.MarkDuplicate, nil
	}
	s.ledger[eventID] = *models.NewProcessedEvent(eventID, eventType, now, s.retention)
	return repository.MarkRecorded, nil
}

func (s *Store) Unmark(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ledger, strings.TrimSpace(eventID))
	return nil
}
