package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/acastrillo/spotbuddy/app/models"
	"github.com/acastrillo/spotbuddy/app/repository"
	"github.com/acastrillo/spotbuddy/internal/pkg/metrics/counter"
)

const (
	defaultNotifyTimeout = 10 * time.Second
	// A claim older than this whose account still cannot be read was left
	// behind by a creator that died between the two writes.
	defaultOrphanClaimAfter = 30 * time.Second
	mergeAttempts           = 3
	winnerReadAttempts      = 3
	winnerReadBackoff       = 25 * time.Millisecond
)

// Notifier is told about genuinely new accounts. It runs off the request path.
type Notifier interface {
	NotifyNewAccount(ctx context.Context, account *models.Account) error
}

// Metrics receives invariant-violation signals.
type Metrics interface {
	Incr(ctx context.Context, name string)
}

// Resolution is the canonical account an assertion resolved to. Account is
// nil only when the winner of a creation race is not readable yet.
type Resolution struct {
	AccountID string
	Created   bool
	Account   *models.Account
}

// Resolver maps identity assertions to exactly one account id.
type Resolver struct {
	accounts         repository.AccountRepository
	notifier         Notifier
	metrics          Metrics
	validate         *validator.Validate
	newID            func() string
	now              func() time.Time
	notifyTimeout    time.Duration
	orphanClaimAfter time.Duration

	pending sync.WaitGroup
}

type Option func(*Resolver)

func WithNotifier(n Notifier) Option { return func(r *Resolver) { r.notifier = n } }

func WithMetrics(m Metrics) Option { return func(r *Resolver) { r.metrics = m } }

func WithIDGenerator(fn func() string) Option { return func(r *Resolver) { r.newID = fn } }

func WithClock(fn func() time.Time) Option { return func(r *Resolver) { r.now = fn } }

func WithNotifyTimeout(d time.Duration) Option { return func(r *Resolver) { r.notifyTimeout = d } }

func NewResolver(accounts repository.AccountRepository, opts ...Option) *Resolver {
	r := &Resolver{
		accounts:         accounts,
		validate:         validator.New(),
		newID:            uuid.NewString,
		now:              time.Now,
		notifyTimeout:    defaultNotifyTimeout,
		orphanClaimAfter: defaultOrphanClaimAfter,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Wait blocks until every in-flight new-account notification has finished.
func (r *Resolver) Wait() {
	r.pending.Wait()
}

// Resolve returns the canonical account for the assertion, creating it only
// when no account exists for the email.
func (r *Resolver) Resolve(ctx context.Context, assertion Assertion) (*Resolution, error) {
	a := assertion.Normalized()
	if err := a.Validate(r.validate); err != nil {
		return nil, err
	}

	var (
		res *Resolution
		err error
	)
	existing, err := r.accounts.GetByEmail(ctx, a.Email)
	switch {
	case err == nil:
		res, err = r.merge(ctx, existing.ID, a)
	case errors.Is(err, repository.ErrNotFound):
		res, err = r.create(ctx, a)
	default:
		return nil, fmt.Errorf("look up account by email: %w", err)
	}
	if err != nil {
		return nil, err
	}

	r.detectDuplicates(ctx, a.Email, res.AccountID)
	return res, nil
}

// merge re-writes an existing record: every protected field comes from a
// strongly consistent read, display names only from non-empty assertion
// values. A concurrent write between read and put is retried.
func (r *Resolver) merge(ctx context.Context, id string, a Assertion) (*Resolution, error) {
	for attempt := 1; attempt <= mergeAttempts; attempt++ {
		current, err := r.accounts.Get(ctx, id, true)
		if err != nil {
			return nil, fmt.Errorf("read account %s for merge: %w", id, err)
		}

		next := models.NewAccount(current.ID, current.Email, current.CreatedAt)
		models.CopyProtectedFields(next, current)
		next.FirstName = firstNonEmpty(a.GivenName, current.FirstName)
		next.LastName = firstNonEmpty(a.FamilyName, current.LastName)
		loginAt := r.now().UTC()
		next.LastLoginAt = &loginAt
		next.LastLoginProvider = a.Provider

		expected := current.UpdatedAt
		result, err := r.accounts.Upsert(ctx, next, repository.UpsertOptions{ExpectedUpdatedAt: &expected})
		if err != nil {
			return nil, fmt.Errorf("merge account %s: %w", id, err)
		}
		if result != repository.UpsertConflict {
			return &Resolution{AccountID: next.ID, Account: next}, nil
		}
		log.Infof("[Identity] Account %s changed during merge, retrying (%d/%d)", id, attempt, mergeAttempts)
	}

	// The record keeps changing under us; the sign-in still resolves, only
	// the login metadata is not refreshed.
	current, err := r.accounts.Get(ctx, id, true)
	if err != nil {
		return nil, fmt.Errorf("read account %s after merge conflicts: %w", id, err)
	}
	return &Resolution{AccountID: current.ID, Account: current}, nil
}

// create inserts a new record under a fresh id. Losing the race adopts the
// winner's id.
func (r *Resolver) create(ctx context.Context, a Assertion) (*Resolution, error) {
	for attempt := 0; attempt < 2; attempt++ {
		now := r.now().UTC()
		account := models.NewAccount(r.newID(), a.Email, now)
		account.FirstName = a.GivenName
		account.LastName = a.FamilyName
		account.LastLoginAt = &now
		account.LastLoginProvider = a.Provider

		result, err := r.accounts.Upsert(ctx, account, repository.UpsertOptions{RequireAbsent: true})
		if err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}
		if result == repository.UpsertCreated {
			log.Infow("[Identity] Created account", "accountId", account.ID, "provider", a.Provider)
			r.notifyAsync(account)
			return &Resolution{AccountID: account.ID, Created: true, Account: account}, nil
		}

		res, orphaned, err := r.adoptWinner(ctx, a.Email, account.ID)
		if err != nil {
			return nil, err
		}
		if !orphaned {
			return res, nil
		}
	}
	return nil, fmt.Errorf("create account for %s: email claim kept reappearing: %w", a.Email, repository.ErrStoreUnavailable)
}

// adoptWinner resolves a lost creation race to the id that won it. orphaned
// reports that a dead claim was released and creation should be retried.
func (r *Resolver) adoptWinner(ctx context.Context, email, discardedID string) (*Resolution, bool, error) {
	claim, err := r.accounts.LookupEmailClaim(ctx, email)
	if err == nil {
		winner, err := r.readWinner(ctx, claim.AccountID)
		switch {
		case err == nil:
			log.Infow("[Identity] Lost creation race, adopting winner", "accountId", winner.ID, "discardedId", discardedID)
			return &Resolution{AccountID: winner.ID, Account: winner}, false, nil
		case errors.Is(err, repository.ErrNotFound) && r.now().Sub(claim.ClaimedAt) > r.orphanClaimAfter:
			log.Warnw("[Identity] Releasing orphaned email claim", "accountId", claim.AccountID, "claimedAt", claim.ClaimedAt)
			if err := r.accounts.ReleaseEmailClaim(ctx, email, claim.AccountID); err != nil {
				return nil, false, fmt.Errorf("release orphaned email claim: %w", err)
			}
			return nil, true, nil
		case errors.Is(err, repository.ErrNotFound):
			log.Infow("[Identity] Winner not readable yet, adopting claimed id", "accountId", claim.AccountID, "discardedId", discardedID)
			return &Resolution{AccountID: claim.AccountID}, false, nil
		default:
			log.Warnf("[Identity] Reading race winner %s failed, falling back to email index: %v", claim.AccountID, err)
		}
	} else if !errors.Is(err, repository.ErrNotFound) {
		log.Warnf("[Identity] Email claim lookup failed, falling back to email index: %v", err)
	}

	existing, err := r.accounts.GetByEmail(ctx, email)
	if err == nil {
		return &Resolution{AccountID: existing.ID, Account: existing}, false, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("lost creation race but no winner is visible: %w", repository.ErrStoreUnavailable)
	}
	return nil, false, fmt.Errorf("look up race winner: %w", err)
}

// readWinner reads the winning record, giving its creator a moment to finish
// the second of its two writes.
func (r *Resolver) readWinner(ctx context.Context, id string) (*models.Account, error) {
	var lastErr error
	for attempt := 1; attempt <= winnerReadAttempts; attempt++ {
		account, err := r.accounts.Get(ctx, id, true)
		if err == nil {
			return account, nil
		}
		lastErr = err
		if !errors.Is(err, repository.ErrNotFound) || attempt == winnerReadAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, &repository.StoreError{Op: "read race winner", Err: ctx.Err()}
		case <-time.After(time.Duration(attempt) * winnerReadBackoff):
		}
	}
	return nil, lastErr
}

// detectDuplicates reports every record sharing the email. It never fails
// the sign-in and never deletes or merges anything.
func (r *Resolver) detectDuplicates(ctx context.Context, email, resolvedID string) {
	all, err := r.accounts.GetAllByEmail(ctx, email)
	if err != nil {
		log.Warnf("[Identity] Duplicate detection skipped: %v", err)
		return
	}
	if len(all) <= 1 {
		return
	}
	if r.metrics != nil {
		r.metrics.Incr(ctx, counter.DuplicateIdentity)
	}
	for _, d := range all {
		log.Errorw("[Identity] Duplicate account for email",
			"email", email,
			"accountId", d.ID,
			"createdAt", d.CreatedAt,
			"canonical", d.ID == all[0].ID,
			"resolvedId", resolvedID,
			"count", len(all),
		)
	}
}

func (r *Resolver) notifyAsync(account *models.Account) {
	if r.notifier == nil {
		return
	}
	snapshot := account.Clone()
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorf("[Identity] New-account notifier panicked for %s: %v", snapshot.ID, rec)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), r.notifyTimeout)
		defer cancel()
		if err := r.notifier.NotifyNewAccount(ctx, snapshot); err != nil {
			log.Warnf("[Identity] New-account notification failed for %s: %v", snapshot.ID, err)
		}
	}()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
