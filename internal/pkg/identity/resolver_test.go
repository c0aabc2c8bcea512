package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acastrillo/spotbuddy/app/models"
	"github.com/acastrillo/spotbuddy/app/repository"
	"github.com/acastrillo/spotbuddy/app/repository/memory"
	"github.com/acastrillo/spotbuddy/internal/pkg/metrics/counter"
)

var t0 = time.Date(2025, 6, 11, 12, 0, 0, 0, time.UTC)

func verified(v bool) *bool { return &v }

type recordedMetrics struct {
	mu    sync.Mutex
	names []string
}

func (m *recordedMetrics) Incr(_ context.Context, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = append(m.names, name)
}

func (m *recordedMetrics) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, got := range m.names {
		if got == name {
			n++
		}
	}
	return n
}

type notifierFunc func(ctx context.Context, a *models.Account) error

func (f notifierFunc) NotifyNewAccount(ctx context.Context, a *models.Account) error { return f(ctx, a) }

// missingUntilAll makes the first n email lookups block until all n have
// arrived, then report not-found, so every caller takes the create path.
type missingUntilAll struct {
	repository.AccountRepository
	n       int32
	arrived int32
	release chan struct{}
}

func (m *missingUntilAll) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	seq := atomic.AddInt32(&m.arrived, 1)
	if seq > m.n {
		return m.AccountRepository.GetByEmail(ctx, email)
	}
	if seq == m.n {
		close(m.release)
	}
	<-m.release
	return nil, repository.ErrNotFound
}

// staleClaim simulates a creator that died after claiming the email.
type staleClaim struct {
	repository.AccountRepository
	claim     repository.EmailClaim
	conflicts int
	released  []string
}

func (s *staleClaim) Upsert(ctx context.Context, a *models.Account, opts repository.UpsertOptions) (repository.UpsertResult, error) {
	if opts.RequireAbsent && s.conflicts > 0 {
		s.conflicts--
		return repository.UpsertConflict, nil
	}
	return s.AccountRepository.Upsert(ctx, a, opts)
}

func (s *staleClaim) LookupEmailClaim(context.Context, string) (*repository.EmailClaim, error) {
	c := s.claim
	return &c, nil
}

func (s *staleClaim) ReleaseEmailClaim(_ context.Context, _ string, accountID string) error {
	s.released = append(s.released, accountID)
	return nil
}

func newTestResolver(accounts repository.AccountRepository, opts ...Option) *Resolver {
	var seq int64
	base := []Option{
		WithClock(func() time.Time { return t0 }),
		WithIDGenerator(func() string { return fmt.Sprintf("acct-%03d", atomic.AddInt64(&seq, 1)) }),
	}
	return NewResolver(accounts, append(base, opts...)...)
}

func TestConcurrentFirstSignInsConverge(t *testing.T) {
	store := memory.New(memory.WithClock(func() time.Time { return t0 }))
	const n = 8
	accounts := &missingUntilAll{AccountRepository: store, n: n, release: make(chan struct{})}
	metrics := &recordedMetrics{}
	r := newTestResolver(accounts, WithMetrics(metrics))

	ids := make([]string, n)
	created := int32(0)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), Assertion{Email: "Racer@Example.com", Provider: "google"})
			if !assert.NoError(t, err) {
				return
			}
			ids[i] = res.AccountID
			if res.Created {
				atomic.AddInt32(&created, 1)
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, int32(1), created)
	assert.Equal(t, 1, store.Len())
	assert.Zero(t, metrics.count(counter.DuplicateIdentity))
}

func TestMergePreservesSubscriptionAndUsage(t *testing.T) {
	store := memory.New(memory.WithClock(func() time.Time { return t0.Add(-time.Hour) }))
	ctx := context.Background()

	existing := models.NewAccount("acct-x", "x@example.com", t0.Add(-48*time.Hour))
	existing.FirstName = "Xena"
	existing.LastName = "Warrior"
	existing.Tier = models.TierPro
	existing.Status = models.StatusActive
	customer := "cus_123"
	existing.BillingCustomerID = &customer
	existing.OCRUsed = 4
	existing.OnboardingCompleted = true
	_, err := store.Upsert(ctx, existing, repository.UpsertOptions{RequireAbsent: true})
	require.NoError(t, err)

	r := newTestResolver(store)
	res, err := r.Resolve(ctx, Assertion{Email: "X@example.com", Provider: "facebook", GivenName: "", FamilyName: "Princess", EmailVerified: verified(true)})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "acct-x", res.AccountID)

	got, err := store.Get(ctx, "acct-x", true)
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, got.Tier)
	require.NotNil(t, got.BillingCustomerID)
	assert.Equal(t, "cus_123", *got.BillingCustomerID)
	assert.Equal(t, int64(4), got.OCRUsed)
	assert.True(t, got.OnboardingCompleted)
	assert.Equal(t, "Xena", got.FirstName)
	assert.Equal(t, "Princess", got.LastName)
	assert.Equal(t, "facebook", got.LastLoginProvider)
	require.NotNil(t, got.LastLoginAt)
	assert.Equal(t, t0, *got.LastLoginAt)
	assert.Equal(t, existing.CreatedAt, got.CreatedAt)
}

func TestUnverifiedEmailTouchesNothing(t *testing.T) {
	// Any store call on a nil embedded repository panics.
	r := newTestResolver(struct{ repository.AccountRepository }{})

	_, err := r.Resolve(context.Background(), Assertion{Email: "u@example.com", Provider: "google", EmailVerified: verified(false)})
	assert.ErrorIs(t, err, ErrEmailNotVerified)

	_, err = r.Resolve(context.Background(), Assertion{Email: "not-an-email", Provider: "google"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDuplicateRecordsAreReported(t *testing.T) {
	store := memory.New(memory.WithClock(func() time.Time { return t0 }))
	ctx := context.Background()
	older := models.NewAccount("b-older", "dup@example.com", t0.Add(-2*time.Hour))
	newer := models.NewAccount("a-newer", "dup@example.com", t0.Add(-time.Hour))
	for _, a := range []*models.Account{older, newer} {
		_, err := store.Upsert(ctx, a, repository.UpsertOptions{})
		require.NoError(t, err)
	}

	metrics := &recordedMetrics{}
	r := newTestResolver(store, WithMetrics(metrics))
	res, err := r.Resolve(ctx, Assertion{Email: "dup@example.com", Provider: "google"})
	require.NoError(t, err)

	assert.Equal(t, "b-older", res.AccountID)
	assert.Equal(t, 1, metrics.count(counter.DuplicateIdentity))
	assert.Equal(t, 2, store.Len())
}

func TestNotifierFailureDoesNotFailSignIn(t *testing.T) {
	store := memory.New()
	var calls int32
	r := newTestResolver(store, WithNotifier(notifierFunc(func(_ context.Context, a *models.Account) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("smtp down")
	})))

	res, err := r.Resolve(context.Background(), Assertion{Email: "new@example.com", Provider: "google", GivenName: "Nia"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	require.NotNil(t, res.Account)
	assert.Equal(t, "Nia", res.Account.FirstName)

	r.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Second sign-in merges and does not notify again.
	res, err = r.Resolve(context.Background(), Assertion{Email: "new@example.com", Provider: "google"})
	require.NoError(t, err)
	assert.False(t, res.Created)
	r.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNotifierPanicIsContained(t *testing.T) {
	r := newTestResolver(memory.New(), WithNotifier(notifierFunc(func(context.Context, *models.Account) error {
		panic("boom")
	})))

	res, err := r.Resolve(context.Background(), Assertion{Email: "p@example.com", Provider: "google"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	r.Wait()
}

func TestOrphanedClaimIsReleasedAndCreationRetried(t *testing.T) {
	store := memory.New(memory.WithClock(func() time.Time { return t0 }))
	accounts := &staleClaim{
		AccountRepository: store,
		claim:             repository.EmailClaim{Email: "o@example.com", AccountID: "ghost", ClaimedAt: t0.Add(-time.Hour)},
		conflicts:         1,
	}
	r := newTestResolver(accounts)

	res, err := r.Resolve(context.Background(), Assertion{Email: "o@example.com", Provider: "google"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, []string{"ghost"}, accounts.released)
	assert.Equal(t, 1, store.Len())
}

func TestFreshClaimWithoutRecordAdoptsClaimedID(t *testing.T) {
	store := memory.New()
	accounts := &staleClaim{
		AccountRepository: store,
		claim:             repository.EmailClaim{Email: "f@example.com", AccountID: "in-flight", ClaimedAt: t0},
		conflicts:         1,
	}
	r := newTestResolver(accounts)

	res, err := r.Resolve(context.Background(), Assertion{Email: "f@example.com", Provider: "google"})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "in-flight", res.AccountID)
	assert.Nil(t, res.Account)
	assert.Empty(t, accounts.released)
}

func TestStoreOutageSurfaces(t *testing.T) {
	store := memory.New()
	r := newTestResolver(store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, Assertion{Email: "down@example.com", Provider: "google"})
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)
}
