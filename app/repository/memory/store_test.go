package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acastrillo/spotbuddy/app/models"
	"github.com/acastrillo/spotbuddy/app/repository"
)

var t0 = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

func TestRequireAbsentCollidesOnEmailAcrossIDs(t *testing.T) {
	s := New(WithClock(func() time.Time { return t0 }))
	ctx := context.Background()

	res, err := s.Upsert(ctx, models.NewAccount("id-1", "new@example.com", time.Time{}), repository.UpsertOptions{RequireAbsent: true})
	require.NoError(t, err)
	assert.Equal(t, repository.UpsertCreated, res)

	res, err = s.Upsert(ctx, models.NewAccount("id-2", "NEW@example.com", time.Time{}), repository.UpsertOptions{RequireAbsent: true})
	require.NoError(t, err)
	assert.Equal(t, repository.UpsertConflict, res)
	assert.Equal(t, 1, s.Len())

	claim, err := s.LookupEmailClaim(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, "id-1", claim.AccountID)
}

func TestMergeUpsertReplacesRecord(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Upsert(ctx, models.NewAccount("id-1", "a@example.com", t0), repository.UpsertOptions{})
	require.NoError(t, err)

	a, err := s.Get(ctx, "id-1", true)
	require.NoError(t, err)
	a.FirstName = "Ana"
	res, err := s.Upsert(ctx, a, repository.UpsertOptions{})
	require.NoError(t, err)
	assert.Equal(t, repository.UpsertUpdated, res)

	got, err := s.Get(ctx, "id-1", true)
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.FirstName)
	assert.Equal(t, t0, got.CreatedAt)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Upsert(ctx, models.NewAccount("id-1", "a@example.com", t0), repository.UpsertOptions{})
	require.NoError(t, err)

	a, err := s.Get(ctx, "id-1", true)
	require.NoError(t, err)
	a.Tier = models.TierElite

	again, err := s.Get(ctx, "id-1", true)
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, again.Tier)
}

func TestConcurrentIncrementsAllLand(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Upsert(ctx, models.NewAccount("id-1", "a@example.com", t0), repository.UpsertOptions{})
	require.NoError(t, err)

	const m = 64
	var wg sync.WaitGroup
	wg.Add(m)
	for i := 0; i < m; i++ {
		go func() {
			defer wg.Done()
			_, err := s.Increment(ctx, "id-1", models.CounterOCR, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	a, err := s.Get(ctx, "id-1", true)
	require.NoError(t, err)
	assert.Equal(t, int64(m), a.OCRUsed)
}

func TestDecrementFloorsAtZeroAndResetStamps(t *testing.T) {
	s := New(WithClock(func() time.Time { return t0 }))
	ctx := context.Background()
	_, err := s.Upsert(ctx, models.NewAccount("id-1", "a@example.com", t0), repository.UpsertOptions{})
	require.NoError(t, err)
	_, err = s.Increment(ctx, "id-1", models.CounterWorkouts, 2)
	require.NoError(t, err)

	v, err := s.Decrement(ctx, "id-1", models.CounterWorkouts, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	_, err = s.Increment(ctx, "id-1", models.CounterAIRequests, 3)
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx, "id-1", models.CounterAIRequests, true))
	a, err := s.Get(ctx, "id-1", true)
	require.NoError(t, err)
	assert.Equal(t, int64(0), a.AIRequestsUsed)
	require.NotNil(t, a.AIRequestsResetAt)
	assert.Equal(t, t0, *a.AIRequestsResetAt)
}

func TestFieldScopedUpdatesOnMissingAccount(t *testing.T) {
	s := New()
	ctx := context.Background()
	tier := models.TierPro

	_, err := s.UpdateSubscription(ctx, "ghost", repository.SubscriptionUpdate{Tier: &tier})
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = s.Increment(ctx, "ghost", models.CounterOCR, 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestLedgerMarkDuplicateAndExpiry(t *testing.T) {
	now := t0
	s := New(WithClock(func() time.Time { return now }), WithRetention(time.Hour))
	ctx := context.Background()

	res, err := s.MarkProcessed(ctx, "evt_1", "subscription.updated")
	require.NoError(t, err)
	assert.Equal(t, repository.MarkRecorded, res)

	res, err = s.MarkProcessed(ctx, "evt_1", "subscription.updated")
	require.NoError(t, err)
	assert.Equal(t, repository.MarkDuplicate, res)

	_, err = s.IsProcessed(ctx, "evt_1")
	require.NoError(t, err)

	now = t0.Add(2 * time.Hour)
	_, err = s.IsProcessed(ctx, "evt_1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	res, err = s.MarkProcessed(ctx, "evt_1", "subscription.updated")
	require.NoError(t, err)
	assert.Equal(t, repository.MarkRecorded, res)
	assert.Equal(t, 1, s.LedgerLen())
}

func TestCanceledContextIsStoreUnavailable(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "id-1", true)
	assert.ErrorIs(t, err, repository.ErrStoreUnavailable)
}

func TestMergeUpsertGuardedByUpdatedAt(t *testing.T) {
	tick := t0
	s := New(WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}))
	ctx := context.Background()
	_, err := s.Upsert(ctx, models.NewAccount("id-1", "a@example.com", t0), repository.UpsertOptions{})
	require.NoError(t, err)

	read, err := s.Get(ctx, "id-1", true)
	require.NoError(t, err)
	stale := read.UpdatedAt

	tier := models.TierPro
	_, err = s.UpdateSubscription(ctx, "id-1", repository.SubscriptionUpdate{Tier: &tier})
	require.NoError(t, err)

	res, err := s.Upsert(ctx, read, repository.UpsertOptions{ExpectedUpdatedAt: &stale})
	require.NoError(t, err)
	assert.Equal(t, repository.UpsertConflict, res)

	got, err := s.Get(ctx, "id-1", true)
	require.NoError(t, err)
	assert.Equal(t, models.TierPro, got.Tier)
}

func TestRollOverOncePerPeriod(t *testing.T) {
	now := t0
	s := New(WithClock(func() time.Time { return now }))
	ctx := context.Background()
	_, err := s.Upsert(ctx, models.NewAccount("id-1", "a@example.com", t0), repository.UpsertOptions{})
	require.NoError(t, err)
	periodStart := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	rolled, v, err := s.RollOver(ctx, "id-1", models.CounterOCR, periodStart)
	require.NoError(t, err)
	assert.True(t, rolled)
	assert.Equal(t, int64(0), v)

	_, err = s.Increment(ctx, "id-1", models.CounterOCR, 2)
	require.NoError(t, err)
	before, err := s.Get(ctx, "id-1", true)
	require.NoError(t, err)

	now = t0.Add(time.Hour)
	rolled, v, err = s.RollOver(ctx, "id-1", models.CounterOCR, periodStart)
	require.NoError(t, err)
	assert.False(t, rolled)
	assert.Equal(t, int64(2), v)

	after, err := s.Get(ctx, "id-1", true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), after.OCRUsed)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)

	rolled, v, err = s.RollOver(ctx, "id-1", models.CounterOCR, periodStart.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.True(t, rolled)
	assert.Equal(t, int64(0), v)

	_, _, err = s.RollOver(ctx, "ghost", models.CounterOCR, periodStart)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
