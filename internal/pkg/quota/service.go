package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/acastrillo/spotbuddy/app/models"
	"github.com/acastrillo/spotbuddy/app/repository"
	"github.com/acastrillo/spotbuddy/internal/pkg/entitlements"
)

var (
	ErrQuotaExceeded  = errors.New("quota: limit reached")
	ErrUnknownCounter = errors.New("quota: unknown counter")
)

// Service is the counter engine used by the feature modules. Every counter
// name is checked against the closed enumeration before reaching the store.
type Service struct {
	counters repository.CounterRepository
	now      func() time.Time
}

func NewService(counters repository.CounterRepository) *Service {
	return &Service{counters: counters, now: time.Now}
}

func checkField(field models.CounterField) error {
	if !field.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCounter, field)
	}
	return nil
}

// Increment atomically adds amount (default 1) and returns the new value.
func (s *Service) Increment(ctx context.Context, accountID string, field models.CounterField, amount int64) (int64, error) {
	if err := checkField(field); err != nil {
		return 0, err
	}
	if amount == 0 {
		amount = 1
	}
	v, err := s.counters.Increment(ctx, accountID, field, amount)
	if err != nil {
		return 0, fmt.Errorf("increment %s for %s: %w", field.Key(), accountID, err)
	}
	return v, nil
}

// Decrement refunds amount (default 1), flooring at zero. Only single-writer
// refund paths may call it.
func (s *Service) Decrement(ctx context.Context, accountID string, field models.CounterField, amount int64) (int64, error) {
	if err := checkField(field); err != nil {
		return 0, err
	}
	if amount == 0 {
		amount = 1
	}
	v, err := s.counters.Decrement(ctx, accountID, field, amount)
	if err != nil {
		return 0, fmt.Errorf("decrement %s for %s: %w", field.Key(), accountID, err)
	}
	return v, nil
}

// Reset zeroes the counter and stamps its reset timestamp.
func (s *Service) Reset(ctx context.Context, accountID string, field models.CounterField) error {
	if err := checkField(field); err != nil {
		return err
	}
	if err := s.counters.Reset(ctx, accountID, field, true); err != nil {
		return fmt.Errorf("reset %s for %s: %w", field.Key(), accountID, err)
	}
	log.Infof("[Quota] Reset %s for account %s", field.Key(), accountID)
	return nil
}

// PeriodStart is the beginning of the quota period containing now: Monday
// 00:00 UTC for AI requests, the first of the month for the others.
func PeriodStart(field models.CounterField, now time.Time) time.Time {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if field == models.CounterAIRequests {
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	}
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// IsResetDue reports whether the counter's last reset predates the current
// period. A counter that was never reset is due.
func IsResetDue(account *models.Account, field models.CounterField, now time.Time) bool {
	resetAt := account.CounterResetAt(field)
	if resetAt == nil {
		return true
	}
	return resetAt.Before(PeriodStart(field, now))
}

// ResetIfDue rolls a counter over when account shows its period has ended,
// then mirrors the stored counter onto account. The store decides the
// rollover, so a stale account never zeroes usage another request already
// recorded for the new period. It reports whether this call did the reset.
func (s *Service) ResetIfDue(ctx context.Context, account *models.Account, field models.CounterField) (bool, error) {
	if err := checkField(field); err != nil {
		return false, err
	}
	now := s.now()
	if !IsResetDue(account, field, now) {
		return false, nil
	}
	rolled, current, err := s.counters.RollOver(ctx, account.ID, field, PeriodStart(field, now))
	if err != nil {
		return false, fmt.Errorf("roll over %s for %s: %w", field.Key(), account.ID, err)
	}
	if !rolled {
		log.Debugw("[Quota] Rollover already done", "account", account.ID, "counter", field.Key(), "used", current)
		setCounter(account, field, current, nil)
		return false, nil
	}
	log.Infof("[Quota] Rolled over %s for account %s", field.Key(), account.ID)
	stamp := now.UTC().Truncate(time.Second)
	setCounter(account, field, 0, &stamp)
	return true, nil
}

// setCounter mirrors a stored counter onto account. A nil resetAt keeps the
// account's stamp.
func setCounter(account *models.Account, field models.CounterField, used int64, resetAt *time.Time) {
	switch field {
	case models.CounterOCR:
		account.OCRUsed = used
		if resetAt != nil {
			account.OCRResetAt = resetAt
		}
	case models.CounterAIRequests:
		account.AIRequestsUsed = used
		if resetAt != nil {
			account.AIRequestsResetAt = resetAt
		}
	case models.CounterWorkouts:
		account.WorkoutsSaved = used
		if resetAt != nil {
			account.WorkoutsResetAt = resetAt
		}
	}
}

// Check rolls the period over if due and then verifies that n more units fit
// the account's effective tier.
func (s *Service) Check(ctx context.Context, account *models.Account, field models.CounterField, n int64) error {
	if err := checkField(field); err != nil {
		return err
	}
	if n <= 0 {
		n = 1
	}
	if _, err := s.ResetIfDue(ctx, account, field); err != nil {
		return err
	}
	tier := entitlements.EffectiveTier(account)
	used := account.CounterValue(field)
	if !entitlements.Allows(tier, field, used, n) {
		return fmt.Errorf("%w: %s used %d of %d on tier %s", ErrQuotaExceeded, field.Key(), used, entitlements.Limit(tier, field), tier)
	}
	return nil
}
