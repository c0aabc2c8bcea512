package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-jwt/jwt/v5"

	"github.com/acastrillo/spotbuddy/app/models"
	"github.com/acastrillo/spotbuddy/internal/pkg/metrics/counter"
)

var (
	ErrAccountDisabled = errors.New("session: account disabled")
	ErrTokenTooLarge   = errors.New("session: token exceeds size budget")
	ErrInvalidToken    = errors.New("session: invalid token")
	ErrSnapshotExpired = errors.New("session: stale snapshot too old")
)

// AccountReader is the only store access the synchronizer needs.
type AccountReader interface {
	Get(ctx context.Context, id string, consistent bool) (*models.Account, error)
}

// Metrics receives the oversize-token signal.
type Metrics interface {
	Incr(ctx context.Context, name string)
}

// Synchronizer issues and refreshes session snapshots from the account store.
type Synchronizer struct {
	accounts AccountReader
	cfg      Config
	metrics  Metrics
	now      func() time.Time
}

type Option func(*Synchronizer)

func WithMetrics(m Metrics) Option { return func(s *Synchronizer) { s.metrics = m } }

func WithClock(fn func() time.Time) Option { return func(s *Synchronizer) { s.now = fn } }

func NewSynchronizer(accounts AccountReader, cfg Config, opts ...Option) *Synchronizer {
	s := &Synchronizer{accounts: accounts, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Synchronizer) Config() Config { return s.cfg }

// Issue builds the first snapshot after a sign-in. There is nothing to fall
// back to, so every read failure is returned.
func (s *Synchronizer) Issue(ctx context.Context, accountID string) (*Claims, error) {
	account, err := s.read(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("issue session for %s: %w", accountID, err)
	}
	if account.IsDisabled {
		log.Warnw("[Session] Refused session for disabled account", "accountId", accountID)
		return nil, ErrAccountDisabled
	}
	return s.claimsFor(account), nil
}

// Refresh re-reads the account behind prev. A disabled account always fails.
// Any other read failure keeps prev's snapshot and marks it stale, for as
// long as the snapshot is younger than one TTL.
func (s *Synchronizer) Refresh(ctx context.Context, prev *Claims) (*Claims, error) {
	if prev == nil || prev.Subject == "" {
		return nil, ErrInvalidToken
	}
	account, err := s.read(ctx, prev.Subject)
	if err == nil {
		if account.IsDisabled {
			log.Warnw("[Session] Disabled account refused at refresh", "accountId", prev.Subject)
			return nil, ErrAccountDisabled
		}
		return s.claimsFor(account), nil
	}

	now := s.now()
	if age := now.Sub(prev.SnapshotTime()); age > s.cfg.TTL {
		log.Warnw("[Session] Stale snapshot expired", "accountId", prev.Subject, "snapshotAt", prev.SnapshotTime(), "error", err)
		return nil, fmt.Errorf("%w: read %s ago: %v", ErrSnapshotExpired, age.Round(time.Second), err)
	}
	log.Warnw("[Session] Keeping previous snapshot", "accountId", prev.Subject, "snapshotAt", prev.SnapshotTime(), "error", err)
	next := *prev
	next.IssuedAt = jwt.NewNumericDate(now)
	next.ExpiresAt = jwt.NewNumericDate(now.Add(s.cfg.TTL))
	next.Stale = true
	return &next, nil
}

func (s *Synchronizer) read(ctx context.Context, accountID string) (*models.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReadTimeout)
	defer cancel()
	return s.accounts.Get(ctx, accountID, true)
}

func (s *Synchronizer) claimsFor(a *models.Account) *Claims {
	now := s.now()
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   a.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TTL)),
		},
		Snapshot:   NewSnapshot(a),
		SnapshotAt: jwt.NewNumericDate(now),
	}
}

// Encode signs claims. The budget is measured on the whole cookie
// (name=value); fields are never dropped to fit.
func (s *Synchronizer) Encode(ctx context.Context, claims *Claims) (string, error) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}

	size := len(s.cfg.CookieName) + 1 + len(token)
	switch {
	case size > s.cfg.MaxBytes:
		s.countOversize(ctx)
		log.Errorw("[Session] Token over size ceiling", "accountId", claims.Subject, "bytes", size, "max", s.cfg.MaxBytes)
		return "", fmt.Errorf("%w: %d > %d bytes", ErrTokenTooLarge, size, s.cfg.MaxBytes)
	case size > s.cfg.WarnBytes:
		s.countOversize(ctx)
		log.Warnw("[Session] Token nearing size ceiling", "accountId", claims.Subject, "bytes", size, "warn", s.cfg.WarnBytes, "max", s.cfg.MaxBytes)
	}
	return token, nil
}

func (s *Synchronizer) countOversize(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.Incr(ctx, counter.OversizeToken)
	}
}

// Decode verifies signature, issuer and expiry.
func (s *Synchronizer) Decode(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
