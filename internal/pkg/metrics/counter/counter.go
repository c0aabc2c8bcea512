package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// Invariant-violation counters. Each is a field of one Redis hash so an
// operator can alert on growth without scraping logs.
const (
	DuplicateIdentity = "duplicate_identity"
	ReplayedWebhook   = "replayed_webhook"
	OversizeToken     = "oversize_token"
)

const invariantsKey = "invariants:counters"

// Known lists every counter reported by Snapshot, zero or not.
var Known = []string{DuplicateIdentity, ReplayedWebhook, OversizeToken}

// Recorder increments invariant counters in Redis. A nil client turns every
// call into a logged no-op.
type Recorder struct {
	rdb *redis.Client
	key string
}

// NewRecorder creates a recorder backed by rdb.
func NewRecorder(rdb *redis.Client) *Recorder {
	return &Recorder{rdb: rdb, key: invariantsKey}
}

// Incr bumps a counter by one. Failures are logged only; a monitoring signal
// must never fail the request that observed the violation.
func (r *Recorder) Incr(ctx context.Context, name string) {
	if r == nil || r.rdb == nil {
		log.Warnf("[Metrics] No cache configured, dropping %s increment", name)
		return
	}
	if err := r.rdb.HIncrBy(ctx, r.key, name, 1).Err(); err != nil {
		log.Warnf("[Metrics] Failed to increment %s: %v", name, err)
	}
}

// Snapshot returns the current value of every known counter plus any other
// field present in the hash.
func (r *Recorder) Snapshot(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(Known))
	for _, name := range Known {
		out[name] = 0
	}
	if r == nil || r.rdb == nil {
		return out, nil
	}
	data, err := r.rdb.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, err
	}
	return mergeCounts(out, data), nil
}

// Drain atomically moves the hash aside and returns what it held, so counts
// recorded while draining are kept for the next read.
func (r *Recorder) Drain(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(Known))
	for _, name := range Known {
		out[name] = 0
	}
	if r == nil || r.rdb == nil {
		return out, nil
	}

	tmpKey := fmt.Sprintf("%s:tmp:%d", r.key, time.Now().UnixNano())
	if err := r.rdb.Rename(ctx, r.key, tmpKey).Err(); err != nil {
		if errors.Is(err, redis.Nil) || strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return out, nil
		}
		return nil, err
	}
	defer r.rdb.Del(ctx, tmpKey)

	data, err := r.rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return nil, err
	}
	return mergeCounts(out, data), nil
}

func mergeCounts(out map[string]int64, data map[string]string) map[string]int64 {
	for k, v := range data {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out
}
