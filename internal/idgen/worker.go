// Package idgen mints globally ordered 64-bit ids from a Redis counter.
//
// An id is (whole seconds since the service epoch) << 32 | daily sequence.
// The sequence key includes the calendar day, so the counter starts from a
// fresh base at every day rollover and INCR stays well below 2^32.
package idgen

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// epoch is 1746921600 (2025-05-11T00:00:00Z). Existing ids encode offsets
	// from this instant, so it must never change.
	epoch = 1746921600

	counterBits = 32

	counterKeyPrefix = "icr:"
	dayLayout        = "2006:01:02"
)

type Worker struct {
	rdb *redis.Client
	now func() time.Time
}

func NewWorker(rdb *redis.Client) *Worker {
	return &Worker{rdb: rdb, now: time.Now}
}

// NextID returns the next id for prefix. Ids for a fixed prefix are
// non-decreasing as long as the clock does not regress. There is no local
// fallback: if Redis is unreachable the call fails.
func (w *Worker) NextID(ctx context.Context, prefix string) (uint64, error) {
	now := w.now().UTC()
	ts := uint64(now.Unix() - epoch)

	key := counterKeyPrefix + prefix + ":" + now.Format(dayLayout)
	seq, err := w.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("increment sequence %s: %w", key, err)
	}

	return ts<<counterBits | uint64(seq), nil
}
