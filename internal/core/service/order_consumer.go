package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yunqi-lab/nearbuy/internal/metrics"
	"github.com/yunqi-lab/nearbuy/internal/port"
)

// OrderConsumer drains accepted reservations from the order stream into
// MySQL. Delivery is at-least-once: an entry is acknowledged only after the
// durable write succeeds, and the insert is idempotent on the order id, so a
// crash between write and ack is harmless.
type OrderConsumer struct {
	store      port.SeckillStore
	orders     port.OrderRepository
	workers    int
	batch      int64
	block      time.Duration
	maxRetries int
	retrySleep time.Duration
	log        *zap.Logger
}

func NewOrderConsumer(store port.SeckillStore, orders port.OrderRepository, workers int, block time.Duration, log *zap.Logger) *OrderConsumer {
	if workers <= 0 {
		workers = 1
	}
	if block <= 0 {
		block = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderConsumer{
		store:      store,
		orders:     orders,
		workers:    workers,
		batch:      10,
		block:      block,
		maxRetries: 3,
		retrySleep: time.Second,
		log:        log,
	}
}

// Run blocks until ctx is cancelled.
func (c *OrderConsumer) Run(ctx context.Context) error {
	if err := c.store.EnsureOrderGroup(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		name := fmt.Sprintf("consumer-%d", i)
		g.Go(func() error { return c.loop(ctx, name) })
	}
	return g.Wait()
}

func (c *OrderConsumer) loop(ctx context.Context, name string) error {
	// Entries delivered to this consumer before a restart sit in the pending
	// list; persist those before asking for new ones.
	if err := c.drainPending(ctx, name); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("pending recovery failed", zap.String("consumer", name), zap.Error(err))
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		batch, err := c.store.PullOrders(ctx, name, c.batch, c.block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("pull orders failed", zap.String("consumer", name), zap.Error(err))
			if err := sleep(ctx, time.Second); err != nil {
				return err
			}
			continue
		}

		for _, q := range batch {
			if err := c.persist(ctx, q); err != nil {
				c.log.Error("persist order failed",
					zap.String("consumer", name),
					zap.Uint64("orderId", q.Order.ID),
					zap.Error(err))
				// Unacked; pick it up again from the pending list.
				if err := c.drainPending(ctx, name); err != nil && ctx.Err() != nil {
					return ctx.Err()
				}
			}
		}
	}
}

// drainPending retries this consumer's delivered-but-unacknowledged entries
// until the pending list is empty. An entry whose persist keeps failing is
// moved to the dead-letter stream after maxRetries attempts, so one poisoned
// reservation cannot wedge the consumer.
func (c *OrderConsumer) drainPending(ctx context.Context, name string) error {
	attempts := make(map[string]int)
	for {
		batch, err := c.store.PendingOrders(ctx, name, c.batch)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		for _, q := range batch {
			if err := c.persist(ctx, q); err != nil {
				attempts[q.StreamID]++
				c.log.Error("persist pending order failed",
					zap.String("consumer", name),
					zap.Uint64("orderId", q.Order.ID),
					zap.Int("attempt", attempts[q.StreamID]),
					zap.Error(err))

				if attempts[q.StreamID] >= c.maxRetries {
					if err := c.park(ctx, name, q); err != nil {
						return err
					}
					delete(attempts, q.StreamID)
					continue
				}
				if err := sleep(ctx, c.retrySleep); err != nil {
					return err
				}
				break
			}
			delete(attempts, q.StreamID)
		}
	}
}

func (c *OrderConsumer) park(ctx context.Context, name string, q port.QueuedOrder) error {
	if err := c.store.ParkOrder(ctx, q); err != nil {
		return fmt.Errorf("park order %d: %w", q.Order.ID, err)
	}
	metrics.OrdersParked.Inc()
	c.log.Error("order parked on dead-letter stream",
		zap.String("consumer", name),
		zap.String("streamId", q.StreamID),
		zap.Uint64("orderId", q.Order.ID))
	return nil
}

func (c *OrderConsumer) persist(ctx context.Context, q port.QueuedOrder) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.orders.CreateOrder(ctx, q.Order); err != nil {
		return err
	}
	metrics.OrdersPersisted.Inc()
	if err := c.store.AckOrder(ctx, q.StreamID); err != nil {
		// The write landed; redelivery will hit the idempotent insert and ack.
		c.log.Warn("ack failed", zap.String("streamId", q.StreamID), zap.Error(err))
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
