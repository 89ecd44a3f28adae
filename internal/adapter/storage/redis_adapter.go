package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yunqi-lab/nearbuy/internal/core/domain"
	"github.com/yunqi-lab/nearbuy/internal/port"
)

// Key conventions shared with external consumers; do not rename.
const (
	stockKeyPrefix    = "seckill:stock:"
	orderSetKeyPrefix = "seckill:order:"

	orderStream     = "stream.orders"
	orderDeadLetter = "stream.orders.dlq"
	orderGroup      = "g1"
)

// reserveScript is the whole admission decision: stock check, one-order-per-
// user dedup, decrement, and enqueue run as one indivisible unit. Splitting
// any of these into separate round trips reopens the oversell race.
var reserveScript = redis.NewScript(`
local voucherId = ARGV[1]
local userId = ARGV[2]
local orderId = ARGV[3]
local ts = ARGV[4]

local stockKey = 'seckill:stock:' .. voucherId
local orderKey = 'seckill:order:' .. voucherId

if tonumber(redis.call('GET', stockKey) or '0') <= 0 then
	return 1
end
if redis.call('SISMEMBER', orderKey, userId) == 1 then
	return 2
end

redis.call('INCRBY', stockKey, -1)
redis.call('SADD', orderKey, userId)
redis.call('XADD', 'stream.orders', '*', 'id', orderId, 'userId', userId, 'voucherId', voucherId, 'ts', ts)
return 0
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) ReserveVoucher(ctx context.Context, voucherID, userID, orderID uint64, now time.Time) (port.AdmissionCode, error) {
	code, err := reserveScript.Run(ctx, r.client, []string{},
		strconv.FormatUint(voucherID, 10),
		strconv.FormatUint(userID, 10),
		strconv.FormatUint(orderID, 10),
		strconv.FormatInt(now.Unix(), 10),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("run admission script: %w", err)
	}

	switch c := port.AdmissionCode(code); c {
	case port.AdmissionAccepted, port.AdmissionOutOfStock, port.AdmissionDuplicate:
		return c, nil
	default:
		return 0, fmt.Errorf("admission script returned unknown code %d", code)
	}
}

func (r *RedisAdapter) InitCampaignStock(ctx context.Context, voucherID uint64, stock int64) error {
	key := stockKeyPrefix + strconv.FormatUint(voucherID, 10)
	if err := r.client.Set(ctx, key, stock, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (r *RedisAdapter) EnsureOrderGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, orderStream, orderGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (r *RedisAdapter) PullOrders(ctx context.Context, consumer string, count int64, block time.Duration) ([]port.QueuedOrder, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    orderGroup,
		Consumer: consumer,
		Streams:  []string{orderStream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read order stream: %w", err)
	}
	return parseQueuedOrders(streams)
}

func (r *RedisAdapter) PendingOrders(ctx context.Context, consumer string, count int64) ([]port.QueuedOrder, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    orderGroup,
		Consumer: consumer,
		Streams:  []string{orderStream, "0"},
		Count:    count,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pending orders: %w", err)
	}
	return parseQueuedOrders(streams)
}

func (r *RedisAdapter) AckOrder(ctx context.Context, streamID string) error {
	if err := r.client.XAck(ctx, orderStream, orderGroup, streamID).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", streamID, err)
	}
	return nil
}

func (r *RedisAdapter) ParkOrder(ctx context.Context, q port.QueuedOrder) error {
	err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: orderDeadLetter,
		Values: map[string]interface{}{
			"id":        strconv.FormatUint(q.Order.ID, 10),
			"userId":    strconv.FormatUint(q.Order.UserID, 10),
			"voucherId": strconv.FormatUint(q.Order.VoucherID, 10),
			"ts":        strconv.FormatInt(q.Order.CreatedAt.Unix(), 10),
			"origin":    q.StreamID,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("park %s: %w", q.StreamID, err)
	}
	return r.AckOrder(ctx, q.StreamID)
}

func parseQueuedOrders(streams []redis.XStream) ([]port.QueuedOrder, error) {
	var out []port.QueuedOrder
	for _, s := range streams {
		for _, msg := range s.Messages {
			order, err := parseOrder(msg.Values)
			if err != nil {
				return nil, fmt.Errorf("stream entry %s: %w", msg.ID, err)
			}
			out = append(out, port.QueuedOrder{StreamID: msg.ID, Order: order})
		}
	}
	return out, nil
}

func parseOrder(values map[string]interface{}) (domain.Order, error) {
	id, err := fieldUint(values, "id")
	if err != nil {
		return domain.Order{}, err
	}
	userID, err := fieldUint(values, "userId")
	if err != nil {
		return domain.Order{}, err
	}
	voucherID, err := fieldUint(values, "voucherId")
	if err != nil {
		return domain.Order{}, err
	}
	ts, err := fieldUint(values, "ts")
	if err != nil {
		return domain.Order{}, err
	}

	return domain.Order{
		ID:        id,
		UserID:    userID,
		VoucherID: voucherID,
		CreatedAt: time.Unix(int64(ts), 0).UTC(),
	}, nil
}

func fieldUint(values map[string]interface{}, name string) (uint64, error) {
	raw, ok := values[name].(string)
	if !ok {
		return 0, fmt.Errorf("missing field %q", name)
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", name, err)
	}
	return v, nil
}
