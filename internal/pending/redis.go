package pending

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingKeyPrefix = "relay:pending:"
	pendingTTL       = 7 * 24 * time.Hour
)

// RedisQueue backs pending queues with Redis lists so multiple relay
// instances share one backlog per device. Entries carry a TTL; a device that
// never reconnects does not grow the keyspace forever.
type RedisQueue struct {
	rdb *redis.Client
	max int64
}

func NewRedisQueue(rdb *redis.Client, maxPerDevice int) *RedisQueue {
	if maxPerDevice <= 0 {
		maxPerDevice = DefaultMaxPerDevice
	}
	return &RedisQueue{rdb: rdb, max: int64(maxPerDevice)}
}

func queueKey(ownerID, deviceID string) string {
	return pendingKeyPrefix + ownerID + ":" + deviceID
}

func (q *RedisQueue) Append(ctx context.Context, ownerID, deviceID string, payload []byte) (int, error) {
	k := queueKey(ownerID, deviceID)

	pipe := q.rdb.TxPipeline()
	lenCmd := pipe.RPush(ctx, k, payload)
	pipe.LTrim(ctx, k, -q.max, -1)
	pipe.Expire(ctx, k, pendingTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}

	dropped := int(lenCmd.Val() - q.max)
	if dropped < 0 {
		dropped = 0
	}
	return dropped, nil
}

func (q *RedisQueue) Drain(ctx context.Context, ownerID, deviceID string) ([][]byte, error) {
	k := queueKey(ownerID, deviceID)

	pipe := q.rdb.TxPipeline()
	rangeCmd := pipe.LRange(ctx, k, 0, -1)
	pipe.Del(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	values := rangeCmd.Val()
	payloads := make([][]byte, 0, len(values))
	for _, v := range values {
		payloads = append(payloads, []byte(v))
	}
	return payloads, nil
}
