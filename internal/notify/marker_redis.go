package notify

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

var errMarkerChanged = errors.New("alert marker changed")

// RedisMarker stores the marker under one key. Swaps use WATCH/MULTI so a
// concurrent writer aborts the transaction.
type RedisMarker struct {
	client redis.UniversalClient
	key    string
}

func NewRedisMarker(client redis.UniversalClient, key string) *RedisMarker {
	return &RedisMarker{client: client, key: key}
}

func (m *RedisMarker) Last(ctx context.Context) (float64, error) {
	return readRedisMarker(ctx, m.client, m.key)
}

func (m *RedisMarker) Record(ctx context.Context, ts float64) error {
	return m.client.Set(ctx, m.key, formatSeconds(ts), 0).Err()
}

func (m *RedisMarker) CompareAndSwap(ctx context.Context, old, next float64) (bool, error) {
	err := m.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := readRedisMarker(ctx, tx, m.key)
		if err != nil {
			return err
		}
		if cur != old {
			return errMarkerChanged
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, m.key, formatSeconds(next), 0)
			return nil
		})
		return err
	}, m.key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errMarkerChanged), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, err
	}
}

func readRedisMarker(ctx context.Context, c redis.Cmdable, key string) (float64, error) {
	s, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	ts, err := strconv.ParseFloat(s, 64)
	if err != nil || ts < 0 {
		return 0, nil
	}
	return ts, nil
}

func formatSeconds(ts float64) string {
	return strconv.FormatFloat(ts, 'f', -1, 64)
}
