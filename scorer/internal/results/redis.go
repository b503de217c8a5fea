package results

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const redisIndex = "echoguard:results"

// Redis stores each record as a hash and indexes keys in a sorted set scored
// by processing time.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps a go-redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func redisKey(deviceID, timestamp string) string {
	return fmt.Sprintf("echoguard:result:%s:%s", deviceID, timestamp)
}

// Put implements Store. The hash and the index entry are written in one
// MULTI/EXEC.
func (r *Redis) Put(ctx context.Context, rec Record) error {
	score := 0.0
	if t, err := rec.ProcessedTime(); err == nil {
		score = float64(t.UnixMilli())
	}
	key := redisKey(rec.DeviceID, rec.Timestamp)

	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, recordFields(rec))
		p.ZAdd(ctx, redisIndex, redis.Z{Score: score, Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("results: redis put %s: %w", key, err)
	}
	return nil
}

// List implements Lister.
func (r *Redis) List(ctx context.Context, limit int) ([]Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	keys, err := r.client.ZRevRange(ctx, redisIndex, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("results: redis index: %w", err)
	}

	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		m, err := r.client.HGetAll(ctx, k).Result()
		if err != nil {
			return nil, fmt.Errorf("results: redis read %s: %w", k, err)
		}
		if len(m) == 0 {
			continue
		}
		out = append(out, recordFromFields(m))
	}
	return out, nil
}

func recordFields(r Record) map[string]interface{} {
	return map[string]interface{}{
		"device_id":         r.DeviceID,
		"timestamp":         r.Timestamp,
		"mse_value":         r.MSEValue,
		"status":            r.Status,
		"threshold":         r.Threshold,
		"source_file":       r.SourceFile,
		"windows_processed": r.WindowsProcessed,
		"processed_at":      r.ProcessedAt,
	}
}

func recordFromFields(m map[string]string) Record {
	return Record{
		DeviceID:         m["device_id"],
		Timestamp:        m["timestamp"],
		MSEValue:         m["mse_value"],
		Status:           m["status"],
		Threshold:        m["threshold"],
		SourceFile:       m["source_file"],
		WindowsProcessed: m["windows_processed"],
		ProcessedAt:      m["processed_at"],
	}
}
