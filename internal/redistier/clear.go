package redistier

import (
	"context"

	"github.com/gftdcojp/kafka-replay-buffer/internal/keys"
	"github.com/gftdcojp/kafka-replay-buffer/internal/metrics"
	"go.uber.org/zap"
)

// Clear deletes every key under the prefix in scan-sized batches, stopping
// when the keyspace is exhausted or the configured wall-clock budget runs
// out. It returns the number of keys deleted either way; a partial clear is
// reported, not an error, since TTLs sweep the remainder.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ClearBudget.Duration())
	defer cancel()

	pattern := keys.AllKeysPattern(s.cfg.KeyPrefix)
	var deleted int64
	var cursor uint64

	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, int64(s.cfg.ScanBatch)).Result()
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Warn("clear stopped at budget",
					zap.Int64("deleted", deleted),
				)
				break
			}
			return deleted, err
		}
		if len(batch) > 0 {
			n, err := s.client.Del(ctx, batch...).Result()
			deleted += n
			if err != nil {
				if ctx.Err() != nil {
					s.logger.Warn("clear stopped at budget",
						zap.Int64("deleted", deleted),
					)
					break
				}
				return deleted, err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	metrics.ClearOps.Inc()
	metrics.ClearedEntries.Add(float64(deleted))
	s.logger.Info("durable tier cleared",
		zap.String("key_prefix", s.cfg.KeyPrefix),
		zap.Int64("deleted", deleted),
	)
	return deleted, nil
}
