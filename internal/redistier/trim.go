package redistier

import (
	"context"

	"github.com/gftdcojp/kafka-replay-buffer/internal/keys"
	"github.com/gftdcojp/kafka-replay-buffer/internal/metrics"
	"github.com/gftdcojp/kafka-replay-buffer/internal/replay"
	"go.uber.org/zap"
)

// maybeTrim runs an index-cardinality check on every cadence-th successful
// write, or unconditionally once the burst threshold of writes has
// accumulated since the last check. Concurrent writers can skew cadence
// alignment; the burst threshold bounds how far a check can slip.
func (s *Store) maybeTrim(ctx context.Context, msg *replay.StoredMessage) {
	n := s.writesSinceTrim.Add(1)
	if n%int64(s.cfg.TrimCadence) != 0 && n < int64(s.cfg.TrimBurstThreshold) {
		return
	}
	s.writesSinceTrim.Store(0)

	s.trimIndex(ctx, keys.OffsetIndexKey(s.cfg.KeyPrefix, msg.Partition))
	for threadID := range msg.ThreadSeqs {
		s.trimIndex(ctx, keys.ThreadIndexKey(s.cfg.KeyPrefix, keys.SafeThreadID(threadID)))
	}
}

// trimIndex removes the lowest-scored members of one index down to the
// configured bound. Value keys are left to expire on their own TTL.
func (s *Store) trimIndex(ctx context.Context, indexKey string) {
	card, err := s.client.ZCard(ctx, indexKey).Result()
	if err != nil {
		s.logger.Warn("index cardinality check failed",
			zap.String("index", indexKey),
			zap.Error(err),
		)
		return
	}

	excess := card - int64(s.cfg.MaxIndexEntries)
	if excess <= 0 {
		return
	}

	removed, err := s.client.ZRemRangeByRank(ctx, indexKey, 0, excess-1).Result()
	if err != nil {
		s.logger.Warn("index trim failed",
			zap.String("index", indexKey),
			zap.Error(err),
		)
		return
	}

	metrics.IndexTrims.Inc()
	metrics.TrimmedEntries.Add(float64(removed))
	s.logger.Info("index trimmed",
		zap.String("index", indexKey),
		zap.Int64("removed", removed),
		zap.Int64("remaining", card-removed),
	)
}
