package redistier

import (
	"context"
	"time"

	"github.com/gftdcojp/kafka-replay-buffer/internal/keys"
	"github.com/gftdcojp/kafka-replay-buffer/internal/metrics"
	"github.com/gftdcojp/kafka-replay-buffer/internal/replay"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PersistAsync schedules a background write of msg. When the admission gate
// is saturated past its timeout the write is dropped and counted; it is
// never queued and the caller is never blocked.
func (s *Store) PersistAsync(msg *replay.StoredMessage) {
	if !s.gate.Acquire(context.Background()) {
		s.sink.WriteDropped()
		metrics.DurableWrites.WithLabelValues("dropped").Inc()
		s.logger.Debug("durable write dropped at admission",
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
		)
		return
	}

	go func() {
		defer s.gate.Release()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout.Duration())
		defer cancel()

		start := time.Now()
		err := s.write(ctx, msg)
		metrics.DurableWriteDuration.Observe(time.Since(start).Seconds())

		if err != nil {
			s.sink.WriteFailed()
			metrics.DurableWrites.WithLabelValues("failed").Inc()
			s.logger.Warn("durable write failed",
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			return
		}
		metrics.DurableWrites.WithLabelValues("ok").Inc()
		s.maybeTrim(ctx, msg)
	}()
}

// write issues one pipelined round trip: the partition-keyed value and its
// index entry, then a value and index entry per thread the message belongs
// to. Index members are the full value keys, the shape pre-migration indexes
// already hold. Index keys get the TTL refreshed on every touch.
func (s *Store) write(ctx context.Context, msg *replay.StoredMessage) error {
	ttl := s.cfg.TTL.Duration()
	s.warnScorePrecision(msg.Offset)

	pipe := s.client.Pipeline()

	offsetKey := keys.OffsetKey(s.cfg.KeyPrefix, msg.Partition, msg.Offset)
	pipe.Set(ctx, offsetKey, msg.Data, ttl)
	offsetIdx := keys.OffsetIndexKey(s.cfg.KeyPrefix, msg.Partition)
	pipe.ZAdd(ctx, offsetIdx, redis.Z{
		Score:  float64(msg.Offset),
		Member: offsetKey,
	})
	pipe.Expire(ctx, offsetIdx, ttl)

	for threadID, seq := range msg.ThreadSeqs {
		s.warnScorePrecision(int64(seq))
		safeID := keys.SafeThreadID(threadID)
		record := keys.PackThreadRecord(msg.Partition, msg.Offset, msg.Data)

		seqKey := keys.ThreadSeqKey(s.cfg.KeyPrefix, safeID, seq)
		pipe.Set(ctx, seqKey, record, ttl)
		threadIdx := keys.ThreadIndexKey(s.cfg.KeyPrefix, safeID)
		pipe.ZAdd(ctx, threadIdx, redis.Z{
			Score:  float64(seq),
			Member: seqKey,
		})
		pipe.Expire(ctx, threadIdx, ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}
