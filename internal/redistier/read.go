package redistier

import (
	"context"
	"sort"
	"strconv"

	"github.com/gftdcojp/kafka-replay-buffer/internal/keys"
	"github.com/gftdcojp/kafka-replay-buffer/internal/replay"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// MessagesAfterPartition pages through one partition index for offsets
// strictly greater than afterOffset. Index members whose value keys have
// expired are dropped from the index as they are found.
func (s *Store) MessagesAfterPartition(ctx context.Context, partition int32, afterOffset int64) (replay.Page, error) {
	indexKey := keys.OffsetIndexKey(s.cfg.KeyPrefix, partition)

	members, err := s.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min:   keys.FormatScore(afterOffset),
		Max:   "+inf",
		Count: int64(s.cfg.PageSize) + 1,
	}).Result()
	if err != nil {
		return replay.Page{}, err
	}

	page := replay.Page{}
	if len(members) > s.cfg.PageSize {
		page.More = true
		members = members[:s.cfg.PageSize]
	}

	// Members are full value keys. Bare decimal offsets from writers that
	// predate the key-shaped members are still honored.
	raw := make([]string, 0, len(members))
	offsets := make([]int64, 0, len(members))
	valueKeys := make([]string, 0, len(members))
	for _, m := range members {
		off, ok := keys.OffsetFromKey(m)
		valueKey := m
		if !ok {
			off, err = strconv.ParseInt(m, 10, 64)
			if err != nil {
				continue
			}
			valueKey = keys.OffsetKey(s.cfg.KeyPrefix, partition, off)
		}
		raw = append(raw, m)
		offsets = append(offsets, off)
		valueKeys = append(valueKeys, valueKey)
	}
	if len(valueKeys) == 0 {
		return page, nil
	}

	values, err := s.client.MGet(ctx, valueKeys...).Result()
	if err != nil {
		return replay.Page{}, err
	}

	var expired []interface{}
	for i, v := range values {
		data, ok := v.(string)
		if !ok {
			expired = append(expired, raw[i])
			s.sink.DurableMiss()
			continue
		}
		page.Messages = append(page.Messages, &replay.OutboundMessage{
			Data:   []byte(data),
			Cursor: replay.Cursor{Partition: partition, Offset: offsets[i]},
		})
	}
	s.sink.DurableHit(int64(len(page.Messages)))

	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, indexKey, expired...).Err(); err != nil {
			s.logger.Warn("expired index member cleanup failed",
				zap.String("index", indexKey),
				zap.Error(err),
			)
		}
	}
	return page, nil
}

// MessagesAfterThread pages through one thread index for sequences strictly
// greater than afterSeq. When the current encoding of the thread id finds
// nothing and an older deployment would have encoded it differently, the
// read retries under the legacy encoding.
func (s *Store) MessagesAfterThread(ctx context.Context, threadID string, afterSeq uint64) (replay.ThreadPage, error) {
	safeID := keys.SafeThreadID(threadID)
	page, err := s.readThreadPage(ctx, safeID, afterSeq)
	if err != nil {
		return replay.ThreadPage{}, err
	}
	if len(page.Entries) == 0 {
		if legacyID := keys.LegacyThreadID(threadID); legacyID != safeID {
			return s.readThreadPage(ctx, legacyID, afterSeq)
		}
	}
	return page, nil
}

func (s *Store) readThreadPage(ctx context.Context, safeID string, afterSeq uint64) (replay.ThreadPage, error) {
	indexKey := keys.ThreadIndexKey(s.cfg.KeyPrefix, safeID)

	members, err := s.client.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min:   keys.FormatScore(int64(afterSeq)),
		Max:   "+inf",
		Count: int64(s.cfg.PageSize) + 1,
	}).Result()
	if err != nil {
		return replay.ThreadPage{}, err
	}

	page := replay.ThreadPage{}
	if len(members) > s.cfg.PageSize {
		page.More = true
		members = members[:s.cfg.PageSize]
	}

	raw := make([]string, 0, len(members))
	seqs := make([]uint64, 0, len(members))
	valueKeys := make([]string, 0, len(members))
	for _, m := range members {
		seq, ok := keys.SeqFromKey(m)
		valueKey := m
		if !ok {
			seq, err = strconv.ParseUint(m, 10, 64)
			if err != nil {
				continue
			}
			valueKey = keys.ThreadSeqKey(s.cfg.KeyPrefix, safeID, seq)
		}
		raw = append(raw, m)
		seqs = append(seqs, seq)
		valueKeys = append(valueKeys, valueKey)
	}
	if len(valueKeys) == 0 {
		return page, nil
	}

	values, err := s.client.MGet(ctx, valueKeys...).Result()
	if err != nil {
		return replay.ThreadPage{}, err
	}

	var expired []interface{}
	for i, v := range values {
		record, ok := v.(string)
		if !ok {
			expired = append(expired, raw[i])
			s.sink.DurableMiss()
			continue
		}
		partition, offset, payload := keys.UnpackThreadRecord([]byte(record))
		page.Entries = append(page.Entries, replay.ThreadEntry{
			Seq: seqs[i],
			Msg: &replay.OutboundMessage{
				Data:   payload,
				Cursor: replay.Cursor{Partition: partition, Offset: offset},
			},
		})
	}
	s.sink.DurableHit(int64(len(page.Entries)))

	if len(expired) > 0 {
		if err := s.client.ZRem(ctx, indexKey, expired...).Err(); err != nil {
			threadID, _ := keys.DecodeThreadID(safeID)
			s.logger.Warn("expired index member cleanup failed",
				zap.String("thread", threadID),
				zap.String("index", indexKey),
				zap.Error(err),
			)
		}
	}
	return page, nil
}

// KnownPartitions scans the keyspace for partition indexes under the
// prefix. The scan is cursor-driven and bounded per round trip.
func (s *Store) KnownPartitions(ctx context.Context) ([]int32, error) {
	pattern := keys.OffsetIndexPattern(s.cfg.KeyPrefix)
	seen := make(map[int32]bool)

	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, int64(s.cfg.ScanBatch)).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range batch {
			if p, ok := keys.PartitionFromIndexKey(s.cfg.KeyPrefix, key); ok {
				seen[p] = true
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	out := make([]int32, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// LatestOffset reads the highest-ranked member of a partition index.
func (s *Store) LatestOffset(ctx context.Context, partition int32) (int64, bool, error) {
	return s.indexBound(ctx, partition, -1)
}

// OldestOffset reads the lowest-ranked member of a partition index.
func (s *Store) OldestOffset(ctx context.Context, partition int32) (int64, bool, error) {
	return s.indexBound(ctx, partition, 0)
}

// indexBound reads the member at one end of a partition index by rank. The
// member carries the exact offset; scores are only used for range queries.
func (s *Store) indexBound(ctx context.Context, partition int32, rank int64) (int64, bool, error) {
	indexKey := keys.OffsetIndexKey(s.cfg.KeyPrefix, partition)
	members, err := s.client.ZRange(ctx, indexKey, rank, rank).Result()
	if err != nil {
		return 0, false, err
	}
	if len(members) == 0 {
		return 0, false, nil
	}
	off, ok := keys.OffsetFromKey(members[0])
	if !ok {
		off, err = strconv.ParseInt(members[0], 10, 64)
		if err != nil {
			return 0, false, nil
		}
	}
	return off, true, nil
}
