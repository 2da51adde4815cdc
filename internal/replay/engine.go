package replay

import (
	"context"
	"sort"
	"time"

	"github.com/gftdcojp/kafka-replay-buffer/internal/metrics"
	"go.uber.org/zap"
)

// MemoryTier is the in-process tier the engine merges over. It is
// synchronous and never fails.
type MemoryTier interface {
	Add(msg *StoredMessage)
	MessagesAfterPartition(partition int32, afterOffset int64) []*OutboundMessage
	MessagesAfterThread(threadID string, afterSeq uint64) []ThreadEntry
	KnownPartitions() []int32
	LatestOffset(partition int32) (int64, bool)
	OldestOffset(partition int32) (int64, bool)
	Len() int
	Clear()
}

// Engine merges the memory and durable tiers into one replay surface.
// Durable reads degrade to memory-only on error; the memory tier wins when
// both hold the same cursor.
type Engine struct {
	mem     MemoryTier
	durable DurableTier // nil when the durable tier is disabled
	sink    *metrics.Sink
	logger  *zap.Logger
	topic   string
}

func NewEngine(mem MemoryTier, durable DurableTier, sink *metrics.Sink, topic string, logger *zap.Logger) *Engine {
	return &Engine{
		mem:     mem,
		durable: durable,
		sink:    sink,
		logger:  logger,
		topic:   topic,
	}
}

// AddMessage buffers a message in the memory tier and schedules the durable
// write. The durable write never blocks ingest.
func (e *Engine) AddMessage(msg *StoredMessage) {
	e.mem.Add(msg)
	if e.durable != nil {
		e.durable.PersistAsync(msg)
	}
	metrics.MessagesIngested.WithLabelValues(e.topic).Inc()
}

// MessagesAfterPartitions replays everything after the supplied per-partition
// cursors. Partitions the server knows but the cursor map omits are replayed
// from the beginning and reported in NewPartitions. Gaps maps a partition to
// the number of offsets missing between its cursor and the first message
// returned.
func (e *Engine) MessagesAfterPartitions(ctx context.Context, cursors map[int32]int64) (PartitionReplay, error) {
	start := time.Now()
	defer func() {
		metrics.ReplayReads.WithLabelValues("partition").Inc()
		metrics.ReplayReadLatency.WithLabelValues("partition").Observe(time.Since(start).Seconds())
	}()

	known, err := e.KnownPartitions(ctx)
	if err != nil {
		return PartitionReplay{}, err
	}

	result := PartitionReplay{Gaps: make(map[int32]int64)}

	queries := make(map[int32]int64, len(cursors))
	for p, off := range cursors {
		queries[p] = off
	}
	for _, p := range known {
		if _, supplied := cursors[p]; !supplied {
			queries[p] = EarliestOffset
			result.NewPartitions = append(result.NewPartitions, p)
		}
	}
	sort.Slice(result.NewPartitions, func(i, j int) bool {
		return result.NewPartitions[i] < result.NewPartitions[j]
	})

	partitions := make([]int32, 0, len(queries))
	for p := range queries {
		partitions = append(partitions, p)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, p := range partitions {
		after := queries[p]
		merged, more := e.mergePartition(ctx, p, after)
		if more {
			result.MoreData = append(result.MoreData, p)
		}
		if len(merged) == 0 {
			continue
		}

		if _, supplied := cursors[p]; supplied && after >= 0 {
			if gap := merged[0].Cursor.Offset - (after + 1); gap > 0 {
				result.Gaps[p] = gap
				metrics.GapsDetected.Inc()
				e.logger.Warn("replay gap detected",
					zap.Int32("partition", p),
					zap.Int64("cursor", after),
					zap.Int64("first_offset", merged[0].Cursor.Offset),
					zap.Int64("missing", gap),
				)
			}
		}
		result.Messages = append(result.Messages, merged...)
	}
	return result, nil
}

// mergePartition overlays the memory tier on the durable page for one
// partition, deduplicating by offset with the memory copy winning.
func (e *Engine) mergePartition(ctx context.Context, partition int32, after int64) ([]*OutboundMessage, bool) {
	byOffset := make(map[int64]*OutboundMessage)
	more := false

	if e.durable != nil {
		page, err := e.durable.MessagesAfterPartition(ctx, partition, after)
		if err != nil {
			e.sink.DurableMiss()
			e.logger.Warn("durable read degraded to memory tier",
				zap.Int32("partition", partition),
				zap.Error(err),
			)
		} else {
			more = page.More
			for _, m := range page.Messages {
				byOffset[m.Cursor.Offset] = m
			}
		}
	}

	memMsgs := e.mem.MessagesAfterPartition(partition, after)
	e.sink.MemoryHit(int64(len(memMsgs)))
	for _, m := range memMsgs {
		byOffset[m.Cursor.Offset] = m
	}

	out := make([]*OutboundMessage, 0, len(byOffset))
	for _, m := range byOffset {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cursor.Offset < out[j].Cursor.Offset })
	return out, more
}

// MessagesAfterThreads replays everything after the supplied per-thread
// sequence cursors. Threads are independent; a gap on one never affects
// another.
func (e *Engine) MessagesAfterThreads(ctx context.Context, cursors map[string]uint64) (ThreadReplay, error) {
	start := time.Now()
	defer func() {
		metrics.ReplayReads.WithLabelValues("thread").Inc()
		metrics.ReplayReadLatency.WithLabelValues("thread").Observe(time.Since(start).Seconds())
	}()

	result := ThreadReplay{Gaps: make(map[string]uint64)}

	threadIDs := make([]string, 0, len(cursors))
	for id := range cursors {
		threadIDs = append(threadIDs, id)
	}
	sort.Strings(threadIDs)

	for _, id := range threadIDs {
		after := cursors[id]
		merged := e.mergeThread(ctx, id, after)
		if len(merged) == 0 {
			continue
		}

		if first := merged[0].Seq; first > after+1 {
			gap := first - after - 1
			result.Gaps[id] = gap
			metrics.GapsDetected.Inc()
			e.logger.Warn("replay gap detected",
				zap.String("thread", id),
				zap.Uint64("cursor", after),
				zap.Uint64("first_seq", first),
				zap.Uint64("missing", gap),
			)
		}
		for _, entry := range merged {
			result.Messages = append(result.Messages, entry.Msg)
		}
	}
	return result, nil
}

func (e *Engine) mergeThread(ctx context.Context, threadID string, after uint64) []ThreadEntry {
	bySeq := make(map[uint64]ThreadEntry)

	if e.durable != nil {
		page, err := e.durable.MessagesAfterThread(ctx, threadID, after)
		if err != nil {
			e.sink.DurableMiss()
			e.logger.Warn("durable read degraded to memory tier",
				zap.String("thread", threadID),
				zap.Error(err),
			)
		} else {
			for _, entry := range page.Entries {
				bySeq[entry.Seq] = entry
			}
		}
	}

	memEntries := e.mem.MessagesAfterThread(threadID, after)
	e.sink.MemoryHit(int64(len(memEntries)))
	for _, entry := range memEntries {
		bySeq[entry.Seq] = entry
	}

	out := make([]ThreadEntry, 0, len(bySeq))
	for _, entry := range bySeq {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// KnownPartitions unions the partitions either tier has seen.
func (e *Engine) KnownPartitions(ctx context.Context) ([]int32, error) {
	seen := make(map[int32]bool)
	for _, p := range e.mem.KnownPartitions() {
		seen[p] = true
	}
	if e.durable != nil {
		durableParts, err := e.durable.KnownPartitions(ctx)
		if err != nil {
			e.logger.Warn("durable partition discovery degraded to memory tier", zap.Error(err))
		} else {
			for _, p := range durableParts {
				seen[p] = true
			}
		}
	}

	out := make([]int32, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// LatestOffsets reports the highest buffered offset per known partition.
func (e *Engine) LatestOffsets(ctx context.Context) (map[int32]int64, error) {
	known, err := e.KnownPartitions(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[int32]int64, len(known))
	for _, p := range known {
		if off, found := e.mem.LatestOffset(p); found {
			out[p] = off
		}
		if e.durable == nil {
			continue
		}
		off, found, err := e.durable.LatestOffset(ctx, p)
		if err != nil {
			e.logger.Warn("durable latest-offset read failed",
				zap.Int32("partition", p),
				zap.Error(err),
			)
			continue
		}
		if found {
			if cur, ok := out[p]; !ok || off > cur {
				out[p] = off
			}
		}
	}
	return out, nil
}

// OldestOffset reports the lowest offset still buffered for a partition
// across both tiers.
func (e *Engine) OldestOffset(ctx context.Context, partition int32) (int64, bool, error) {
	oldest, found := e.mem.OldestOffset(partition)

	if e.durable != nil {
		off, durableFound, err := e.durable.OldestOffset(ctx, partition)
		if err != nil {
			e.logger.Warn("durable oldest-offset read failed",
				zap.Int32("partition", partition),
				zap.Error(err),
			)
		} else if durableFound && (!found || off < oldest) {
			oldest = off
			found = true
		}
	}
	return oldest, found, nil
}

// StaleCursors reports the partitions whose cursor points below the oldest
// message either tier still holds, meaning the next replay will surface a
// gap. Negative cursors request a from-the-beginning replay and are never
// stale.
func (e *Engine) StaleCursors(ctx context.Context, cursors map[int32]int64) ([]int32, error) {
	var stale []int32
	for p, off := range cursors {
		if off < 0 {
			continue
		}
		oldest, found, err := e.OldestOffset(ctx, p)
		if err != nil {
			return nil, err
		}
		if found && off+1 < oldest {
			stale = append(stale, p)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })
	return stale, nil
}

// Clear empties both tiers. In-flight durable writes drain first so a write
// scheduled before the clear cannot land after it. Returns the number of
// durable entries removed.
func (e *Engine) Clear(ctx context.Context) (int64, error) {
	if e.durable != nil {
		e.durable.Drain(ctx)
	}
	e.mem.Clear()
	if e.durable == nil {
		return 0, nil
	}
	return e.durable.Clear(ctx)
}

// SnapshotMetrics returns the engine's counter snapshot for introspection.
func (e *Engine) SnapshotMetrics() metrics.Snapshot {
	return e.sink.Snapshot()
}
