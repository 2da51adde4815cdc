// Package memtier is the in-process tier of the replay buffer: a
// fixed-capacity FIFO of recent messages with full metadata.
package memtier

import (
	"sync"

	"github.com/gftdcojp/kafka-replay-buffer/internal/metrics"
	"github.com/gftdcojp/kafka-replay-buffer/internal/replay"
	"go.uber.org/zap"
)

// Store keeps the newest messages in arrival order, oldest first. Appends
// take the exclusive lock and evict in the same critical section; reads take
// the shared lock and scan linearly, bounded by capacity.
type Store struct {
	mu       sync.RWMutex
	capacity int
	msgs     []*replay.StoredMessage
	sink     *metrics.Sink
	logger   *zap.Logger
}

func NewStore(capacity int, sink *metrics.Sink, logger *zap.Logger) *Store {
	return &Store{
		capacity: capacity,
		msgs:     make([]*replay.StoredMessage, 0, capacity),
		sink:     sink,
		logger:   logger,
	}
}

// Add appends a message, evicting the oldest beyond capacity.
func (s *Store) Add(msg *replay.StoredMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.msgs) >= s.capacity {
		s.msgs[0] = nil
		s.msgs = s.msgs[1:]
		metrics.MemoryEvictions.Inc()
	}
	s.msgs = append(s.msgs, msg)

	size := int64(len(s.msgs))
	s.sink.SetMemorySize(size)
	metrics.MemoryMessages.Set(float64(size))

	s.logger.Debug("message buffered",
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Int64("memory_size", size),
	)
}

// MessagesAfterPartition returns resident messages for one partition with
// offsets strictly greater than afterOffset.
func (s *Store) MessagesAfterPartition(partition int32, afterOffset int64) []*replay.OutboundMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*replay.OutboundMessage
	for _, m := range s.msgs {
		if m.Partition == partition && m.Offset > afterOffset {
			out = append(out, &replay.OutboundMessage{
				Data:   m.Data,
				Cursor: replay.Cursor{Partition: m.Partition, Offset: m.Offset},
			})
		}
	}
	return out
}

// MessagesAfterThread returns resident entries indexed under threadID with
// sequences strictly greater than afterSeq.
func (s *Store) MessagesAfterThread(threadID string, afterSeq uint64) []replay.ThreadEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []replay.ThreadEntry
	for _, m := range s.msgs {
		seq, ok := m.ThreadSeqs[threadID]
		if !ok || seq <= afterSeq {
			continue
		}
		out = append(out, replay.ThreadEntry{
			Seq: seq,
			Msg: &replay.OutboundMessage{
				Data:   m.Data,
				Cursor: replay.Cursor{Partition: m.Partition, Offset: m.Offset},
			},
		})
	}
	return out
}

// KnownPartitions lists every partition with at least one resident message.
func (s *Store) KnownPartitions() []int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int32]bool)
	var out []int32
	for _, m := range s.msgs {
		if !seen[m.Partition] {
			seen[m.Partition] = true
			out = append(out, m.Partition)
		}
	}
	return out
}

// LatestOffset returns the highest resident offset for a partition.
func (s *Store) LatestOffset(partition int32) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest int64
	found := false
	for _, m := range s.msgs {
		if m.Partition != partition {
			continue
		}
		if !found || m.Offset > latest {
			latest = m.Offset
			found = true
		}
	}
	return latest, found
}

// OldestOffset returns the lowest resident offset for a partition.
func (s *Store) OldestOffset(partition int32) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var oldest int64
	found := false
	for _, m := range s.msgs {
		if m.Partition != partition {
			continue
		}
		if !found || m.Offset < oldest {
			oldest = m.Offset
			found = true
		}
	}
	return oldest, found
}

// Len reports the number of resident messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}

// Clear drops every resident message and resets the size metric.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msgs = s.msgs[:0]
	s.sink.SetMemorySize(0)
	metrics.MemoryMessages.Set(0)
}
