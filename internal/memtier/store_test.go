package memtier

import (
	"fmt"
	"testing"
	"time"

	"github.com/gftdcojp/kafka-replay-buffer/internal/metrics"
	"github.com/gftdcojp/kafka-replay-buffer/internal/replay"
	"go.uber.org/zap"
)

func newTestStore(capacity int) *Store {
	return NewStore(capacity, metrics.NewSink(metrics.SinkConfig{}), zap.NewNop())
}

func storedMsg(partition int32, offset int64, threads map[string]uint64) *replay.StoredMessage {
	return &replay.StoredMessage{
		Data:        []byte(fmt.Sprintf("p%d-o%d", partition, offset)),
		Partition:   partition,
		Offset:      offset,
		ThreadSeqs:  threads,
		ArrivalTime: time.Now(),
	}
}

func TestAddEvictsOldestBeyondCapacity(t *testing.T) {
	s := newTestStore(3)
	for i := int64(0); i < 5; i++ {
		s.Add(storedMsg(0, i, nil))
	}

	if got := s.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	msgs := s.MessagesAfterPartition(0, -1)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Cursor.Offset != 2 || msgs[2].Cursor.Offset != 4 {
		t.Fatalf("expected offsets 2..4, got %d..%d", msgs[0].Cursor.Offset, msgs[2].Cursor.Offset)
	}
}

func TestMessagesAfterPartitionExclusiveCursor(t *testing.T) {
	s := newTestStore(10)
	for i := int64(0); i < 5; i++ {
		s.Add(storedMsg(1, i, nil))
	}
	s.Add(storedMsg(2, 100, nil))

	msgs := s.MessagesAfterPartition(1, 2)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	for _, m := range msgs {
		if m.Cursor.Offset <= 2 {
			t.Fatalf("offset %d is not after cursor 2", m.Cursor.Offset)
		}
		if m.Cursor.Partition != 1 {
			t.Fatalf("unexpected partition %d", m.Cursor.Partition)
		}
	}
}

func TestMessagesAfterThread(t *testing.T) {
	s := newTestStore(10)
	s.Add(storedMsg(0, 1, map[string]uint64{"order-1": 1}))
	s.Add(storedMsg(0, 2, map[string]uint64{"order-1": 2, "order-2": 1}))
	s.Add(storedMsg(0, 3, map[string]uint64{"order-2": 2}))

	entries := s.MessagesAfterThread("order-1", 1)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Seq != 2 {
		t.Fatalf("Seq = %d, want 2", entries[0].Seq)
	}
	if entries[0].Msg.Cursor.Offset != 2 {
		t.Fatalf("Offset = %d, want 2", entries[0].Msg.Cursor.Offset)
	}

	if got := s.MessagesAfterThread("order-3", 0); len(got) != 0 {
		t.Fatalf("unknown thread returned %d entries", len(got))
	}
}

func TestKnownPartitionsAndBounds(t *testing.T) {
	s := newTestStore(10)
	s.Add(storedMsg(0, 5, nil))
	s.Add(storedMsg(0, 7, nil))
	s.Add(storedMsg(3, 1, nil))

	parts := s.KnownPartitions()
	if len(parts) != 2 {
		t.Fatalf("got %d partitions, want 2", len(parts))
	}

	latest, ok := s.LatestOffset(0)
	if !ok || latest != 7 {
		t.Fatalf("LatestOffset(0) = %d, %v; want 7, true", latest, ok)
	}
	oldest, ok := s.OldestOffset(0)
	if !ok || oldest != 5 {
		t.Fatalf("OldestOffset(0) = %d, %v; want 5, true", oldest, ok)
	}
	if _, ok := s.LatestOffset(9); ok {
		t.Fatal("LatestOffset(9) reported a value for an empty partition")
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(10)
	s.Add(storedMsg(0, 1, nil))
	s.Add(storedMsg(0, 2, nil))

	s.Clear()
	if got := s.Len(); got != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", got)
	}
	if got := s.MessagesAfterPartition(0, -1); len(got) != 0 {
		t.Fatalf("read after Clear returned %d messages", len(got))
	}
}
