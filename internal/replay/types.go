package replay

import (
	"context"
	"time"
)

// Cursor is the global catch-up position: offsets are meaningful only within
// a partition.
type Cursor struct {
	Partition int32 `json:"partition"`
	Offset    int64 `json:"offset"`
}

// EarliestOffset is the sentinel cursor meaning "from the earliest retained
// offset"; it is used when the server knows a partition the caller has never
// seen.
const EarliestOffset int64 = -1

// StoredMessage is a message resident in the memory tier. The data slice is
// shared with the broadcast layer and must never be mutated after creation.
type StoredMessage struct {
	Data      []byte
	Partition int32
	Offset    int64
	// ThreadSeqs indexes the payload under zero or more logical threads;
	// a batch payload may span several threads in one record.
	ThreadSeqs  map[string]uint64
	ArrivalTime time.Time
}

// OutboundMessage is what queries return. It always carries a cursor; legacy
// thread-indexed records written before cursor tagging synthesize a zero one.
type OutboundMessage struct {
	Data   []byte `json:"data"`
	Cursor Cursor `json:"cursor"`
}

// Page is one bounded read from the durable tier. More distinguishes "the
// page was full, there may be more" from "no more data".
type Page struct {
	Messages []*OutboundMessage
	More     bool
}

// ThreadEntry pairs a thread-scoped sequence with its message; the sequence
// is the merge key for thread queries and never leaves the engine.
type ThreadEntry struct {
	Seq uint64
	Msg *OutboundMessage
}

// ThreadPage is one bounded thread-indexed read from the durable tier.
type ThreadPage struct {
	Entries []ThreadEntry
	More    bool
}

// DurableTier is the read/write surface of the external durable cache. The
// engine merges it with the memory tier and tolerates duplicates between the
// two; an in-memory fake stands in for it in tests.
type DurableTier interface {
	// PersistAsync schedules a best-effort background write. It never
	// blocks the caller and never reports an error; drops and failures
	// are counted instead.
	PersistAsync(msg *StoredMessage)

	MessagesAfterPartition(ctx context.Context, partition int32, afterOffset int64) (Page, error)
	MessagesAfterThread(ctx context.Context, threadID string, afterSeq uint64) (ThreadPage, error)

	KnownPartitions(ctx context.Context) ([]int32, error)
	LatestOffset(ctx context.Context, partition int32) (offset int64, found bool, err error)
	OldestOffset(ctx context.Context, partition int32) (offset int64, found bool, err error)

	// Drain waits, bounded by the configured drain timeout, for in-flight
	// background writes to finish.
	Drain(ctx context.Context)
	// Clear removes everything under the key prefix within a wall-clock
	// budget and returns the number of entries removed.
	Clear(ctx context.Context) (int64, error)

	Close() error
}

// PartitionReplay is the result of a partition-cursor catch-up query.
type PartitionReplay struct {
	// Messages are grouped by partition with offsets ascending inside each
	// partition; no cross-partition order is implied.
	Messages []*OutboundMessage
	// Gaps maps a partition to the number of offsets missing between the
	// supplied cursor and the first message returned for it.
	Gaps map[int32]int64
	// NewPartitions lists partitions the server knows but the caller's
	// cursor map did not mention.
	NewPartitions []int32
	// MoreData lists partitions whose durable page hit the size bound.
	MoreData []int32
}

// ThreadReplay is the result of a legacy thread-cursor query. Sequences are
// sorted per thread; nothing is implied across threads.
type ThreadReplay struct {
	Messages []*OutboundMessage
	Gaps     map[string]uint64
}
