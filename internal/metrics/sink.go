package metrics

import (
	"sync/atomic"
	"time"
)

// Sink holds the replay buffer's counters as independent atomics; there is no
// lock to contend on. A Sink is shared by the memory tier, the durable tier
// and the engine, and read only through Snapshot.
type Sink struct {
	memoryHits    atomic.Int64
	durableHits   atomic.Int64
	durableMisses atomic.Int64
	writesDropped atomic.Int64
	writeFailures atomic.Int64
	memorySize    atomic.Int64

	// Static configuration captured at construction for snapshots.
	durableEnabled  bool
	maxMemorySize   int
	retentionTTL    time.Duration
	maxIndexEntries int
}

// SinkConfig is the static context reported with every snapshot.
type SinkConfig struct {
	DurableEnabled  bool
	MaxMemorySize   int
	RetentionTTL    time.Duration
	MaxIndexEntries int
}

func NewSink(cfg SinkConfig) *Sink {
	return &Sink{
		durableEnabled:  cfg.DurableEnabled,
		maxMemorySize:   cfg.MaxMemorySize,
		retentionTTL:    cfg.RetentionTTL,
		maxIndexEntries: cfg.MaxIndexEntries,
	}
}

func (s *Sink) MemoryHit(n int64)     { s.memoryHits.Add(n) }
func (s *Sink) DurableHit(n int64)    { s.durableHits.Add(n) }
func (s *Sink) DurableMiss()          { s.durableMisses.Add(1) }
func (s *Sink) WriteDropped()         { s.writesDropped.Add(1) }
func (s *Sink) WriteFailed()          { s.writeFailures.Add(1) }
func (s *Sink) SetMemorySize(n int64) { s.memorySize.Store(n) }

// Snapshot is an immutable copy of the counters plus the static limits the
// buffer runs under.
type Snapshot struct {
	DurableEnabled  bool          `json:"durable_enabled"`
	MemoryHits      int64         `json:"memory_hits"`
	DurableHits     int64         `json:"durable_hits"`
	DurableMisses   int64         `json:"durable_misses"`
	WritesDropped   int64         `json:"writes_dropped"`
	WriteFailures   int64         `json:"write_failures"`
	MemorySize      int64         `json:"memory_size"`
	MaxMemorySize   int           `json:"max_memory_size"`
	RetentionTTL    time.Duration `json:"retention_ttl"`
	MaxIndexEntries int           `json:"max_index_entries"`
}

func (s *Sink) Snapshot() Snapshot {
	return Snapshot{
		DurableEnabled:  s.durableEnabled,
		MemoryHits:      s.memoryHits.Load(),
		DurableHits:     s.durableHits.Load(),
		DurableMisses:   s.durableMisses.Load(),
		WritesDropped:   s.writesDropped.Load(),
		WriteFailures:   s.writeFailures.Load(),
		MemorySize:      s.memorySize.Load(),
		MaxMemorySize:   s.maxMemorySize,
		RetentionTTL:    s.retentionTTL,
		MaxIndexEntries: s.maxIndexEntries,
	}
}
