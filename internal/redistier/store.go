// Package redistier implements the durable tier of the replay buffer on
// Redis. Every message is written as a value key plus a sorted-set index
// entry per cursor scheme, all under a shared key prefix with a common TTL.
// Writes are fire-and-forget behind an admission gate; reads page through
// the indexes and tolerate members whose value keys have already expired.
package redistier

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gftdcojp/kafka-replay-buffer/internal/admission"
	"github.com/gftdcojp/kafka-replay-buffer/internal/config"
	"github.com/gftdcojp/kafka-replay-buffer/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// maxExactScore is the largest integer a sorted-set score can hold without
// rounding. Offsets past it still work but lose exactness.
const maxExactScore = int64(1) << 53

// Store is the Redis-backed durable tier.
type Store struct {
	client redis.UniversalClient
	cfg    config.DurableConfig
	gate   *admission.Gate
	sink   *metrics.Sink
	logger *zap.Logger

	writesSinceTrim atomic.Int64
	scoreWarnOnce   sync.Once
}

// New connects to Redis and verifies the connection before returning.
func New(ctx context.Context, cfg config.DurableConfig, sink *metrics.Sink, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	logger.Info("durable tier connected",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.String("key_prefix", cfg.KeyPrefix),
		zap.Duration("ttl", cfg.TTL.Duration()),
	)

	return &Store{
		client: client,
		cfg:    cfg,
		gate:   admission.NewGate(cfg.MaxConcurrentWrites, cfg.AdmissionTimeout.Duration()),
		sink:   sink,
		logger: logger,
	}, nil
}

// Client exposes the underlying connection for health probes.
func (s *Store) Client() redis.UniversalClient {
	return s.client
}

// Drain waits for in-flight background writes, bounded by the configured
// drain timeout or ctx, whichever ends first.
func (s *Store) Drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DrainTimeout.Duration())
	defer cancel()
	if !s.gate.Drain(ctx) {
		s.logger.Warn("drain timed out with writes still in flight")
	}
}

func (s *Store) Close() error {
	return s.client.Close()
}

// warnScorePrecision logs once per process when an offset or sequence
// exceeds what a sorted-set score can represent exactly.
func (s *Store) warnScorePrecision(v int64) {
	if v <= maxExactScore {
		return
	}
	s.scoreWarnOnce.Do(func() {
		s.logger.Warn("cursor value exceeds exact sorted-set score range, range queries may be approximate",
			zap.Int64("value", v),
		)
	})
}
