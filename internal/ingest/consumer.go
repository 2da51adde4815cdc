// Package ingest feeds the replay buffer from Kafka through a consumer
// group. Partition and offset come straight off each record; thread
// membership is carried in record headers.
package ingest

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/gftdcojp/kafka-replay-buffer/internal/config"
	"github.com/gftdcojp/kafka-replay-buffer/internal/replay"
	"go.uber.org/zap"
)

// Header keys carrying thread membership. They repeat pairwise when one
// record belongs to several threads.
const (
	HeaderThreadID  = "thread-id"
	HeaderThreadSeq = "thread-seq"
)

// Consumer runs a Kafka consumer group session and adds every record to the
// replay engine. Offsets are committed after the engine accepted the record;
// the durable write behind it is fire-and-forget and does not hold up the
// commit.
type Consumer struct {
	group   sarama.ConsumerGroup
	engine  *replay.Engine
	cfg     config.KafkaConfig
	logger  *zap.Logger
	running atomic.Bool
}

func NewConsumer(cfg config.KafkaConfig, engine *replay.Engine, logger *zap.Logger) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.ClientID = cfg.ClientID
	sc.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	sc.Consumer.Offsets.Initial = offsetInitial(cfg.OffsetInitial)
	sc.Consumer.Return.Errors = true
	sc.Consumer.MaxProcessingTime = 5 * time.Minute

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, sc)
	if err != nil {
		return nil, err
	}

	logger.Info("kafka consumer created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.String("group", cfg.ConsumerGroup),
	)

	return &Consumer{
		group:  group,
		engine: engine,
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Run consumes until ctx is cancelled. Sarama returns from Consume on every
// rebalance, so the session is re-entered in a loop.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.running.Store(false)

	handler := &groupHandler{consumer: c}
	for {
		if err := c.group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Running reports whether a consumer group session is active. The health
// readiness probe uses it.
func (c *Consumer) Running() bool {
	return c.running.Load()
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.consumer.running.Store(true)
	h.consumer.logger.Info("consumer group session started",
		zap.String("member_id", session.MemberID()),
		zap.Any("claims", session.Claims()),
	)
	return nil
}

func (h *groupHandler) Cleanup(session sarama.ConsumerGroupSession) error {
	h.consumer.running.Store(false)
	h.consumer.logger.Info("consumer group session ended",
		zap.String("member_id", session.MemberID()),
	)
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.consumer.engine.AddMessage(&replay.StoredMessage{
				Data:        msg.Value,
				Partition:   msg.Partition,
				Offset:      msg.Offset,
				ThreadSeqs:  ThreadSeqsFromHeaders(msg.Headers),
				ArrivalTime: msg.Timestamp,
			})
			session.MarkMessage(msg, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// ThreadSeqsFromHeaders pairs each thread-id header with the thread-seq
// header that follows it. An id whose seq is missing or malformed is
// dropped; a later pair is never affected by an earlier broken one. A record
// with no thread headers belongs to no thread.
func ThreadSeqsFromHeaders(headers []*sarama.RecordHeader) map[string]uint64 {
	var out map[string]uint64
	var pending string
	havePending := false

	for _, hdr := range headers {
		switch string(hdr.Key) {
		case HeaderThreadID:
			pending = string(hdr.Value)
			havePending = true
		case HeaderThreadSeq:
			if !havePending {
				continue
			}
			havePending = false
			seq, err := strconv.ParseUint(string(hdr.Value), 10, 64)
			if err != nil {
				continue
			}
			if out == nil {
				out = make(map[string]uint64)
			}
			out[pending] = seq
		}
	}
	return out
}

func offsetInitial(v string) int64 {
	if v == "oldest" {
		return sarama.OffsetOldest
	}
	return sarama.OffsetNewest
}
