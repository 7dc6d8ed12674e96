// Package kafkaconsumer applies dataset invalidation events read from Kafka.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	obs "github.com/mohammed-shakir/gamedata-cache/internal/core/observability"
	"github.com/mohammed-shakir/gamedata-cache/internal/invalidation"
	mylog "github.com/mohammed-shakir/gamedata-cache/internal/logger"
)

// Invalidator evicts one dataset and its pages.
type Invalidator interface {
	Invalidate(ctx context.Context, datasetKey string) error
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	target Invalidator
	dedupe *tsDedupe
	zlog   *zerolog.Logger

	mu         sync.Mutex
	partitions []int32
}

func New(cfg Config, logger *slog.Logger, target Invalidator) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		target: target,
		dedupe: newTSDedupe(cfg.DedupeSize),
	}
}

// Start consumes invalidation events until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.target == nil {
		return errors.New("kafkaconsumer: missing invalidation target")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	zl := mylog.Build(mylog.Config{
		Level:     "info",
		Service:   "gamedata-cache",
		Component: "kafka_consumer",
	}, nil)
	c.zlog = &zl

	handler := &groupHandler{
		process: c.ProcessOne,
		onSetup: c.assigned,
		onClean: func() { c.assigned(nil) },
	}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				c.zlog.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				time.Sleep(2 * time.Second)
			}
		}
	}
}

func (c *Consumer) assigned(claims map[string][]int32) {
	parts := slices.Clone(claims[c.cfg.Topic])
	slices.Sort(parts)
	c.mu.Lock()
	c.partitions = parts
	c.mu.Unlock()
}

// Readiness reports whether the group currently holds partitions of the topic.
func (c *Consumer) Readiness() (bool, []int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.partitions) > 0, slices.Clone(c.partitions)
}

// ProcessOne applies a single message. Undecodable or invalid events are
// logged and skipped; a failed invalidation is returned so the offset is not marked.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.reject(ctx, msg, "decode", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.reject(ctx, msg, "invalid", err)
		return nil
	}

	key := ev.Key()
	if c.dedupe.seen(key, ev.TS) {
		obs.IncInvalidation("duplicate")
		c.logger.Debug("duplicate invalidation skipped", "dataset_key", key, "ts", ev.TS)
		return nil
	}

	ctx = mylog.WithDatasetKey(ctx, key)
	if err := c.target.Invalidate(ctx, key); err != nil {
		obs.IncKafkaConsumerError("invalidate")
		mylog.FromContext(ctx, c.zlog).Error().
			Err(err).
			Str("kind", "invalidate").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("kafka error")
		return fmt.Errorf("invalidate %q: %w", key, err)
	}
	c.dedupe.applied(key, ev.TS)

	mylog.FromContext(ctx, c.zlog).Info().
		Str("event", "invalidation").
		Str("source", ev.Source).
		Int64("offset", msg.Offset).
		Msg("dataset invalidated")
	return nil
}

func (c *Consumer) reject(ctx context.Context, msg *sarama.ConsumerMessage, kind string, err error) {
	obs.IncKafkaConsumerError(kind)
	c.logger.WarnContext(ctx, "invalidation event rejected",
		"kind", kind, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
}
