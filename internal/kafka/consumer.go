package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/streme-leaderboard/internal/config"
	"github.com/streme-leaderboard/internal/domain"
)

// ScoreHandler stores decoded submissions
type ScoreHandler interface {
	SubmitScoreBatch(ctx context.Context, inputs []domain.ScoreInput) ([]domain.ItemResult, error)
}

// defaultReadyTimeout bounds how long Start waits for the first group session.
const defaultReadyTimeout = 10 * time.Second

// Consumer consumes score messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       ScoreHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	readyTimeout  time.Duration
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler ScoreHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		readyTimeout:  defaultReadyTimeout,
	}, nil
}

// Start begins consuming messages from Kafka. It waits for the first group
// session up to the ready timeout; if the group is not ready by then the
// consume loop keeps retrying in the background.
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	ready := make(chan bool)
	c.wg.Add(1)
	go c.consumeLoop(ready)

	timeout := c.readyTimeout
	if timeout <= 0 {
		timeout = defaultReadyTimeout
	}

	select {
	case <-ready:
		c.logger.Info("Kafka consumer ready")
	case <-c.ctx.Done():
		return c.ctx.Err()
	case <-time.After(timeout):
		c.logger.Warn("Kafka consumer not ready, retrying in background", "timeout", timeout)
	}

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

func (c *Consumer) consumeLoop(ready chan bool) {
	defer c.wg.Done()
	for {
		handler := &consumerGroupHandler{
			consumer: c,
			ready:    ready,
		}

		if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			c.logger.Error("error from consumer", "error", err)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.config.RetryDelay):
			}
		}

		if c.ctx.Err() != nil {
			return
		}

		// Setup closes ready once per session; only a closed channel is renewed.
		select {
		case <-ready:
			ready = make(chan bool)
		default:
		}
	}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition. Offsets are marked
// once the batch carrying them has been handled.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	return h.consumer.consumeClaim(session, claim)
}

func (c *Consumer) consumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	cfg := c.config
	inputs := make([]domain.ScoreInput, 0, cfg.BatchSize)
	var pending []*sarama.ConsumerMessage
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		if len(inputs) > 0 {
			c.processBatch(session.Context(), inputs)
		}
		for _, msg := range pending {
			session.MarkMessage(msg, "")
		}
		inputs = inputs[:0]
		pending = pending[:0]
	}

	for {
		select {
		case <-session.Context().Done():
			flush()
			return nil

		case <-batchTimer.C:
			flush()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}
			pending = append(pending, message)

			input, err := decodeScore(message.Value)
			if err != nil {
				c.logger.Warn("skipping malformed score message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				continue
			}
			inputs = append(inputs, input)

			if len(inputs) >= cfg.BatchSize {
				flush()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}

// processBatch submits inputs, retrying while the store is unavailable.
// Rejected items are logged; they will never succeed on redelivery.
func (c *Consumer) processBatch(parent context.Context, inputs []domain.ScoreInput) {
	attempts := c.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		results, err := c.handler.SubmitScoreBatch(ctx, inputs)
		cancel()

		if err == nil {
			accepted := 0
			for i, res := range results {
				if res.Err != nil {
					c.logger.Warn("rejected score message", "index", i, "error", res.Err)
					continue
				}
				accepted++
			}
			c.logger.Debug("processed batch", "batch_size", len(inputs), "accepted", accepted)
			return
		}

		if !errors.Is(err, domain.ErrStoreUnavailable) || attempt == attempts {
			c.logger.Error("failed to process batch", "error", err, "batch_size", len(inputs), "attempt", attempt)
			return
		}

		c.logger.Warn("retrying batch", "error", err, "attempt", attempt)
		select {
		case <-parent.Done():
			c.logger.Error("dropping batch on shutdown", "batch_size", len(inputs))
			return
		case <-time.After(c.config.RetryDelay):
		}
	}
}

// decodeScore parses one message value. Field checks are left to the engine
// so that every rejection is reported the same way.
func decodeScore(value []byte) (domain.ScoreInput, error) {
	var input domain.ScoreInput
	if err := json.Unmarshal(value, &input); err != nil {
		return domain.ScoreInput{}, fmt.Errorf("decoding score message: %w", err)
	}
	return input, nil
}
