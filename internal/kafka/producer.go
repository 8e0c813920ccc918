package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/streme-leaderboard/internal/domain"
)

// Producer publishes score submissions for the consumer to ingest
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewProducer connects a synchronous producer to the brokers
func NewProducer(brokers []string, topic string) (*Producer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating producer: %w", err)
	}
	return NewProducerWith(producer, topic), nil
}

// NewProducerWith wraps an existing sarama producer
func NewProducerWith(producer sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: producer, topic: topic}
}

// Publish sends the submissions in order, stopping at the first failure
func (p *Producer) Publish(inputs ...domain.ScoreInput) error {
	for i, in := range inputs {
		msg, err := p.message(in)
		if err != nil {
			return err
		}
		if _, _, err := p.producer.SendMessage(msg); err != nil {
			return fmt.Errorf("publishing score %d of %d: %w", i+1, len(inputs), err)
		}
	}
	return nil
}

// message encodes one submission. Messages are keyed by fid so one player's
// sessions land on one partition in order.
func (p *Producer) message(in domain.ScoreInput) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding score: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(data),
	}
	if in.PlayerID != nil {
		msg.Key = sarama.StringEncoder(strconv.FormatInt(*in.PlayerID, 10))
	}
	return msg, nil
}

// Close flushes and closes the producer
func (p *Producer) Close() error {
	return p.producer.Close()
}
