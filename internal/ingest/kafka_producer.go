package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaQueue publishes match jobs keyed by ride id, so every job for one
// ride lands on the same partition.
type KafkaQueue struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaQueue(brokers []string, topic string) *KafkaQueue {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &KafkaQueue{writer: w, timeout: 2 * time.Second}
}

func (k *KafkaQueue) Enqueue(ctx context.Context, job MatchJob) error {
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now().UTC()
	}
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(job.RideID), Value: b})
}

func (k *KafkaQueue) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
