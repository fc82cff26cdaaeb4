package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes each document to a topic named after the path, with slashes
// turned into dots: /greenhouse/data_v2 goes to greenhouse.data_v2.
type Kafka struct {
	writer kafkaMessageWriter
	logger *slog.Logger
}

func NewKafka(brokers []string, logger *slog.Logger) (*Kafka, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchSize:              1,
		WriteTimeout:           10 * time.Second,
	}
	return &Kafka{writer: w, logger: logger}, nil
}

func (k *Kafka) Push(ctx context.Context, path string, body []byte) (PushResult, error) {
	topic := kafkaTopic(path)
	if topic == "" {
		return PushResult{}, pushError("empty topic for path %q", path)
	}
	name, err := newName()
	if err != nil {
		return PushResult{}, pushError("generate name: %v", err)
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(name),
		Value: body,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return PushResult{}, pushError("%v", err)
	}
	k.logger.Debug("kafka message written", "topic", topic, "key", name, "size", len(body))
	return PushResult{Path: path, Name: name, ETag: etag(body)}, nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

func kafkaTopic(path string) string {
	return strings.ReplaceAll(strings.Trim(path, "/"), "/", ".")
}
