package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"content-podcaster/internal/models"
)

// KafkaPublisher writes events keyed by feed slug so that changes of one feed
// stay ordered.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev models.InvalidationEvent) error {
	payload, err := Encode(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(ev.FeedSlug),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "change-kind", Value: []byte(ev.ChangeKind)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", p.writer.Topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// KafkaSubscriber consumes events in a consumer group. Offsets are committed
// after the handler returns, so a crash redelivers the event.
type KafkaSubscriber struct {
	reader *kafka.Reader
	log    logrus.FieldLogger
}

func NewKafkaSubscriber(brokers []string, topic, groupID string, log logrus.FieldLogger) *KafkaSubscriber {
	return &KafkaSubscriber{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 1e6,
			MaxWait:  time.Second,
		}),
		log: log,
	}
}

func (s *KafkaSubscriber) Subscribe(ctx context.Context, handle Handler) error {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			s.log.WithError(err).Error("Failed to fetch event")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		ev, err := Decode(msg.Value)
		if err != nil {
			s.log.WithError(err).WithField("offset", msg.Offset).Warn("Dropping malformed event")
		} else {
			handle(ctx, ev)
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Error("Failed to commit event offset")
		}
	}
}

func (s *KafkaSubscriber) Close() error {
	return s.reader.Close()
}
