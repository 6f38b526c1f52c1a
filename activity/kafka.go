package activity

import (
	"context"
	"encoding/json"

	"github.com/Shyp/go-types"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/mutator"
	"github.com/arkstead/keepsake/runner"
)

// An EventSink receives rendered activities as they are recorded. Satisfied
// by *Publisher.
type EventSink interface {
	Publish(ctx context.Context, act models.Activity) error
}

// Publisher fans activities out to a Kafka topic, keyed by the object id so
// each archival group's activities stay ordered within a partition.
type Publisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
		logger: logger,
	}
}

func (p *Publisher) Publish(ctx context.Context, act models.Activity) error {
	body, err := json.Marshal(act)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(act.Object.ID),
		Value: body,
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// PublishingLedger decorates a ledger with activity fanout. The append is
// authoritative; fanout is best effort and a failed publish only logs, since
// harvesters can always recover the entry from the collection.
type PublishingLedger struct {
	Next    runner.Ledger
	Sink    EventSink
	Mutator *mutator.Mutator
	BaseURL string
	Logger  *zap.Logger
}

func (l *PublishingLedger) Append(group, fromVersion, toVersion string, deleted bool, importJobID types.PrefixUUID) (*models.ArchivalGroupEvent, error) {
	ev, err := l.Next.Append(group, fromVersion, toVersion, deleted, importJobID)
	if err != nil {
		return nil, err
	}
	act := Render(ev, l.BaseURL, l.Mutator)
	if perr := l.Sink.Publish(context.Background(), act); perr != nil {
		l.Logger.Warn("activity fanout failed",
			zap.String("archival_group", group),
			zap.String("to_version", toVersion),
			zap.Error(perr))
	}
	return ev, nil
}
