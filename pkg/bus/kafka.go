package bus

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/vinchx/chitchat/pkg/metrics"
	"github.com/vinchx/chitchat/pkg/model"
	"go.uber.org/zap"
)

const DefaultTopic = "chat-events"

// Kafka publishes events keyed by room id. The hash balancer keeps every
// event of a room on one partition, so consumers see them in publish order.
type Kafka struct {
	brokers []string
	topic   string
	writer  *kafka.Writer
	log     *zap.Logger
}

func NewKafka(brokers []string, topic string, log *zap.Logger) *Kafka {
	return &Kafka{
		brokers: brokers,
		topic:   topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		log: log,
	}
}

func (k *Kafka) Publish(ctx context.Context, ev model.Event) error {
	payload, err := ev.Marshal()
	if err != nil {
		return err
	}
	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.RoomID),
		Value: payload,
		Time:  ev.At,
	})
	if err != nil {
		return err
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

// FanoutGroup returns a consumer group unique to this process, so every
// gateway receives every event.
func FanoutGroup(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// Consume reads events for groupID and hands each to sink until ctx is
// done. Fan-out groups start at the tail; shared worker groups resume from
// their committed offset.
func (k *Kafka) Consume(ctx context.Context, groupID string, fanout bool, sink Publisher) error {
	cfg := kafka.ReaderConfig{
		Brokers:  k.brokers,
		Topic:    k.topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  250 * time.Millisecond,
	}
	if fanout {
		cfg.StartOffset = kafka.LastOffset
	}
	reader := kafka.NewReader(cfg)
	defer reader.Close()

	k.log.Info("Consuming events", zap.String("topic", k.topic), zap.String("group", groupID))
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			k.log.Error("Error reading event, retrying in 1s", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		ev, err := model.UnmarshalEvent(m.Value)
		if err != nil {
			k.log.Warn("Skipping malformed event", zap.Int64("offset", m.Offset), zap.Error(err))
			continue
		}
		if err := sink.Publish(ctx, ev); err != nil {
			k.log.Warn("Event handler failed",
				zap.String("room", ev.RoomID), zap.String("type", string(ev.Type)), zap.Error(err))
		}
	}
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
