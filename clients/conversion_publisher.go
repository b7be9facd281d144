package clients

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/moneyflowz367/affilync-bigcommerce/models"
	awspkg "github.com/moneyflowz367/affilync-bigcommerce/pkg/aws"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ConversionPublisher delivers conversion events to the downstream affiliate ledger.
type ConversionPublisher interface {
	Publish(ctx context.Context, event models.ConversionEvent) error
	Close() error
}

// SNSConversionPublisher publishes to an SNS topic. Subscribers can filter on the
// type and store_id message attributes.
type SNSConversionPublisher struct {
	sns      awspkg.SNSPublisher
	topicArn string
	logger   *zap.Logger
}

func NewSNSConversionPublisher(sns awspkg.SNSPublisher, topicArn string, logger *zap.Logger) *SNSConversionPublisher {
	logger.Info("SNS conversion publisher initialized", zap.String("topic_arn", topicArn))
	return &SNSConversionPublisher{sns: sns, topicArn: topicArn, logger: logger}
}

func (p *SNSConversionPublisher) Publish(ctx context.Context, event models.ConversionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal conversion event: %w", err)
	}
	attrs := map[string]string{"type": event.Type, awspkg.GroupAttribute: event.StoreID}
	if err := p.sns.Publish(ctx, p.topicArn, data, attrs); err != nil {
		p.logger.Error("Failed to publish conversion event",
			zap.String("type", event.Type),
			zap.String("store_id", event.StoreID),
			zap.String("order_id", event.OrderID),
			zap.Error(err),
		)
		return err
	}
	p.logger.Debug("Published conversion event",
		zap.String("type", event.Type),
		zap.String("store_id", event.StoreID),
		zap.String("order_id", event.OrderID),
	)
	return nil
}

func (p *SNSConversionPublisher) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConversionPublisher publishes to a Kafka topic keyed by store and order, so every
// event for one order lands on the same partition.
type KafkaConversionPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

func NewKafkaConversionPublisher(brokers []string, topic string, logger *zap.Logger) *KafkaConversionPublisher {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	logger.Info("Kafka conversion publisher initialized", zap.String("topic", topic), zap.Strings("brokers", brokers))
	return &KafkaConversionPublisher{writer: w, topic: topic, logger: logger}
}

func (p *KafkaConversionPublisher) Publish(ctx context.Context, event models.ConversionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal conversion event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.StoreID + ":" + event.OrderID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to write conversion event",
			zap.String("topic", p.topic),
			zap.String("order_id", event.OrderID),
			zap.Error(err),
		)
		return fmt.Errorf("kafka publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaConversionPublisher) Close() error {
	return p.writer.Close()
}
