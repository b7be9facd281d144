package clients

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/moneyflowz367/affilync-bigcommerce/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSNS struct {
	topic   string
	message []byte
	attrs   map[string]string
	err     error
}

func (m *mockSNS) Publish(_ context.Context, topicArn string, message []byte, attributes map[string]string) error {
	m.topic, m.message, m.attrs = topicArn, message, attributes
	return m.err
}

type mockWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.msgs = append(m.msgs, msgs...)
	return m.err
}

func (m *mockWriter) Close() error {
	m.closed = true
	return nil
}

type mockQueue struct {
	bodies []string
	err    error
}

func (m *mockQueue) SendMessage(_ context.Context, body string) error {
	m.bodies = append(m.bodies, body)
	return m.err
}

func sampleEvent() models.ConversionEvent {
	return models.ConversionEvent{
		Type:    models.ConversionEventAttributed,
		StoreID: "abc123",
		OrderID: "100",
		Record:  &models.ConversionRecord{StoreID: "abc123", OrderID: "100"},
	}
}

func TestSNSConversionPublisher_Publish(t *testing.T) {
	sns := &mockSNS{}
	p := NewSNSConversionPublisher(sns, "arn:aws:sns:us-east-1:000000000000:conversions", zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	assert.Equal(t, "arn:aws:sns:us-east-1:000000000000:conversions", sns.topic)
	assert.Equal(t, map[string]string{"type": "conversion.attributed", "store_id": "abc123"}, sns.attrs)

	var decoded models.ConversionEvent
	require.NoError(t, json.Unmarshal(sns.message, &decoded))
	assert.Equal(t, "100", decoded.OrderID)
}

func TestSNSConversionPublisher_PropagatesError(t *testing.T) {
	sns := &mockSNS{err: errors.New("throttled")}
	p := NewSNSConversionPublisher(sns, "arn", zap.NewNop())
	assert.Error(t, p.Publish(context.Background(), sampleEvent()))
}

func TestKafkaConversionPublisher_KeysByStoreAndOrder(t *testing.T) {
	w := &mockWriter{}
	p := &KafkaConversionPublisher{writer: w, topic: "conversions.attributed", logger: zap.NewNop()}

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "abc123:100", string(w.msgs[0].Key))
	assert.Equal(t, "conversion.attributed", string(w.msgs[0].Headers[0].Value))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaConversionPublisher_WrapsError(t *testing.T) {
	w := &mockWriter{err: errors.New("leader not available")}
	p := &KafkaConversionPublisher{writer: w, topic: "conversions.attributed", logger: zap.NewNop()}
	err := p.Publish(context.Background(), sampleEvent())
	assert.ErrorContains(t, err, "conversions.attributed")
}

func TestLifecycleForwarder_RoutesByQueue(t *testing.T) {
	products, lifecycle := &mockQueue{}, &mockQueue{}
	f := NewLifecycleForwarder(products, lifecycle, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, f.ForwardProduct(ctx, models.ForwardedEvent{StoreID: "abc123", Kind: models.EventProductDeleted, ProductID: "5"}))
	require.NoError(t, f.ForwardStoreLifecycle(ctx, models.ForwardedEvent{StoreID: "abc123", Kind: models.EventAppUninstalled}))

	require.Len(t, products.bodies, 1)
	require.Len(t, lifecycle.bodies, 1)
	assert.Contains(t, products.bodies[0], `"product_id":"5"`)
	assert.Contains(t, lifecycle.bodies[0], `"kind":"app_uninstalled"`)
}

func TestLifecycleForwarder_Unconfigured(t *testing.T) {
	f := NewLifecycleForwarder(nil, nil, zap.NewNop())
	err := f.ForwardProduct(context.Background(), models.ForwardedEvent{StoreID: "abc123"})
	assert.ErrorIs(t, err, ErrForwarderNotConfigured)
}
