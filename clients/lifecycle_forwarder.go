package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/moneyflowz367/affilync-bigcommerce/models"
	awspkg "github.com/moneyflowz367/affilync-bigcommerce/pkg/aws"

	"go.uber.org/zap"
)

// ErrForwarderNotConfigured is returned when an event arrives for a queue that was not configured.
var ErrForwarderNotConfigured = errors.New("forwarding queue not configured")

// Forwarder hands product and store-lifecycle events to the sync collaborators.
type Forwarder interface {
	ForwardProduct(ctx context.Context, event models.ForwardedEvent) error
	ForwardStoreLifecycle(ctx context.Context, event models.ForwardedEvent) error
}

// LifecycleForwarder sends forwarded events to SQS queues. A nil queue is unconfigured.
type LifecycleForwarder struct {
	productQueue   awspkg.MessageSender
	lifecycleQueue awspkg.MessageSender
	logger         *zap.Logger
}

func NewLifecycleForwarder(productQueue, lifecycleQueue awspkg.MessageSender, logger *zap.Logger) *LifecycleForwarder {
	return &LifecycleForwarder{productQueue: productQueue, lifecycleQueue: lifecycleQueue, logger: logger}
}

func (f *LifecycleForwarder) ForwardProduct(ctx context.Context, event models.ForwardedEvent) error {
	return f.send(ctx, f.productQueue, "product-sync", event)
}

func (f *LifecycleForwarder) ForwardStoreLifecycle(ctx context.Context, event models.ForwardedEvent) error {
	return f.send(ctx, f.lifecycleQueue, "store-lifecycle", event)
}

func (f *LifecycleForwarder) send(ctx context.Context, queue awspkg.MessageSender, name string, event models.ForwardedEvent) error {
	if queue == nil {
		return fmt.Errorf("%s: %w", name, ErrForwarderNotConfigured)
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal forwarded event: %w", err)
	}
	if err := queue.SendMessage(ctx, string(body)); err != nil {
		f.logger.Error("Failed to forward event",
			zap.String("queue", name),
			zap.String("store_id", event.StoreID),
			zap.String("kind", string(event.Kind)),
			zap.Error(err),
		)
		return err
	}
	f.logger.Info("Forwarded event",
		zap.String("queue", name),
		zap.String("store_id", event.StoreID),
		zap.String("kind", string(event.Kind)),
		zap.String("event_id", event.EventID),
	)
	return nil
}
