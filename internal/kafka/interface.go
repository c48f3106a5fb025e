package kafka

import (
	"context"

	"github.com/MrMorningStark/chat/internal/domain"
)

// MessageProducer publishes persisted chat messages for downstream consumers
// (push notification, search indexing). Delivery is best-effort and never
// blocks the live path.
type MessageProducer interface {
	ProduceMessage(ctx context.Context, msg *domain.Message) error
	Close() error
}
