package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"newsletter-go/internal/models"
)

// SubscriberRepository persists subscribers. Create performs exactly one
// write and never retries.
type SubscriberRepository interface {
	Create(ctx context.Context, subscriber *models.Subscriber) error
}

type InMemorySubscriberRepository struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]*models.Subscriber
	tracer      trace.Tracer
}

func NewInMemorySubscriberRepository() *InMemorySubscriberRepository {
	return &InMemorySubscriberRepository{
		subscribers: make(map[uuid.UUID]*models.Subscriber),
		tracer:      otel.Tracer("subscriber-repository"),
	}
}

func (r *InMemorySubscriberRepository) Create(ctx context.Context, subscriber *models.Subscriber) error {
	_, span := r.tracer.Start(ctx, "subscriber.repository.create",
		trace.WithAttributes(
			attribute.String("subscriber.id", subscriber.ID.String()),
			attribute.String("operation", "database.write"),
			attribute.String("db.system", "memory"),
		))
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.subscribers[subscriber.ID]; exists {
		err := fmt.Errorf("subscriber with ID %s already exists", subscriber.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	stored := *subscriber
	r.subscribers[subscriber.ID] = &stored
	span.SetAttributes(attribute.Bool("success", true))
	return nil
}

// All returns a snapshot of the stored subscribers in no particular order.
func (r *InMemorySubscriberRepository) All() []models.Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subscribers := make([]models.Subscriber, 0, len(r.subscribers))
	for _, subscriber := range r.subscribers {
		subscribers = append(subscribers, *subscriber)
	}
	return subscribers
}
