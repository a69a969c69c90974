package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"newsletter-go/internal/metrics"
	"newsletter-go/internal/models"
	"newsletter-go/internal/repository"
)

type SubscriberService struct {
	repo    repository.SubscriberRepository
	metrics *metrics.Collector
	tracer  trace.Tracer
}

func NewSubscriberService(repo repository.SubscriberRepository, collector *metrics.Collector) *SubscriberService {
	return &SubscriberService{
		repo:    repo,
		metrics: collector,
		tracer:  otel.Tracer("subscriber-service"),
	}
}

// Subscribe stores a new subscriber built from form. Submitting the same pair
// twice yields two records.
func (s *SubscriberService) Subscribe(ctx context.Context, form *models.FormSubmission) (*models.Subscriber, error) {
	ctx, span := s.tracer.Start(ctx, "subscriber.service.subscribe",
		trace.WithAttributes(
			attribute.String("subscriber.email", form.Email),
			attribute.String("subscriber.name", form.Name),
		))
	defer span.End()

	subscriber := models.NewSubscriber(form.Email, form.Name)

	if err := s.repo.Create(ctx, subscriber); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "subscribe failed")
		s.record(metrics.OutcomeFailed)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("subscriber.id", subscriber.ID.String()),
		attribute.Bool("success", true),
	)
	s.record(metrics.OutcomeCreated)
	return subscriber, nil
}

func (s *SubscriberService) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordSubscription(outcome)
	}
}
