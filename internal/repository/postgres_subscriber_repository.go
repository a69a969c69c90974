package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"newsletter-go/internal/models"
)

const insertSubscriberQuery = `INSERT INTO subscriptions (id, email, name, subscribed_at)
VALUES (:id, :email, :name, :subscribed_at)`

// PostgresSubscriberRepository writes to the subscriptions table through a
// shared pool. Each Create leases one connection for a single statement.
type PostgresSubscriberRepository struct {
	db      *sqlx.DB
	timeout time.Duration
	tracer  trace.Tracer
}

// NewPostgresSubscriberRepository wraps db. A positive timeout bounds every
// insert; zero leaves the caller's context in charge.
func NewPostgresSubscriberRepository(db *sqlx.DB, timeout time.Duration) *PostgresSubscriberRepository {
	return &PostgresSubscriberRepository{
		db:      db,
		timeout: timeout,
		tracer:  otel.Tracer("postgres.repository"),
	}
}

func (r *PostgresSubscriberRepository) Create(ctx context.Context, subscriber *models.Subscriber) error {
	ctx, span := r.tracer.Start(ctx, "subscriber.repository.create",
		trace.WithAttributes(
			attribute.String("subscriber.id", subscriber.ID.String()),
			attribute.String("operation", "database.write"),
			attribute.String("db.system", "postgresql"),
			attribute.String("db.sql.table", "subscriptions"),
		))
	defer span.End()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if _, err := r.db.NamedExecContext(ctx, insertSubscriberQuery, subscriber); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return fmt.Errorf("failed to insert subscriber: %w", err)
	}

	span.SetAttributes(attribute.Bool("success", true))
	return nil
}
