package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"newsletter-go/internal/logging"
	"newsletter-go/internal/models"
	"newsletter-go/internal/service"
)

// subscribeForm only checks that both keys are present in the body. Pointer
// fields let "name=" bind to an empty string instead of failing required.
type subscribeForm struct {
	Email *string `form:"email" binding:"required"`
	Name  *string `form:"name" binding:"required"`
}

func (f subscribeForm) submission() *models.FormSubmission {
	return &models.FormSubmission{Email: *f.Email, Name: *f.Name}
}

type SubscriberHandler struct {
	service *service.SubscriberService
	logger  *logging.ContextLogger
	tracer  trace.Tracer
}

func NewSubscriberHandler(service *service.SubscriberService, logger *logging.ContextLogger) *SubscriberHandler {
	return &SubscriberHandler{
		service: service,
		logger:  logger,
		tracer:  otel.Tracer("subscriber-handler"),
	}
}

// Subscribe handles POST /subscriptions. Responses never carry a body; error
// detail only reaches the log.
func (h *SubscriberHandler) Subscribe(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "subscriber.handler.subscribe")
	defer span.End()

	var body subscribeForm
	if err := c.ShouldBindWith(&body, binding.FormPost); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid form submission")
		c.Status(http.StatusBadRequest)
		return
	}

	form := body.submission()

	requestID := uuid.NewString()
	ctx = logging.WithRequestID(ctx, requestID)
	c.Request = c.Request.WithContext(ctx)
	span.SetAttributes(attribute.String("request.id", requestID))

	h.logger.InfoWithTracing(ctx, "adding a new subscriber", logrus.Fields{
		"name":     form.Name,
		"email":    form.Email,
		"endpoint": "POST /subscriptions",
	})

	if _, err := h.service.Subscribe(ctx, form); err != nil {
		h.logger.InfoWithTracing(ctx, "failed to execute query", logrus.Fields{
			"error":    err.Error(),
			"endpoint": "POST /subscriptions",
		})
		span.RecordError(err)
		span.SetStatus(codes.Error, "subscribe failed")
		c.Status(http.StatusInternalServerError)
		return
	}

	h.logger.InfoWithTracing(ctx, "new subscriber data saved", logrus.Fields{
		"endpoint": "POST /subscriptions",
	})
	span.SetAttributes(attribute.Bool("success", true))
	c.Status(http.StatusOK)
}

// HealthCheck reports liveness only; it never touches the store.
func HealthCheck(c *gin.Context) {
	c.Status(http.StatusOK)
}
