package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	"newsletter-go/internal/handlers"
	"newsletter-go/internal/logging"
	"newsletter-go/internal/metrics"
	"newsletter-go/internal/repository"
	"newsletter-go/internal/service"
)

type Config struct {
	ServiceName    string
	ServiceVersion string
	Address        string
	Logger         *logging.ContextLogger
	TracerProvider trace.TracerProvider
	GinMode        string
	Repository     repository.SubscriberRepository // Allow injecting any repository implementation
	Metrics        *metrics.Collector
}

type Application struct {
	server *http.Server
	config *Config
	router *gin.Engine
}

func Build(config *Config) *Application {
	if config.GinMode != "" {
		gin.SetMode(config.GinMode)
	}

	// Use injected repository or fall back to in-memory
	repo := config.Repository
	if repo == nil {
		repo = repository.NewInMemorySubscriberRepository()
	}

	collector := config.Metrics
	if collector == nil {
		collector = metrics.NewCollector()
	}

	subscriberService := service.NewSubscriberService(repo, collector)
	subscriberHandler := handlers.NewSubscriberHandler(subscriberService, config.Logger)

	router := gin.New()
	router.Use(gin.Recovery())
	if config.TracerProvider != nil {
		router.Use(otelgin.Middleware(config.ServiceName, otelgin.WithTracerProvider(config.TracerProvider)))
	} else {
		router.Use(otelgin.Middleware(config.ServiceName))
	}
	router.Use(accessLog(config.Logger, collector))

	router.GET("/health_check", handlers.HealthCheck)
	router.POST("/subscriptions", subscriberHandler.Subscribe)
	router.GET("/metrics", gin.WrapH(collector.Handler()))

	server := &http.Server{
		Addr:              config.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Application{
		server: server,
		config: config,
		router: router,
	}
}

// accessLog records the request duration metric and, at debug level, one
// completion line per request.
func accessLog(logger *logging.ContextLogger, collector *metrics.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		collector.ObserveRequest(method, c.FullPath(), status, latency)

		logger.WithTracing(c.Request.Context()).WithFields(map[string]interface{}{
			"method":     method,
			"path":       path,
			"status":     status,
			"latency_ms": latency.Milliseconds(),
			"user_agent": c.Request.UserAgent(),
		}).Debug("HTTP request completed")
	}
}

// Serve accepts connections on an already bound listener until Shutdown.
// Binding is left to the caller so a bind failure surfaces before anything
// is served.
func (app *Application) Serve(listener net.Listener) error {
	app.config.Logger.Info("Starting server on " + listener.Addr().String())
	if err := app.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (app *Application) Shutdown(ctx context.Context) error {
	app.config.Logger.Info("Shutting down server...")
	return app.server.Shutdown(ctx)
}

func (app *Application) GetRouter() *gin.Engine {
	return app.router
}
