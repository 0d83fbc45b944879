package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/aggregator"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/config"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/constants"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/deduplication"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/delivery"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/enrichment"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/logger"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/relay"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/internal/webhook"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/bootstrap"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/cel"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/health"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/metrics"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/middleware"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/ratelimit"
	"github.com/Strikepoint-Media/vapi-endcall-webhook/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	redis          *redis.Client
	claims         *deduplication.Service
	aggregator     *aggregator.Aggregator
	dispatcher     *relay.Dispatcher
	apiLimiter     *ratelimit.Limiters
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterRelayMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	a.redis = rdb

	if err := a.InitBroker(constants.ServiceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	finalizer, err := a.initFinalizer(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize finalizer: %w", err)
	}

	a.aggregator = aggregator.New(aggregator.Config{
		FallbackWindow:  a.Config.Relay.FallbackWindow,
		TombstoneTTL:    a.Config.Relay.TombstoneTTL,
		FlushOnShutdown: a.Config.Relay.FlushOnShutdown,
	}, finalizer.Flush, a.Logger)
	a.dispatcher = relay.NewDispatcher(a.aggregator, a.Logger)

	a.initHTTPServer()
	return nil
}

func (a *App) initFinalizer(ctx context.Context) (*relay.Finalizer, error) {
	var repo deduplication.Repository
	if a.redis != nil {
		repo = deduplication.NewCircuitBreakerRepository(deduplication.NewRepository(a.redis), a.Config.CircuitBreaker)
	} else {
		repo = deduplication.NewMemoryRepository()
	}
	a.claims = deduplication.NewService(repo, a.Config.Deduplication, a.Logger)

	enricher := enrichment.NewClient(a.Config.Enrichment, a.Config.CircuitBreaker, a.redis, a.Logger)
	deliverer := delivery.NewClient(a.Config.Delivery, a.Logger)
	if !deliverer.Configured() {
		a.Logger.WarnwCtx(ctx, "No delivery URL configured, calls will be aggregated but not forwarded")
	}

	opts := []relay.FinalizerOption{relay.WithClaims(a.claims)}

	if expr := a.Config.Relay.FilterExpression; expr != "" {
		evaluator, err := cel.NewEvaluator()
		if err != nil {
			return nil, err
		}
		filter, err := evaluator.CompileFilter(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid relay.filter_expression: %w", err)
		}
		opts = append(opts, relay.WithFilter(filter))
		a.Logger.InfowCtx(ctx, "Record filter enabled", "expression", expr)
	}

	if a.Producer != nil {
		opts = append(opts, relay.WithArchive(a.Producer, a.Config.Broker.Kafka.OutputTopic))
		a.Logger.InfowCtx(ctx, "Record archive enabled", "topic", a.Config.Broker.Kafka.OutputTopic)
	}

	return relay.NewFinalizer(enricher, deliverer, a.Logger, opts...), nil
}

func (a *App) initHTTPServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}
	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(a.Logger))

	var apiMiddleware []gin.HandlerFunc
	if a.Config.Server.APIRateLimit.RPS > 0 {
		a.apiLimiter = ratelimit.New(ratelimit.FromSettings(a.Config.Server.APIRateLimit))
		apiMiddleware = append(apiMiddleware, a.apiLimiter.Middleware())
	}
	webhook.NewHandler(a.dispatcher, a.aggregator, a.Logger).RegisterRoutes(router, a.Config.Server.WebhookPath, apiMiddleware...)

	healthRegistry := health.NewCheckerRegistry()
	if a.redis != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redis))
	}
	if a.Config.Broker.Enabled() {
		healthRegistry.Register(health.NewKafkaChecker(a.Config.Broker.Kafka.Brokers))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.aggregator.Run(gCtx)
	})

	g.Go(func() error {
		return a.claims.Run(gCtx)
	})

	if a.apiLimiter != nil {
		g.Go(func() error {
			return a.apiLimiter.Run(gCtx)
		})
	}

	if a.Consumer != nil {
		topic := a.Config.Broker.Kafka.InputTopic
		g.Go(func() error {
			err := a.Consumer.Consume(gCtx, topic, a.dispatcher.HandleMessage)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		return a.shutdown(ctx)
	})

	return g.Wait()
}

// shutdown stops intake first, then flushes pending calls while the
// downstream clients are still open.
func (a *App) shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.ShutdownTimeout)
	defer cancel()

	return a.Shutdown(shutdownCtx, func(ctx context.Context) []error {
		var errs []error

		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}

		if err := a.aggregator.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("aggregator shutdown error: %w", err))
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(a.redis)...)

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}
		return errs
	})
}
