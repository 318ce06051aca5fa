package main

import (
	"context"
	"net/http"
	"time"

	"github.com/m-osmani/tickethub/libs/config"
	"github.com/m-osmani/tickethub/libs/db"
	"github.com/m-osmani/tickethub/libs/httpx"
	"github.com/m-osmani/tickethub/libs/kafkax"
	otelx "github.com/m-osmani/tickethub/libs/otel"
	"github.com/m-osmani/tickethub/libs/runtime"
	"github.com/m-osmani/tickethub/services/storefront-service/internal/cache"
	"github.com/m-osmani/tickethub/services/storefront-service/internal/handlers"
	"github.com/m-osmani/tickethub/services/storefront-service/internal/inbox"
	"github.com/m-osmani/tickethub/services/storefront-service/internal/projection"
	"github.com/m-osmani/tickethub/services/storefront-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	catalogTopic = "catalog.events"
	ordersTopic  = "orders.events"
)

func main() {
	service := config.String("SERVICE_NAME", "storefront-service")
	port, err := config.Port("PORT", "8082")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr: config.String("REDIS_ADDR", "localhost:6379"),
	})
	defer rdb.Close()

	brokers := config.String("KAFKA_BROKERS", "")
	client := kafkax.NewClient(logger, kafkax.ConnectConfig{
		Brokers:     brokers,
		MaxAttempts: config.Int("KAFKA_CONNECT_ATTEMPTS", 5),
		Backoff:     config.Duration("KAFKA_CONNECT_BACKOFF", 2*time.Second),
	})
	if err := client.Connect(ctx, catalogTopic, ordersTopic, catalogTopic+".dlq", ordersTopic+".dlq"); err != nil {
		logger.Error("kafka connect failed", "err", err)
		panic(err)
	}

	ackPolicy, err := kafkax.ParseAckPolicy(config.String("ACK_POLICY", "after_apply"))
	if err != nil {
		panic(err)
	}

	inboxRepo := inbox.NewRepository(pool)
	eventsRepo := storage.NewEventProjectionRepository(pool)
	ordersRepo := storage.NewOrderProjectionRepository(pool)

	pgDispatcher := projection.NewDispatcher(logger)
	projection.NewCatalogProjector(eventsRepo).RegisterAll(pgDispatcher)
	projection.NewOrderProjector(ordersRepo, eventsRepo).RegisterAll(pgDispatcher)

	pgConsumer := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
		Brokers:      brokers,
		GroupID:      "storefront-projections",
		Topics:       []string{catalogTopic, ordersTopic},
		AckPolicy:    ackPolicy,
		MaxAttempts:  config.Int("CONSUMER_MAX_ATTEMPTS", 5),
		RetryBackoff: config.Duration("CONSUMER_RETRY_BACKOFF", time.Second),
		DLQTopic:     config.String("DLQ_TOPIC", ""),
	}, projection.NewDedupHandler(logger, inboxRepo, pgDispatcher))
	go pgConsumer.Run(ctx)

	availability := cache.New(rdb)
	cacheDispatcher := projection.NewDispatcher(logger)
	cache.NewProjector(availability, logger).RegisterAll(cacheDispatcher)

	// The cache family runs under its own group so postgres and redis keep
	// independent offsets. Redis-side idempotence comes from SETNX, so no
	// inbox pass is needed here.
	cacheConsumer := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
		Brokers:      brokers,
		GroupID:      "storefront-availability",
		Topics:       []string{catalogTopic, ordersTopic},
		AckPolicy:    ackPolicy,
		MaxAttempts:  config.Int("CONSUMER_MAX_ATTEMPTS", 5),
		RetryBackoff: config.Duration("CONSUMER_RETRY_BACKOFF", time.Second),
	}, projection.NewHandler(cacheDispatcher))
	go cacheConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "redis", Check: cache.ReadyCheck(rdb)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handlers.New(eventsRepo, ordersRepo, availability).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "storefront")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
