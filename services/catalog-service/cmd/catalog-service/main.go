package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/m-osmani/tickethub/libs/config"
	"github.com/m-osmani/tickethub/libs/db"
	"github.com/m-osmani/tickethub/libs/httpx"
	"github.com/m-osmani/tickethub/libs/kafkax"
	otelx "github.com/m-osmani/tickethub/libs/otel"
	"github.com/m-osmani/tickethub/libs/runtime"
	"github.com/m-osmani/tickethub/services/catalog-service/internal/catalog"
	"github.com/m-osmani/tickethub/services/catalog-service/internal/handlers"
	"github.com/m-osmani/tickethub/services/catalog-service/internal/orders"
	"github.com/m-osmani/tickethub/services/catalog-service/internal/outbox"
	"github.com/m-osmani/tickethub/services/catalog-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	catalogTopic = "catalog.events"
	ordersTopic  = "orders.events"
)

func routeTopic(eventType string) string {
	if strings.HasPrefix(eventType, "Order") || eventType == "TICKET_BOUGHT" {
		return ordersTopic
	}
	return catalogTopic
}

func main() {
	service := config.String("SERVICE_NAME", "catalog-service")
	port, err := config.Port("PORT", "8081")
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
	publisher := client.Publisher()
	defer publisher.Close()

	eventsRepo := storage.NewEventRepository(pool)
	ordersRepo := storage.NewOrderRepository(pool)
	ticketsRepo := storage.NewTicketRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, publisher, logger, outbox.PublisherConfig{
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 5*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 10),
		Route:     routeTopic,
	})
	go outboxPublisher.Run(ctx)

	catalogSvc := catalog.NewService(pool, eventsRepo, outboxRepo, logger)
	ordersSvc := orders.NewService(pool, ordersRepo, ticketsRepo, publisher, logger, ordersTopic)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handlers.New(catalogSvc, ordersSvc).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "catalog")
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
