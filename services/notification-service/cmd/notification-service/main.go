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
	"github.com/m-osmani/tickethub/services/notification-service/internal/email"
	"github.com/m-osmani/tickethub/services/notification-service/internal/notifier"
	"github.com/m-osmani/tickethub/services/notification-service/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const ordersTopic = "orders.events"

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8083")
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

	sender := email.NewSMTPSender(
		config.String("SMTP_HOST", "mailpit"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", "no-reply@tickethub.local"),
	)
	notificationsRepo := storage.NewNotificationsRepository(pool)
	mailer := notifier.New(sender, notificationsRepo, logger)

	// Notifications are advisory, so this queue defaults to on_receipt:
	// a crash mid-send loses the mail rather than blocking the stream.
	ackPolicy, err := kafkax.ParseAckPolicy(config.String("ACK_POLICY", "on_receipt"))
	if err != nil {
		panic(err)
	}

	brokers := config.String("KAFKA_BROKERS", "")
	consumer := kafkax.NewConsumer(logger, kafkax.ConsumerConfig{
		Brokers:      brokers,
		GroupID:      config.String("KAFKA_GROUP_ID", "notification-service"),
		Topics:       []string{ordersTopic},
		AckPolicy:    ackPolicy,
		MaxAttempts:  config.Int("CONSUMER_MAX_ATTEMPTS", 5),
		RetryBackoff: config.Duration("CONSUMER_RETRY_BACKOFF", time.Second),
		DLQTopic:     config.String("DLQ_TOPIC", ""),
	}, mailer.Handler())
	go consumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
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
