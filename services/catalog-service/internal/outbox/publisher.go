package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/m-osmani/tickethub/libs/db"
	"github.com/m-osmani/tickethub/libs/kafkax"
	otelx "github.com/m-osmani/tickethub/libs/otel"
)

// Publisher drains the outbox table into the broker with at-least-once
// delivery. A failing row is logged and left unpublished for the next poll;
// it never blocks the rest of its batch.
type Publisher struct {
	pool      *db.Pool
	repo      *Repository
	logger    *slog.Logger
	route     func(eventType string) string
	pollEvery time.Duration
	batchSize int

	send func(ctx context.Context, topic string, rcd Record) error
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
	// Route maps an event type to its destination topic.
	Route func(eventType string) string
}

func NewPublisher(pool *db.Pool, repo *Repository, pub *kafkax.Publisher, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Route == nil {
		cfg.Route = func(eventType string) string { return eventType }
	}
	return &Publisher{
		pool:      pool,
		repo:      repo,
		logger:    logger,
		route:     cfg.Route,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
		send: func(ctx context.Context, topic string, rcd Record) error {
			env := kafkax.Envelope{Type: rcd.EventType, Payload: rcd.Payload}
			return pub.Publish(ctx, topic, rcd.AggregateID, rcd.EventID, env)
		},
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publishBatch(ctx); err != nil {
				p.logger.Error("outbox batch failed", "err", err)
			}
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return tx.Commit(ctx)
	}

	published := p.publishClaimed(ctx, records)

	if err := p.repo.MarkPublished(ctx, tx, published); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// publishClaimed publishes each claimed row independently and returns the
// ids that made it to the broker, preserving the rows' created_at order.
func (p *Publisher) publishClaimed(ctx context.Context, records []Record) []int64 {
	var published []int64
	for _, rcd := range records {
		msgCtx := otelx.ContextWithTraceContext(ctx, rcd.Traceparent, rcd.Tracestate)
		topic := p.route(rcd.EventType)
		if err := p.send(msgCtx, topic, rcd); err != nil {
			p.logger.Error("outbox publish failed, row left for retry",
				"err", err, "outbox_id", rcd.ID, "event_type", rcd.EventType)
			continue
		}
		published = append(published, rcd.ID)
	}
	return published
}
