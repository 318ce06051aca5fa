package kafkax

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Client owns the broker connection for a process. Connect must succeed
// before Publisher is usable; services treat a Connect failure as a
// startup-abort condition.
type Client struct {
	brokers     []string
	logger      *slog.Logger
	maxAttempts int
	backoff     time.Duration
	connected   bool

	dial func(ctx context.Context, addr string) (brokerConn, error)
}

type ConnectConfig struct {
	Brokers     string
	MaxAttempts int
	Backoff     time.Duration
}

// brokerConn is the slice of *kafka.Conn the client needs; narrowed so
// connect behavior is testable without a broker.
type brokerConn interface {
	Controller() (kafka.Broker, error)
	CreateTopics(topics ...kafka.TopicConfig) error
	Close() error
}

func NewClient(logger *slog.Logger, cfg ConnectConfig) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	return &Client{
		brokers:     SplitBrokers(cfg.Brokers),
		logger:      logger,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		dial: func(ctx context.Context, addr string) (brokerConn, error) {
			dialer := kafka.Dialer{Timeout: 5 * time.Second}
			return dialer.DialContext(ctx, "tcp", addr)
		},
	}
}

// Connect establishes a connection and declares the topics this process
// needs. Declaration is idempotent, so it is safe to call on every start.
// Each failed attempt decrements the retry budget and sleeps the fixed
// backoff; an exhausted budget is fatal to the caller.
func (c *Client) Connect(ctx context.Context, topics ...string) error {
	if len(c.brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}

	attemptsLeft := c.maxAttempts
	for {
		err := c.declareTopics(ctx, topics)
		if err == nil {
			c.connected = true
			return nil
		}

		attemptsLeft--
		if attemptsLeft <= 0 {
			return fmt.Errorf("kafka: connect retry budget exhausted: %w", err)
		}
		c.logger.Warn("kafka connect failed, retrying",
			"err", err,
			"attempts_left", attemptsLeft,
			"backoff", c.backoff.String(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}
}

func (c *Client) declareTopics(ctx context.Context, topics []string) error {
	conn, err := c.dial(ctx, c.brokers[0])
	if err != nil {
		return err
	}
	defer conn.Close()

	if len(topics) == 0 {
		return nil
	}

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	controllerConn, err := c.dial(ctx, net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, t := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             t,
			NumPartitions:     1,
			ReplicationFactor: 1,
		})
	}
	if err := controllerConn.CreateTopics(configs...); err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return err
	}
	return nil
}

// Publisher returns the publish side of the client. Calling it before a
// successful Connect yields a publisher whose Publish fails with
// ErrNotConnected.
func (c *Client) Publisher() *Publisher {
	if !c.connected {
		return &Publisher{}
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(c.brokers...),
			Balancer: &kafka.Hash{},
		},
	}
}
