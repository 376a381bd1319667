// Package consumer feeds change notifications from RabbitMQ into the
// reconciler. Deliveries are always acked: failed events are parked in the
// dead letter table by the reconciler, so requeueing them on the broker
// would only produce duplicates.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"sync_relay/internal/domain"
)

// Reconciler is the processing entry point for consumed notifications.
type Reconciler interface {
	Reconcile(ctx context.Context, n *domain.ChangeNotification) domain.Result
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queue      string
	reconciler Reconciler
	logger     *slog.Logger
}

func NewRabbitMQ(cfg Config, reconciler Reconciler, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		cfg.QueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,
		cfg.RoutingKey,
		cfg.Exchange,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", q.Name,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		queue:      q.Name,
		reconciler: reconciler,
		logger:     logger,
	}, nil
}

// Run consumes until the context is cancelled or the channel closes.
func (r *RabbitMQ) Run(ctx context.Context) error {
	deliveries, err := r.channel.Consume(
		r.queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	r.logger.Info("consumer started", "queue", r.queue)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("consumer stopped")
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			r.handle(ctx, d)
		}
	}
}

func (r *RabbitMQ) handle(ctx context.Context, d amqp.Delivery) {
	defer func() {
		if err := d.Ack(false); err != nil {
			r.logger.Error("ack failed", "delivery_tag", d.DeliveryTag, "error", err)
		}
	}()

	var n domain.ChangeNotification
	if err := json.Unmarshal(d.Body, &n); err != nil {
		r.logger.Error("malformed notification discarded", "error", err)
		return
	}

	res := r.reconciler.Reconcile(ctx, &n)
	if !res.OK {
		r.logger.Warn("reconciliation failed",
			"provider", n.Provider,
			"delivery_id", n.DeliveryID,
			"outcome", res.Outcome,
			"reason", res.Reason,
		)
		return
	}

	r.logger.Debug("notification handled",
		"provider", n.Provider,
		"delivery_id", n.DeliveryID,
		"outcome", res.Outcome,
	)
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
