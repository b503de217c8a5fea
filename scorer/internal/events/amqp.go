package events

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPOptions configures the RabbitMQ source. An empty Exchange consumes the
// queue without binding it.
type AMQPOptions struct {
	URL        string
	Exchange   string
	RoutingKey string
	Queue      string
	Filter     Filter
}

// AMQP consumes bucket notifications from a durable queue with prefetch 1.
type AMQP struct {
	opts AMQPOptions
}

// NewAMQP returns an AMQP source. Nothing is dialled until Run.
func NewAMQP(opts AMQPOptions) *AMQP {
	return &AMQP{opts: opts}
}

// Run implements Source. A body that is not a notification is dropped with
// Nack (no requeue); every other delivery is acked after dispatch because
// pipeline failures are final.
func (a *AMQP) Run(ctx context.Context, dispatch Dispatch) error {
	conn, err := amqp.Dial(a.opts.URL)
	if err != nil {
		return fmt.Errorf("events: amqp dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("events: amqp channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(a.opts.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("events: declare queue %s: %w", a.opts.Queue, err)
	}
	if a.opts.Exchange != "" {
		if err := ch.QueueBind(a.opts.Queue, a.opts.RoutingKey, a.opts.Exchange, false, nil); err != nil {
			return fmt.Errorf("events: bind queue %s to %s: %w", a.opts.Queue, a.opts.Exchange, err)
		}
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("events: qos: %w", err)
	}

	msgs, err := ch.Consume(a.opts.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("events: consume %s: %w", a.opts.Queue, err)
	}
	slog.Info("events: amqp consuming", "queue", a.opts.Queue, "exchange", a.opts.Exchange)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("events: amqp delivery channel closed")
			}
			handleBody(ctx, msg.Body, msg, a.opts.Filter, dispatch)
		}
	}
}

// acknowledger is the part of amqp.Delivery handleBody needs.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func handleBody(ctx context.Context, body []byte, ack acknowledger, f Filter, dispatch Dispatch) {
	n, err := DispatchNotification(ctx, body, f, dispatch)
	if err != nil {
		slog.Warn("events: dropping amqp message", "err", err)
		if err := ack.Nack(false, false); err != nil {
			slog.Error("events: nack failed", "err", err)
		}
		return
	}
	slog.Debug("events: amqp message handled", "dispatched", n)
	if err := ack.Ack(false); err != nil {
		slog.Error("events: ack failed", "err", err)
	}
}
