package rabbitmq

import (
	"context"
	"courtcam/config"
	"errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"sync"
)

const (
	JobsQueue      = "courtcam.jobs"
	JobsRoutingKey = "courtcam.jobs.request"

	deadLetterSuffix = "_dlx"
	dlqName          = "courtcam.jobs.dlq"
	dlqRoutingKey    = "dlq.courtcam.jobs.request"
)

// ErrReject marks a message that can never be handled. It is dead-lettered
// instead of acknowledged.
var ErrReject = errors.New("message rejected")

type Consumer[T any] interface {
	Consume(ctx context.Context, dependencies T) error
}

type consumer[T any] struct {
	conn       *amqp.Connection
	cfg        *config.RabbitMQ
	handler    func(ctx context.Context, msg amqp.Delivery, dependencies T) error
	numWorkers int
}

func (c consumer[T]) declare(ch *amqp.Channel) error {
	dlxName := c.cfg.ExchangeName + deadLetterSuffix

	if err := ch.ExchangeDeclare(c.cfg.ExchangeName, c.cfg.Kind, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(dlxName, c.cfg.Kind, true, false, false, false, nil); err != nil {
		return err
	}

	dlq, err := ch.QueueDeclare(dlqName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := ch.QueueBind(dlq.Name, dlqRoutingKey, dlxName, false, nil); err != nil {
		return err
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    dlxName,
		"x-dead-letter-routing-key": dlqRoutingKey,
	}
	q, err := ch.QueueDeclare(JobsQueue, true, false, false, false, args)
	if err != nil {
		return err
	}
	return ch.QueueBind(q.Name, JobsRoutingKey, c.cfg.ExchangeName, false, nil)
}

func (c consumer[T]) Consume(ctx context.Context, dependencies T) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := c.declare(ch); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("queue", JobsQueue).Msg("failed to declare queue topology")
		return err
	}

	err = ch.Qos(c.numWorkers, 0, false)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", JobsQueue).Msg("failed to set QoS")
		return err
	}

	deliveries, err := ch.Consume(JobsQueue, "", false, false, false, false, nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("queue", JobsQueue).Msg("failed to consume queue")
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("queue", JobsQueue).
		Str("exchange", c.cfg.ExchangeName).
		Str("routing_key", JobsRoutingKey).
		Int("workers", c.numWorkers).
		Msg("job consumer started")

	jobs := make(chan amqp.Delivery, c.numWorkers)
	var wg sync.WaitGroup
	for i := 1; i <= c.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			for msg := range jobs {
				c.handle(ctx, workerId, msg, dependencies)
			}
		}(i)
	}

	for {
		select {
		case delivery, ok := <-deliveries:
			if !ok {
				close(jobs)
				wg.Wait()
				return nil
			}

			jobs <- delivery
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
	}
}

// handle never requeues: a rejected message goes to the dead letter queue,
// anything else is acknowledged once the handler returns.
func (c consumer[T]) handle(ctx context.Context, workerId int, msg amqp.Delivery, dependencies T) {
	err := c.handler(ctx, msg, dependencies)
	if errors.Is(err, ErrReject) {
		zerolog.Ctx(ctx).Error().Err(err).Int("worker_id", workerId).Msg("message rejected")
		if nackErr := msg.Nack(false, false); nackErr != nil {
			zerolog.Ctx(ctx).Error().Err(nackErr).Msg("failed to nack message to send to DLQ")
		}
		return
	}
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Int("worker_id", workerId).Msg("failed to handle message")
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		zerolog.Ctx(ctx).Error().Err(ackErr).Msg("failed to acknowledge message")
	}
}

func NewConsumer[T any](
	conn *amqp.Connection,
	cfg *config.RabbitMQ,
	numWorkers int,
	handler func(ctx context.Context, msg amqp.Delivery, dependencies T) error,
) Consumer[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &consumer[T]{
		conn:       conn,
		cfg:        cfg,
		handler:    handler,
		numWorkers: numWorkers,
	}
}
