package config

import (
	"context"
	"fmt"
	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"net/url"
	"time"
)

const (
	queueDialTries       = 5
	queueDialMaxInterval = 10 * time.Second
)

// QueueURL is the AMQP address of cfg with the credentials escaped.
func QueueURL(cfg *RabbitMQ) string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(cfg.User, cfg.Pass),
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:   "/",
	}
	return u.String()
}

// NewRabbitMQConn dials the job queue, retrying with exponential backoff. The
// connection is closed when ctx ends.
func NewRabbitMQConn(ctx context.Context, cfg *RabbitMQ) (*amqp.Connection, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, fmt.Errorf("job queue is disabled")
	}
	addr := QueueURL(cfg)
	logger := zerolog.Ctx(ctx).With().Str("host", cfg.Host).Int("port", cfg.Port).Logger()

	dial := func() (*amqp.Connection, error) {
		conn, err := amqp.Dial(addr)
		if err != nil {
			logger.Warn().Err(err).Msg("job queue unreachable, retrying")
			return nil, err
		}
		return conn, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = queueDialMaxInterval
	conn, err := backoff.Retry(ctx, dial, backoff.WithBackOff(bo), backoff.WithMaxTries(queueDialTries))
	if err != nil {
		return nil, fmt.Errorf("connect job queue: %w", err)
	}

	logger.Info().Msg("connected to job queue")
	go func() {
		<-ctx.Done()
		if err := conn.Close(); err != nil && !conn.IsClosed() {
			logger.Error().Err(err).Msg("failed to close job queue connection")
			return
		}
		logger.Info().Msg("job queue connection closed")
	}()

	return conn, nil
}
