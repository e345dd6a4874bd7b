// Package mqtt publishes job events to an MQTT broker for dashboards.
package mqtt

import (
	"context"
	"courtcam/config"
	"courtcam/dto"
	"encoding/json"
	"fmt"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"strings"
	"time"
)

const (
	qos            = 1
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

type Publisher struct {
	client paho.Client
	topic  string
}

// Connect dials the broker and keeps reconnecting in the background after a
// lost connection.
func Connect(ctx context.Context, cfg config.MQTT) (*Publisher, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(c paho.Client) {
		zerolog.Ctx(ctx).Info().Str("broker", cfg.Broker).Msg("mqtt connection established")
	}
	opts.OnConnectionLost = func(c paho.Client, err error) {
		zerolog.Ctx(ctx).Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost, will auto-reconnect")
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connection to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return &Publisher{client: client, topic: strings.TrimSuffix(cfg.Topic, "/")}, nil
}

func (p *Publisher) Publish(ctx context.Context, event dto.JobEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}
	token := p.client.Publish(Topic(p.topic, event), qos, false, payload)
	select {
	case <-token.Done():
	case <-time.After(publishTimeout):
		return fmt.Errorf("mqtt publish timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
	return token.Error()
}

func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

// Topic is the per-kind topic of an event, for example courtcam/jobs/inference.
func Topic(base string, event dto.JobEvent) string {
	return base + "/" + string(event.Kind)
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}
