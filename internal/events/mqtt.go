package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/Heliossandro/projeto-transcricao/internal/config"
)

const (
	publishTimeout = 5 * time.Second
	connectTimeout = 15 * time.Second
)

// client is the part of paho.Client the publisher uses
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

type connector interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes events as JSON
type MQTTPublisher struct {
	client      client
	topicPrefix string
	qos         byte
	logger      *slog.Logger
}

// NewMQTTPublisher connects to the broker in cfg
func NewMQTTPublisher(cfg *config.EventsConfig, logger *slog.Logger) (*MQTTPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(10 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Error("MQTT connection lost", slog.String("error", err.Error()))
	})
	opts.SetOnConnectHandler(func(_ paho.Client) {
		logger.Info("MQTT connected", slog.String("broker", cfg.BrokerURL))
	})

	c := paho.NewClient(opts)
	if err := connect(c, cfg.BrokerURL, connectTimeout); err != nil {
		return nil, err
	}

	return newMQTTPublisher(c, cfg.TopicPrefix, byte(cfg.QoS), logger), nil
}

// connect waits for the first connection. With connect retry enabled paho
// keeps dialing in the background, so a failed client is disconnected.
func connect(c connector, broker string, timeout time.Duration) error {
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		c.Disconnect(0)
		return fmt.Errorf("timed out connecting to %s", broker)
	}
	if err := token.Error(); err != nil {
		c.Disconnect(0)
		return fmt.Errorf("failed to connect to %s: %w", broker, err)
	}
	return nil
}

func newMQTTPublisher(c client, topicPrefix string, qos byte, logger *slog.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client:      c,
		topicPrefix: topicPrefix,
		qos:         qos,
		logger:      logger,
	}
}

// Publish sends event to <prefix>/translations/<status>
func (p *MQTTPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	topic := TopicTranslation(p.topicPrefix, event.Status)
	token := p.client.Publish(topic, p.qos, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("timed out publishing to %s", topic)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	p.logger.Debug("Event published", slog.String("topic", topic), slog.String("id", event.ID))
	return nil
}

// Close disconnects from the broker
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

// New creates the publisher selected in cfg
func New(cfg *config.EventsConfig, logger *slog.Logger) (Publisher, error) {
	if !cfg.Enabled {
		return NopPublisher{}, nil
	}
	publisher, err := NewMQTTPublisher(cfg, logger)
	if err != nil {
		return nil, err
	}
	return publisher, nil
}
