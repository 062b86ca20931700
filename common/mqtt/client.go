package mqtt

import (
	"fmt"
	"time"

	"incarceration-bot/common/config"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	connectTimeout = 10 * time.Second
	quiesceMillis  = 250
)

// Client is a publish-only broker connection
type Client struct {
	conn paho.Client
	qos  byte
}

// NewClient connects to the configured broker. Connection loss is logged;
// paho reconnects on its own.
func NewClient(cfg *config.MQTTConfig, logger *zap.Logger) (*Client, error) {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetConnectTimeout(connectTimeout).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Warn("MQTT connection lost", zap.String("broker", cfg.Broker), zap.Error(err))
		}).
		SetOnConnectHandler(func(paho.Client) {
			logger.Info("MQTT connected", zap.String("broker", cfg.Broker))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	conn := paho.NewClient(opts)
	token := conn.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, err)
	}

	return &Client{conn: conn, qos: cfg.QoS}, nil
}

// Publish sends payload and waits at most timeout for the broker ack
func (c *Client) Publish(topic string, retained bool, payload []byte, timeout time.Duration) error {
	token := c.conn.Publish(topic, c.qos, retained, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("timed out publishing to topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// Disconnect flushes in-flight messages and closes the connection
func (c *Client) Disconnect() {
	c.conn.Disconnect(quiesceMillis)
}
