// Package mqtt publishes location fixes and region events to an MQTT
// broker for downstream consumers (dashboards, home-automation hubs).
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/starfail/locengine/pkg/geo"
	"github.com/starfail/locengine/pkg/logx"
	"github.com/starfail/locengine/pkg/region"
	"github.com/starfail/locengine/pkg/retry"
)

// Client publishes location engine telemetry over MQTT.
type Client struct {
	client      MQTT.Client
	logger      *logx.Logger
	config      *Config
	retrier     *retry.Runner
	connected   bool
	lastPublish time.Time
}

// Config holds MQTT configuration.
type Config struct {
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
	Enabled     bool   `json:"enabled"`
}

// DefaultConfig returns default MQTT configuration.
func DefaultConfig() *Config {
	return &Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "locengined",
		TopicPrefix: "locengine",
		QoS:         1,
		Retain:      false,
		Enabled:     false,
	}
}

// NewClient creates a new MQTT client.
func NewClient(config *Config, logger *logx.Logger) *Client {
	return &Client{
		logger: logger,
		config: config,
		retrier: retry.NewRunner(retry.Config{
			MaxAttempts:   3,
			InitialDelay:  time.Second,
			MaxDelay:      10 * time.Second,
			BackoffFactor: 2.0,
		}),
	}
}

// Connect establishes connection to the MQTT broker.
func (c *Client) Connect() error {
	if !c.config.Enabled {
		c.logger.Debug("mqtt client disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = MQTT.NewClient(opts)

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to mqtt broker: %w", token.Error())
	}

	c.logger.Info("mqtt client connected", "broker", c.config.Broker, "port", c.config.Port)
	return nil
}

// Disconnect disconnects from the MQTT broker.
func (c *Client) Disconnect() error {
	if c.client != nil && c.connected {
		c.client.Disconnect(250)
		c.connected = false
		c.logger.Info("mqtt client disconnected")
	}
	return nil
}

func (c *Client) onConnect(client MQTT.Client) {
	c.connected = true
	c.logger.Info("mqtt connection established")
}

func (c *Client) onConnectionLost(client MQTT.Client, err error) {
	c.connected = false
	c.logger.Error("mqtt connection lost", "error", err.Error())
}

// PublishFix publishes a location fix to <prefix>/fix.
func (c *Client) PublishFix(fix geo.Fix) error {
	topic := fmt.Sprintf("%s/fix", c.config.TopicPrefix)
	return c.publishJSONWithRetry(topic, fix)
}

// PublishRegionEvent publishes a region transition to <prefix>/regions/<id>.
func (c *Client) PublishRegionEvent(event region.Event) error {
	topic := fmt.Sprintf("%s/regions/%s", c.config.TopicPrefix, event.Region.ID)
	payload := map[string]interface{}{
		"kind":      event.Kind.String(),
		"region_id": event.Region.ID,
		"state":     event.State.String(),
		"timestamp": time.Now(),
	}
	if event.Err != nil {
		payload["error"] = event.Err.Error()
	}
	return c.publishJSONWithRetry(topic, payload)
}

// PublishStatus publishes daemon status to <prefix>/status.
func (c *Client) PublishStatus(status map[string]interface{}) error {
	topic := fmt.Sprintf("%s/status", c.config.TopicPrefix)
	return c.publishJSONWithRetry(topic, status)
}

func (c *Client) publishJSONWithRetry(topic string, payload interface{}) error {
	if !c.config.Enabled || !c.connected {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for topic %s: %w", topic, err)
	}
	return c.retrier.Do(context.Background(), func(ctx context.Context) error {
		return c.publishJSON(topic, data)
	})
}

// Subscribe subscribes to an MQTT topic.
func (c *Client) Subscribe(topic string, handler MQTT.MessageHandler) error {
	if !c.config.Enabled || !c.connected {
		return nil
	}
	token := c.client.Subscribe(topic, byte(c.config.QoS), handler)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe to topic %s: %w", topic, token.Error())
	}
	c.logger.Info("mqtt subscription created", "topic", topic)
	return nil
}

// Unsubscribe unsubscribes from an MQTT topic.
func (c *Client) Unsubscribe(topic string) error {
	if !c.config.Enabled || !c.connected {
		return nil
	}
	token := c.client.Unsubscribe(topic)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("unsubscribe from topic %s: %w", topic, token.Error())
	}
	c.logger.Info("mqtt subscription removed", "topic", topic)
	return nil
}

// IsConnected returns whether the MQTT client is connected.
func (c *Client) IsConnected() bool {
	return c.connected && c.client != nil && c.client.IsConnected()
}

// LastPublish returns the timestamp of the last successful publish.
func (c *Client) LastPublish() time.Time {
	return c.lastPublish
}

func (c *Client) publishJSON(topic string, data []byte) error {
	token := c.client.Publish(topic, byte(c.config.QoS), c.config.Retain, data)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish to topic %s: %w", topic, token.Error())
	}
	c.lastPublish = time.Now()
	c.logger.Debug("mqtt message published", "topic", topic, "size", len(data))
	return nil
}
