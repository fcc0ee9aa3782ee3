package mesh

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestHandler is called for every registration request received over MQTT.
// The request ID is always set; one is generated when the payload omits it.
type RequestHandler func(req RegistrationRequest)

// MQTTClient manages the MQTT connection and the request subscription
type MQTTClient struct {
	client      mqtt.Client
	config      *Config
	prefix      string
	handler     RequestHandler
	logger      *zap.SugaredLogger
	isConnected bool
	mu          sync.RWMutex
}

var (
	globalClient *MQTTClient
	clientMu     sync.Mutex
)

// InitMQTT initializes the global MQTT client with the provided configuration.
// If neither MQTT_BROKER nor the config names a broker, MQTT is disabled and this returns nil.
func InitMQTT(config *Config, handler RequestHandler, logger *zap.SugaredLogger) (*MQTTClient, error) {
	clientMu.Lock()
	defer clientMu.Unlock()

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if config == nil {
		config = DefaultConfig()
	}

	broker := envOr("MQTT_BROKER", config.MQTT.Broker)
	if broker == "" {
		logger.Info("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}
	if handler == nil {
		return nil, fmt.Errorf("MQTT enabled but no request handler provided")
	}

	client := &MQTTClient{
		config:  config,
		prefix:  PublishPrefix(config),
		handler: handler,
		logger:  logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := envOr("MQTT_CLIENT_ID", config.MQTT.ClientID)
	if clientID == "" {
		clientID = "meshalign"
	}
	opts.SetClientID(clientID)

	if username := envOr("MQTT_USERNAME", config.MQTT.Username); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(envOr("MQTT_PASSWORD", config.MQTT.Password))
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false) // keep the request subscription across reconnects
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	go client.connectWithRetry()

	globalClient = client
	return client, nil
}

// GetMQTTClient returns the global MQTT client instance
func GetMQTTClient() *MQTTClient {
	clientMu.Lock()
	defer clientMu.Unlock()
	return globalClient
}

// PublishPrefix resolves the topic prefix: MQTT_PUBLISH_PREFIX, then the config, then "meshalign".
func PublishPrefix(config *Config) string {
	fallback := ""
	if config != nil {
		fallback = config.MQTT.PublishPrefix
	}
	prefix := envOr("MQTT_PUBLISH_PREFIX", fallback)
	if prefix == "" {
		prefix = "meshalign"
	}
	return strings.TrimSuffix(prefix, "/")
}

// RequestTopic returns the topic registration requests arrive on
func RequestTopic(prefix string) string {
	return prefix + "/request"
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		c.logger.Info("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				c.logger.Info("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			c.logger.Warnw("MQTT connection failed", "error", token.Error())
		} else {
			c.logger.Warn("MQTT connection timeout")
		}

		c.logger.Infof("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect subscribes to the request topic
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := RequestTopic(c.prefix)
	c.logger.Infow("MQTT connected, subscribing to requests", "topic", topic)
	token := client.Subscribe(topic, 1, c.createRequestHandler())
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		c.logger.Errorw("Error subscribing", "topic", topic, "error", token.Error())
		return
	}
	c.logger.Infow("Successfully subscribed", "topic", topic)
}

// onConnectionLost is called when the MQTT connection is lost.
// Auto-reconnect is enabled, so this is typically a transient event.
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	c.logger.Warnw("MQTT connection interrupted, auto-reconnect will retry", "error", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	c.logger.Info("MQTT reconnecting...")
}

// createRequestHandler decodes request payloads and hands them to the RequestHandler
func (c *MQTTClient) createRequestHandler() mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		payload := msg.Payload()
		c.logger.Debugw("Received registration request", "topic", msg.Topic(), "bytes", len(payload))

		req, err := DecodeRequest(payload)
		if err != nil {
			c.logger.Errorw("Discarding registration request", "topic", msg.Topic(), "error", err)
			return
		}
		if c.handler != nil {
			c.handler(req)
		}
	}
}

// DecodeRequest parses a JSON registration request and assigns an ID when missing
func DecodeRequest(payload []byte) (RegistrationRequest, error) {
	var req RegistrationRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return RegistrationRequest{}, fmt.Errorf("decoding registration request: %w", err)
	}
	if req.Source == "" || req.Destination == "" {
		return RegistrationRequest{}, fmt.Errorf("registration request needs both source and destination")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	return req, nil
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.logger.Info("Disconnecting from MQTT broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// Prefix returns the topic prefix in use
func (c *MQTTClient) Prefix() string {
	return c.prefix
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient around a provided mqtt.Client.
// This is used for testing with mock clients.
func newMQTTClientWithMock(client mqtt.Client, config *Config, handler RequestHandler) *MQTTClient {
	return &MQTTClient{
		client:  client,
		config:  config,
		prefix:  PublishPrefix(config),
		handler: handler,
		logger:  zap.NewNop().Sugar(),
	}
}
