package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/AaronLay10/ShowSync/internal/config"
	"github.com/AaronLay10/ShowSync/internal/events"
)

const (
	connectTimeout    = 10 * time.Second
	operationTimeout  = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds
	keepAlive         = 30 * time.Second
)

// MessageHandler receives inbound messages. It is called on paho's
// goroutine and must not block.
type MessageHandler func(topic string, payload []byte)

// Client wraps the Paho MQTT client for ShowSync.
//
// Subscriptions are tracked and restored after every reconnect, and each
// (re)connect announces "<client-id> online" on the status topic. The
// broker publishes "<client-id> offline" as last will.
type Client struct {
	client paho.Client
	id     string
	url    string
	qos    byte
	topics Topics
	log    *slog.Logger

	subMu         sync.RWMutex
	subscriptions map[string]MessageHandler

	connMu    sync.RWMutex
	connected bool

	callbackMu   sync.RWMutex
	onConnect    func()
	onDisconnect func(error)
}

// ClientID returns "<prefix>-<module>-<random>".
func ClientID(prefix, module string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, module, uuid.NewString()[:8])
}

// NewClient creates a new MQTT client for module but does not connect.
func NewClient(b *config.Broker, module string, log *slog.Logger) *Client {
	c := newClient(b, ClientID(b.ClientIDPrefix, module), log)

	opts := paho.NewClientOptions().
		AddBroker(b.URL()).
		SetClientID(c.id).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(b.Reconnect.InitialDelay).
		SetMaxReconnectInterval(b.Reconnect.MaxDelay).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetOrderMatters(false).
		SetWill(c.topics.Status(), c.id+" offline", c.qos, false)

	if b.User != "" {
		opts.SetUsername(b.User)
		opts.SetPassword(b.Password)
	}
	if b.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetOnConnectHandler(func(_ paho.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		c.log.Debug("mqtt reconnecting", "broker", c.url)
	})

	c.client = paho.NewClient(opts)
	return c
}

func newClient(b *config.Broker, id string, log *slog.Logger) *Client {
	return &Client{
		id:            id,
		url:           b.URL(),
		qos:           byte(b.QoS),
		topics:        Topics{Base: b.BaseTopic},
		log:           log.With("component", "mqtt"),
		subscriptions: make(map[string]MessageHandler),
	}
}

// ID returns the client identifier used on the broker.
func (c *Client) ID() string { return c.id }

// Topics returns the topic builder for this client's base topic.
func (c *Client) Topics() Topics { return c.topics }

// Connect waits for the first connection. Paho keeps retrying in the
// background after a timeout, so a ConnectTimeoutError is not fatal:
// subscriptions made later are restored once the broker is reachable.
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()

	wait := connectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return &ConnectTimeoutError{Broker: c.url}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", c.url, err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()
	return nil
}

// Subscribe registers handler for topic. The subscription is remembered
// and restored on reconnect even when the client is offline right now.
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	c.subMu.Lock()
	c.subscriptions[topic] = handler
	c.subMu.Unlock()

	if !c.IsConnected() {
		c.log.Debug("subscription deferred until connected", "topic", topic)
		return nil
	}

	token := c.client.Subscribe(topic, c.qos, c.wrapHandler(handler))
	if !token.WaitTimeout(operationTimeout) {
		return &SubscribeTimeoutError{Topic: topic}
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// Publish sends payload to topic with the configured QoS.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.qos, retained, payload)
	if c.qos == 0 {
		return nil
	}
	if !token.WaitTimeout(operationTimeout) {
		return fmt.Errorf("%w: %s: timeout", ErrPublishFailed, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// Close announces a graceful offline and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.client.Publish(c.topics.Status(), c.qos, false, c.id+" offline")
		token.WaitTimeout(operationTimeout)
	}
	c.client.Disconnect(disconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
	return nil
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetOnConnect registers a callback run after every (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.callbackMu.Lock()
	c.onConnect = fn
	c.callbackMu.Unlock()
}

// SetOnDisconnect registers a callback run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(error)) {
	c.callbackMu.Lock()
	c.onDisconnect = fn
	c.callbackMu.Unlock()
}

func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	c.restoreSubscriptions()
	c.client.Publish(c.topics.Status(), c.qos, false, c.id+" online")

	c.log.Info("mqtt connected", "broker", c.url, "client_id", c.id)
	events.Emit("info", "bus.connected", "", map[string]interface{}{
		"broker":    c.url,
		"client_id": c.id,
	})

	c.callbackMu.RLock()
	fn := c.onConnect
	c.callbackMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.log.Warn("mqtt connection lost", "broker", c.url, "error", err)
	fields := map[string]interface{}{"broker": c.url}
	if err != nil {
		fields["error"] = err.Error()
	}
	events.Emit("warning", "bus.disconnected", "", fields)

	c.callbackMu.RLock()
	fn := c.onDisconnect
	c.callbackMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, handler := range c.subscriptions {
		// Not waited on: this runs on paho's connect callback.
		c.client.Subscribe(topic, c.qos, c.wrapHandler(handler))
	}
}

// wrapHandler adapts a MessageHandler and recovers from its panics.
func (c *Client) wrapHandler(handler MessageHandler) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()
		handler(msg.Topic(), msg.Payload())
	}
}
