package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/MarcoCaamal/SIAMP-G-Server-sub000/internal/infrastructure/config"
)

// Client is the server's connection to the light broker.
//
// It publishes device commands, carries device event subscriptions across
// reconnects, and announces server presence on Topics.ServerStatus.
// All methods are safe for concurrent use.
type Client struct {
	client         pahomqtt.Client
	cfg            config.MQTTConfig
	topics         Topics
	publishTimeout time.Duration

	subs      *subscriptionSet
	connected atomic.Bool

	hookMu       sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger is the subset of logging.Logger the client uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler receives one inbound message. Handlers run on paho's
// goroutines and should return quickly. A returned error is logged only.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker described by cfg and waits for the first
// CONNACK. Failures wrap ErrConnectionFailed.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Info("reconnecting to MQTT broker", "broker", brokerURL(cfg))
	})

	c.client = pahomqtt.NewClient(opts)
	tok := c.client.Connect()
	if !tok.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: no CONNACK from %s within %v", ErrConnectionFailed, brokerURL(cfg), defaultConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg), err)
	}

	// OnConnect fires on its own goroutine; callers may publish right away.
	c.setConnected(true)
	return c, nil
}

// newClient builds an unconnected client. Connect fills in the paho client.
func newClient(cfg config.MQTTConfig) *Client {
	timeout := cfg.Publish.TimeoutDuration()
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Client{
		cfg:            cfg,
		topics:         NewTopics(cfg.TopicPrefix),
		publishTimeout: timeout,
		subs:           newSubscriptionSet(),
	}
}

// await waits for tok within the publish timeout, wrapping failures in
// sentinel.
func (c *Client) await(tok pahomqtt.Token, sentinel error) error {
	if !tok.WaitTimeout(c.publishTimeout) {
		return fmt.Errorf("%w: timeout after %v", sentinel, c.publishTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics { return c.topics }

// QoS returns the configured default QoS level.
func (c *Client) QoS() byte { return byte(c.cfg.QoS) }

func (c *Client) setConnected(v bool) { c.connected.Store(v) }

func (c *Client) handleConnect() {
	c.setConnected(true)
	c.restoreSubscriptions()
	c.publishStatus("online", "")

	c.hookMu.RLock()
	hook := c.onConnect
	c.hookMu.RUnlock()
	if hook != nil {
		hook()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)
	c.log().Warn("MQTT connection lost", "error", err)

	c.hookMu.RLock()
	hook := c.onDisconnect
	c.hookMu.RUnlock()
	if hook != nil {
		hook(err)
	}
}

// restoreSubscriptions replays tracked topics after a reconnect. Tokens
// are awaited off the paho callback goroutine.
func (c *Client) restoreSubscriptions() {
	for _, sub := range c.subs.snapshot() {
		tok := c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
		go func(topic string) {
			if err := c.await(tok, ErrSubscribeFailed); err != nil {
				c.log().Error("failed to restore MQTT subscription", "topic", topic, "error", err)
			}
		}(sub.topic)
	}
}

func (c *Client) publishStatus(status, reason string) pahomqtt.Token {
	payload := statusPayload(status, c.cfg.Broker.ClientID, reason, time.Now())
	return c.client.Publish(c.topics.ServerStatus(), c.QoS(), true, payload)
}

// Close announces a graceful offline status and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishStatus("offline", "graceful_shutdown").WaitTimeout(c.publishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// SetOnConnect registers a callback run on every (re)connect.
func (c *Client) SetOnConnect(hook func()) {
	c.hookMu.Lock()
	c.onConnect = hook
	c.hookMu.Unlock()
}

// SetOnDisconnect registers a callback run when the connection drops.
func (c *Client) SetOnDisconnect(hook func(err error)) {
	c.hookMu.Lock()
	c.onDisconnect = hook
	c.hookMu.Unlock()
}

// SetLogger sets the logger used for handler failures and reconnects.
func (c *Client) SetLogger(logger Logger) {
	c.hookMu.Lock()
	c.logger = logger
	c.hookMu.Unlock()
}

func (c *Client) log() Logger {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	if c.logger == nil {
		return noopLogger{}
	}
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

// dispatch runs handler, containing panics so a malformed device payload
// cannot take down paho's router goroutine.
func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log().Error("MQTT handler panic recovered", "topic", topic, "panic", r)
		}
	}()

	if err := handler(topic, payload); err != nil {
		c.log().Warn("MQTT handler returned error", "topic", topic, "error", err)
	}
}
