package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/yarin-zhang/ha-cleveroom-home/internal/infrastructure/config"
)

// Client is the bridge's broker connection.
//
// It owns the retained bridge status (online on every connect, offline on
// Close, unexpected_disconnect through the Last Will) and re-subscribes
// every tracked topic after paho reconnects.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	raw    pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	mu           sync.RWMutex
	connected    bool
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger

	subMu sync.RWMutex
	subs  map[string]subscription
}

// Logger is satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one message. paho calls it on its own
// goroutine; a returned error is logged and otherwise ignored.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and waits for the CONNACK.
//
// The Last Will is armed on the bridge status topic before dialling, so a
// crash leaves "offline" retained for {prefix}/bridge/{client_id}/status.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		topics: NewTopics(cfg.TopicPrefix),
		subs:   make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		if l := c.getLogger(); l != nil {
			l.Warn("mqtt reconnecting", "broker", brokerURL(cfg))
		}
	})

	c.raw = pahomqtt.NewClient(opts)
	if err := await(c.raw.Connect(), defaultConnectTimeout); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, brokerURL(cfg), err)
	}

	// The connect handler runs asynchronously; mark the client usable now.
	c.setConnected(true)
	return c, nil
}

func (c *Client) handleConnect() {
	c.setConnected(true)
	c.restoreSubscriptions()
	c.publishStatus([]byte(buildOnlinePayload(c.cfg.Broker.ClientID)))

	c.mu.RLock()
	cb := c.onConnect
	c.mu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)

	c.mu.RLock()
	cb := c.onDisconnect
	c.mu.RUnlock()
	if cb != nil {
		cb(err)
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// restoreSubscriptions runs after paho reconnects. Failures are logged;
// the next reconnect tries again.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for topic, sub := range c.subs {
		tok := c.raw.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
		go func() {
			if err := await(tok, defaultPublishTimeout); err != nil {
				if l := c.getLogger(); l != nil {
					l.Error("mqtt resubscribe failed", "topic", topic, "error", err)
				}
			}
		}()
	}
}

func (c *Client) publishStatus(payload []byte) pahomqtt.Token {
	return c.raw.Publish(c.topics.BridgeStatus(c.cfg.Broker.ClientID), c.QoS(), true, payload)
}

// Close publishes a graceful offline status and disconnects. Closing an
// unconnected client is a no-op.
func (c *Client) Close() error {
	if c.raw == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishStatus([]byte(buildOfflinePayload(c.cfg.Broker.ClientID, "graceful_shutdown"))).
			WaitTimeout(defaultPublishTimeout)
	}
	c.raw.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// Topics returns the topic builder for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// QoS returns mqtt.qos.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}

// HealthCheck reports ErrNotConnected while paho is between connections.
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
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.raw != nil && c.raw.IsConnected()
}

// SetOnConnect installs a callback run after every (re)connect, once the
// subscriptions are restored and the online status is published.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetOnDisconnect installs a callback run when the connection drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.mu.Lock()
	c.onDisconnect = callback
	c.mu.Unlock()
}

// SetLogger sets the logger for handler errors and panics. Nil silences
// them.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// wrapHandler adapts h to paho and contains its errors and panics.
func (c *Client) wrapHandler(h MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if l := c.getLogger(); l != nil {
					l.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := h(msg.Topic(), msg.Payload()); err != nil {
			if l := c.getLogger(); l != nil {
				l.Warn("mqtt handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
