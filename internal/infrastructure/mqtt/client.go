package mqtt

import (
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/droidpilot/internal/infrastructure/config"
)

// Timeouts for broker round trips.
const (
	connectTimeout = 10 * time.Second
	ackTimeout     = 5 * time.Second

	// disconnectQuiesce is how long Close lets in-flight publishes drain,
	// in milliseconds.
	disconnectQuiesce = 500
)

// conn is the part of pahomqtt.Client the wrapper drives.
type conn interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Unsubscribe(topics ...string) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Logger interface for optional logging support.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler receives a message on a subscribed topic. A returned
// error is logged; it does not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// Client is one droidpilot process's broker session: a bot run or the
// queue. Its presence is published retained on
// droidpilot/system/{name}/status, "online" on every (re)connect and
// "offline" on Close or, through the will message, on an unclean drop.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Command subscriptions are restored after a reconnect.
type Client struct {
	conn conn
	cfg  config.MQTTConfig
	name string

	mu     sync.Mutex
	logger Logger
	subs   map[string]subscription
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Connect opens a session named name (the bot name, or "queue"). The
// broker client ID is cfg.Broker.ClientID suffixed with name so a queue
// and its workers never evict each other.
func Connect(cfg config.MQTTConfig, name string) (*Client, error) {
	c := newClient(nil, cfg, name)

	opts := clientOptions(cfg, name)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.log().Warn("MQTT connection lost", "session", c.name, "error", err)
	})
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.log().Info("MQTT reconnecting", "session", c.name)
	})

	pc := pahomqtt.NewClient(opts)
	c.conn = pc

	token := pc.Connect()
	if !token.WaitTimeout(connectTimeout) {
		pc.Disconnect(0)
		return nil, fmt.Errorf("%w: no answer from %s within %v", ErrConnectionFailed, brokerURL(cfg), connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return c, nil
}

func newClient(cn conn, cfg config.MQTTConfig, name string) *Client {
	return &Client{
		conn:   cn,
		cfg:    cfg,
		name:   name,
		logger: noopLogger{},
		subs:   make(map[string]subscription),
	}
}

// SetLogger sets the logger for connection events and handler failures.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// Name returns the session name.
func (c *Client) Name() string {
	return c.name
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// onConnect runs on the initial connect and every reconnect.
func (c *Client) onConnect() {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, s := range c.subs {
		subs[topic] = s
	}
	c.mu.Unlock()

	for topic, s := range subs {
		// Reconnect callbacks run on paho's goroutine; do not wait here.
		c.conn.Subscribe(topic, s.qos, c.dispatch(s.handler))
	}
	c.conn.Publish(Topics{}.Presence(c.name), byte(c.cfg.QoS), true, presencePayload(c.name, PresenceOnline, ""))
	c.log().Info("MQTT session online", "session", c.name, "restored_subscriptions", len(subs))
}

// Close publishes an offline presence and disconnects. A client that
// never connected closes without error.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if c.conn.IsConnected() {
		token := c.conn.Publish(Topics{}.Presence(c.name), byte(c.cfg.QoS), true,
			presencePayload(c.name, PresenceOffline, "shutdown"))
		token.WaitTimeout(ackTimeout)
	}
	c.conn.Disconnect(disconnectQuiesce)
	return nil
}

// wait blocks for token up to ackTimeout and wraps a failure in kind.
func wait(token pahomqtt.Token, kind error) error {
	if !token.WaitTimeout(ackTimeout) {
		return fmt.Errorf("%w: no broker ack within %v", kind, ackTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", kind, err)
	}
	return nil
}
