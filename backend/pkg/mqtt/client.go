package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"smart-tank-dashboard/backend/pkg/utils"
)

// ErrNotConnected is returned by Disconnect when the link was already down.
var ErrNotConnected = errors.New("mqtt client is not connected")

const disconnectQuiesce = 250 // ms

// ClientOptions contains configuration for creating an MQTT client.
type ClientOptions struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	// AutoReconnect lets paho re-establish dropped links on its own.
	AutoReconnect bool
	// QoS used for publications and subscriptions.
	QoS QoS
	// OnConnectionLost is called from paho's goroutine when an established link drops.
	OnConnectionLost func(err error)
}

// BrokerURL builds a tcp:// broker URL from host and port.
func BrokerURL(host string, port int) string {
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Client is a connected MQTT client.
type Client struct {
	client pahomqtt.Client
	qos    QoS
	l      *slog.Logger
}

// Dial connects to the broker and returns once the CONNACK arrived, the connect
// timeout elapsed or ctx was cancelled.
func Dial(ctx context.Context, l *slog.Logger, opts ClientOptions) (*Client, error) {
	if opts.BrokerURL == "" {
		return nil, errors.New("broker URL is required")
	}

	if opts.ClientID == "" {
		return nil, errors.New("client ID is required")
	}

	l = l.With(slog.String("component", "mqtt-client"), slog.String("broker", opts.BrokerURL), slog.String("clientID", opts.ClientID))

	clientOpts := pahomqtt.NewClientOptions()
	clientOpts.AddBroker(opts.BrokerURL)
	clientOpts.SetClientID(opts.ClientID)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}

	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	clientOpts.SetAutoReconnect(opts.AutoReconnect)
	clientOpts.SetConnectRetry(false)
	clientOpts.SetCleanSession(true)
	clientOpts.SetOrderMatters(true)

	if opts.ConnectTimeout > 0 {
		clientOpts.SetConnectTimeout(opts.ConnectTimeout)
	}

	if opts.KeepAlive > 0 {
		clientOpts.SetKeepAlive(opts.KeepAlive)
	}

	clientOpts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		l.Warn("Connection to MQTT broker lost", utils.ErrAttr(err))

		if opts.OnConnectionLost != nil {
			opts.OnConnectionLost(err)
		}
	})

	c := &Client{
		client: pahomqtt.NewClient(clientOpts),
		qos:    opts.QoS,
		l:      l,
	}

	l.Debug("Connecting to MQTT broker")

	if err := wait(ctx, c.client.Connect()); err != nil {
		c.client.Disconnect(0)
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	l.Info("Connected to MQTT broker")

	return c, nil
}

// Subscribe subscribes to topic (wildcards allowed) and routes messages to handler.
func (c *Client) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	token := c.client.Subscribe(topic, byte(c.qos), func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})

	if err := wait(ctx, token); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	c.l.Info("Subscribed", slog.String("topic", topic))

	return nil
}

// Publish sends payload to topic without the retain flag.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	return c.publish(ctx, topic, false, payload)
}

// PublishRetained sends payload to topic with the retain flag set.
func (c *Client) PublishRetained(ctx context.Context, topic string, payload []byte) error {
	return c.publish(ctx, topic, true, payload)
}

func (c *Client) publish(ctx context.Context, topic string, retained bool, payload []byte) error {
	if err := wait(ctx, c.client.Publish(topic, byte(c.qos), retained, payload)); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}

	return nil
}

// IsConnected reports whether the network link is currently open.
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Disconnect closes the connection. The client is unusable afterwards.
func (c *Client) Disconnect() error {
	open := c.client.IsConnectionOpen()

	c.l.Info("Disconnecting from MQTT broker...")
	c.client.Disconnect(disconnectQuiesce)

	if !open {
		return ErrNotConnected
	}

	c.l.Info("Disconnected from MQTT broker")

	return nil
}

func wait(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
