package device

import (
	"context"
	"log/slog"
	"time"

	"smart-tank-dashboard/backend/pkg/mqtt"
	"smart-tank-dashboard/backend/pkg/utils"
)

// Settings are the connection parameters used by Connect.
type Settings struct {
	Host       string
	Port       int
	Username   string
	Password   string
	DeviceName string
}

// Bus is an open broker connection.
type Bus interface {
	Subscribe(ctx context.Context, topic string, handler mqtt.MessageHandler) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Disconnect() error
}

// Dialer opens a Bus. onLost is called if the link drops after the dial succeeded.
type Dialer interface {
	Dial(ctx context.Context, s Settings, onLost func(error)) (Bus, error)
}

// MQTTDialer dials the broker with the paho client. Auto-reconnect is always off.
type MQTTDialer struct {
	l              *slog.Logger
	clientIDPrefix string
}

func NewMQTTDialer(l *slog.Logger, clientIDPrefix string) *MQTTDialer {
	return &MQTTDialer{l: l.With(slog.String("component", "mqtt")), clientIDPrefix: clientIDPrefix}
}

func (d *MQTTDialer) Dial(ctx context.Context, s Settings, onLost func(error)) (Bus, error) {
	timeout := ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	c, err := mqtt.Dial(ctx, d.l, mqtt.ClientOptions{
		BrokerURL:        mqtt.BrokerURL(s.Host, s.Port),
		ClientID:         utils.NewClientID(d.clientIDPrefix),
		Username:         s.Username,
		Password:         s.Password,
		ConnectTimeout:   timeout,
		AutoReconnect:    false,
		QoS:              mqtt.QoSAtMostOnce,
		OnConnectionLost: onLost,
	})
	if err != nil {
		return nil, err
	}

	return c, nil
}
