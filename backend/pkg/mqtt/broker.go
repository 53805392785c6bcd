package mqtt

import (
	"errors"
	"log/slog"

	mqttbroker "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
)

// BrokerOptions configures the embedded development broker.
type BrokerOptions struct {
	Address string
	// Username and Password enable a single-user auth ledger. Empty means allow all.
	Username string
	Password string
}

// Broker is an in-process MQTT broker used for development and tests.
type Broker struct {
	server *mqttbroker.Server
	addr   string
	l      *slog.Logger
}

// NewBroker creates a broker with a TCP listener on opts.Address.
func NewBroker(l *slog.Logger, opts BrokerOptions) (*Broker, error) {
	if opts.Address == "" {
		return nil, errors.New("broker address is required")
	}

	l = l.With(slog.String("component", "mqtt-broker"))

	server := mqttbroker.New(&mqttbroker.Options{
		Logger: l,
	})

	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: opts.Address})
	if err := server.AddListener(tcp); err != nil {
		return nil, err
	}

	if opts.Username == "" {
		if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
			return nil, err
		}
	} else {
		ledger := &auth.Ledger{
			Auth: auth.AuthRules{
				{Username: auth.RString(opts.Username), Password: auth.RString(opts.Password), Allow: true},
			},
			ACL: auth.ACLRules{
				{Username: auth.RString(opts.Username), Filters: auth.Filters{"#": auth.ReadWrite}},
			},
		}

		if err := server.AddHook(new(auth.Hook), &auth.Options{Ledger: ledger}); err != nil {
			return nil, err
		}
	}

	return &Broker{server: server, addr: opts.Address, l: l}, nil
}

// Serve starts accepting clients. It does not block.
func (b *Broker) Serve() error {
	b.l.Info("MQTT broker listening", slog.String("address", b.addr))

	return b.server.Serve()
}

// Close stops all listeners and disconnects clients.
func (b *Broker) Close() error {
	b.l.Info("mqtt broker shutting down...")

	return b.server.Close()
}
