package simulator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"smart-tank-dashboard/backend/internal/device"
	"smart-tank-dashboard/backend/pkg/mqtt"
	"smart-tank-dashboard/backend/pkg/utils"
)

const (
	DefaultPublishInterval = 5 * time.Second
	inboxSize              = 64
	publishTimeout         = 5 * time.Second
)

// Client is the broker connection used by the simulator.
type Client interface {
	Subscribe(ctx context.Context, topic string, handler mqtt.MessageHandler) error
	Publish(ctx context.Context, topic string, payload []byte) error
	PublishRetained(ctx context.Context, topic string, payload []byte) error
}

type message struct {
	topic   string
	payload []byte
}

// Options configures a Simulator.
type Options struct {
	DeviceName string
	// PublishInterval is the sensors period. The physics step runs on the same tick.
	PublishInterval time.Duration
	// IPAddress is reported in the ip_address sensor.
	IPAddress string
	// SensorFaults are raw sensors that read as failed from boot.
	SensorFaults []string
}

// Simulator runs a Firmware against a broker. All firmware access happens on the Run goroutine.
type Simulator struct {
	l        *slog.Logger
	client   Client
	topics   device.Topics
	interval time.Duration
	fw       *Firmware
	inbox    chan message
	control  chan func(*Firmware)
	ready    chan struct{}
}

func New(l *slog.Logger, client Client, opts Options) *Simulator {
	if opts.PublishInterval <= 0 {
		opts.PublishInterval = DefaultPublishInterval
	}
	if opts.IPAddress == "" {
		opts.IPAddress = "127.0.0.1"
	}

	s := &Simulator{
		l:        l.With(slog.String("component", "simulator"), slog.String("device", opts.DeviceName)),
		client:   client,
		topics:   device.NewTopics(opts.DeviceName),
		interval: opts.PublishInterval,
		fw:       NewFirmware(time.Now(), opts.IPAddress),
		inbox:    make(chan message, inboxSize),
		control:  make(chan func(*Firmware)),
		ready:    make(chan struct{}),
	}
	for _, sensor := range opts.SensorFaults {
		if err := s.fw.SetSensorFault(sensor, true); err != nil {
			s.l.Warn("ignoring sensor fault", utils.ErrAttr(err))
		}
	}

	return s
}

// Run subscribes to the device input namespace and serves until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	if err := s.client.Subscribe(ctx, s.topics.Input(device.TopicWildcard), s.enqueue); err != nil {
		return err
	}

	s.publishParameters(ctx)
	s.publishSensors(ctx, time.Now())
	close(s.ready)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	last := time.Now()

	s.l.Info("simulator running", slog.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.l.Info("simulator stopped")
			return nil

		case msg := <-s.inbox:
			s.handle(ctx, msg)

		case apply := <-s.control:
			apply(s.fw)

		case now := <-ticker.C:
			events, disabled := s.fw.Step(now, now.Sub(last))
			last = now
			for _, ev := range events {
				s.l.Warn("safety cutoff", slog.Int("status", ev.Status), slog.String("message", ev.Message))
				s.publishJSON(ctx, device.TopicStatus, ev)
			}
			if disabled {
				s.publishParameters(ctx)
			}
			s.publishSensors(ctx, now)
		}
	}
}

// Ready is closed once the simulator listens for commands and has published its parameters.
func (s *Simulator) Ready() <-chan struct{} { return s.ready }

// SetSensorFault fails or restores a raw sensor of the running simulator. It blocks
// until Run picks the change up or ctx is done. The next sensors publication reflects it.
func (s *Simulator) SetSensorFault(ctx context.Context, sensor string, bad bool) error {
	if !ValidSensor(sensor) {
		return fmt.Errorf("%w: %q", ErrUnknownSensor, sensor)
	}

	apply := func(fw *Firmware) {
		_ = fw.SetSensorFault(sensor, bad)
		s.l.Info("sensor fault changed", slog.String("sensor", sensor), slog.Bool("bad", bad))
	}
	select {
	case s.control <- apply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue runs on the MQTT client goroutine and must not block.
func (s *Simulator) enqueue(topic string, payload []byte) {
	select {
	case s.inbox <- message{topic: topic, payload: payload}:
	default:
		s.l.Warn("inbox full, dropping message", slog.String("topic", topic))
	}
}

func (s *Simulator) handle(ctx context.Context, msg message) {
	suffix, ok := s.topics.InputSuffix(msg.topic)
	if !ok {
		return
	}
	s.l.Debug("received", slog.String("suffix", suffix), slog.String("payload", string(msg.payload)))

	switch {
	case suffix == device.TopicPing:
		s.fw.Ping(time.Now())
		if err := s.publish(ctx, s.topics.Output(device.TopicPong), []byte{}); err != nil {
			s.l.Error("failed to answer ping", utils.ErrAttr(err))
		}

	case suffix == device.TopicHeaterPower:
		s.publishJSON(ctx, device.TopicStatus, s.fw.SetHeaterPower(msg.payload))

	case strings.HasPrefix(suffix, device.TopicParameters+"/"):
		name := strings.TrimPrefix(suffix, device.TopicParameters+"/")
		status, changed := s.fw.WriteParameter(name, msg.payload)
		if changed {
			s.publishParameters(ctx)
		}
		s.publishJSON(ctx, device.TopicStatus, status)

	default:
		s.l.Debug("ignoring unknown input", slog.String("suffix", suffix))
	}
}

func (s *Simulator) publishParameters(ctx context.Context) {
	payload, err := utils.ToJSON(s.fw.Parameters())
	if err != nil {
		s.l.Error("failed to encode parameters", utils.ErrAttr(err))
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.client.PublishRetained(pubCtx, s.topics.Output(device.TopicParameters), payload); err != nil {
		s.l.Error("failed to publish parameters", utils.ErrAttr(err))
	}
}

func (s *Simulator) publishSensors(ctx context.Context, now time.Time) {
	s.publishJSON(ctx, device.TopicSensors, s.fw.Sensors(now))
}

func (s *Simulator) publishJSON(ctx context.Context, suffix string, v any) {
	payload, err := utils.ToJSON(v)
	if err != nil {
		s.l.Error("failed to encode payload", slog.String("suffix", suffix), utils.ErrAttr(err))
		return
	}
	if err := s.publish(ctx, s.topics.Output(suffix), payload); err != nil {
		s.l.Error("failed to publish", slog.String("suffix", suffix), utils.ErrAttr(err))
	}
}

func (s *Simulator) publish(ctx context.Context, topic string, payload []byte) error {
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return s.client.Publish(pubCtx, topic, payload)
}
