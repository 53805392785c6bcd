package device

import (
	"context"
	"log/slog"

	"smart-tank-dashboard/backend/pkg/utils"
)

// Connect opens a new broker connection for settings, replacing any existing one.
// Failures are reflected in the state as IsConnected=false and are not retried.
func (s *Session) Connect(ctx context.Context, settings Settings) {
	s.Disconnect()

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.connecting = true
	s.topics = NewTopics(settings.DeviceName)
	s.state.DeviceName = settings.DeviceName
	topics := s.topics
	s.notifyLocked()
	s.mu.Unlock()

	l := s.l.With(
		slog.String("device", settings.DeviceName),
		slog.String("host", settings.Host),
		slog.Int("port", settings.Port),
	)
	l.Info("connecting to broker")

	dialCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	bus, err := s.dialer.Dial(dialCtx, settings, func(err error) { s.connectionLost(gen, err) })
	if err == nil {
		router := s.newRouter(gen, topics)
		err = bus.Subscribe(dialCtx, topics.Output(TopicWildcard), func(topic string, payload []byte) {
			if !router.Route(topic, payload) {
				l.Debug("ignoring message", slog.String("topic", topic))
				s.metrics.IncMessage("unknown")
			}
		})
		if err != nil {
			utils.LogOnError(l, bus.Disconnect, "failed to close bus after subscribe error")
		}
	}

	s.mu.Lock()
	if gen != s.generation {
		// A newer Connect owns the session now.
		s.mu.Unlock()
		if err == nil {
			utils.LogOnError(l, bus.Disconnect, "failed to close superseded bus")
		}
		return
	}
	s.connecting = false
	if err != nil {
		s.setConnectedLocked(false)
		s.notifyLocked()
		s.mu.Unlock()
		l.Error("failed to connect to broker", utils.ErrAttr(err))
		return
	}
	s.bus = bus
	s.setConnectedLocked(true)
	s.notifyLocked()
	s.mu.Unlock()

	l.Info("connected to broker")
	s.heartbeat(gen)
}

// Disconnect closes the current connection. It is a no-op when there is none.
func (s *Session) Disconnect() {
	s.mu.Lock()
	bus := s.bus
	if bus == nil {
		s.mu.Unlock()
		return
	}
	s.stopPingLocked()
	s.stopPongLocked()
	s.generation++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.bus == bus {
			s.bus = nil
			s.resetFlagsLocked()
		}
	}()

	if err := bus.Disconnect(); err != nil {
		s.l.Warn("bus close failed", utils.ErrAttr(err))
	}
	s.l.Info("disconnected from broker")
}

func (s *Session) connectionLost(gen uint64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.bus == nil {
		return
	}
	s.l.Warn("broker connection lost", utils.ErrAttr(err))
	s.stopPingLocked()
	s.stopPongLocked()
	s.resetFlagsLocked()
}

// heartbeat pings the device and schedules the next tick. It stops rescheduling
// itself once the connection is gone. The pong timeout is armed before the ping
// goes out so a fast reply cannot be overtaken by it.
func (s *Session) heartbeat(gen uint64) {
	s.mu.Lock()
	if gen != s.generation || s.bus == nil || !s.state.IsConnected {
		s.stopPingLocked()
		s.mu.Unlock()
		return
	}
	s.pingTimer = s.clock.AfterFunc(HeartbeatInterval, func() { s.heartbeat(gen) })
	if s.pongTimer != nil {
		// The previous ping is due at this very tick.
		s.stopPongLocked()
		s.markOfflineLocked()
	}
	s.pongSeq++
	seq := s.pongSeq
	s.pongTimer = s.clock.AfterFunc(PongTimeout, func() { s.pongTimedOut(seq) })
	bus, topic := s.bus, s.topics.Input(TopicPing)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	err := bus.Publish(ctx, topic, nil)
	if err == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return
	}
	s.l.Warn("failed to ping device", utils.ErrAttr(err))
	s.metrics.IncPublishFailure("ping")
	s.stopPingLocked()
	s.stopPongLocked()
	s.resetFlagsLocked()
}

func (s *Session) pongTimedOut(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.pongSeq || s.pongTimer == nil {
		return
	}
	s.pongTimer = nil
	s.markOfflineLocked()
}

func (s *Session) markOfflineLocked() {
	s.l.Warn("device did not answer ping", slog.String("device", s.topics.DeviceName))
	s.metrics.IncPongTimeout()
	s.setDeviceOnlineLocked(false)
	s.notifyLocked()
}

func (s *Session) handlePong(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.bus == nil {
		return
	}
	s.stopPongLocked()
	s.setDeviceOnlineLocked(true)
	s.notifyLocked()
}

func (s *Session) newRouter(gen uint64, topics Topics) *Router {
	r := NewRouter(topics)
	r.Handle(TopicPong, func([]byte) {
		s.metrics.IncMessage(TopicPong)
		s.handlePong(gen)
	})
	r.Handle(TopicParameters, func(payload []byte) { s.handleParameters(gen, payload) })
	r.Handle(TopicSensors, func(payload []byte) { s.handleSensors(gen, payload) })
	r.Handle(TopicStatus, func(payload []byte) { s.handleStatus(gen, payload) })

	return r
}

// Data handlers drop messages of a replaced connection. They check only the
// generation since retained parameters may arrive before Connect stores the bus.
func (s *Session) handleParameters(gen uint64, payload []byte) {
	s.metrics.IncMessage(TopicParameters)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	err := s.decoder.Parameters(s.state, payload)
	if err == nil {
		s.notifyLocked()
	}
	s.mu.Unlock()

	if err != nil {
		s.decodeFailed(TopicParameters, err)
	}
}

func (s *Session) handleSensors(gen uint64, payload []byte) {
	s.metrics.IncMessage(TopicSensors)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	samples, err := s.decoder.Sensors(s.state, payload)
	device := s.state.DeviceName
	s.notifyLocked()
	s.mu.Unlock()

	if err != nil {
		s.decodeFailed(TopicSensors, err)
	}
	if s.sink != nil && len(samples) > 0 {
		s.sink.RecordSamples(device, samples)
	}
}

func (s *Session) handleStatus(gen uint64, payload []byte) {
	s.metrics.IncMessage(TopicStatus)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	msg, err := s.decoder.Status(s.state, payload)
	device := s.state.DeviceName
	if err == nil {
		s.notifyLocked()
	}
	s.mu.Unlock()

	if err != nil {
		s.decodeFailed(TopicStatus, err)
		return
	}
	s.l.Info("device status", slog.Int("status", msg.StatusCode), slog.String("message", msg.Text))
	if s.sink != nil {
		s.sink.RecordStatus(device, msg)
	}
}

func (s *Session) decodeFailed(suffix string, err error) {
	s.l.Warn("ignoring device payload", slog.String("suffix", suffix), utils.ErrAttr(err))
	s.metrics.IncDecodeError(suffix)
}
