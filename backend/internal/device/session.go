package device

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"smart-tank-dashboard/backend/internal/metrics"
)

const (
	ConnectTimeout    = 2000 * time.Millisecond
	HeartbeatInterval = 10 * time.Second
	// PongTimeout must not exceed HeartbeatInterval: an unanswered ping is
	// expired at the latest when the next one goes out.
	PongTimeout = 10 * time.Second

	publishTimeout = 5 * time.Second
)

// Sink receives the events worth persisting. Implementations must not block.
type Sink interface {
	RecordSamples(deviceName string, samples []ChannelSample)
	RecordStatus(deviceName string, msg StatusMessage)
}

// Session supervises the connection to one device and mirrors its state.
//
// All State mutations happen under mu. Broker I/O happens outside it.
// The generation counter changes on every connect and disconnect so callbacks
// belonging to an older connection become no-ops.
type Session struct {
	l       *slog.Logger
	dialer  Dialer
	clock   Clock
	sink    Sink
	metrics *metrics.Metrics
	decoder *Decoder

	mu         sync.Mutex
	state      *State
	topics     Topics
	bus        Bus
	connecting bool
	generation uint64
	pingTimer  Timer
	pongTimer  Timer
	pongSeq    uint64
	watchers   map[chan Snapshot]struct{}
}

type Option func(*Session)

func WithClock(c Clock) Option { return func(s *Session) { s.clock = c } }

func WithSink(sink Sink) Option { return func(s *Session) { s.sink = sink } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Session) { s.metrics = m } }

func NewSession(l *slog.Logger, dialer Dialer, opts ...Option) *Session {
	s := &Session{
		l:        l.With(slog.String("component", "device-session")),
		dialer:   dialer,
		clock:    RealClock(),
		state:    NewState(),
		watchers: make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.decoder = NewDecoder(s.clock.Now)

	return s
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

// Watch returns a channel receiving a snapshot after every state change.
// Slow readers only see the latest snapshot. The channel is closed when ctx is done.
func (s *Session) Watch(ctx context.Context) <-chan Snapshot {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, ch)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

func (s *Session) snapshotLocked() Snapshot {
	conn := Disconnected
	switch {
	case s.connecting:
		conn = Connecting
	case s.state.IsConnected:
		conn = Connected
	}

	return s.state.snapshot(conn)
}

func (s *Session) notifyLocked() {
	if len(s.watchers) == 0 {
		return
	}

	snap := s.snapshotLocked()
	for ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Session) setConnectedLocked(v bool) {
	s.state.IsConnected = v
	s.metrics.SetConnected(v)
}

func (s *Session) setDeviceOnlineLocked(v bool) {
	s.state.IsDeviceOnline = v
	s.metrics.SetDeviceOnline(v)
}

// resetFlagsLocked marks the link as dead without releasing the bus handle.
func (s *Session) resetFlagsLocked() {
	s.setConnectedLocked(false)
	s.setDeviceOnlineLocked(false)
	s.notifyLocked()
}

func (s *Session) stopPingLocked() {
	if s.pingTimer != nil {
		s.pingTimer.Stop()
		s.pingTimer = nil
	}
}

func (s *Session) stopPongLocked() {
	if s.pongTimer != nil {
		s.pongTimer.Stop()
		s.pongTimer = nil
	}
}
