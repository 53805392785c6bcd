package device

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"smart-tank-dashboard/backend/internal/metrics"
	"smart-tank-dashboard/backend/pkg/mqtt"
)

var errBoom = errors.New("boom")

// manualClock fires timers only from Advance, on the calling goroutine.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	c    *manualClock
	at   time.Time
	seq  int
	f    func()
	done bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &manualTimer{c: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.done
	t.done = true
	return active
}

// Advance moves time forward by d, firing due timers in order of due time then creation.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *manualTimer
		for _, t := range c.timers {
			if t.done || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.done = true
		c.now = next.at
		c.mu.Unlock()

		next.f()
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (c *manualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

type publication struct {
	topic   string
	payload string
}

type fakeBus struct {
	mu            sync.Mutex
	handler       mqtt.MessageHandler
	subscriptions []string
	published     []publication
	publishErr    error
	subscribeErr  error
	disconnectErr error
	disconnects   int
}

func (b *fakeBus) Subscribe(_ context.Context, topic string, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return b.subscribeErr
	}
	b.subscriptions = append(b.subscriptions, topic)
	b.handler = handler
	return nil
}

func (b *fakeBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, publication{topic: topic, payload: string(payload)})
	return nil
}

func (b *fakeBus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnects++
	return b.disconnectErr
}

func (b *fakeBus) deliver(topic, payload string) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	h(topic, []byte(payload))
}

func (b *fakeBus) setPublishErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

func (b *fakeBus) publications() []publication {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publication(nil), b.published...)
}

func (b *fakeBus) countTopic(topic string) int {
	n := 0
	for _, p := range b.publications() {
		if p.topic == topic {
			n++
		}
	}
	return n
}

type fakeDialer struct {
	mu     sync.Mutex
	bus    *fakeBus
	err    error
	dials  []Settings
	onLost func(error)
}

func (d *fakeDialer) Dial(_ context.Context, s Settings, onLost func(error)) (Bus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, s)
	if d.err != nil {
		return nil, d.err
	}
	d.onLost = onLost
	return d.bus, nil
}

type recordingSink struct {
	mu       sync.Mutex
	samples  []ChannelSample
	statuses []StatusMessage
}

func (r *recordingSink) RecordSamples(_ string, samples []ChannelSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, samples...)
}

func (r *recordingSink) RecordStatus(_ string, msg StatusMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, msg)
}

type harness struct {
	session *Session
	clock   *manualClock
	bus     *fakeBus
	dialer  *fakeDialer
	metrics *metrics.Metrics
	sink    *recordingSink
}

var testSettings = Settings{Host: "localhost", Port: 1883, DeviceName: "tank"}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock:   newManualClock(),
		bus:     &fakeBus{},
		metrics: metrics.New(prometheus.NewRegistry()),
		sink:    &recordingSink{},
	}
	h.dialer = &fakeDialer{bus: h.bus}
	h.session = NewSession(slog.New(slog.DiscardHandler), h.dialer,
		WithClock(h.clock), WithMetrics(h.metrics), WithSink(h.sink))

	return h
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.session.Connect(context.Background(), testSettings)
	if !h.session.Snapshot().IsConnected {
		t.Fatal("expected session to be connected")
	}
}
