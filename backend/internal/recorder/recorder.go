package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"smart-tank-dashboard/backend/internal/device"
	"smart-tank-dashboard/backend/internal/metrics"
	"smart-tank-dashboard/backend/pkg/utils"
)

const (
	DefaultQueueSize = 256
	writeTimeout     = 5 * time.Second
)

// Writer is the persistence side of the recorder.
type Writer interface {
	InsertSamples(ctx context.Context, deviceName string, samples []device.ChannelSample) error
	InsertStatus(ctx context.Context, deviceName string, msg device.StatusMessage) error
}

type event struct {
	device  string
	samples []device.ChannelSample
	status  *device.StatusMessage
}

// Recorder queues session events and writes them from a single goroutine.
// It implements device.Sink: enqueueing never blocks, a full queue drops the event.
type Recorder struct {
	w       Writer
	l       *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	events chan event
	done   chan struct{}
}

var _ device.Sink = (*Recorder)(nil)

// New starts the writer goroutine. Call Close to flush and stop it.
func New(l *slog.Logger, w Writer, m *metrics.Metrics, queueSize int) *Recorder {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}

	r := &Recorder{
		w:       w,
		l:       l.With(slog.String("component", "recorder")),
		metrics: m,
		events:  make(chan event, queueSize),
		done:    make(chan struct{}),
	}
	go r.run()

	return r
}

func (r *Recorder) RecordSamples(deviceName string, samples []device.ChannelSample) {
	r.enqueue(event{device: deviceName, samples: samples})
}

func (r *Recorder) RecordStatus(deviceName string, msg device.StatusMessage) {
	r.enqueue(event{device: deviceName, status: &msg})
}

func (r *Recorder) enqueue(ev event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}

	select {
	case r.events <- ev:
	default:
		r.l.Warn("recorder queue full, dropping event", slog.String("device", ev.device))
		r.metrics.IncRecorderDrop()
	}
}

// Close stops accepting events and waits until the queued ones are written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()

	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)

	for ev := range r.events {
		r.write(ev)
	}
}

func (r *Recorder) write(ev event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if ev.status != nil {
		err := r.w.InsertStatus(ctx, ev.device, *ev.status)
		r.metrics.IncRecorderWrite("status", err)
		if err != nil {
			r.l.Error("failed to record status", utils.ErrAttr(err))
		}
		return
	}

	err := r.w.InsertSamples(ctx, ev.device, ev.samples)
	r.metrics.IncRecorderWrite("samples", err)
	if err != nil {
		r.l.Error("failed to record samples", slog.Int("count", len(ev.samples)), utils.ErrAttr(err))
	}
}
