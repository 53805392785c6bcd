package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the device session collectors.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	MessagesTotal       *prometheus.CounterVec
	DecodeErrorsTotal   *prometheus.CounterVec
	PublishFailures     *prometheus.CounterVec
	IgnoredCommands     *prometheus.CounterVec
	PongTimeoutsTotal   prometheus.Counter
	BusConnected        prometheus.Gauge
	DeviceOnline        prometheus.Gauge
	RecorderDropsTotal  prometheus.Counter
	RecorderWritesTotal *prometheus.CounterVec
}

// New constructs the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_device_messages_total",
				Help: "Inbound device messages by topic suffix",
			},
			[]string{"suffix"},
		),
		DecodeErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_device_decode_errors_total",
				Help: "Device payloads that failed to decode by topic suffix",
			},
			[]string{"suffix"},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_device_publish_failures_total",
				Help: "Failed publishes by operation",
			},
			[]string{"op"},
		),
		IgnoredCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_device_ignored_commands_total",
				Help: "Commands dropped before reaching the bus by reason",
			},
			[]string{"reason"},
		),
		PongTimeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_device_pong_timeouts_total",
			Help: "Heartbeats the device did not answer in time",
		}),
		BusConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_bus_connected",
			Help: "1 when the dashboard holds a live broker connection",
		}),
		DeviceOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dashboard_device_online",
			Help: "1 when the device answered the last heartbeat",
		}),
		RecorderDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dashboard_recorder_dropped_total",
			Help: "Recorder events dropped because the queue was full",
		}),
		RecorderWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dashboard_recorder_writes_total",
				Help: "Recorder writes by kind and result",
			},
			[]string{"kind", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.MessagesTotal,
			m.DecodeErrorsTotal,
			m.PublishFailures,
			m.IgnoredCommands,
			m.PongTimeoutsTotal,
			m.BusConnected,
			m.DeviceOnline,
			m.RecorderDropsTotal,
			m.RecorderWritesTotal,
		)
	}
	return m
}

func (m *Metrics) IncMessage(suffix string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(suffix).Inc()
}

func (m *Metrics) IncDecodeError(suffix string) {
	if m == nil {
		return
	}
	m.DecodeErrorsTotal.WithLabelValues(suffix).Inc()
}

func (m *Metrics) IncPublishFailure(op string) {
	if m == nil {
		return
	}
	m.PublishFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) IncIgnoredCommand(reason string) {
	if m == nil {
		return
	}
	m.IgnoredCommands.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncPongTimeout() {
	if m == nil {
		return
	}
	m.PongTimeoutsTotal.Inc()
}

func (m *Metrics) SetConnected(v bool) {
	if m == nil {
		return
	}
	m.BusConnected.Set(boolToFloat(v))
}

func (m *Metrics) SetDeviceOnline(v bool) {
	if m == nil {
		return
	}
	m.DeviceOnline.Set(boolToFloat(v))
}

func (m *Metrics) IncRecorderDrop() {
	if m == nil {
		return
	}
	m.RecorderDropsTotal.Inc()
}

func (m *Metrics) IncRecorderWrite(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RecorderWritesTotal.WithLabelValues(kind, result).Inc()
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
