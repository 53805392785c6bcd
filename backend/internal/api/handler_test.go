package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"smart-tank-dashboard/backend/internal/api/types"
	"smart-tank-dashboard/backend/internal/device"
	"smart-tank-dashboard/backend/internal/metrics"
	"smart-tank-dashboard/backend/pkg/mqtt"
	"smart-tank-dashboard/backend/pkg/utils"
)

var errBoom = errors.New("boom")

type publication struct {
	topic   string
	payload string
}

type stubBus struct {
	mu        sync.Mutex
	handler   mqtt.MessageHandler
	published []publication
}

func (b *stubBus) Subscribe(_ context.Context, _ string, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	return nil
}

func (b *stubBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publication{topic: topic, payload: string(payload)})
	return nil
}

func (b *stubBus) Disconnect() error { return nil }

func (b *stubBus) deliver(topic, payload string) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	h(topic, []byte(payload))
}

func (b *stubBus) last(topicPrefix string) (publication, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.published) - 1; i >= 0; i-- {
		if strings.HasPrefix(b.published[i].topic, topicPrefix) {
			return b.published[i], true
		}
	}
	return publication{}, false
}

type stubDialer struct {
	mu    sync.Mutex
	bus   *stubBus
	err   error
	dials []device.Settings
}

func (d *stubDialer) Dial(_ context.Context, s device.Settings, _ func(error)) (device.Bus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, s)
	if d.err != nil {
		return nil, d.err
	}
	return d.bus, nil
}

type stubStore struct {
	pingErr  error
	samples  []device.Sample
	statuses []device.StatusMessage
	gotLimit int
}

func (s *stubStore) History(_ context.Context, _ string, _ device.Channel, limit int) ([]device.Sample, error) {
	s.gotLimit = limit
	return s.samples, nil
}

func (s *stubStore) Statuses(_ context.Context, _ string, limit int) ([]device.StatusMessage, error) {
	s.gotLimit = limit
	return s.statuses, nil
}

func (s *stubStore) Ping(context.Context) error { return s.pingErr }

var defaultSettings = device.Settings{Host: "127.0.0.1", Port: 1883, DeviceName: "tank"}

type fixture struct {
	bus     *stubBus
	dialer  *stubDialer
	session *device.Session
	router  http.Handler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	l := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := &stubBus{}
	dialer := &stubDialer{bus: bus}
	session := device.NewSession(l, dialer, device.WithMetrics(metrics.New(prometheus.NewRegistry())))
	t.Cleanup(session.Disconnect)

	h := NewHandler(l, session, defaultSettings, opts...)

	return &fixture{bus: bus, dialer: dialer, session: session, router: h.Routes()}
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	f.session.Connect(t.Context(), defaultSettings)
	if !f.session.Snapshot().IsConnected {
		t.Fatal("session did not connect")
	}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	v, err := utils.FromJSON[T](rec.Body.Bytes())
	if err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestPing(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/ping", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[types.PingResponse](t, rec)
	if resp.Status != types.PingStatusOK || resp.Message != "Pong" {
		t.Errorf("unexpected response %+v", resp)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	t.Run("disconnected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.do(t, http.MethodGet, "/api/health", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		resp := decode[types.HealthResponse](t, rec)
		if resp.MQTT || !resp.Database {
			t.Errorf("unexpected response %+v", resp)
		}
	})

	t.Run("connected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, WithHistoryStore(&stubStore{}))
		f.connect(t)
		rec := f.do(t, http.MethodGet, "/api/health", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("database down", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, WithHistoryStore(&stubStore{pingErr: errBoom}))
		f.connect(t)
		rec := f.do(t, http.MethodGet, "/api/health", "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		if resp := decode[types.HealthResponse](t, rec); resp.Database {
			t.Errorf("database reported healthy")
		}
	})
}

func TestConnect(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/api/session/connect", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
		}
		snap := decode[device.Snapshot](t, rec)
		if !snap.IsConnected || snap.DeviceName != "tank" {
			t.Errorf("unexpected snapshot %+v", snap)
		}
		if f.dialer.dials[0] != defaultSettings {
			t.Errorf("dialed %+v, want %+v", f.dialer.dials[0], defaultSettings)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/api/session/connect", `{"host":"broker.lan","deviceName":"boiler"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
		}
		want := device.Settings{Host: "broker.lan", Port: 1883, DeviceName: "boiler"}
		if f.dialer.dials[0] != want {
			t.Errorf("dialed %+v, want %+v", f.dialer.dials[0], want)
		}
	})

	t.Run("invalid port", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		rec := f.do(t, http.MethodPost, "/api/session/connect", `{"port":70000}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		if resp := decode[types.ErrorResponse](t, rec); resp.Errors["port"] == "" {
			t.Errorf("missing port error in %+v", resp)
		}
		if len(f.dialer.dials) != 0 {
			t.Error("dialed with invalid settings")
		}
	})

	t.Run("dial failure", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		f.dialer.err = errBoom
		rec := f.do(t, http.MethodPost, "/api/session/connect", "")
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", rec.Code)
		}
	})
}

func TestDisconnect(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.connect(t)

	rec := f.do(t, http.MethodPost, "/api/session/disconnect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if snap := decode[device.Snapshot](t, rec); snap.IsConnected || snap.IsDeviceOnline {
		t.Errorf("flags not reset: %+v", snap)
	}
}

func TestCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		method      string
		target      string
		body        string
		connected   bool
		wantStatus  int
		wantTopic   string
		wantPayload string
	}{
		{
			name: "parameter", method: http.MethodPut, target: "/api/parameters/weight_sp",
			body: `{"value":1500.5}`, connected: true, wantStatus: http.StatusAccepted,
			wantTopic: "tank/to_device/parameters/weight_sp", wantPayload: "1500.5",
		},
		{
			name: "unknown parameter", method: http.MethodPut, target: "/api/parameters/flux",
			body: `{"value":1}`, connected: true, wantStatus: http.StatusNotFound,
		},
		{
			name: "missing value", method: http.MethodPut, target: "/api/parameters/pid_p",
			body: `{}`, connected: true, wantStatus: http.StatusBadRequest,
		},
		{
			name: "not connected", method: http.MethodPut, target: "/api/parameters/pid_p",
			body: `{"value":1}`, wantStatus: http.StatusConflict,
		},
		{
			name: "mode", method: http.MethodPut, target: "/api/mode",
			body: `{"mode":2}`, connected: true, wantStatus: http.StatusAccepted,
			wantTopic: "tank/to_device/parameters/mode", wantPayload: "2",
		},
		{
			name: "mode out of range", method: http.MethodPut, target: "/api/mode",
			body: `{"mode":3}`, connected: true, wantStatus: http.StatusBadRequest,
		},
		{
			name: "heater power", method: http.MethodPut, target: "/api/heater-power",
			body: `{"power":42}`, connected: true, wantStatus: http.StatusAccepted,
			wantTopic: "tank/to_device/heater_power", wantPayload: "42",
		},
		{
			name: "heater power too high", method: http.MethodPut, target: "/api/heater-power",
			body: `{"power":101}`, connected: true, wantStatus: http.StatusBadRequest,
		},
		{
			name: "calibration", method: http.MethodPut, target: "/api/calibration/weight_calibration_points",
			body:      `{"points":[{"rawValue":0,"calibratedValue":0},{"rawValue":1000,"calibratedValue":500}]}`,
			connected: true, wantStatus: http.StatusAccepted,
			wantTopic:   "tank/to_device/parameters/weight_calibration_points",
			wantPayload: `[{"raw_value":0,"calibrated_value":0},{"raw_value":1000,"calibrated_value":500}]`,
		},
		{
			name: "unknown calibration", method: http.MethodPut, target: "/api/calibration/mode",
			body: `{"points":[]}`, connected: true, wantStatus: http.StatusNotFound,
		},
		{
			name: "missing points", method: http.MethodPut, target: "/api/calibration/weight_calibration_points",
			body: `{}`, connected: true, wantStatus: http.StatusBadRequest,
		},
		{
			name: "malformed body", method: http.MethodPut, target: "/api/mode",
			body: `{"mode":`, connected: true, wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			if tt.connected {
				f.connect(t)
			}

			rec := f.do(t, tt.method, tt.target, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body)
			}

			if tt.wantTopic == "" {
				if p, ok := f.bus.last("tank/to_device/parameters"); ok {
					t.Errorf("unexpected publication %+v", p)
				}
				return
			}
			p, ok := f.bus.last(tt.wantTopic)
			if !ok {
				t.Fatalf("nothing published on %s", tt.wantTopic)
			}
			if p.payload != tt.wantPayload {
				t.Errorf("payload = %s, want %s", p.payload, tt.wantPayload)
			}
		})
	}
}

func TestHistoryFromSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.connect(t)
	for _, w := range []string{"1000", "2000", "3000"} {
		f.bus.deliver("tank/from_device/sensors", `{"weight_calibrated":{"value":`+w+`,"quality":0}}`)
	}
	f.bus.deliver("tank/from_device/status", `{"status":200,"message":"ok"}`)

	rec := f.do(t, http.MethodGet, "/api/history/weight_calibrated?limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	resp := decode[types.HistoryResponse](t, rec)
	if resp.Source != types.HistorySourceSession {
		t.Errorf("source = %s, want session", resp.Source)
	}
	if len(resp.Samples) != 2 || resp.Samples[0].Value != 3 || resp.Samples[1].Value != 2 {
		t.Errorf("samples = %+v, want [3 2]", resp.Samples)
	}

	rec = f.do(t, http.MethodGet, "/api/history/heater_output_power", "")
	if resp := decode[types.HistoryResponse](t, rec); resp.Samples == nil || len(resp.Samples) != 0 {
		t.Errorf("samples = %+v, want empty list", resp.Samples)
	}

	rec = f.do(t, http.MethodGet, "/api/statuses", "")
	statuses := decode[types.StatusesResponse](t, rec)
	if len(statuses.Statuses) != 1 || statuses.Statuses[0].Text != "ok" {
		t.Errorf("statuses = %+v", statuses.Statuses)
	}
}

func TestHistoryFromStore(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &stubStore{samples: []device.Sample{{Timestamp: now, Value: 7}}}
	f := newFixture(t, WithHistoryStore(store))

	rec := f.do(t, http.MethodGet, "/api/history/top_temperature_calibrated", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[types.HistoryResponse](t, rec)
	if resp.Source != types.HistorySourceRecorder || len(resp.Samples) != 1 || resp.Samples[0].Value != 7 {
		t.Errorf("unexpected response %+v", resp)
	}
	if store.gotLimit != DefaultHistoryLimit {
		t.Errorf("limit = %d, want %d", store.gotLimit, DefaultHistoryLimit)
	}
}

func TestHistoryValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		target string
		want   int
	}{
		{"/api/history/pressure", http.StatusNotFound},
		{"/api/history/weight_calibrated?limit=0", http.StatusBadRequest},
		{"/api/history/weight_calibrated?limit=abc", http.StatusBadRequest},
		{"/api/history/weight_calibrated?limit=1001", http.StatusBadRequest},
		{"/api/statuses?limit=-1", http.StatusBadRequest},
	}

	f := newFixture(t)
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			t.Parallel()
			if rec := f.do(t, http.MethodGet, tt.target, ""); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics.New(reg).IncPongTimeout()
	f := newFixture(t, WithGatherer(reg))

	rec := f.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "dashboard_device_pong_timeouts_total 1") {
		t.Errorf("metrics output missing pong timeouts:\n%s", rec.Body)
	}
}

func TestStream(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer resp.Body.Close()
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snap device.Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if snap.IsConnected {
		t.Fatal("initial snapshot reports a connection")
	}

	f.connect(t)
	f.bus.deliver("tank/from_device/pong", "")

	for !snap.IsDeviceOnline {
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read update: %v", err)
		}
	}
	if !snap.IsConnected || snap.Connection != device.Connected {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}
