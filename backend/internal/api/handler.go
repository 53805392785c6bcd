package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smart-tank-dashboard/backend/internal/device"
)

// Session is the device session driven by the API.
type Session interface {
	Snapshot() device.Snapshot
	Watch(ctx context.Context) <-chan device.Snapshot
	Connect(ctx context.Context, settings device.Settings)
	Disconnect()
	ChangeParameter(ctx context.Context, name string, value float64)
	ChangeMode(ctx context.Context, mode int)
	SetHeaterOutputPower(ctx context.Context, power float64)
	ChangeCalibrationPoints(ctx context.Context, name string, points []device.CalibrationPoint)
}

// HistoryStore reads recorded telemetry.
type HistoryStore interface {
	History(ctx context.Context, deviceName string, channel device.Channel, limit int) ([]device.Sample, error)
	Statuses(ctx context.Context, deviceName string, limit int) ([]device.StatusMessage, error)
	Ping(ctx context.Context) error
}

// Handler serves the dashboard API.
type Handler struct {
	l        *slog.Logger
	session  Session
	store    HistoryStore
	defaults device.Settings
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader
}

type Option func(*Handler)

// WithHistoryStore serves history from the recorder instead of the session buffers.
func WithHistoryStore(s HistoryStore) Option { return func(h *Handler) { h.store = s } }

// WithGatherer exposes the metrics of g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option { return func(h *Handler) { h.gatherer = g } }

// NewHandler creates the API handler. defaults fill the fields a connect request leaves empty.
func NewHandler(l *slog.Logger, session Session, defaults device.Settings, opts ...Option) *Handler {
	h := &Handler{
		l:        l.With(slog.String("component", "api")),
		session:  session,
		defaults: defaults,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Routes builds the HTTP router.
func (h *Handler) Routes() http.Handler {
	h.l.Info("Registering HTTP handlers...")

	mw := NewMiddlewareHandler(h.l)
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Use(mw.RequestIDMiddleware)
		r.Use(mw.LoggerMiddleware)
		r.Use(mw.RecoveryMiddleware)

		r.Get("/ping", ErrorHandler(h.Ping))
		r.Get("/health", ErrorHandler(h.Health))
		r.Get("/openapi.json", ErrorHandler(h.OpenAPI))

		r.Route("/session", func(r chi.Router) {
			r.Get("/", ErrorHandler(h.GetSession))
			r.Post("/connect", ErrorHandler(h.Connect))
			r.Post("/disconnect", ErrorHandler(h.Disconnect))
		})

		r.Put("/parameters/{name}", ErrorHandler(h.PutParameter))
		r.Put("/calibration/{name}", ErrorHandler(h.PutCalibration))
		r.Put("/mode", ErrorHandler(h.PutMode))
		r.Put("/heater-power", ErrorHandler(h.PutHeaterPower))

		r.Get("/history/{channel}", ErrorHandler(h.GetHistory))
		r.Get("/statuses", ErrorHandler(h.GetStatuses))

		r.Get("/ws", ErrorHandler(h.Stream))
	})

	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	h.l.Info("HTTP handlers registered successfully")

	return r
}
