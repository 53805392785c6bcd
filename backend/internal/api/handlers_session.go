package api

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"

	"smart-tank-dashboard/backend/internal/api/types"
	"smart-tank-dashboard/backend/internal/device"
)

// MaxHeaterPower is the upper bound of the heater output, in percent.
const MaxHeaterPower = 100

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) error {
	RespondJSON(w, r, http.StatusOK, h.session.Snapshot())
	return nil
}

// Connect replaces the current connection. The body is optional; missing fields use the configured settings.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) error {
	settings := h.defaults

	if r.ContentLength != 0 {
		req, err := DecodeJSON[types.ConnectRequest](r)
		if err != nil && !isEmptyBody(err) {
			return err
		}
		settings = mergeSettings(settings, req)
	}

	if fieldErrors := validateSettings(settings); len(fieldErrors) > 0 {
		return NewValidationError(fieldErrors)
	}

	GetLogger(r.Context()).Info("connecting to broker",
		slog.String("host", settings.Host), slog.Int("port", settings.Port), slog.String("device", settings.DeviceName))

	h.session.Connect(r.Context(), settings)

	snap := h.session.Snapshot()
	if !snap.IsConnected {
		return NewError(http.StatusBadGateway, "Could not connect to the broker")
	}

	RespondJSON(w, r, http.StatusOK, snap)

	return nil
}

func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) error {
	h.session.Disconnect()
	RespondJSON(w, r, http.StatusOK, h.session.Snapshot())

	return nil
}

func (h *Handler) PutParameter(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	if !device.IsKnownParameter(name) {
		return NewError(http.StatusNotFound, "Unknown parameter '"+name+"'")
	}

	req, err := DecodeJSON[types.ParameterRequest](r)
	if err != nil {
		return err
	}
	if req.Value == nil || !isFinite(*req.Value) {
		return NewValidationError(map[string]string{"value": "A finite number is required"})
	}

	if err := h.requireConnection(); err != nil {
		return err
	}

	h.session.ChangeParameter(r.Context(), name, *req.Value)
	h.accepted(w, r)

	return nil
}

func (h *Handler) PutCalibration(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	if !device.IsKnownCalibrationParameter(name) {
		return NewError(http.StatusNotFound, "Unknown calibration '"+name+"'")
	}

	req, err := DecodeJSON[types.CalibrationRequest](r)
	if err != nil {
		return err
	}
	if req.Points == nil {
		return NewValidationError(map[string]string{"points": "A list of calibration points is required"})
	}
	for _, p := range req.Points {
		if !isFinite(p.RawValue) || !isFinite(p.CalibratedValue) {
			return NewValidationError(map[string]string{"points": "Calibration points must be finite numbers"})
		}
	}

	if err := h.requireConnection(); err != nil {
		return err
	}

	h.session.ChangeCalibrationPoints(r.Context(), name, req.Points)
	h.accepted(w, r)

	return nil
}

func (h *Handler) PutMode(w http.ResponseWriter, r *http.Request) error {
	req, err := DecodeJSON[types.ModeRequest](r)
	if err != nil {
		return err
	}
	if req.Mode == nil || *req.Mode < device.ModeOff || *req.Mode > device.ModeRemote {
		return NewValidationError(map[string]string{"mode": "Mode must be 0 (off), 1 (auto) or 2 (remote)"})
	}

	if err := h.requireConnection(); err != nil {
		return err
	}

	h.session.ChangeMode(r.Context(), *req.Mode)
	h.accepted(w, r)

	return nil
}

// PutHeaterPower sends the heater output. Whether the device is in remote mode is left to the device to judge.
func (h *Handler) PutHeaterPower(w http.ResponseWriter, r *http.Request) error {
	req, err := DecodeJSON[types.HeaterPowerRequest](r)
	if err != nil {
		return err
	}
	if req.Power == nil || !isFinite(*req.Power) || *req.Power < 0 || *req.Power > MaxHeaterPower {
		return NewValidationError(map[string]string{"power": "Power must be between 0 and 100"})
	}

	if err := h.requireConnection(); err != nil {
		return err
	}

	h.session.SetHeaterOutputPower(r.Context(), *req.Power)
	h.accepted(w, r)

	return nil
}

func (h *Handler) requireConnection() error {
	if !h.session.Snapshot().IsConnected {
		return NewError(http.StatusConflict, "Not connected to the broker")
	}
	return nil
}

// accepted answers a command. The device confirms through its next status message.
func (h *Handler) accepted(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, r, http.StatusAccepted, h.session.Snapshot())
}

func mergeSettings(s device.Settings, req types.ConnectRequest) device.Settings {
	if req.Host != "" {
		s.Host = req.Host
	}
	if req.Port != 0 {
		s.Port = req.Port
	}
	if req.Username != "" {
		s.Username = req.Username
	}
	if req.Password != "" {
		s.Password = req.Password
	}
	if req.DeviceName != "" {
		s.DeviceName = req.DeviceName
	}
	return s
}

func validateSettings(s device.Settings) map[string]string {
	fieldErrors := make(map[string]string)
	if s.Host == "" {
		fieldErrors["host"] = "Host is required"
	}
	if s.Port < 1 || s.Port > 65535 {
		fieldErrors["port"] = "Port must be between 1 and 65535"
	}
	if s.DeviceName == "" {
		fieldErrors["deviceName"] = "Device name is required"
	}
	return fieldErrors
}

func isEmptyBody(err error) bool {
	var httpErr *types.ErrorResponse
	return errors.Is(err, io.EOF) || (errors.As(err, &httpErr) && httpErr.Message == "Request body is empty")
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
