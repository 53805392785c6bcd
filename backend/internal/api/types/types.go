package types

import "smart-tank-dashboard/backend/internal/device"

// ErrorResponse is the unified error response type.
// It supports both simple errors (just message) and validation errors (message + field errors).
//
//nolint:errname // ErrorResponse is an API response type, not a traditional error
type ErrorResponse struct {
	// HTTP status code (internal only, not sent to client)
	StatusCode int `json:"-"`
	// Request ID for tracking
	RequestID string `json:"requestID"`
	// High-level error message
	Message string `json:"message"`
	// Field-level validation errors
	Errors map[string]string `json:"errors,omitempty"`
}

func (e *ErrorResponse) Error() string {
	return e.Message
}

// AddError adds a field-level error (builder pattern).
func (e *ErrorResponse) AddError(field, message string) *ErrorResponse {
	if e.Errors == nil {
		e.Errors = make(map[string]string)
	}

	e.Errors[field] = message

	return e
}

// PingResponse is the response to a ping request.
type PingResponse struct {
	// Human-readable message
	Message string `json:"message"`
	// Status of the ping
	Status PingStatus `json:"status"`
	// Build version of the server
	Version string `json:"version"`
}

// PingStatus represents the status of a ping request.
type PingStatus string

const (
	// PingStatusOK means the ping was successful.
	PingStatusOK PingStatus = "OK"
	// PingStatusError means there was an error with the ping.
	PingStatusError PingStatus = "ERROR"
)

// HealthResponse reports the reachability of the dashboard dependencies.
type HealthResponse struct {
	// Database is true when the recorder database answers, or when recording is disabled
	Database bool `json:"database"`
	// MQTT is true while the session holds a live broker connection
	MQTT bool `json:"mqtt"`
	// DeviceOnline is true while the device answers heartbeats
	DeviceOnline bool `json:"deviceOnline"`
}

// ConnectRequest overrides the configured connection settings. Empty fields keep the configured value.
type ConnectRequest struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	DeviceName string `json:"deviceName"`
}

// ParameterRequest writes a scalar device parameter.
type ParameterRequest struct {
	Value *float64 `json:"value"`
}

// CalibrationRequest writes a calibration curve.
type CalibrationRequest struct {
	Points []device.CalibrationPoint `json:"points"`
}

// ModeRequest switches the device operating mode.
type ModeRequest struct {
	Mode *int `json:"mode"`
}

// HeaterPowerRequest sets the heater output in remote mode.
type HeaterPowerRequest struct {
	Power *float64 `json:"power"`
}

// HistoryResponse is a charted series, newest sample first.
type HistoryResponse struct {
	Channel device.Channel  `json:"channel"`
	Source  HistorySource   `json:"source"`
	Samples []device.Sample `json:"samples"`
}

// StatusesResponse lists device status messages, newest first.
type StatusesResponse struct {
	Source   HistorySource          `json:"source"`
	Statuses []device.StatusMessage `json:"statuses"`
}

// HistorySource tells where a history response was read from.
type HistorySource string

const (
	// HistorySourceRecorder means the response comes from the database.
	HistorySourceRecorder HistorySource = "recorder"
	// HistorySourceSession means the response comes from the in-memory session buffers.
	HistorySourceSession HistorySource = "session"
)
