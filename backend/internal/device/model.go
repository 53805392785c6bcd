package device

import "time"

// Quality tells whether a reading can be trusted.
type Quality int

const (
	QualityGood Quality = 0
	QualityBad  Quality = 1
)

// Measurement is a single numeric reading. It is a value type and never mutated in place.
type Measurement struct {
	Value   float64 `json:"value"`
	Quality Quality `json:"quality"`
}

// NewMeasurement returns a good-quality measurement.
func NewMeasurement(v float64) Measurement {
	return Measurement{Value: v, Quality: QualityGood}
}

func (m Measurement) IsGood() bool { return m.Quality == QualityGood }
func (m Measurement) IsBad() bool  { return !m.IsGood() }

// TextMeasurement is a reading whose value is a string (the device IP address).
type TextMeasurement struct {
	Value   string  `json:"value"`
	Quality Quality `json:"quality"`
}

// CalibrationPoint maps a raw sensor value to its calibrated value.
type CalibrationPoint struct {
	RawValue        float64 `json:"rawValue"`
	CalibratedValue float64 `json:"calibratedValue"`
}

// Calibration is a two-point linear calibration curve.
type Calibration [2]CalibrationPoint

// Apply maps a raw value through the curve. A degenerate curve returns raw unchanged.
func (c Calibration) Apply(raw float64) float64 {
	dx := c[1].RawValue - c[0].RawValue
	if dx == 0 {
		return raw
	}

	k := (c[1].CalibratedValue - c[0].CalibratedValue) / dx

	return c[0].CalibratedValue + k*(raw-c[0].RawValue)
}

// StatusMessage is a status event reported by the device.
type StatusMessage struct {
	StatusCode int       `json:"statusCode"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Sample is one point of a charted time series.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Operating modes understood by the device.
const (
	ModeOff    = 0
	ModeAuto   = 1
	ModeRemote = 2
)
