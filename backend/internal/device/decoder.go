package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"smart-tank-dashboard/backend/internal/device/types"
)

var ErrMalformedPayload = errors.New("malformed payload")

// Decoder turns device payloads into State updates. It holds no state of its own.
type Decoder struct {
	now func() time.Time
}

func NewDecoder(now func() time.Time) *Decoder {
	if now == nil {
		now = time.Now
	}
	return &Decoder{now: now}
}

// Parameters applies a parameters payload. Every scalar falls back to 0 when it is
// absent, null, false, empty or not a number, so a reported 0 and a missing field look the same.
// Calibration curves are replaced only by well-formed two point arrays.
func (d *Decoder) Parameters(st *State, payload []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return fmt.Errorf("%w: parameters: %w", ErrMalformedPayload, err)
	}
	if raw == nil {
		return fmt.Errorf("%w: parameters: not an object", ErrMalformedPayload)
	}

	p := &st.Parameters
	p.Mode = int(numberOrZero(raw[ParamMode]))
	p.TopTemperatureAH = numberOrZero(raw[ParamTopTemperatureAH])
	p.BottomTemperatureAH = numberOrZero(raw[ParamBottomTemperatureAH])
	p.BottomTemperatureSP = numberOrZero(raw[ParamBottomTemperatureSP])
	p.WeightSP = numberOrZero(raw[ParamWeightSP])
	p.OutputMaxPower = numberOrZero(raw[ParamOutputMaxPower])
	p.OutputPWMIntervalMs = numberOrZero(raw[ParamOutputPWMInterval])
	p.PIDP = numberOrZero(raw[ParamPIDP])
	p.PIDI = numberOrZero(raw[ParamPIDI])
	p.PIDD = numberOrZero(raw[ParamPIDD])

	ApplyCalibration(&p.WeightCalibration, raw[ParamWeightCalibration])
	ApplyCalibration(&p.BottomTemperatureCalibration, raw[ParamBottomTemperatureCalibration])
	ApplyCalibration(&p.TopTemperatureCalibration, raw[ParamTopTemperatureCalibration])

	return nil
}

// ApplyCalibration replaces dst when raw is an array of exactly two objects and reports whether it did.
func ApplyCalibration(dst *Calibration, raw any) bool {
	items, ok := raw.([]any)
	if !ok || len(items) != len(dst) {
		return false
	}

	var c Calibration
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return false
		}
		c[i] = CalibrationPoint{
			RawValue:        numberOrZero(obj["raw_value"]),
			CalibratedValue: numberOrZero(obj["calibrated_value"]),
		}
	}
	*dst = c

	return true
}

// Sensors applies a sensors payload and returns the samples admitted to history.
// Channels missing from the payload keep their previous reading.
func (d *Decoder) Sensors(st *State, payload []byte) ([]ChannelSample, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("%w: sensors: %w", ErrMalformedPayload, err)
	}

	readings := make(map[string]types.SensorReading, len(fields))
	var bad []string
	for name, data := range fields {
		var r types.SensorReading
		if err := json.Unmarshal(data, &r); err != nil {
			bad = append(bad, name)
			continue
		}
		readings[name] = r
	}

	ts := d.now()
	s := &st.Sensors
	var admitted []ChannelSample
	record := func(c Channel, m Measurement) {
		if !m.IsGood() {
			return
		}
		smp := Sample{Timestamp: ts, Value: m.Value}
		st.History[c].Append(smp)
		admitted = append(admitted, ChannelSample{Channel: c, Sample: smp})
	}

	setMeasurement(readings, "uptime", &s.Uptime)
	setMeasurement(readings, "bottom_temperature", &s.BottomTemperature)
	if setMeasurement(readings, "bottom_temperature_calibrated", &s.BottomTemperatureCalibrated) {
		record(ChannelBottomTemperature, s.BottomTemperatureCalibrated)
	}
	setMeasurement(readings, "top_temperature", &s.TopTemperature)
	if setMeasurement(readings, "top_temperature_calibrated", &s.TopTemperatureCalibrated) {
		record(ChannelTopTemperature, s.TopTemperatureCalibrated)
	}
	setMeasurement(readings, "weight", &s.Weight)
	var weight Measurement
	if setMeasurement(readings, "weight_calibrated", &weight) {
		s.WeightCalibrated = Measurement{Value: math.Round(weight.Value), Quality: weight.Quality}
		// grams to kilograms, two decimals
		s.WeightCalibratedKg = Measurement{Value: math.Round(weight.Value/10) / 100, Quality: weight.Quality}
		record(ChannelWeight, s.WeightCalibratedKg)
	}
	if setMeasurement(readings, "heater_output_power", &s.HeaterOutputPower) {
		record(ChannelHeaterPower, s.HeaterOutputPower)
	}
	setMeasurement(readings, "free_memory", &s.FreeMemory)
	if r, ok := readings["ip_address"]; ok {
		s.IPAddress = TextMeasurement{Value: textOrEmpty(r.Value), Quality: qualityOf(r)}
	}

	if len(bad) > 0 {
		return admitted, fmt.Errorf("%w: sensors: fields %s are not objects", ErrMalformedPayload, strings.Join(bad, ", "))
	}

	return admitted, nil
}

// Status appends a status payload to the status history. The code is read like a
// parameter, so a quoted or fractional code still keeps the message.
func (d *Decoder) Status(st *State, payload []byte) (StatusMessage, error) {
	var raw map[string]any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return StatusMessage{}, fmt.Errorf("%w: status: %w", ErrMalformedPayload, err)
	}
	if raw == nil {
		return StatusMessage{}, fmt.Errorf("%w: status: not an object", ErrMalformedPayload)
	}

	msg := StatusMessage{
		StatusCode: int(numberOrZero(raw["status"])),
		Text:       textOrEmpty(raw["message"]),
		ReceivedAt: d.now(),
	}
	st.Statuses.Append(msg)

	return msg, nil
}

func setMeasurement(readings map[string]types.SensorReading, name string, dst *Measurement) bool {
	r, ok := readings[name]
	if !ok {
		return false
	}
	*dst = Measurement{Value: numberOrZero(r.Value), Quality: qualityOf(r)}
	return true
}

func qualityOf(r types.SensorReading) Quality {
	if r.Quality == nil || *r.Quality == int(QualityGood) {
		return QualityGood
	}
	return QualityBad
}

// numberOrZero reads a JSON scalar as a number, using 0 for anything falsy or unparsable.
func numberOrZero(v any) float64 {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0
		}
		return x
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	default:
		return 0
	}
}

func textOrEmpty(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
