// Package simulator emulates the tank controller firmware so the dashboard can be
// exercised without hardware.
package simulator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"smart-tank-dashboard/backend/internal/device"
	"smart-tank-dashboard/backend/internal/device/types"
	"smart-tank-dashboard/backend/pkg/utils"
)

// Status replies of the firmware.
var (
	StatusOK               = types.StatusPayload{Status: 200, Message: "ok"}
	StatusBadParameter     = types.StatusPayload{Status: 400, Message: "Bad parameter name or parameter value"}
	StatusWrongMode        = types.StatusPayload{Status: 400, Message: "Wrong device mode"}
	StatusWrongPower       = types.StatusPayload{Status: 400, Message: "Wrong power value"}
	StatusBottomAH         = types.StatusPayload{Status: 500, Message: "Device disabled! Bottom temperature above AH setpoint."}
	StatusBottomFault      = types.StatusPayload{Status: 500, Message: "Device disabled! Bottom temperature sensor malfunction."}
	StatusWeightFault      = types.StatusPayload{Status: 500, Message: "Device disabled! Weight sensor malfunction."}
	StatusTopAH            = types.StatusPayload{Status: 500, Message: "Device disabled! Top temperature above AH setpoint."}
	StatusRemoteTimeout    = types.StatusPayload{Status: 500, Message: "Device disabled! Remote server not responded."}
	StatusWeightSetpointOK = types.StatusPayload{Status: 200, Message: "Done! Weight setpoint reached."}
)

// Raw sensors that can be switched into a failed state.
const (
	SensorBottomTemperature = "bottom_temperature"
	SensorTopTemperature    = "top_temperature"
	SensorWeight            = "weight"
)

var ErrUnknownSensor = errors.New("unknown sensor")

// ValidSensor reports whether name is a raw sensor that can be faulted.
func ValidSensor(name string) bool {
	switch name {
	case SensorBottomTemperature, SensorTopTemperature, SensorWeight:
		return true
	default:
		return false
	}
}

const (
	// RemoteTimeout disables a device in remote mode that has not been pinged for this long.
	RemoteTimeout = 30 * time.Second
	// WeightSetpointReads is the number of consecutive reads at or below the weight setpoint
	// after which the device stops.
	WeightSetpointReads = 20

	ambientTemperature = 20.0
	heatGain           = 0.02  // degC per second per percent of output
	heatLoss           = 0.002 // per second, towards ambient
	layerMixing        = 0.01  // per second, top layer towards bottom
	evaporation        = 0.05  // grams per second per percent of output
	initialWeight      = 25000.0
	freeMemory         = 112640
)

// Firmware is the simulated controller. It is not safe for concurrent use.
type Firmware struct {
	params types.ParametersPayload
	ip     string

	heaterPower   float64
	bottom        float64
	top           float64
	weight        float64
	integral      float64
	lastBottom    float64
	weightSPCount int
	faults        map[string]bool

	startedAt time.Time
	lastPing  time.Time
}

// NewFirmware boots a device in OFF mode with identity calibrations.
func NewFirmware(now time.Time, ip string) *Firmware {
	identity := []types.CalibrationPoint{{RawValue: 0, CalibratedValue: 0}, {RawValue: 1, CalibratedValue: 1}}

	return &Firmware{
		params: types.ParametersPayload{
			Mode:                               device.ModeOff,
			TopTemperatureAH:                   95,
			BottomTemperatureAH:                90,
			BottomTemperatureSP:                60,
			WeightSP:                           0,
			OutputMaxPower:                     70,
			OutputPWMIntervalMs:                1000,
			PIDP:                               1,
			PIDI:                               10,
			PIDD:                               0,
			WeightCalibrationPoints:            identity,
			BottomTemperatureCalibrationPoints: identity,
			TopTemperatureCalibrationPoints:    identity,
		},
		ip:         ip,
		bottom:     ambientTemperature,
		top:        ambientTemperature,
		lastBottom: ambientTemperature,
		weight:     initialWeight,
		faults:     make(map[string]bool),
		startedAt:  now,
		lastPing:   now,
	}
}

// Parameters returns a copy of the current configuration.
func (f *Firmware) Parameters() types.ParametersPayload {
	p := f.params
	p.WeightCalibrationPoints = cloneCurve(p.WeightCalibrationPoints)
	p.BottomTemperatureCalibrationPoints = cloneCurve(p.BottomTemperatureCalibrationPoints)
	p.TopTemperatureCalibrationPoints = cloneCurve(p.TopTemperatureCalibrationPoints)
	return p
}

// HeaterPower is the current output in percent.
func (f *Firmware) HeaterPower() float64 { return f.heaterPower }

// WriteParameter applies a write to parameters/<name>. changed reports whether the
// retained configuration must be republished.
func (f *Firmware) WriteParameter(name string, payload []byte) (status types.StatusPayload, changed bool) {
	if err := f.writeParameter(name, payload); err != nil {
		return StatusBadParameter, false
	}
	return StatusOK, true
}

func (f *Firmware) writeParameter(name string, payload []byte) error {
	raw := strings.TrimSpace(string(payload))

	switch name {
	case device.ParamMode:
		mode, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		if mode < device.ModeOff || mode > device.ModeRemote {
			return fmt.Errorf("mode %d out of range", mode)
		}
		f.params.Mode = mode

	case device.ParamOutputMaxPower, device.ParamOutputPWMInterval:
		v, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		if name == device.ParamOutputMaxPower {
			f.params.OutputMaxPower = float64(v)
		} else {
			f.params.OutputPWMIntervalMs = float64(v)
		}

	case device.ParamTopTemperatureAH, device.ParamBottomTemperatureAH, device.ParamBottomTemperatureSP,
		device.ParamWeightSP, device.ParamPIDP, device.ParamPIDI, device.ParamPIDD:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s is not finite", name)
		}
		*f.scalar(name) = v

	case device.ParamWeightCalibration, device.ParamBottomTemperatureCalibration, device.ParamTopTemperatureCalibration:
		var points []types.CalibrationPoint
		if err := json.Unmarshal(payload, &points); err != nil {
			return err
		}
		if len(points) != 2 || points[0].RawValue == points[1].RawValue {
			return fmt.Errorf("%s needs two points with distinct raw values", name)
		}
		*f.curve(name) = points

	default:
		return fmt.Errorf("unknown parameter %q", name)
	}

	return nil
}

func (f *Firmware) scalar(name string) *float64 {
	switch name {
	case device.ParamTopTemperatureAH:
		return &f.params.TopTemperatureAH
	case device.ParamBottomTemperatureAH:
		return &f.params.BottomTemperatureAH
	case device.ParamBottomTemperatureSP:
		return &f.params.BottomTemperatureSP
	case device.ParamWeightSP:
		return &f.params.WeightSP
	case device.ParamPIDP:
		return &f.params.PIDP
	case device.ParamPIDI:
		return &f.params.PIDI
	default:
		return &f.params.PIDD
	}
}

func (f *Firmware) curve(name string) *[]types.CalibrationPoint {
	switch name {
	case device.ParamWeightCalibration:
		return &f.params.WeightCalibrationPoints
	case device.ParamBottomTemperatureCalibration:
		return &f.params.BottomTemperatureCalibrationPoints
	default:
		return &f.params.TopTemperatureCalibrationPoints
	}
}

// SetHeaterPower handles heater_power. It is honoured only in remote mode.
func (f *Firmware) SetHeaterPower(payload []byte) types.StatusPayload {
	if f.params.Mode != device.ModeRemote {
		return StatusWrongMode
	}
	power, err := strconv.Atoi(strings.TrimSpace(string(payload)))
	if err != nil {
		return StatusWrongPower
	}
	f.heaterPower = clamp(float64(power), 0, 100)
	return StatusOK
}

// SetSensorFault makes sensor read as {0, bad} until it is cleared. The calibrated
// channel of the sensor inherits the bad quality.
func (f *Firmware) SetSensorFault(sensor string, bad bool) error {
	if !ValidSensor(sensor) {
		return fmt.Errorf("%w: %q", ErrUnknownSensor, sensor)
	}
	if bad {
		f.faults[sensor] = true
	} else {
		delete(f.faults, sensor)
	}
	return nil
}

// Ping records a heartbeat from the dashboard.
func (f *Firmware) Ping(now time.Time) { f.lastPing = now }

// Step advances the simulation to now. It returns the status events raised by the
// safety checks and whether the mode was forced to OFF.
func (f *Firmware) Step(now time.Time, dt time.Duration) (events []types.StatusPayload, disabled bool) {
	f.simulate(dt.Seconds())

	disable := func(st types.StatusPayload) {
		events = append(events, st)
		f.heaterPower = 0
		if f.params.Mode != device.ModeOff {
			f.params.Mode = device.ModeOff
			disabled = true
		}
	}

	if f.params.Mode != device.ModeOff {
		weight := f.readCalibrated(SensorWeight, f.weight, f.params.WeightCalibrationPoints)
		if weight.IsBad() {
			disable(StatusWeightFault)
			return events, disabled
		}
		if weight.Value > f.params.WeightSP {
			f.weightSPCount = 0
		} else {
			f.weightSPCount++
		}
		if f.weightSPCount >= WeightSetpointReads {
			f.weightSPCount = 0
			disable(StatusWeightSetpointOK)
			return events, disabled
		}

		bottom := f.readCalibrated(SensorBottomTemperature, f.bottom, f.params.BottomTemperatureCalibrationPoints)
		top := f.readCalibrated(SensorTopTemperature, f.top, f.params.TopTemperatureCalibrationPoints)
		switch {
		case bottom.IsBad():
			disable(StatusBottomFault)
			return events, disabled
		case bottom.Value >= f.params.BottomTemperatureAH:
			disable(StatusBottomAH)
			return events, disabled
		case top.IsGood() && top.Value >= f.params.TopTemperatureAH:
			disable(StatusTopAH)
			return events, disabled
		}
	}

	switch f.params.Mode {
	case device.ModeOff:
		f.heaterPower = 0
		f.integral = 0
		f.lastPing = now
	case device.ModeAuto:
		f.lastPing = now
		f.regulate(dt.Seconds())
	case device.ModeRemote:
		f.integral = 0
		if now.Sub(f.lastPing) >= RemoteTimeout {
			disable(StatusRemoteTimeout)
		}
	}

	return events, disabled
}

// regulate runs a PID on the calibrated bottom temperature, derivative on measurement.
func (f *Firmware) regulate(dt float64) {
	if dt <= 0 {
		return
	}
	bottom := f.calibrated(f.bottom, f.params.BottomTemperatureCalibrationPoints)
	err := f.params.BottomTemperatureSP - bottom

	f.integral = clamp(f.integral+f.params.PIDI*err*dt, 0, 100)
	derivative := (bottom - f.calibrated(f.lastBottom, f.params.BottomTemperatureCalibrationPoints)) / dt

	f.heaterPower = math.Round(clamp(f.params.PIDP*err+f.integral-f.params.PIDD*derivative, 0, 100))
}

func (f *Firmware) simulate(dt float64) {
	if dt <= 0 {
		return
	}
	output := f.heaterPower * f.params.OutputMaxPower / 100

	f.lastBottom = f.bottom
	f.bottom += (heatGain*output - heatLoss*(f.bottom-ambientTemperature)) * dt
	f.top += layerMixing * (f.bottom - f.top) * dt
	f.weight = math.Max(0, f.weight-evaporation*output*dt)
}

// Sensors builds the telemetry payload as of now.
func (f *Firmware) Sensors(now time.Time) types.SensorsPayload {
	return types.SensorsPayload{
		"uptime":                        good(now.Sub(f.startedAt).Seconds()),
		"free_memory":                   good(freeMemory),
		"ip_address":                    good(f.ip),
		"bottom_temperature":            reading(f.read(SensorBottomTemperature, f.bottom)),
		"bottom_temperature_calibrated": reading(f.readCalibrated(SensorBottomTemperature, f.bottom, f.params.BottomTemperatureCalibrationPoints)),
		"top_temperature":               reading(f.read(SensorTopTemperature, f.top)),
		"top_temperature_calibrated":    reading(f.readCalibrated(SensorTopTemperature, f.top, f.params.TopTemperatureCalibrationPoints)),
		"weight":                        reading(f.read(SensorWeight, f.weight)),
		"weight_calibrated":             reading(f.readCalibrated(SensorWeight, f.weight, f.params.WeightCalibrationPoints)),
		"heater_output_power":           good(f.heaterPower),
	}
}

// read samples a raw sensor whose true value is v.
func (f *Firmware) read(sensor string, v float64) device.Measurement {
	if f.faults[sensor] {
		return device.Measurement{Value: 0, Quality: device.QualityBad}
	}
	return device.NewMeasurement(v)
}

func (f *Firmware) readCalibrated(sensor string, v float64, points []types.CalibrationPoint) device.Measurement {
	m := f.read(sensor, v)
	return device.Measurement{Value: f.calibrated(m.Value, points), Quality: m.Quality}
}

func (f *Firmware) calibrated(raw float64, points []types.CalibrationPoint) float64 {
	var c device.Calibration
	for i := range min(len(points), len(c)) {
		c[i] = device.CalibrationPoint{RawValue: points[i].RawValue, CalibratedValue: points[i].CalibratedValue}
	}
	return c.Apply(raw)
}

func good(v any) types.SensorReading {
	return types.SensorReading{Value: v, Quality: utils.Ptr(int(device.QualityGood))}
}

func reading(m device.Measurement) types.SensorReading {
	return types.SensorReading{Value: m.Value, Quality: utils.Ptr(int(m.Quality))}
}

func cloneCurve(points []types.CalibrationPoint) []types.CalibrationPoint {
	return append([]types.CalibrationPoint(nil), points...)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
