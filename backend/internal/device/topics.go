package device

import (
	"slices"
	"strings"
)

// Topic suffixes published by the device.
const (
	TopicPong       = "pong"
	TopicParameters = "parameters"
	TopicSensors    = "sensors"
	TopicStatus     = "status"
	TopicWildcard   = "#"
)

// Topic suffixes consumed by the device.
const (
	TopicPing        = "ping"
	TopicHeaterPower = "heater_power"
)

// Parameter names accepted by ChangeParameter.
const (
	ParamMode                = "mode"
	ParamTopTemperatureAH    = "top_temperature_ah"
	ParamBottomTemperatureAH = "bottom_temperature_ah"
	ParamBottomTemperatureSP = "bottom_temperature_sp"
	ParamWeightSP            = "weight_sp"
	ParamOutputMaxPower      = "output_max_power"
	ParamOutputPWMInterval   = "output_pwm_interval_ms"
	ParamPIDP                = "pid_p"
	ParamPIDI                = "pid_i"
	ParamPIDD                = "pid_d"
)

// Calibration parameter names accepted by ChangeCalibrationPoints.
const (
	ParamWeightCalibration            = "weight_calibration_points"
	ParamBottomTemperatureCalibration = "bottom_temperature_calibration_points"
	ParamTopTemperatureCalibration    = "top_temperature_calibration_points"
)

//nolint:gochecknoglobals // fixed allow-lists
var (
	scalarParameters = []string{
		ParamMode, ParamTopTemperatureAH, ParamBottomTemperatureAH, ParamBottomTemperatureSP, ParamWeightSP,
		ParamOutputMaxPower, ParamOutputPWMInterval, ParamPIDP, ParamPIDI, ParamPIDD,
	}
	calibrationParameters = []string{
		ParamWeightCalibration, ParamBottomTemperatureCalibration, ParamTopTemperatureCalibration,
	}
)

// IsKnownParameter reports whether name is a writable scalar parameter.
func IsKnownParameter(name string) bool { return slices.Contains(scalarParameters, name) }

// IsKnownCalibrationParameter reports whether name is a writable calibration curve.
func IsKnownCalibrationParameter(name string) bool {
	return slices.Contains(calibrationParameters, name)
}

// ParameterTopic is the input suffix used to write parameter name.
func ParameterTopic(name string) string { return TopicParameters + "/" + name }

// Topics derives the namespaced topics of one logical device.
// The device name is not validated: an empty name yields topics no device listens on.
type Topics struct {
	DeviceName string
}

func NewTopics(deviceName string) Topics { return Topics{DeviceName: deviceName} }

// Output is the topic the device publishes suffix on.
func (t Topics) Output(suffix string) string { return t.DeviceName + "/from_device/" + suffix }

// Input is the topic the device listens to suffix on.
func (t Topics) Input(suffix string) string { return t.DeviceName + "/to_device/" + suffix }

// OutputSuffix strips the output namespace from topic.
func (t Topics) OutputSuffix(topic string) (string, bool) {
	return strings.CutPrefix(topic, t.Output(""))
}

// InputSuffix strips the input namespace from topic.
func (t Topics) InputSuffix(topic string) (string, bool) {
	return strings.CutPrefix(topic, t.Input(""))
}

// Router dispatches messages of the device output namespace by topic suffix.
type Router struct {
	topics Topics
	routes map[string]func(payload []byte)
}

func NewRouter(topics Topics) *Router {
	return &Router{topics: topics, routes: make(map[string]func([]byte))}
}

// Handle registers fn for suffix, replacing any previous handler.
func (r *Router) Handle(suffix string, fn func(payload []byte)) {
	r.routes[suffix] = fn
}

// Route calls the handler registered for topic. Unknown topics are ignored.
func (r *Router) Route(topic string, payload []byte) bool {
	suffix, ok := r.topics.OutputSuffix(topic)
	if !ok {
		return false
	}

	fn, ok := r.routes[suffix]
	if !ok {
		return false
	}

	fn(payload)

	return true
}
