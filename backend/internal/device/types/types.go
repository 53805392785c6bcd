package types

// SensorReading is one field of the sensors payload published by the device.
type SensorReading struct {
	// Value is a number for every channel except ip_address, which is a string
	Value any `json:"value"`
	// Quality is 0 for good readings and 1 for bad ones. Absent means good.
	Quality *int `json:"quality,omitempty"`
}

// SensorsPayload is the telemetry snapshot keyed by sensor name.
type SensorsPayload map[string]SensorReading

// StatusPayload is a device originated status event.
type StatusPayload struct {
	// Status is an HTTP-like status code (200 ok, 400 rejected command, 500 fault)
	Status int `json:"status"`
	// Message is a human readable description
	Message string `json:"message"`
}

// CalibrationPoint is one end of a two-point linear calibration as sent on the wire.
type CalibrationPoint struct {
	// RawValue is the uncalibrated sensor reading
	RawValue float64 `json:"raw_value"`
	// CalibratedValue is the reading it maps to
	CalibratedValue float64 `json:"calibrated_value"`
}

// ParametersPayload is the retained device configuration.
type ParametersPayload struct {
	Mode                               int                `json:"mode"`
	TopTemperatureAH                   float64            `json:"top_temperature_ah"`
	BottomTemperatureAH                float64            `json:"bottom_temperature_ah"`
	BottomTemperatureSP                float64            `json:"bottom_temperature_sp"`
	WeightSP                           float64            `json:"weight_sp"`
	OutputMaxPower                     float64            `json:"output_max_power"`
	OutputPWMIntervalMs                float64            `json:"output_pwm_interval_ms"`
	PIDP                               float64            `json:"pid_p"`
	PIDI                               float64            `json:"pid_i"`
	PIDD                               float64            `json:"pid_d"`
	WeightCalibrationPoints            []CalibrationPoint `json:"weight_calibration_points"`
	BottomTemperatureCalibrationPoints []CalibrationPoint `json:"bottom_temperature_calibration_points"`
	TopTemperatureCalibrationPoints    []CalibrationPoint `json:"top_temperature_calibration_points"`
}
