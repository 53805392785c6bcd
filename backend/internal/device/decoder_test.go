package device

import (
	"errors"
	"testing"
	"time"
)

var decoderNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestDecoder() *Decoder {
	return NewDecoder(func() time.Time { return decoderNow })
}

func TestDecoder_ParametersFalsyDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    float64
	}{
		{"number", `{"weight_sp": 1500}`, 1500},
		{"fraction", `{"weight_sp": 0.25}`, 0.25},
		{"numeric string", `{"weight_sp": "12.5"}`, 12.5},
		{"absent", `{}`, 0},
		{"null", `{"weight_sp": null}`, 0},
		{"false", `{"weight_sp": false}`, 0},
		{"zero", `{"weight_sp": 0}`, 0},
		{"empty string", `{"weight_sp": ""}`, 0},
		{"garbage string", `{"weight_sp": "abc"}`, 0},
		{"object", `{"weight_sp": {"a": 1}}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			st := NewState()
			st.Parameters.WeightSP = 999
			if err := newTestDecoder().Parameters(st, []byte(tt.payload)); err != nil {
				t.Fatalf("Parameters() error = %v", err)
			}
			if st.Parameters.WeightSP != tt.want {
				t.Errorf("WeightSP = %v, want %v", st.Parameters.WeightSP, tt.want)
			}
		})
	}
}

func TestDecoder_ParametersAllFields(t *testing.T) {
	t.Parallel()

	payload := `{
		"mode": 2, "top_temperature_ah": 1.5, "bottom_temperature_ah": 2.5, "bottom_temperature_sp": 65,
		"weight_sp": 3000, "output_max_power": 80, "output_pwm_interval_ms": 1000,
		"pid_p": 1.1, "pid_i": 0.2, "pid_d": 0.03,
		"weight_calibration_points": [{"raw_value": 0, "calibrated_value": 0}, {"raw_value": 1000, "calibrated_value": 950}],
		"bottom_temperature_calibration_points": [{"raw_value": 10, "calibrated_value": 11}, {"raw_value": 90, "calibrated_value": 88}],
		"top_temperature_calibration_points": [{"raw_value": 20, "calibrated_value": 21}, {"raw_value": 80, "calibrated_value": 79}]
	}`

	st := NewState()
	if err := newTestDecoder().Parameters(st, []byte(payload)); err != nil {
		t.Fatalf("Parameters() error = %v", err)
	}

	want := Parameters{
		Mode: ModeRemote, TopTemperatureAH: 1.5, BottomTemperatureAH: 2.5, BottomTemperatureSP: 65,
		WeightSP: 3000, OutputMaxPower: 80, OutputPWMIntervalMs: 1000, PIDP: 1.1, PIDI: 0.2, PIDD: 0.03,
		WeightCalibration:            Calibration{{0, 0}, {1000, 950}},
		BottomTemperatureCalibration: Calibration{{10, 11}, {90, 88}},
		TopTemperatureCalibration:    Calibration{{20, 21}, {80, 79}},
	}
	if st.Parameters != want {
		t.Errorf("Parameters = %+v, want %+v", st.Parameters, want)
	}
}

func TestApplyCalibration(t *testing.T) {
	t.Parallel()

	previous := Calibration{{1, 2}, {3, 4}}
	valid := []any{
		map[string]any{"raw_value": 0.0, "calibrated_value": 0.0},
		map[string]any{"raw_value": 1000.0, "calibrated_value": 950.0},
	}

	tests := []struct {
		name    string
		raw     any
		applied bool
		want    Calibration
	}{
		{"valid", valid, true, Calibration{{0, 0}, {1000, 950}}},
		{"missing fields default to zero", []any{map[string]any{}, map[string]any{"raw_value": 5.0}}, true, Calibration{{0, 0}, {5, 0}}},
		{"absent", nil, false, previous},
		{"empty", []any{}, false, previous},
		{"one point", valid[:1], false, previous},
		{"three points", append(append([]any{}, valid...), valid[0]), false, previous},
		{"not an array", map[string]any{"raw_value": 1.0}, false, previous},
		{"non-object element", []any{1.0, 2.0}, false, previous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := previous
			if got := ApplyCalibration(&c, tt.raw); got != tt.applied {
				t.Errorf("ApplyCalibration() = %v, want %v", got, tt.applied)
			}
			if c != tt.want {
				t.Errorf("calibration = %v, want %v", c, tt.want)
			}

			// applying the same input twice gives the same result
			again := c
			ApplyCalibration(&again, tt.raw)
			if again != c {
				t.Errorf("second application changed calibration to %v", again)
			}
		})
	}
}

func TestDecoder_ParametersKeepsCalibrationOnBadInput(t *testing.T) {
	t.Parallel()

	st := NewState()
	st.Parameters.WeightCalibration = Calibration{{1, 2}, {3, 4}}

	payload := `{"weight_calibration_points": [{"raw_value": 9, "calibrated_value": 9}]}`
	if err := newTestDecoder().Parameters(st, []byte(payload)); err != nil {
		t.Fatal(err)
	}
	if st.Parameters.WeightCalibration != (Calibration{{1, 2}, {3, 4}}) {
		t.Errorf("calibration replaced by a one point curve: %v", st.Parameters.WeightCalibration)
	}
}

func TestDecoder_ParametersMalformed(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{`{`, `[1,2]`, `null`, ``} {
		st := NewState()
		st.Parameters.PIDP = 7
		err := newTestDecoder().Parameters(st, []byte(payload))
		if !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("Parameters(%q) error = %v, want ErrMalformedPayload", payload, err)
		}
		if st.Parameters.PIDP != 7 {
			t.Errorf("Parameters(%q) changed state", payload)
		}
	}
}

func TestDecoder_SensorsWeightSample(t *testing.T) {
	t.Parallel()

	st := NewState()
	samples, err := newTestDecoder().Sensors(st, []byte(`{"weight_calibrated":{"value":1234,"quality":0}}`))
	if err != nil {
		t.Fatal(err)
	}

	if got := st.Sensors.WeightCalibrated; got != (Measurement{Value: 1234, Quality: QualityGood}) {
		t.Errorf("WeightCalibrated = %+v", got)
	}
	if got := st.Sensors.WeightCalibratedKg; got != (Measurement{Value: 1.23, Quality: QualityGood}) {
		t.Errorf("WeightCalibratedKg = %+v", got)
	}

	history := st.History[ChannelWeight].Items()
	if len(history) != 1 || history[0].Value != 1.23 || !history[0].Timestamp.Equal(decoderNow) {
		t.Errorf("weight history = %+v", history)
	}
	if len(samples) != 1 || samples[0].Channel != ChannelWeight {
		t.Errorf("admitted samples = %+v", samples)
	}
}

func TestDecoder_SensorsRounding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw         float64
		wantDisplay float64
		wantKg      float64
	}{
		{1234.4, 1234, 1.23},
		{1234.6, 1235, 1.23},
		{1235, 1235, 1.24},
		{0, 0, 0},
		{-499.6, -500, -0.5},
	}

	for _, tt := range tests {
		st := NewState()
		payload := []byte(`{"weight_calibrated":{"value":` + formatNumber(tt.raw) + `}}`)
		if _, err := newTestDecoder().Sensors(st, payload); err != nil {
			t.Fatal(err)
		}
		if st.Sensors.WeightCalibrated.Value != tt.wantDisplay || st.Sensors.WeightCalibratedKg.Value != tt.wantKg {
			t.Errorf("raw %v: display %v kg %v, want %v and %v", tt.raw,
				st.Sensors.WeightCalibrated.Value, st.Sensors.WeightCalibratedKg.Value, tt.wantDisplay, tt.wantKg)
		}
	}
}

func TestDecoder_SensorsBadQualityNotCharted(t *testing.T) {
	t.Parallel()

	st := NewState()
	payload := `{
		"bottom_temperature_calibrated": {"value": 50.5, "quality": 1},
		"top_temperature_calibrated": {"value": 60, "quality": 1},
		"weight_calibrated": {"value": 800, "quality": 1},
		"heater_output_power": {"value": 40, "quality": 1}
	}`
	samples, err := newTestDecoder().Sensors(st, []byte(payload))
	if err != nil {
		t.Fatal(err)
	}

	if st.Sensors.BottomTemperatureCalibrated != (Measurement{Value: 50.5, Quality: QualityBad}) {
		t.Errorf("BottomTemperatureCalibrated = %+v", st.Sensors.BottomTemperatureCalibrated)
	}
	if !st.Sensors.WeightCalibratedKg.IsBad() || !st.Sensors.WeightCalibrated.IsBad() {
		t.Error("derived weights must share the source quality")
	}
	for _, c := range Channels() {
		if n := st.History[c].Len(); n != 0 {
			t.Errorf("history %s has %d samples", c, n)
		}
	}
	if len(samples) != 0 {
		t.Errorf("admitted samples = %+v", samples)
	}
}

func TestDecoder_SensorsAllChannels(t *testing.T) {
	t.Parallel()

	st := NewState()
	payload := `{
		"uptime": {"value": 3600},
		"free_memory": {"value": 20480, "quality": 0},
		"ip_address": {"value": "192.168.1.20"},
		"bottom_temperature": {"value": 510},
		"bottom_temperature_calibrated": {"value": 51},
		"top_temperature": {"value": 620},
		"top_temperature_calibrated": {"value": 62},
		"weight": {"value": 1040},
		"weight_calibrated": {"value": 1000},
		"heater_output_power": {"value": 35}
	}`
	samples, err := newTestDecoder().Sensors(st, []byte(payload))
	if err != nil {
		t.Fatal(err)
	}

	s := st.Sensors
	checks := []struct {
		name string
		got  Measurement
		want float64
	}{
		{"uptime", s.Uptime, 3600},
		{"free memory", s.FreeMemory, 20480},
		{"bottom temperature", s.BottomTemperature, 510},
		{"bottom temperature calibrated", s.BottomTemperatureCalibrated, 51},
		{"top temperature", s.TopTemperature, 620},
		{"top temperature calibrated", s.TopTemperatureCalibrated, 62},
		{"weight", s.Weight, 1040},
		{"weight calibrated", s.WeightCalibrated, 1000},
		{"weight calibrated kg", s.WeightCalibratedKg, 1},
		{"heater output power", s.HeaterOutputPower, 35},
	}
	for _, c := range checks {
		if c.got != NewMeasurement(c.want) {
			t.Errorf("%s = %+v, want %v", c.name, c.got, c.want)
		}
	}
	if s.IPAddress != (TextMeasurement{Value: "192.168.1.20", Quality: QualityGood}) {
		t.Errorf("IPAddress = %+v", s.IPAddress)
	}
	if len(samples) != 4 {
		t.Errorf("admitted %d samples, want 4", len(samples))
	}
	for _, c := range Channels() {
		if st.History[c].Len() != 1 {
			t.Errorf("history %s has %d samples, want 1", c, st.History[c].Len())
		}
	}
}

func TestDecoder_SensorsAbsentChannelKeepsValue(t *testing.T) {
	t.Parallel()

	st := NewState()
	d := newTestDecoder()
	if _, err := d.Sensors(st, []byte(`{"heater_output_power":{"value":40},"uptime":{"value":1}}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Sensors(st, []byte(`{"uptime":{"value":2}}`)); err != nil {
		t.Fatal(err)
	}

	if st.Sensors.HeaterOutputPower.Value != 40 {
		t.Errorf("HeaterOutputPower = %v, want 40", st.Sensors.HeaterOutputPower.Value)
	}
	if st.History[ChannelHeaterPower].Len() != 1 {
		t.Errorf("heater history has %d samples, want 1", st.History[ChannelHeaterPower].Len())
	}
	if st.Sensors.Uptime.Value != 2 {
		t.Errorf("Uptime = %v, want 2", st.Sensors.Uptime.Value)
	}
}

func TestDecoder_SensorsMalformed(t *testing.T) {
	t.Parallel()

	st := NewState()
	d := newTestDecoder()
	if _, err := d.Sensors(st, []byte(`not json`)); !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("error = %v, want ErrMalformedPayload", err)
	}

	// a broken field is skipped, the rest of the payload still applies
	_, err := d.Sensors(st, []byte(`{"uptime": 5, "free_memory": {"value": 100}}`))
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("error = %v, want ErrMalformedPayload", err)
	}
	if st.Sensors.Uptime.Value != 0 || st.Sensors.FreeMemory.Value != 100 {
		t.Errorf("sensors = %+v", st.Sensors)
	}
}

func TestDecoder_StatusHistory(t *testing.T) {
	t.Parallel()

	st := NewState()
	d := newTestDecoder()
	for i := range 5 {
		payload := `{"status": ` + formatNumber(float64(200+i)) + `, "message": "ok"}`
		if _, err := d.Status(st, []byte(payload)); err != nil {
			t.Fatal(err)
		}
	}

	items := st.Statuses.Items()
	if len(items) != StatusHistoryCapacity {
		t.Fatalf("status history has %d entries", len(items))
	}
	for i, want := range []int{202, 203, 204} {
		if items[i].StatusCode != want || items[i].Text != "ok" || !items[i].ReceivedAt.Equal(decoderNow) {
			t.Errorf("item %d = %+v", i, items[i])
		}
	}

	for _, payload := range []string{`{"status": 200`, `null`, `[1]`} {
		if _, err := d.Status(st, []byte(payload)); !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("%s: error = %v, want ErrMalformedPayload", payload, err)
		}
	}
	if st.Statuses.Len() != StatusHistoryCapacity || st.Statuses.Items()[2].StatusCode != 204 {
		t.Error("malformed status changed the history")
	}
}

func TestDecoder_StatusLenientCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		payload  string
		wantCode int
		wantText string
	}{
		{"quoted code", `{"status": "200", "message": "ok"}`, 200, "ok"},
		{"fractional code", `{"status": 500.7, "message": "fault"}`, 500, "fault"},
		{"unparsable code", `{"status": "x", "message": "odd"}`, 0, "odd"},
		{"missing fields", `{}`, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			st := NewState()
			msg, err := newTestDecoder().Status(st, []byte(tt.payload))
			if err != nil {
				t.Fatalf("Status() error = %v", err)
			}
			if msg.StatusCode != tt.wantCode || msg.Text != tt.wantText {
				t.Errorf("message = %+v, want code %d text %q", msg, tt.wantCode, tt.wantText)
			}
			if st.Statuses.Len() != 1 {
				t.Errorf("status history has %d entries, want 1", st.Statuses.Len())
			}
		})
	}
}

func TestCalibration_Apply(t *testing.T) {
	t.Parallel()

	c := Calibration{{0, 0}, {1000, 950}}
	if got := c.Apply(500); got != 475 {
		t.Errorf("Apply(500) = %v, want 475", got)
	}
	if got := (Calibration{}).Apply(12); got != 12 {
		t.Errorf("degenerate Apply(12) = %v, want 12", got)
	}
}
