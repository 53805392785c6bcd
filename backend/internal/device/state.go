package device

// ConnectionState is the lifecycle of the broker connection.
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
)

// Channel names a charted telemetry series.
type Channel string

const (
	ChannelBottomTemperature Channel = "bottom_temperature_calibrated"
	ChannelTopTemperature    Channel = "top_temperature_calibrated"
	ChannelWeight            Channel = "weight_calibrated"
	ChannelHeaterPower       Channel = "heater_output_power"
)

// Channels lists every charted series.
func Channels() []Channel {
	return []Channel{ChannelBottomTemperature, ChannelTopTemperature, ChannelWeight, ChannelHeaterPower}
}

// Valid reports whether c is a charted series.
func (c Channel) Valid() bool {
	switch c {
	case ChannelBottomTemperature, ChannelTopTemperature, ChannelWeight, ChannelHeaterPower:
		return true
	default:
		return false
	}
}

// ChannelSample is a sample admitted to the history of Channel.
type ChannelSample struct {
	Channel Channel `json:"channel"`
	Sample
}

// Sensors holds the latest reading of every sensor channel.
type Sensors struct {
	Uptime                      Measurement     `json:"uptime"`
	BottomTemperature           Measurement     `json:"bottomTemperature"`
	BottomTemperatureCalibrated Measurement     `json:"bottomTemperatureCalibrated"`
	TopTemperature              Measurement     `json:"topTemperature"`
	TopTemperatureCalibrated    Measurement     `json:"topTemperatureCalibrated"`
	Weight                      Measurement     `json:"weight"`
	WeightCalibrated            Measurement     `json:"weightCalibrated"`
	WeightCalibratedKg          Measurement     `json:"weightCalibratedKg"`
	HeaterOutputPower           Measurement     `json:"heaterOutputPower"`
	FreeMemory                  Measurement     `json:"freeMemory"`
	IPAddress                   TextMeasurement `json:"ipAddress"`
}

// Parameters holds the last configuration reported by the device.
type Parameters struct {
	Mode                         int         `json:"mode"`
	TopTemperatureAH             float64     `json:"topTemperatureAH"`
	BottomTemperatureAH          float64     `json:"bottomTemperatureAH"`
	BottomTemperatureSP          float64     `json:"bottomTemperatureSP"`
	WeightSP                     float64     `json:"weightSP"`
	OutputMaxPower               float64     `json:"outputMaxPower"`
	OutputPWMIntervalMs          float64     `json:"outputPwmIntervalMs"`
	PIDP                         float64     `json:"pidP"`
	PIDI                         float64     `json:"pidI"`
	PIDD                         float64     `json:"pidD"`
	WeightCalibration            Calibration `json:"weightCalibration"`
	BottomTemperatureCalibration Calibration `json:"bottomTemperatureCalibration"`
	TopTemperatureCalibration    Calibration `json:"topTemperatureCalibration"`
}

// State is the mirrored device session. It lives as long as the process and survives reconnects.
// It is not safe for concurrent use; Session serializes access.
type State struct {
	DeviceName     string
	IsConnected    bool
	IsDeviceOnline bool
	Sensors        Sensors
	Parameters     Parameters
	History        map[Channel]*HistoryBuffer[Sample]
	Statuses       *HistoryBuffer[StatusMessage]
}

func NewState() *State {
	history := make(map[Channel]*HistoryBuffer[Sample], len(Channels()))
	for _, c := range Channels() {
		history[c] = NewHistoryBuffer[Sample](SampleHistoryCapacity)
	}

	return &State{
		History:  history,
		Statuses: NewHistoryBuffer[StatusMessage](StatusHistoryCapacity),
	}
}

// Snapshot is a deep copy of State handed to readers outside the session.
type Snapshot struct {
	DeviceName     string               `json:"deviceName"`
	Connection     ConnectionState      `json:"connection"`
	IsConnected    bool                 `json:"isConnected"`
	IsDeviceOnline bool                 `json:"isDeviceOnline"`
	Sensors        Sensors              `json:"sensors"`
	Parameters     Parameters           `json:"parameters"`
	History        map[Channel][]Sample `json:"history"`
	Statuses       []StatusMessage      `json:"statuses"`
}

func (s *State) snapshot(conn ConnectionState) Snapshot {
	history := make(map[Channel][]Sample, len(s.History))
	for c, h := range s.History {
		history[c] = h.Items()
	}

	return Snapshot{
		DeviceName:     s.DeviceName,
		Connection:     conn,
		IsConnected:    s.IsConnected,
		IsDeviceOnline: s.IsDeviceOnline,
		Sensors:        s.Sensors,
		Parameters:     s.Parameters,
		History:        history,
		Statuses:       s.Statuses.Items(),
	}
}
