package config

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"smart-tank-dashboard/backend/pkg/dialect"
)

type EnvKey string

const (
	EnvConfigFile EnvKey = "CONFIG_FILE"

	EnvPort      EnvKey = "PORT"
	EnvDataDir   EnvKey = "DATA_DIR"
	EnvLogLevel  EnvKey = "LOG_LEVEL"
	EnvLogToFile EnvKey = "LOG_TO_FILE"
	EnvDevMode   EnvKey = "DEV_MODE"

	EnvDBDialect EnvKey = "DB_DIALECT"
	EnvDBHost    EnvKey = "DB_HOST"
	EnvDBPort    EnvKey = "DB_PORT"
	EnvDBName    EnvKey = "DB_NAME"
	EnvDBUser    EnvKey = "DB_USER"
	EnvDBPass    EnvKey = "DB_PASSWORD"
	EnvDBSSLMode EnvKey = "DB_SSLMODE"

	EnvRecorderEnabled EnvKey = "RECORDER_ENABLED"

	EnvMQTTHost     EnvKey = "MQTT_HOST"
	EnvMQTTPort     EnvKey = "MQTT_PORT"
	EnvMQTTUsername EnvKey = "MQTT_USERNAME"
	EnvMQTTPassword EnvKey = "MQTT_PASSWORD"
	EnvDeviceName   EnvKey = "DEVICE_NAME"
	EnvAutoConnect  EnvKey = "AUTO_CONNECT"

	EnvEmbeddedBroker EnvKey = "EMBEDDED_BROKER"
	EnvMQTTBrokerPort EnvKey = "MQTT_SERVER_PORT"

	EnvSimulatorInterval EnvKey = "SIMULATOR_PUBLISH_INTERVAL"
	EnvSimulatorFaults   EnvKey = "SIMULATOR_SENSOR_FAULTS"
)

type Config struct {
	Port      int
	DataDir   string
	DevMode   bool
	Database  string
	Dialect   dialect.Dialect
	LogLevel  slog.Leveler
	LogOutput io.Writer

	RecorderEnabled bool

	// Device connection defaults, used by AUTO_CONNECT and as fallbacks for API connect requests
	MQTTHost     string
	MQTTPort     int
	MQTTUsername string
	MQTTPassword string
	DeviceName   string
	AutoConnect  bool

	// Embedded MQTT broker
	EmbeddedBroker bool
	MQTTBrokerPort int

	SimulatorPublishInterval time.Duration
	// Raw sensors the simulator reports as failed from boot
	SimulatorSensorFaults []string
}

// fileConfig is the optional YAML overlay. Environment variables take precedence over it.
type fileConfig struct {
	Port      int    `yaml:"port"`
	DataDir   string `yaml:"data_dir"`
	LogLevel  string `yaml:"log_level"`
	LogToFile bool   `yaml:"log_to_file"`
	DevMode   bool   `yaml:"dev_mode"`

	Database struct {
		Dialect  string `yaml:"dialect"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Name     string `yaml:"name"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"database"`

	Recorder struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"recorder"`

	MQTT struct {
		Host           string `yaml:"host"`
		Port           int    `yaml:"port"`
		Username       string `yaml:"username"`
		Password       string `yaml:"password"`
		EmbeddedBroker bool   `yaml:"embedded_broker"`
		ServerPort     int    `yaml:"server_port"`
	} `yaml:"mqtt"`

	Device struct {
		Name        string `yaml:"name"`
		AutoConnect bool   `yaml:"auto_connect"`
	} `yaml:"device"`

	Simulator struct {
		PublishInterval time.Duration `yaml:"publish_interval"`
		SensorFaults    []string      `yaml:"sensor_faults"`
	} `yaml:"simulator"`
}

func defaultFileConfig() fileConfig {
	var fc fileConfig
	fc.Port = 8080
	fc.DataDir = "data"
	fc.LogLevel = "INFO"
	fc.Database.Dialect = string(dialect.SQLite)
	fc.Database.Host = "localhost"
	fc.Database.Port = 5432
	fc.Database.Name = "dashboard"
	fc.Database.User = "dashboard"
	fc.Database.SSLMode = "disable"
	fc.Recorder.Enabled = true
	fc.MQTT.Host = "127.0.0.1"
	fc.MQTT.Port = 1883
	fc.MQTT.ServerPort = 1883
	fc.Device.Name = "smart-tank"
	fc.Simulator.PublishInterval = 2 * time.Second

	return fc
}

func loadFileConfig(path string) (fileConfig, error) {
	fc := defaultFileConfig()
	if path == "" {
		return fc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("failed to parse config file: %w", err)
	}

	return fc, nil
}

func New() (*Config, error) {
	fc, err := loadFileConfig(getStringEnv(EnvConfigFile, ""))
	if err != nil {
		return nil, err
	}

	// Get data directory
	dataDir := getStringEnv(EnvDataDir, fc.DataDir)

	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Derive paths from data directory
	logPath := filepath.Join(dataDir, "app.log")

	var logOutput io.Writer = os.Stdout

	if getBoolEnv(EnvLogToFile, fc.LogToFile) {
		f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}

		logOutput = f
	}

	dbDialect := dialect.Dialect(getStringEnv(EnvDBDialect, fc.Database.Dialect))
	if err := dbDialect.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database dialect: %w", err)
	}

	// Build database connection string based on dialect
	var dbConnString string

	switch dbDialect {
	case dialect.SQLite:
		dbConnString = filepath.Join(dataDir, "dashboard.sqlite")
	case dialect.PostgreSQL:
		host := getStringEnv(EnvDBHost, fc.Database.Host)
		port := getIntEnv(EnvDBPort, fc.Database.Port)
		dbName := getStringEnv(EnvDBName, fc.Database.Name)
		user := getStringEnv(EnvDBUser, fc.Database.User)
		password := getStringEnv(EnvDBPass, fc.Database.Password)
		sslmode := getStringEnv(EnvDBSSLMode, fc.Database.SSLMode)

		dbConnString = fmt.Sprintf(
			"postgresql://%s:%s@%s/%s?sslmode=%s",
			url.QueryEscape(user),
			url.QueryEscape(password),
			net.JoinHostPort(host, strconv.Itoa(port)),
			dbName, sslmode,
		)
	}

	return &Config{
		Port:      getIntEnv(EnvPort, fc.Port),
		DataDir:   dataDir,
		DevMode:   getBoolEnv(EnvDevMode, fc.DevMode),
		Database:  dbConnString,
		Dialect:   dbDialect,
		LogLevel:  getLogLevelEnv(EnvLogLevel, parseLogLevel(fc.LogLevel, slog.LevelInfo)),
		LogOutput: logOutput,

		RecorderEnabled: getBoolEnv(EnvRecorderEnabled, fc.Recorder.Enabled),

		MQTTHost:     getStringEnv(EnvMQTTHost, fc.MQTT.Host),
		MQTTPort:     getIntEnv(EnvMQTTPort, fc.MQTT.Port),
		MQTTUsername: getStringEnv(EnvMQTTUsername, fc.MQTT.Username),
		MQTTPassword: getStringEnv(EnvMQTTPassword, fc.MQTT.Password),
		DeviceName:   getStringEnv(EnvDeviceName, fc.Device.Name),
		AutoConnect:  getBoolEnv(EnvAutoConnect, fc.Device.AutoConnect),

		EmbeddedBroker: getBoolEnv(EnvEmbeddedBroker, fc.MQTT.EmbeddedBroker),
		MQTTBrokerPort: getIntEnv(EnvMQTTBrokerPort, fc.MQTT.ServerPort),

		SimulatorPublishInterval: getDurationEnv(EnvSimulatorInterval, fc.Simulator.PublishInterval),
		SimulatorSensorFaults:    getListEnv(EnvSimulatorFaults, fc.Simulator.SensorFaults),
	}, nil
}

func (c *Config) Close() error {
	if f, ok := c.LogOutput.(*os.File); ok {
		if f != os.Stdout && f != os.Stderr {
			return f.Close()
		}
	}

	return nil
}

func getStringEnv(key EnvKey, defaultVal string) string {
	val, exists := os.LookupEnv(string(key))
	if !exists {
		return defaultVal
	}

	return val
}

func getBoolEnv(key EnvKey, defaultVal bool) bool {
	val, exists := os.LookupEnv(string(key))
	if !exists {
		return defaultVal
	}

	val = strings.ToLower(val)
	switch val {
	case "true", "1":
		return true
	default:
		return false
	}
}

func getIntEnv(key EnvKey, defaultVal int) int {
	val, exists := os.LookupEnv(string(key))
	if !exists {
		return defaultVal
	}

	if intVal, err := strconv.Atoi(val); err == nil {
		return intVal
	}

	return defaultVal
}

func getDurationEnv(key EnvKey, defaultVal time.Duration) time.Duration {
	val, exists := os.LookupEnv(string(key))
	if !exists {
		return defaultVal
	}

	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}

	return defaultVal
}

// getListEnv splits a comma separated value. An empty variable yields an empty list.
func getListEnv(key EnvKey, defaultVal []string) []string {
	val, exists := os.LookupEnv(string(key))
	if !exists {
		return defaultVal
	}

	var list []string
	for item := range strings.SplitSeq(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}

	return list
}

func getLogLevelEnv(key EnvKey, defaultVal slog.Leveler) slog.Leveler {
	val, exists := os.LookupEnv(string(key))
	if !exists {
		return defaultVal
	}

	return parseLogLevel(val, defaultVal)
}

func parseLogLevel(val string, defaultVal slog.Leveler) slog.Leveler {
	switch strings.ToUpper(val) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}

	return defaultVal
}
