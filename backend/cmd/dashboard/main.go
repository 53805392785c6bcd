package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"smart-tank-dashboard/backend/internal/api"
	"smart-tank-dashboard/backend/internal/config"
	"smart-tank-dashboard/backend/internal/device"
	"smart-tank-dashboard/backend/internal/metrics"
	"smart-tank-dashboard/backend/internal/recorder"
	"smart-tank-dashboard/backend/pkg/migrator"
	"smart-tank-dashboard/backend/pkg/mqtt"
	"smart-tank-dashboard/backend/pkg/utils"
)

const startupTimeout = 10 * time.Second

func main() {
	sigCtx, sigCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer sigCancel()

	config, err := config.New()
	if err != nil {
		fatalIfErr(slog.Default(), fmt.Errorf("failed to create config: %w", err))
	}

	defer utils.LogOnError(slog.Default(), config.Close, "failed to close config")

	// Initialize logger
	logger := getLogger(config)
	slog.SetDefault(logger)

	m := metrics.New(prometheus.DefaultRegisterer)

	// Embedded MQTT broker
	var broker *mqtt.Broker
	if config.EmbeddedBroker {
		broker, err = mqtt.NewBroker(logger, mqtt.BrokerOptions{
			Address:  fmt.Sprintf(":%d", config.MQTTBrokerPort),
			Username: config.MQTTUsername,
			Password: config.MQTTPassword,
		})
		fatalIfErr(logger, err)
		fatalIfErr(logger, broker.Serve())
	}

	// Recorder
	sessionOpts := []device.Option{device.WithMetrics(m)}
	handlerOpts := []api.Option{api.WithGatherer(prometheus.DefaultGatherer)}

	var (
		store *recorder.Store
		rec   *recorder.Recorder
	)

	if config.RecorderEnabled {
		fatalIfErr(logger, runMigrations(logger, config))

		ctx, cancel := context.WithTimeout(sigCtx, startupTimeout)
		store, err = recorder.Open(ctx, logger, config.Dialect, config.Database)
		cancel()
		fatalIfErr(logger, err)

		rec = recorder.New(logger, store, m, recorder.DefaultQueueSize)
		sessionOpts = append(sessionOpts, device.WithSink(rec))
		handlerOpts = append(handlerOpts, api.WithHistoryStore(store))
	}

	// Device session
	session := device.NewSession(logger, device.NewMQTTDialer(logger, "dashboard"), sessionOpts...)
	defaults := device.Settings{
		Host:       config.MQTTHost,
		Port:       config.MQTTPort,
		Username:   config.MQTTUsername,
		Password:   config.MQTTPassword,
		DeviceName: config.DeviceName,
	}

	if config.AutoConnect {
		go func() {
			logger.Info("auto-connecting to broker",
				slog.String("broker", net.JoinHostPort(defaults.Host, strconv.Itoa(defaults.Port))),
				slog.String("device", defaults.DeviceName))
			session.Connect(sigCtx, defaults)
		}()
	}

	// HTTP Server
	handler := api.NewHandler(logger, session, defaults, handlerOpts...)
	httpServer := api.NewHTTPServer(logger, fmt.Sprintf(":%d", config.Port), handler.Routes())
	httpServer.StartOnBackground(sigCancel)

	// Wait for signal (either OS or some failure)
	<-sigCtx.Done()
	logger.Info("received signal, shutting down...")

	if err := httpServer.ShutdownWithDefaultTimeout(); err != nil {
		logger.Error("http server shutdown failed", utils.ErrAttr(err))
	}

	session.Disconnect()

	if rec != nil {
		rec.Close()
	}

	if store != nil {
		utils.LogOnError(logger, store.Close, "failed to close database")
	}

	if broker != nil {
		utils.LogOnError(logger, broker.Close, "mqtt broker shutdown failed")
	}

	logger.Info("server exited gracefully")
}

func getLogger(config *config.Config) *slog.Logger {
	logOptions := slog.HandlerOptions{
		Level:       config.LogLevel,
		ReplaceAttr: utils.SlogReplacer,
	}

	var logHandler slog.Handler = slog.NewJSONHandler(config.LogOutput, &logOptions)
	if config.DevMode {
		logHandler = slog.NewTextHandler(config.LogOutput, &logOptions)
	}

	return slog.New(logHandler).With(slog.String("version", utils.GetVersionShort()))
}

func fatalIfErr(l *slog.Logger, err error) {
	if err == nil {
		return
	}

	l.Error("error", utils.ErrAttr(err))
	os.Exit(1)
}

func runMigrations(l *slog.Logger, c *config.Config) error {
	l.Info("Running database migrations", slog.String("dialect", c.Dialect.String()))

	mig, err := migrator.New(l, c.Dialect, c.Database)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := mig.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	l.Info("Database migrations completed successfully")

	return nil
}
