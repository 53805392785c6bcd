package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"smart-tank-dashboard/backend/internal/config"
	"smart-tank-dashboard/backend/internal/device"
	"smart-tank-dashboard/backend/internal/simulator"
	"smart-tank-dashboard/backend/pkg/mqtt"
	"smart-tank-dashboard/backend/pkg/utils"
)

func main() {
	sigCtx, sigCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer sigCancel()

	config, err := config.New()
	if err != nil {
		fatalIfErr(slog.Default(), fmt.Errorf("failed to create config: %w", err))
	}

	defer utils.LogOnError(slog.Default(), config.Close, "failed to close config")

	logOptions := slog.HandlerOptions{Level: config.LogLevel, ReplaceAttr: utils.SlogReplacer}
	logger := slog.New(slog.NewTextHandler(config.LogOutput, &logOptions)).
		With(slog.String("version", utils.GetVersionShort()))

	ctx, cancel := context.WithTimeout(sigCtx, device.ConnectTimeout)
	client, err := mqtt.Dial(ctx, logger, mqtt.ClientOptions{
		BrokerURL:     mqtt.BrokerURL(config.MQTTHost, config.MQTTPort),
		ClientID:      utils.NewClientID(config.DeviceName),
		Username:      config.MQTTUsername,
		Password:      config.MQTTPassword,
		AutoReconnect: true,
		QoS:           mqtt.QoSAtMostOnce,
	})
	cancel()
	fatalIfErr(logger, err)

	defer utils.LogOnError(logger, client.Disconnect, "failed to disconnect")

	sim := simulator.New(logger, client, simulator.Options{
		DeviceName:      config.DeviceName,
		PublishInterval: config.SimulatorPublishInterval,
		SensorFaults:    config.SimulatorSensorFaults,
	})

	if err := sim.Run(sigCtx); err != nil {
		logger.Error("simulator failed", utils.ErrAttr(err))
	}
}

func fatalIfErr(l *slog.Logger, err error) {
	if err == nil {
		return
	}

	l.Error("error", utils.ErrAttr(err))
	os.Exit(1)
}
