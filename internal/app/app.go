// Package app wires the station together: sensors, broker client,
// publisher and the measurement loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.bug.st/serial"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"airsense-gateway/internal/backoff"
	"airsense-gateway/internal/config"
	"airsense-gateway/internal/dht22"
	"airsense-gateway/internal/led"
	"airsense-gateway/internal/mhz19"
	"airsense-gateway/internal/mqtt"
	"airsense-gateway/internal/publish"
	"airsense-gateway/internal/scheduler"
	"airsense-gateway/internal/telemetry"
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("initializing station",
		"mqtt_broker", cfg.MQTTBroker,
		"mqtt_port", cfg.MQTTPort,
		"station_id", cfg.DeviceStationID,
	)

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("host init: %w", err)
	}

	port, err := serial.Open(cfg.CO2SerialPort, &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("open serial port %s: %w", cfg.CO2SerialPort, err)
	}
	defer port.Close()

	co2 := mhz19.New(port)
	if err := co2.SetAutoCalibration(cfg.CO2AutoCalibration); err != nil {
		// The sensor keeps its previous calibration mode, readings still
		// work.
		logger.Warn("setting CO2 auto calibration failed", "error", err)
	}

	dhtPin := gpioreg.ByName(cfg.DHTPin)
	if dhtPin == nil {
		return fmt.Errorf("unknown GPIO pin %q", cfg.DHTPin)
	}
	climate := dht22.New(dhtPin)

	var indicator scheduler.Indicator
	if cfg.LEDPin != "" {
		ledPin := gpioreg.ByName(cfg.LEDPin)
		if ledPin == nil {
			return fmt.Errorf("unknown GPIO pin %q", cfg.LEDPin)
		}
		heartbeat, err := led.New(ledPin)
		if err != nil {
			return err
		}
		defer heartbeat.Off()
		indicator = heartbeat
	}

	mqttClient := mqtt.NewClient(cfg, logger)
	defer func() {
		if mqttClient.IsConnected() {
			if err := mqttClient.PublishStationHealth(telemetry.StationHealth{
				StationID: cfg.DeviceStationID,
				Healthy:   false,
			}); err != nil {
				logger.Warn("publishing offline health failed", "error", err)
			}
		}
		mqttClient.Disconnect()
	}()

	errCh := make(chan error, 2)

	// The broker connection runs in the background so sampling starts
	// without waiting for the link. The publisher's retry loop carries
	// readings taken before the session is up.
	go func() {
		delay := backoff.New(backoff.Config{
			Initial: time.Second,
			Max:     60 * time.Second,
		})
		for {
			err := mqttClient.Connect(ctx)
			if err == nil {
				if err := mqttClient.PublishStationHealth(telemetry.StationHealth{
					StationID: cfg.DeviceStationID,
					Healthy:   true,
				}); err != nil {
					logger.Warn("publishing online health failed", "error", err)
				}
				return
			}
			if errors.Is(err, mqtt.ErrFatal) || ctx.Err() != nil {
				errCh <- err
				return
			}
			wait := delay.Next()
			logger.Warn("mqtt connect failed, retrying",
				"retry_in", wait,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}()

	publisher := publish.New(mqttClient, publish.Config{
		MaxAttempts:    cfg.PublishMaxAttempts,
		BackoffInitial: cfg.PublishBackoffInitial,
		BackoffMax:     cfg.PublishBackoffMax,
	}, logger)

	sched := scheduler.New(scheduler.Config{
		Interval:       cfg.SensorPollInterval,
		CO2Timeout:     cfg.CO2ReadTimeout,
		ClimateTimeout: cfg.ClimateReadTimeout,
		StationID:      cfg.DeviceStationID,
	}, co2, climate, publisher, indicator, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { errCh <- sched.Run(runCtx) }()

	err = <-errCh
	logger.Info("station shutting down")
	return err
}
