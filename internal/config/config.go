package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	DeviceStationID    string
	SensorPollInterval time.Duration

	CO2SerialPort      string
	CO2ReadTimeout     time.Duration
	CO2AutoCalibration bool

	DHTPin             string
	ClimateReadTimeout time.Duration

	LEDPin string

	PublishMaxAttempts    int
	PublishBackoffInitial time.Duration
	PublishBackoffMax     time.Duration
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	mqttBroker := strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	if mqttBroker == "" {
		mqttBroker = "localhost"
	}

	mqttPortStr := strings.TrimSpace(os.Getenv("MQTT_PORT"))
	if mqttPortStr == "" {
		mqttPortStr = "1883"
	}
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}

	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "airsense-gateway"
	}

	mqttUsername := strings.TrimSpace(os.Getenv("MQTT_USERNAME"))

	// Deliberately not trimmed, passwords may carry spaces.
	mqttPassword := os.Getenv("MQTT_PASSWORD")

	deviceStationID := strings.TrimSpace(os.Getenv("DEVICE_STATION_ID"))
	if deviceStationID == "" {
		deviceStationID = "indoor"
	}

	sensorPollIntervalStr := strings.TrimSpace(os.Getenv("SENSOR_POLL_INTERVAL"))
	if sensorPollIntervalStr == "" {
		sensorPollIntervalStr = "30s"
	}
	sensorPollInterval, err := time.ParseDuration(sensorPollIntervalStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SENSOR_POLL_INTERVAL %q: %w", sensorPollIntervalStr, err)
	}
	if sensorPollInterval <= 0 {
		return Config{}, fmt.Errorf("SENSOR_POLL_INTERVAL must be positive, got %v", sensorPollInterval)
	}

	co2SerialPort := strings.TrimSpace(os.Getenv("CO2_SERIAL_PORT"))
	if co2SerialPort == "" {
		co2SerialPort = "/dev/ttyAMA0"
	}

	co2ReadTimeoutStr := strings.TrimSpace(os.Getenv("CO2_READ_TIMEOUT"))
	if co2ReadTimeoutStr == "" {
		co2ReadTimeoutStr = "2s"
	}
	co2ReadTimeout, err := time.ParseDuration(co2ReadTimeoutStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid CO2_READ_TIMEOUT %q: %w", co2ReadTimeoutStr, err)
	}
	if co2ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("CO2_READ_TIMEOUT must be positive, got %v", co2ReadTimeout)
	}

	co2AutoCalibrationStr := strings.TrimSpace(os.Getenv("CO2_AUTO_CALIBRATION"))
	if co2AutoCalibrationStr == "" {
		co2AutoCalibrationStr = "true"
	}
	co2AutoCalibration, err := strconv.ParseBool(co2AutoCalibrationStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid CO2_AUTO_CALIBRATION %q: %w", co2AutoCalibrationStr, err)
	}

	dhtPin := strings.TrimSpace(os.Getenv("DHT_PIN"))
	if dhtPin == "" {
		dhtPin = "GPIO4"
	}

	climateReadTimeoutStr := strings.TrimSpace(os.Getenv("CLIMATE_READ_TIMEOUT"))
	if climateReadTimeoutStr == "" {
		climateReadTimeoutStr = "1s"
	}
	climateReadTimeout, err := time.ParseDuration(climateReadTimeoutStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid CLIMATE_READ_TIMEOUT %q: %w", climateReadTimeoutStr, err)
	}
	if climateReadTimeout <= 0 {
		return Config{}, fmt.Errorf("CLIMATE_READ_TIMEOUT must be positive, got %v", climateReadTimeout)
	}

	// Empty means the station has no heartbeat LED.
	ledPin := strings.TrimSpace(os.Getenv("LED_PIN"))

	publishMaxAttemptsStr := strings.TrimSpace(os.Getenv("PUBLISH_MAX_ATTEMPTS"))
	if publishMaxAttemptsStr == "" {
		publishMaxAttemptsStr = "5"
	}
	publishMaxAttempts, err := strconv.Atoi(publishMaxAttemptsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid PUBLISH_MAX_ATTEMPTS %q: %w", publishMaxAttemptsStr, err)
	}
	if publishMaxAttempts < 1 {
		return Config{}, fmt.Errorf("PUBLISH_MAX_ATTEMPTS must be at least 1, got %d", publishMaxAttempts)
	}

	publishBackoffInitialStr := strings.TrimSpace(os.Getenv("PUBLISH_BACKOFF_INITIAL"))
	if publishBackoffInitialStr == "" {
		publishBackoffInitialStr = "1s"
	}
	publishBackoffInitial, err := time.ParseDuration(publishBackoffInitialStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid PUBLISH_BACKOFF_INITIAL %q: %w", publishBackoffInitialStr, err)
	}
	if publishBackoffInitial <= 0 {
		return Config{}, fmt.Errorf("PUBLISH_BACKOFF_INITIAL must be positive, got %v", publishBackoffInitial)
	}

	publishBackoffMaxStr := strings.TrimSpace(os.Getenv("PUBLISH_BACKOFF_MAX"))
	if publishBackoffMaxStr == "" {
		publishBackoffMaxStr = "30s"
	}
	publishBackoffMax, err := time.ParseDuration(publishBackoffMaxStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid PUBLISH_BACKOFF_MAX %q: %w", publishBackoffMaxStr, err)
	}
	if publishBackoffMax < publishBackoffInitial {
		return Config{}, fmt.Errorf("PUBLISH_BACKOFF_MAX must be at least PUBLISH_BACKOFF_INITIAL (%v), got %v", publishBackoffInitial, publishBackoffMax)
	}

	return Config{
		AppEnv:                appEnv,
		LogLevel:              level,
		MQTTBroker:            mqttBroker,
		MQTTPort:              mqttPort,
		MQTTClientID:          mqttClientID,
		MQTTUsername:          mqttUsername,
		MQTTPassword:          mqttPassword,
		DeviceStationID:       deviceStationID,
		SensorPollInterval:    sensorPollInterval,
		CO2SerialPort:         co2SerialPort,
		CO2ReadTimeout:        co2ReadTimeout,
		CO2AutoCalibration:    co2AutoCalibration,
		DHTPin:                dhtPin,
		ClimateReadTimeout:    climateReadTimeout,
		LEDPin:                ledPin,
		PublishMaxAttempts:    publishMaxAttempts,
		PublishBackoffInitial: publishBackoffInitial,
		PublishBackoffMax:     publishBackoffMax,
	}, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
