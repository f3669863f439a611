// Package mqtt wraps the paho client with the publishing surface the
// station needs: telemetry readings and retained health state.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"airsense-gateway/internal/config"
	"airsense-gateway/internal/telemetry"
)

// newPahoClient builds the underlying library client. Tests swap it out.
var newPahoClient = mqtt.NewClient

// Client is a thin wrapper around the paho MQTT client.
type Client struct {
	cfg    config.Config
	logger *slog.Logger
	client mqtt.Client

	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewClient configures the MQTT session. The broker holds a retained
// "unhealthy" will for the station so subscribers see an ungraceful death.
func NewClient(cfg config.Config, logger *slog.Logger) *Client {
	c := &Client{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	// Retrying the initial CONNECT inside the library would swallow
	// credential refusals. The caller owns that retry loop instead.
	opts.SetConnectRetry(false)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}

	if will, err := json.Marshal(telemetry.StationHealth{
		StationID: cfg.DeviceStationID,
		LastSeen:  time.Now().UTC(),
		Healthy:   false,
	}); err == nil {
		opts.SetBinaryWill(healthTopic(cfg.DeviceStationID), will, 1, true)
	}

	opts.OnConnect = func(_ mqtt.Client) {
		c.setConnected(true)
		c.logger.Info("connected to MQTT broker",
			"broker", cfg.MQTTBroker,
			"port", cfg.MQTTPort,
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.setConnected(false)
		c.logger.Warn("MQTT connection lost", "error", err)
	}

	c.client = newPahoClient(opts)
	return c
}

// Connect establishes the broker session. It returns an error wrapping
// ErrFatal when the broker refuses the session for a reason no retry will
// fix, such as bad credentials.
func (c *Client) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return fmt.Errorf("mqtt client stopped")
		default:
		}
		if token.WaitTimeout(200 * time.Millisecond) {
			break
		}
	}
	if err := token.Error(); err != nil {
		if isFatal(err) {
			return fmt.Errorf("%w: %v", ErrFatal, err)
		}
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// PublishTelemetry sends one reading to the station's telemetry topic at
// QoS 1. Failures come back as transport taxonomy errors so the caller can
// decide between retrying and giving up.
func (c *Client) PublishTelemetry(t telemetry.Telemetry) error {
	if !c.IsConnected() {
		return fmt.Errorf("%w: cannot publish telemetry", ErrNotConnected)
	}

	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal telemetry: %w", err)
	}

	topic := fmt.Sprintf("stations/%s/telemetry", t.StationID)
	token := c.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("%w: topic %s", ErrWriteTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish telemetry: %w", classify(err))
	}

	c.logger.Debug("published telemetry",
		"topic", topic,
		"bytes", len(payload),
	)
	return nil
}

// PublishStationHealth updates the station's retained health document.
func (c *Client) PublishStationHealth(h telemetry.StationHealth) error {
	if !c.IsConnected() {
		return fmt.Errorf("%w: cannot publish health", ErrNotConnected)
	}

	if h.LastSeen.IsZero() {
		h.LastSeen = time.Now().UTC()
	}

	payload, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal health: %w", err)
	}

	topic := healthTopic(h.StationID)
	token := c.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("%w: topic %s", ErrWriteTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish health: %w", classify(err))
	}
	return nil
}

// IsConnected reports whether the broker session is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Disconnect tears the session down. Safe to call more than once.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if c.client.IsConnected() {
			c.client.Disconnect(250)
		}
		c.setConnected(false)
		c.logger.Info("disconnected from MQTT broker")
	})
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = v
}

func healthTopic(stationID string) string {
	return fmt.Sprintf("stations/%s/health", stationID)
}
