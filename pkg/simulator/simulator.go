package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/qkb2/iot-data-collector-server/pkg/metrics"
	"github.com/qkb2/iot-data-collector-server/pkg/mq"
)

// Reading is one batch entry in the collector's wire format.
type Reading struct {
	Sensor string `json:"sensor"`
	Type   string `json:"type"`
	Value  int64  `json:"value"`
	Shift  int    `json:"shift"`
}

// envelope is the AMQP message format for one device batch.
type envelope struct {
	DeviceID string    `json:"device_id"`
	Values   []Reading `json:"values"`
}

// deviceIDHeader matches the header the collector's ingestion endpoint
// expects.
const deviceIDHeader = "X-SENSOR-ID"

// Simulator drives a fleet of device profiles against a collector, over
// HTTP or, when a publisher is configured, over AMQP.
type Simulator struct {
	logger    *slog.Logger
	fleet     []DeviceProfile
	baseURL   string
	client    *http.Client
	publisher mq.Publisher
	metrics   *metrics.SimulatorMetrics // Optional metrics
}

// Config holds the configuration for the Simulator.
type Config struct {
	Logger *slog.Logger
	Fleet  []DeviceProfile

	// BaseURL is the collector's HTTP address. Required (registration is
	// always HTTP, even when telemetry goes over AMQP).
	BaseURL string

	// Publisher switches telemetry to AMQP when set.
	Publisher mq.Publisher

	// HTTPClient is optional; a default with a 10s timeout is used when
	// nil.
	HTTPClient *http.Client

	// Metrics is optional.
	Metrics *metrics.SimulatorMetrics
}

// New creates a new Simulator instance.
func New(cfg *Config) (*Simulator, error) {
	if cfg == nil {
		return nil, errors.New("simulator config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if len(cfg.Fleet) == 0 {
		return nil, errors.New("fleet cannot be empty")
	}

	if cfg.BaseURL == "" {
		return nil, errors.New("base URL cannot be empty")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	s := &Simulator{
		logger:    cfg.Logger,
		fleet:     cfg.Fleet,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		client:    client,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
	}

	if s.metrics != nil {
		s.metrics.DevicesSimulated.Set(float64(len(s.fleet)))
	}
	return s, nil
}

// Register registers one device and returns the reported status
// ("already_registered" or "pending_approval").
func (s *Simulator) Register(ctx context.Context, deviceID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/api/register", strings.NewReader(deviceID))
	if err != nil {
		return "", fmt.Errorf("failed to build register request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := s.client.Do(req)
	if err != nil {
		s.countRegistration("error")
		return "", fmt.Errorf("register request failed: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		s.countRegistration("error")
		return "", fmt.Errorf("failed to decode register response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusUnauthorized:
		s.countRegistration(body.Status)
		return body.Status, nil
	default:
		s.countRegistration("error")
		return "", fmt.Errorf("unexpected register status %d", resp.StatusCode)
	}
}

// RegisterAll registers every device in the fleet. Pending devices are not
// an error; the collector admin approves them out of band.
func (s *Simulator) RegisterAll(ctx context.Context) error {
	for _, device := range s.fleet {
		status, err := s.Register(ctx, device.ID)
		if err != nil {
			return fmt.Errorf("failed to register %s: %w", device.ID, err)
		}
		s.logger.Info("device registration", "device_id", device.ID, "status", status)
	}
	return nil
}

// SendBatch sends one telemetry batch for one device.
func (s *Simulator) SendBatch(ctx context.Context, device DeviceProfile) error {
	now := time.Now()
	readings := make([]Reading, 0, len(device.Sensors))
	for _, sensor := range device.Sensors {
		value, shift := sensor.Sample(now)
		readings = append(readings, Reading{
			Sensor: sensor.Name,
			Type:   sensor.Kind,
			Value:  value,
			Shift:  shift,
		})
	}

	if s.publisher != nil {
		return s.sendAMQP(ctx, device.ID, readings)
	}
	return s.sendHTTP(ctx, device.ID, readings)
}

func (s *Simulator) sendHTTP(ctx context.Context, deviceID string, readings []Reading) error {
	payload, err := json.Marshal(readings)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/api/send_data", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(deviceIDHeader, deviceID)

	resp, err := s.client.Do(req)
	if err != nil {
		s.countBatch(deviceID, "error")
		if s.metrics != nil {
			s.metrics.SendErrors.WithLabelValues(deviceID).Inc()
		}
		return fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		s.countBatch(deviceID, "ok")
		if s.metrics != nil {
			s.metrics.ReadingsSent.WithLabelValues(deviceID).Add(float64(len(readings)))
		}
		s.logger.Debug("batch sent", "device_id", deviceID, "count", len(readings))
		return nil
	case http.StatusUnauthorized:
		// Expected until an operator approves the device.
		s.countBatch(deviceID, "unauthorized")
		s.logger.Info("device not approved yet, skipping batch", "device_id", deviceID)
		return nil
	default:
		s.countBatch(deviceID, "error")
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("send failed with status %d: %s", resp.StatusCode, body)
	}
}

func (s *Simulator) sendAMQP(ctx context.Context, deviceID string, readings []Reading) error {
	payload, err := json.Marshal(envelope{DeviceID: deviceID, Values: readings})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	if err := s.publisher.Push(ctx, payload); err != nil {
		s.countBatch(deviceID, "error")
		if s.metrics != nil {
			s.metrics.SendErrors.WithLabelValues(deviceID).Inc()
		}
		return fmt.Errorf("failed to publish batch: %w", err)
	}

	s.countBatch(deviceID, "ok")
	if s.metrics != nil {
		s.metrics.ReadingsSent.WithLabelValues(deviceID).Add(float64(len(readings)))
	}
	s.logger.Debug("batch published", "device_id", deviceID, "count", len(readings))
	return nil
}

// RunOnce sends one batch for every device in the fleet.
func (s *Simulator) RunOnce(ctx context.Context) error {
	for _, device := range s.fleet {
		if err := s.SendBatch(ctx, device); err != nil {
			s.logger.Error("failed to send batch", "device_id", device.ID, "error", err)
		}
	}
	return ctx.Err()
}

// Run registers the fleet and then sends batches on the given interval until
// the context is canceled.
func (s *Simulator) Run(ctx context.Context, interval time.Duration) error {
	if err := s.RegisterAll(ctx); err != nil {
		return err
	}

	s.logger.Info("starting traffic loop",
		"devices", len(s.fleet),
		"interval", interval,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("simulator stopped")
			return nil
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}

func (s *Simulator) countBatch(deviceID, status string) {
	if s.metrics != nil {
		s.metrics.BatchesSent.WithLabelValues(deviceID, status).Inc()
	}
}

func (s *Simulator) countRegistration(status string) {
	if s.metrics != nil {
		s.metrics.RegistrationsSent.WithLabelValues(status).Inc()
	}
}
