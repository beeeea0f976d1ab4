package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
)

// DefaultReadingLimit bounds reading list pages. Requests asking for more
// are capped; requests asking for nothing get this default.
const DefaultReadingLimit = 50

// DeviceSummary is a device row with its sensor count, for listings.
type DeviceSummary struct {
	ID          string `json:"id"`
	Approved    bool   `json:"approved"`
	SensorCount int64  `json:"sensor_count"`
}

// DeviceDetail is a device with its full sensor list.
type DeviceDetail struct {
	ID       string   `json:"id"`
	Approved bool     `json:"approved"`
	Sensors  []Sensor `json:"sensors"`
}

// SensorDetail is a sensor with its reading count.
type SensorDetail struct {
	ID           uint   `json:"id"`
	DeviceID     string `json:"device_id"`
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	ReadingCount int64  `json:"reading_count"`
}

// AdminQueries is the read-only projection surface over persisted state.
// All mutation goes through DeviceRegistry and SensorCatalog.
type AdminQueries struct {
	logger *slog.Logger
	db     *gorm.DB
}

// NewAdminQueries creates a new AdminQueries instance.
func NewAdminQueries(db *gorm.DB, logger *slog.Logger) (*AdminQueries, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}

	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &AdminQueries{logger: logger, db: db}, nil
}

// ListDevices returns every device with its sensor count.
func (q *AdminQueries) ListDevices(ctx context.Context) ([]DeviceSummary, error) {
	var devices []Device
	if err := q.db.WithContext(ctx).Order("id").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	summaries := make([]DeviceSummary, 0, len(devices))
	for _, d := range devices {
		var count int64
		if err := q.db.WithContext(ctx).Model(&Sensor{}).
			Where("device_id = ?", d.ID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to count sensors: %w", err)
		}
		summaries = append(summaries, DeviceSummary{
			ID:          d.ID,
			Approved:    d.Approved,
			SensorCount: count,
		})
	}
	return summaries, nil
}

// GetDevice returns one device with its sensors.
func (q *AdminQueries) GetDevice(ctx context.Context, deviceID string) (*DeviceDetail, error) {
	var device Device
	err := q.db.WithContext(ctx).Preload("Sensors").First(&device, "id = ?", deviceID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to load device: %w", err)
	}

	sensors := device.Sensors
	if sensors == nil {
		sensors = []Sensor{}
	}
	return &DeviceDetail{
		ID:       device.ID,
		Approved: device.Approved,
		Sensors:  sensors,
	}, nil
}

// GetSensor returns one sensor with its reading count.
func (q *AdminQueries) GetSensor(ctx context.Context, sensorID uint) (*SensorDetail, error) {
	var sensor Sensor
	err := q.db.WithContext(ctx).First(&sensor, sensorID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSensorNotFound
		}
		return nil, fmt.Errorf("failed to load sensor: %w", err)
	}

	var count int64
	if err := q.db.WithContext(ctx).Model(&SensorReading{}).
		Where("sensor_id = ?", sensorID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to count readings: %w", err)
	}

	return &SensorDetail{
		ID:           sensor.ID,
		DeviceID:     sensor.DeviceID,
		Name:         sensor.Name,
		Kind:         sensor.Kind,
		ReadingCount: count,
	}, nil
}

// ListReadings returns the most recent readings of a sensor, newest first.
// Ordering is by surrogate id descending so that readings sharing a
// timestamp still list deterministically. The limit defaults to
// DefaultReadingLimit and is capped there.
func (q *AdminQueries) ListReadings(ctx context.Context, sensorID uint, limit int) ([]SensorReading, error) {
	if limit <= 0 || limit > DefaultReadingLimit {
		limit = DefaultReadingLimit
	}

	var sensor Sensor
	err := q.db.WithContext(ctx).First(&sensor, sensorID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSensorNotFound
		}
		return nil, fmt.Errorf("failed to load sensor: %w", err)
	}

	var readings []SensorReading
	if err := q.db.WithContext(ctx).
		Where("sensor_id = ?", sensorID).
		Order("id DESC").
		Limit(limit).
		Find(&readings).Error; err != nil {
		return nil, fmt.Errorf("failed to list readings: %w", err)
	}
	return readings, nil
}
