package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SensorCatalog resolves sensors by their (device, name) natural key and
// provisions them on first sight. Kind is write-once: whatever the first
// batch declared sticks, later batches never update it.
type SensorCatalog struct {
	logger *slog.Logger
	db     *gorm.DB
}

// NewSensorCatalog creates a new SensorCatalog instance.
func NewSensorCatalog(db *gorm.DB, logger *slog.Logger) (*SensorCatalog, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}

	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &SensorCatalog{logger: logger, db: db}, nil
}

// withDB returns a catalog bound to a different handle, used by the
// ingestion pipeline to run provisioning inside its batch transaction.
func (c *SensorCatalog) withDB(db *gorm.DB) *SensorCatalog {
	return &SensorCatalog{logger: c.logger, db: db}
}

// ResolveOrCreate returns the sensor for (deviceID, name), creating it
// exactly once if unseen. The second return value reports whether this call
// provisioned the row. A concurrent creator losing the race on the unique
// index falls back to reading the winner's row; the ON CONFLICT clause keeps
// the surrounding transaction healthy on conflict.
func (c *SensorCatalog) ResolveOrCreate(ctx context.Context, deviceID, name, kind string) (*Sensor, bool, error) {
	var sensor Sensor
	err := c.db.WithContext(ctx).
		Where("device_id = ? AND name = ?", deviceID, name).
		First(&sensor).Error
	if err == nil {
		return &sensor, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to look up sensor: %w", err)
	}

	sensor = Sensor{DeviceID: deviceID, Name: name, Kind: kind}
	res := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}, {Name: "name"}},
			DoNothing: true,
		}).
		Create(&sensor)
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to provision sensor: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		// Lost the provisioning race; the winner's row is authoritative.
		if err := c.db.WithContext(ctx).
			Where("device_id = ? AND name = ?", deviceID, name).
			First(&sensor).Error; err != nil {
			return nil, false, fmt.Errorf("failed to load sensor after conflict: %w", err)
		}
		return &sensor, false, nil
	}

	c.logger.Info("sensor provisioned",
		"device_id", deviceID,
		"sensor", name,
		"kind", kind,
	)
	return &sensor, true, nil
}

// Get returns a sensor by its surrogate id.
func (c *SensorCatalog) Get(ctx context.Context, sensorID uint) (*Sensor, error) {
	var sensor Sensor
	err := c.db.WithContext(ctx).First(&sensor, sensorID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSensorNotFound
		}
		return nil, fmt.Errorf("failed to load sensor: %w", err)
	}
	return &sensor, nil
}

// List returns all sensors.
func (c *SensorCatalog) List(ctx context.Context) ([]Sensor, error) {
	var sensors []Sensor
	if err := c.db.WithContext(ctx).Order("id").Find(&sensors).Error; err != nil {
		return nil, fmt.Errorf("failed to list sensors: %w", err)
	}
	return sensors, nil
}

// Delete removes a sensor and its readings as one transaction.
func (c *SensorCatalog) Delete(ctx context.Context, sensorID uint) error {
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sensor Sensor
		if err := tx.First(&sensor, sensorID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSensorNotFound
			}
			return fmt.Errorf("failed to load sensor: %w", err)
		}

		if err := tx.Where("sensor_id = ?", sensorID).Delete(&SensorReading{}).Error; err != nil {
			return fmt.Errorf("failed to delete readings: %w", err)
		}

		if err := tx.Delete(&sensor).Error; err != nil {
			return fmt.Errorf("failed to delete sensor: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Info("sensor deleted", "sensor_id", sensorID)
	return nil
}
