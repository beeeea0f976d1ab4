package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RegistrationStatus is the outcome of a device registration call.
type RegistrationStatus string

const (
	// StatusAlreadyRegistered means the device exists and is approved.
	StatusAlreadyRegistered RegistrationStatus = "already_registered"
	// StatusPendingApproval means the device row exists (created now or
	// earlier) but an operator has not approved it yet.
	StatusPendingApproval RegistrationStatus = "pending_approval"
)

// DeviceRegistry owns the device lifecycle: unknown devices become pending
// on first registration, pending devices become approved only through an
// explicit admin action, and deletion cascades to sensors and readings.
type DeviceRegistry struct {
	logger *slog.Logger
	db     *gorm.DB
}

// NewDeviceRegistry creates a new DeviceRegistry instance.
func NewDeviceRegistry(db *gorm.DB, logger *slog.Logger) (*DeviceRegistry, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}

	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &DeviceRegistry{logger: logger, db: db}, nil
}

// Register creates the device row if absent and reports whether the device
// is already approved. Registration is idempotent: a concurrent creation of
// the same identifier is absorbed by the ON CONFLICT clause and treated as
// success.
func (r *DeviceRegistry) Register(ctx context.Context, deviceID string) (RegistrationStatus, error) {
	device := Device{ID: deviceID}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&device)
	if res.Error != nil {
		return "", fmt.Errorf("failed to register device: %w", res.Error)
	}

	if res.RowsAffected > 0 {
		r.logger.Info("device registered, pending approval", "device_id", deviceID)
		return StatusPendingApproval, nil
	}

	// Row already existed; read its approval state.
	if err := r.db.WithContext(ctx).First(&device, "id = ?", deviceID).Error; err != nil {
		return "", fmt.Errorf("failed to load device: %w", err)
	}

	if device.Approved {
		return StatusAlreadyRegistered, nil
	}
	return StatusPendingApproval, nil
}

// IsApproved reports whether the device exists and has been approved. This
// is the authorization gate in front of every ingestion path.
func (r *DeviceRegistry) IsApproved(ctx context.Context, deviceID string) (bool, error) {
	var device Device
	err := r.db.WithContext(ctx).First(&device, "id = ?", deviceID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrDeviceNotFound
		}
		return false, fmt.Errorf("failed to load device: %w", err)
	}
	return device.Approved, nil
}

// Approve transitions a device to approved. Approving an already-approved
// device is a no-op; the transition never reverses.
func (r *DeviceRegistry) Approve(ctx context.Context, deviceID string) (*Device, error) {
	var device Device
	err := r.db.WithContext(ctx).First(&device, "id = ?", deviceID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to load device: %w", err)
	}

	if device.Approved {
		return &device, nil
	}

	device.Approved = true
	if err := r.db.WithContext(ctx).Model(&device).Update("approved", true).Error; err != nil {
		return nil, fmt.Errorf("failed to approve device: %w", err)
	}

	r.logger.Info("device approved", "device_id", deviceID)
	return &device, nil
}

// Delete removes the device together with its sensors and their readings as
// one transaction. The cascade is an explicit delete sequence rather than a
// reliance on object-graph traversal.
func (r *DeviceRegistry) Delete(ctx context.Context, deviceID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var device Device
		if err := tx.First(&device, "id = ?", deviceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDeviceNotFound
			}
			return fmt.Errorf("failed to load device: %w", err)
		}

		if err := tx.Where("sensor_id IN (?)",
			tx.Model(&Sensor{}).Select("id").Where("device_id = ?", deviceID),
		).Delete(&SensorReading{}).Error; err != nil {
			return fmt.Errorf("failed to delete readings: %w", err)
		}

		if err := tx.Where("device_id = ?", deviceID).Delete(&Sensor{}).Error; err != nil {
			return fmt.Errorf("failed to delete sensors: %w", err)
		}

		if err := tx.Delete(&device).Error; err != nil {
			return fmt.Errorf("failed to delete device: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("device deleted", "device_id", deviceID)
	return nil
}
