// Package collector provides the core telemetry collection service: the
// device approval registry, sensor auto-provisioning, the fixed-point
// ingestion pipeline, and the admin query surface over PostgreSQL.
package collector

import (
	"time"
)

// Device represents a field device. The identifier is supplied by the device
// itself on first registration and is immutable; a device starts unapproved
// and only an explicit admin action flips it.
type Device struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Approved  bool      `gorm:"not null;default:false" json:"approved"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"-"`
	Sensors   []Sensor  `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for the Device model.
func (Device) TableName() string {
	return "devices"
}

// Sensor is a named measurement channel on a device, provisioned lazily the
// first time an ingestion batch references it. The (device_id, name) pair is
// the natural key; the unique index on it is what makes concurrent
// provisioning safe.
type Sensor struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	DeviceID  string          `gorm:"uniqueIndex:idx_sensors_device_name;not null" json:"device_id"`
	Name      string          `gorm:"uniqueIndex:idx_sensors_device_name;not null" json:"name"`
	Kind      string          `gorm:"not null" json:"kind"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"-"`
	Readings  []SensorReading `gorm:"foreignKey:SensorID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for the Sensor model.
func (Sensor) TableName() string {
	return "sensors"
}

// SensorReading is one decoded sample. RawValue and Shift preserve the wire
// form for auditability; Normalized is computed once at ingestion time and
// never recomputed. Rows are immutable after insert.
type SensorReading struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SensorID   uint      `gorm:"index;not null" json:"sensor_id"`
	RawValue   int64     `gorm:"not null" json:"raw_value"`
	Shift      int       `gorm:"not null" json:"shift"`
	Normalized float64   `gorm:"not null" json:"normalized"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName specifies the table name for the SensorReading model.
func (SensorReading) TableName() string {
	return "sensor_readings"
}
