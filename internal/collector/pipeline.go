package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/qkb2/iot-data-collector-server/pkg/fixedpoint"
	"github.com/qkb2/iot-data-collector-server/pkg/metrics"
)

// IngestionPipeline orchestrates one ingestion batch: authorization gate,
// validation, sensor resolution, fixed-point decode, and a single
// transactional write. Unknown sensor names are auto-provisioned; the
// provisioned rows live and die with the batch transaction.
type IngestionPipeline struct {
	logger   *slog.Logger
	db       *gorm.DB
	registry *DeviceRegistry
	catalog  *SensorCatalog
	metrics  *metrics.CollectorMetrics // Optional metrics
}

// NewIngestionPipeline creates a new IngestionPipeline instance.
func NewIngestionPipeline(db *gorm.DB, registry *DeviceRegistry, catalog *SensorCatalog, logger *slog.Logger, m *metrics.CollectorMetrics) (*IngestionPipeline, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}

	if registry == nil {
		return nil, errors.New("device registry cannot be nil")
	}

	if catalog == nil {
		return nil, errors.New("sensor catalog cannot be nil")
	}

	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &IngestionPipeline{
		logger:   logger,
		db:       db,
		registry: registry,
		catalog:  catalog,
		metrics:  m,
	}, nil
}

// Ingest persists a batch of sensor values for one device. The whole batch
// commits or none of it does. Returns the number of accepted readings.
//
// Unknown or unapproved devices fail with ErrUnauthorized before any write;
// malformed batches fail with a ValidationError before any write.
func (p *IngestionPipeline) Ingest(ctx context.Context, deviceID string, batch []ReadingInput) (int, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		p.countBatch("invalid")
		return 0, err
	}

	approved, err := p.registry.IsApproved(ctx, deviceID)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			p.countBatch("unauthorized")
			return 0, ErrUnauthorized
		}
		p.countBatch("error")
		return 0, err
	}
	if !approved {
		p.countBatch("unauthorized")
		return 0, ErrUnauthorized
	}

	if err := ValidateBatch(batch); err != nil {
		p.countBatch("invalid")
		return 0, err
	}

	provisioned := 0
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		catalog := p.catalog.withDB(tx)

		for _, entry := range batch {
			sensor, created, err := catalog.ResolveOrCreate(ctx, deviceID, entry.Sensor, entry.Kind)
			if err != nil {
				return err
			}
			if created {
				provisioned++
			}

			reading := SensorReading{
				SensorID:   sensor.ID,
				RawValue:   entry.RawValue,
				Shift:      entry.Shift,
				Normalized: fixedpoint.Decode(entry.RawValue, uint(entry.Shift)),
			}
			if err := tx.Create(&reading).Error; err != nil {
				return fmt.Errorf("failed to store reading: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		p.countBatch("error")
		return 0, fmt.Errorf("failed to ingest batch for device %s: %w", deviceID, err)
	}

	p.countBatch("accepted")
	if p.metrics != nil {
		p.metrics.IngestReadingsTotal.Add(float64(len(batch)))
		p.metrics.SensorsProvisionedTotal.Add(float64(provisioned))
	}

	p.logger.Info("batch ingested",
		"device_id", deviceID,
		"count", len(batch),
	)
	return len(batch), nil
}

func (p *IngestionPipeline) countBatch(status string) {
	if p.metrics != nil {
		p.metrics.IngestBatchesTotal.WithLabelValues(status).Inc()
	}
}
