package collector

import "fmt"

// ReadingInput is one entry of an ingestion batch as received on the wire.
type ReadingInput struct {
	Sensor   string `json:"sensor"`
	Kind     string `json:"type"`
	RawValue int64  `json:"value"`
	Shift    int    `json:"shift"`
}

// maxShift bounds the fractional-bit count. Anything past 63 cannot come
// from a real device encoder and indicates a corrupt sample.
const maxShift = 63

// ValidateBatch checks every entry of an ingestion batch up front. One bad
// entry rejects the whole batch so that retries stay idempotent and the
// all-or-nothing commit is trivial.
func ValidateBatch(batch []ReadingInput) error {
	if len(batch) == 0 {
		return &ValidationError{Field: "values", Reason: "batch cannot be empty"}
	}

	for i, entry := range batch {
		if entry.Sensor == "" {
			return &ValidationError{Field: "sensor", Reason: fmt.Sprintf("sensor name cannot be empty (entry %d)", i)}
		}
		if entry.Shift < 0 {
			return &ValidationError{Field: "shift", Reason: fmt.Sprintf("shift cannot be negative (entry %d)", i)}
		}
		if entry.Shift > maxShift {
			return &ValidationError{Field: "shift", Reason: fmt.Sprintf("shift exceeds %d bits (entry %d)", maxShift, i)}
		}
	}
	return nil
}

// ValidateDeviceID checks a registration or ingestion device identifier.
func ValidateDeviceID(deviceID string) error {
	if deviceID == "" {
		return &ValidationError{Field: "device_id", Reason: "device id cannot be empty"}
	}
	return nil
}
