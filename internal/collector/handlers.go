package collector

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qkb2/iot-data-collector-server/pkg/metrics"
)

// deviceIDHeader carries the device identifier on ingestion requests. The
// name is historical: field firmware already in the wild sends it.
const deviceIDHeader = "X-SENSOR-ID"

// setupRoutes builds the HTTP mux for the collector API.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/register", s.instrument("register", s.handleRegister))
	mux.HandleFunc("POST /api/send_data", s.instrument("send_data", s.handleSendData))

	mux.HandleFunc("GET /api/devices", s.instrument("devices", s.handleListDevices))
	mux.HandleFunc("GET /api/devices/{id}", s.instrument("device_detail", s.handleDeviceDetail))
	mux.HandleFunc("POST /api/devices/{id}/approve", s.instrument("approve", s.handleApproveDevice))
	mux.HandleFunc("DELETE /api/devices/{id}", s.instrument("delete_device", s.handleDeleteDevice))

	mux.HandleFunc("GET /api/sensors", s.instrument("sensors", s.handleListSensors))
	mux.HandleFunc("GET /api/sensors/{id}", s.instrument("sensor_detail", s.handleSensorDetail))
	mux.HandleFunc("DELETE /api/sensors/{id}", s.instrument("delete_sensor", s.handleDeleteSensor))
	mux.HandleFunc("GET /api/sensors/{id}/readings", s.instrument("readings", s.handleListReadings))

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

// instrument wraps a handler with request counting and duration metrics.
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	if s.metrics == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(s.metrics.HTTPRequestDuration.WithLabelValues(name))
		defer timer.ObserveDuration()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		s.metrics.HTTPRequestsTotal.WithLabelValues(name, strconv.Itoa(sw.status)).Inc()
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// handleRegister registers a device. The body is the plain-text device id.
// Approved devices get 200 already_registered; everything else gets 401
// pending_approval, with the row created when absent.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1024))
	if err != nil {
		s.logger.Error("failed to read register body", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	deviceID := strings.TrimSpace(string(body))
	if err := ValidateDeviceID(deviceID); err != nil {
		writeValidationError(w, err)
		return
	}

	status, err := s.registry.Register(r.Context(), deviceID)
	if err != nil {
		s.logger.Error("registration failed", "device_id", deviceID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "registration failed"})
		return
	}

	if s.metrics != nil && status == StatusPendingApproval {
		s.metrics.DevicesRegisteredTotal.Inc()
	}

	if status == StatusAlreadyRegistered {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
		return
	}
	writeJSON(w, http.StatusUnauthorized, map[string]string{"status": string(status)})
}

// handleSendData ingests a batch of sensor values for the device named in
// the X-SENSOR-ID header.
func (s *Server) handleSendData(w http.ResponseWriter, r *http.Request) {
	deviceID := r.Header.Get(deviceIDHeader)
	if deviceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing " + deviceIDHeader + " header"})
		return
	}

	var batch []ReadingInput
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed batch"})
		return
	}

	count, err := s.pipeline.Ingest(r.Context(), deviceID, batch)
	if err != nil {
		var verr *ValidationError
		switch {
		case errors.Is(err, ErrUnauthorized):
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "device not registered or not approved"})
		case errors.As(err, &verr):
			writeValidationError(w, err)
		default:
			s.logger.Error("ingestion failed", "device_id", deviceID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ingestion failed"})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "count": count})
}

// handleListDevices lists all devices with sensor counts.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.admin.ListDevices(r.Context())
	if err != nil {
		s.logger.Error("failed to list devices", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list devices"})
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

// handleDeviceDetail returns one device with its sensors.
func (s *Server) handleDeviceDetail(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	detail, err := s.admin.GetDevice(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
			return
		}
		s.logger.Error("failed to load device", "device_id", deviceID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load device"})
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleApproveDevice transitions a device to approved. Idempotent.
func (s *Server) handleApproveDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	device, err := s.registry.Approve(r.Context(), deviceID)
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
			return
		}
		s.logger.Error("failed to approve device", "device_id", deviceID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to approve device"})
		return
	}

	if s.metrics != nil {
		s.metrics.DevicesApprovedTotal.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved", "id": device.ID})
}

// handleDeleteDevice removes a device and cascades to its sensors and
// readings.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	if err := s.registry.Delete(r.Context(), deviceID); err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
			return
		}
		s.logger.Error("failed to delete device", "device_id", deviceID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete device"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": deviceID})
}

// handleListSensors lists all sensors.
func (s *Server) handleListSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := s.catalog.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list sensors", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list sensors"})
		return
	}
	writeJSON(w, http.StatusOK, sensors)
}

// handleSensorDetail returns one sensor with its reading count.
func (s *Server) handleSensorDetail(w http.ResponseWriter, r *http.Request) {
	sensorID, ok := parseSensorID(w, r)
	if !ok {
		return
	}

	detail, err := s.admin.GetSensor(r.Context(), sensorID)
	if err != nil {
		if errors.Is(err, ErrSensorNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "sensor not found"})
			return
		}
		s.logger.Error("failed to load sensor", "sensor_id", sensorID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load sensor"})
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleDeleteSensor removes a sensor and its readings.
func (s *Server) handleDeleteSensor(w http.ResponseWriter, r *http.Request) {
	sensorID, ok := parseSensorID(w, r)
	if !ok {
		return
	}

	if err := s.catalog.Delete(r.Context(), sensorID); err != nil {
		if errors.Is(err, ErrSensorNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "sensor not found"})
			return
		}
		s.logger.Error("failed to delete sensor", "sensor_id", sensorID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete sensor"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": sensorID})
}

// handleListReadings returns the most recent readings for a sensor, newest
// first, bounded by the limit query parameter (default and cap 50).
func (s *Server) handleListReadings(w http.ResponseWriter, r *http.Request) {
	sensorID, ok := parseSensorID(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
			return
		}
		limit = parsed
	}

	readings, err := s.admin.ListReadings(r.Context(), sensorID, limit)
	if err != nil {
		if errors.Is(err, ErrSensorNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "sensor not found"})
			return
		}
		s.logger.Error("failed to list readings", "sensor_id", sensorID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list readings"})
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseSensorID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sensor id must be a positive integer"})
		return 0, false
	}
	return uint(id), true
}

func writeValidationError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
