package collector_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/qkb2/iot-data-collector-server/internal/collector"
)

var _ = Describe("HTTP API", func() {
	var (
		db      *gorm.DB
		handler http.Handler
	)

	BeforeEach(func() {
		db = openTestDB()

		server, err := collector.NewServer(&collector.ServerConfig{
			Logger:   testLogger(),
			DB:       db,
			HTTPPort: 8080,
		})
		Expect(err).NotTo(HaveOccurred())

		handler, err = server.Handler()
		Expect(err).NotTo(HaveOccurred())
	})

	do := func(method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, bytes.NewReader(body))
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	decode := func(rec *httptest.ResponseRecorder, out any) {
		Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))
		Expect(json.Unmarshal(rec.Body.Bytes(), out)).To(Succeed())
	}

	register := func(deviceID string) *httptest.ResponseRecorder {
		return do(http.MethodPost, "/api/register", []byte(deviceID), nil)
	}

	approve := func(deviceID string) {
		rec := do(http.MethodPost, "/api/devices/"+deviceID+"/approve", nil, nil)
		Expect(rec.Code).To(Equal(http.StatusOK))
	}

	sendData := func(deviceID string, batch []collector.ReadingInput) *httptest.ResponseRecorder {
		payload, err := json.Marshal(batch)
		Expect(err).NotTo(HaveOccurred())
		return do(http.MethodPost, "/api/send_data", payload, map[string]string{
			"X-SENSOR-ID":  deviceID,
			"Content-Type": "application/json",
		})
	}

	Describe("POST /api/register", func() {
		It("should answer 401 pending_approval for a new device", func() {
			rec := register("dev-1")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))

			var body map[string]string
			decode(rec, &body)
			Expect(body).To(HaveKeyWithValue("status", "pending_approval"))
		})

		It("should answer 401 again while still pending", func() {
			register("dev-1")
			rec := register("dev-1")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("should answer 200 already_registered once approved", func() {
			register("dev-1")
			approve("dev-1")

			rec := register("dev-1")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body map[string]string
			decode(rec, &body)
			Expect(body).To(HaveKeyWithValue("status", "already_registered"))
		})

		It("should trim surrounding whitespace from the device id", func() {
			rec := register("  dev-1\n")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))

			var device collector.Device
			Expect(db.First(&device, "id = ?", "dev-1").Error).To(Succeed())
		})

		It("should reject an empty body", func() {
			rec := register("")
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("POST /api/send_data", func() {
		It("should reject a request without the device header", func() {
			payload, _ := json.Marshal([]collector.ReadingInput{
				{Sensor: "temp", Kind: "temperature", RawValue: 1, Shift: 0},
			})
			rec := do(http.MethodPost, "/api/send_data", payload, nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should reject a malformed body", func() {
			rec := do(http.MethodPost, "/api/send_data", []byte("{not json"), map[string]string{
				"X-SENSOR-ID": "dev-1",
			})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should answer 401 for an unknown device", func() {
			rec := sendData("ghost", []collector.ReadingInput{
				{Sensor: "temp", Kind: "temperature", RawValue: 1, Shift: 0},
			})
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("should answer 401 for a pending device", func() {
			register("dev-1")

			rec := sendData("dev-1", []collector.ReadingInput{
				{Sensor: "temp", Kind: "temperature", RawValue: 1, Shift: 0},
			})
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("should answer 400 for an invalid batch", func() {
			register("dev-1")
			approve("dev-1")

			rec := sendData("dev-1", []collector.ReadingInput{
				{Sensor: "temp", Kind: "temperature", RawValue: 1, Shift: -1},
			})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should ingest a batch for an approved device", func() {
			register("dev-1")
			approve("dev-1")

			rec := sendData("dev-1", []collector.ReadingInput{
				{Sensor: "temp", Kind: "temperature", RawValue: 5632, Shift: 8},
				{Sensor: "hum", Kind: "humidity", RawValue: 11776, Shift: 8},
			})
			Expect(rec.Code).To(Equal(http.StatusOK))

			var body map[string]any
			decode(rec, &body)
			Expect(body).To(HaveKeyWithValue("status", "ok"))
			Expect(body).To(HaveKeyWithValue("count", float64(2)))

			var readings int64
			Expect(db.Model(&collector.SensorReading{}).Count(&readings).Error).To(Succeed())
			Expect(readings).To(Equal(int64(2)))
		})
	})

	Describe("device admin endpoints", func() {
		It("should list devices with sensor counts", func() {
			register("dev-1")
			approve("dev-1")
			sendData("dev-1", []collector.ReadingInput{
				{Sensor: "temp", Kind: "temperature", RawValue: 5632, Shift: 8},
			})

			rec := do(http.MethodGet, "/api/devices", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var devices []collector.DeviceSummary
			decode(rec, &devices)
			Expect(devices).To(HaveLen(1))
			Expect(devices[0].ID).To(Equal("dev-1"))
			Expect(devices[0].Approved).To(BeTrue())
			Expect(devices[0].SensorCount).To(Equal(int64(1)))
		})

		It("should return device detail with sensors", func() {
			register("dev-1")
			approve("dev-1")
			sendData("dev-1", []collector.ReadingInput{
				{Sensor: "temp", Kind: "temperature", RawValue: 5632, Shift: 8},
			})

			rec := do(http.MethodGet, "/api/devices/dev-1", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var detail collector.DeviceDetail
			decode(rec, &detail)
			Expect(detail.Sensors).To(HaveLen(1))
			Expect(detail.Sensors[0].Name).To(Equal("temp"))
		})

		It("should answer 404 for an unknown device", func() {
			rec := do(http.MethodGet, "/api/devices/ghost", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("should answer 404 approving an unknown device", func() {
			rec := do(http.MethodPost, "/api/devices/ghost/approve", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("should delete a device and cascade to its data", func() {
			register("dev-1")
			approve("dev-1")
			sendData("dev-1", []collector.ReadingInput{
				{Sensor: "temp", Kind: "temperature", RawValue: 5632, Shift: 8},
			})

			rec := do(http.MethodDelete, "/api/devices/dev-1", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var devices, sensors, readings int64
			Expect(db.Model(&collector.Device{}).Count(&devices).Error).To(Succeed())
			Expect(db.Model(&collector.Sensor{}).Count(&sensors).Error).To(Succeed())
			Expect(db.Model(&collector.SensorReading{}).Count(&readings).Error).To(Succeed())
			Expect(devices).To(BeZero())
			Expect(sensors).To(BeZero())
			Expect(readings).To(BeZero())
		})
	})

	Describe("sensor admin endpoints", func() {
		var sensorID uint

		BeforeEach(func() {
			register("dev-1")
			approve("dev-1")
			sendData("dev-1", []collector.ReadingInput{
				{Sensor: "temp", Kind: "temperature", RawValue: 5632, Shift: 8},
			})

			var sensor collector.Sensor
			Expect(db.First(&sensor, "name = ?", "temp").Error).To(Succeed())
			sensorID = sensor.ID
		})

		It("should list sensors", func() {
			rec := do(http.MethodGet, "/api/sensors", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var sensors []collector.Sensor
			decode(rec, &sensors)
			Expect(sensors).To(HaveLen(1))
		})

		It("should return sensor detail with its reading count", func() {
			rec := do(http.MethodGet, fmt.Sprintf("/api/sensors/%d", sensorID), nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var detail collector.SensorDetail
			decode(rec, &detail)
			Expect(detail.DeviceID).To(Equal("dev-1"))
			Expect(detail.ReadingCount).To(Equal(int64(1)))
		})

		It("should answer 400 for a non-numeric sensor id", func() {
			rec := do(http.MethodGet, "/api/sensors/abc", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should answer 404 for an unknown sensor", func() {
			rec := do(http.MethodGet, fmt.Sprintf("/api/sensors/%d", sensorID+1), nil, nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("should delete a sensor and its readings", func() {
			rec := do(http.MethodDelete, fmt.Sprintf("/api/sensors/%d", sensorID), nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))

			var sensors, readings int64
			Expect(db.Model(&collector.Sensor{}).Count(&sensors).Error).To(Succeed())
			Expect(db.Model(&collector.SensorReading{}).Count(&readings).Error).To(Succeed())
			Expect(sensors).To(BeZero())
			Expect(readings).To(BeZero())
		})

		Describe("GET /api/sensors/{id}/readings", func() {
			BeforeEach(func() {
				for i := 0; i < 59; i++ {
					sendData("dev-1", []collector.ReadingInput{
						{Sensor: "temp", Kind: "temperature", RawValue: int64(i), Shift: 0},
					})
				}
			})

			It("should cap the page at 50 readings, newest first", func() {
				rec := do(http.MethodGet, fmt.Sprintf("/api/sensors/%d/readings", sensorID), nil, nil)
				Expect(rec.Code).To(Equal(http.StatusOK))

				var readings []collector.SensorReading
				decode(rec, &readings)
				Expect(readings).To(HaveLen(50))
				Expect(readings[0].RawValue).To(Equal(int64(58)))
			})

			It("should honor a smaller limit", func() {
				rec := do(http.MethodGet, fmt.Sprintf("/api/sensors/%d/readings?limit=5", sensorID), nil, nil)
				Expect(rec.Code).To(Equal(http.StatusOK))

				var readings []collector.SensorReading
				decode(rec, &readings)
				Expect(readings).To(HaveLen(5))
			})

			It("should reject a non-integer limit", func() {
				rec := do(http.MethodGet, fmt.Sprintf("/api/sensors/%d/readings?limit=many", sensorID), nil, nil)
				Expect(rec.Code).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("GET /healthz", func() {
		It("should report ok", func() {
			rec := do(http.MethodGet, "/healthz", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(strings.TrimSpace(rec.Body.String())).To(Equal(`{"status":"ok"}`))
		})
	})

	Describe("GET /metrics", func() {
		It("should expose the Prometheus endpoint", func() {
			rec := do(http.MethodGet, "/metrics", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
		})
	})
})
