package simulator_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/qkb2/iot-data-collector-server/pkg/simulator"
)

// fakePublisher captures AMQP payloads in place of a real broker.
type fakePublisher struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakePublisher) Push(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) all() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.payloads...)
}

var _ = Describe("Simulator", func() {
	var (
		ctx    context.Context
		logger *slog.Logger
		fleet  []simulator.DeviceProfile
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
		fleet = []simulator.DeviceProfile{
			{
				ID: "test-device",
				Sensors: []simulator.SensorProfile{
					{
						Name:  "temperature",
						Kind:  "temperature",
						Shift: 8,
						Generate: func(_ time.Time) float64 {
							return 22.0
						},
					},
				},
			},
		}
	})

	Describe("New", func() {
		It("should fail with nil config", func() {
			_, err := simulator.New(nil)
			Expect(err).To(MatchError("simulator config cannot be nil"))
		})

		It("should fail with nil logger", func() {
			_, err := simulator.New(&simulator.Config{Fleet: fleet, BaseURL: "http://localhost"})
			Expect(err).To(MatchError("logger cannot be nil"))
		})

		It("should fail with an empty fleet", func() {
			_, err := simulator.New(&simulator.Config{Logger: logger, BaseURL: "http://localhost"})
			Expect(err).To(MatchError("fleet cannot be empty"))
		})

		It("should fail with an empty base URL", func() {
			_, err := simulator.New(&simulator.Config{Logger: logger, Fleet: fleet})
			Expect(err).To(MatchError("base URL cannot be empty"))
		})
	})

	Describe("Register", func() {
		It("should send the device id as plain text and report the status", func() {
			var gotBody string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Expect(r.Method).To(Equal(http.MethodPost))
				Expect(r.URL.Path).To(Equal("/api/register"))
				body, _ := io.ReadAll(r.Body)
				gotBody = string(body)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "pending_approval"})
			}))
			defer server.Close()

			sim, err := simulator.New(&simulator.Config{
				Logger:  logger,
				Fleet:   fleet,
				BaseURL: server.URL,
			})
			Expect(err).NotTo(HaveOccurred())

			status, err := sim.Register(ctx, "test-device")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal("pending_approval"))
			Expect(gotBody).To(Equal("test-device"))
		})

		It("should report already_registered for an approved device", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "already_registered"})
			}))
			defer server.Close()

			sim, err := simulator.New(&simulator.Config{
				Logger:  logger,
				Fleet:   fleet,
				BaseURL: server.URL,
			})
			Expect(err).NotTo(HaveOccurred())

			status, err := sim.Register(ctx, "test-device")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal("already_registered"))
		})

		It("should fail on unexpected status codes", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "boom"})
			}))
			defer server.Close()

			sim, err := simulator.New(&simulator.Config{
				Logger:  logger,
				Fleet:   fleet,
				BaseURL: server.URL,
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = sim.Register(ctx, "test-device")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("SendBatch over HTTP", func() {
		It("should post the batch with the device header", func() {
			var (
				gotHeader string
				gotBatch  []simulator.Reading
			)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				Expect(r.URL.Path).To(Equal("/api/send_data"))
				gotHeader = r.Header.Get("X-SENSOR-ID")
				Expect(json.NewDecoder(r.Body).Decode(&gotBatch)).To(Succeed())

				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "count": len(gotBatch)})
			}))
			defer server.Close()

			sim, err := simulator.New(&simulator.Config{
				Logger:  logger,
				Fleet:   fleet,
				BaseURL: server.URL,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(sim.SendBatch(ctx, fleet[0])).To(Succeed())
			Expect(gotHeader).To(Equal("test-device"))
			Expect(gotBatch).To(HaveLen(1))
			Expect(gotBatch[0].Sensor).To(Equal("temperature"))
			Expect(gotBatch[0].Value).To(Equal(int64(5632)))
			Expect(gotBatch[0].Shift).To(Equal(8))
		})

		It("should tolerate an unapproved device", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "device not registered or not approved"})
			}))
			defer server.Close()

			sim, err := simulator.New(&simulator.Config{
				Logger:  logger,
				Fleet:   fleet,
				BaseURL: server.URL,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(sim.SendBatch(ctx, fleet[0])).To(Succeed())
		})

		It("should fail on server errors", func() {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			}))
			defer server.Close()

			sim, err := simulator.New(&simulator.Config{
				Logger:  logger,
				Fleet:   fleet,
				BaseURL: server.URL,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(sim.SendBatch(ctx, fleet[0])).To(HaveOccurred())
		})
	})

	Describe("SendBatch over AMQP", func() {
		It("should publish the envelope instead of posting", func() {
			publisher := &fakePublisher{}

			sim, err := simulator.New(&simulator.Config{
				Logger:    logger,
				Fleet:     fleet,
				BaseURL:   "http://collector.invalid",
				Publisher: publisher,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(sim.SendBatch(ctx, fleet[0])).To(Succeed())

			payloads := publisher.all()
			Expect(payloads).To(HaveLen(1))

			var msg struct {
				DeviceID string              `json:"device_id"`
				Values   []simulator.Reading `json:"values"`
			}
			Expect(json.Unmarshal(payloads[0], &msg)).To(Succeed())
			Expect(msg.DeviceID).To(Equal("test-device"))
			Expect(msg.Values).To(HaveLen(1))
			Expect(msg.Values[0].Value).To(Equal(int64(5632)))
		})
	})

	Describe("RunOnce", func() {
		It("should send one batch per fleet device", func() {
			var mu sync.Mutex
			devices := map[string]int{}
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				devices[r.Header.Get("X-SENSOR-ID")]++
				mu.Unlock()
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "count": 1})
			}))
			defer server.Close()

			multi := append(fleet, simulator.DeviceProfile{
				ID:      "second-device",
				Sensors: fleet[0].Sensors,
			})

			sim, err := simulator.New(&simulator.Config{
				Logger:  logger,
				Fleet:   multi,
				BaseURL: server.URL,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(sim.RunOnce(ctx)).To(Succeed())
			Expect(devices).To(HaveLen(2))
			Expect(devices["test-device"]).To(Equal(1))
			Expect(devices["second-device"]).To(Equal(1))
		})
	})
})
