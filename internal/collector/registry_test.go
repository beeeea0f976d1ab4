package collector_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/qkb2/iot-data-collector-server/internal/collector"
)

var _ = Describe("DeviceRegistry", func() {
	var (
		ctx      context.Context
		db       *gorm.DB
		registry *collector.DeviceRegistry
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = openTestDB()

		var err error
		registry, err = collector.NewDeviceRegistry(db, testLogger())
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewDeviceRegistry", func() {
		It("should fail with nil database", func() {
			_, err := collector.NewDeviceRegistry(nil, testLogger())
			Expect(err).To(MatchError("database cannot be nil"))
		})

		It("should fail with nil logger", func() {
			_, err := collector.NewDeviceRegistry(db, nil)
			Expect(err).To(MatchError("logger cannot be nil"))
		})
	})

	Describe("Register", func() {
		It("should create an unapproved device on first registration", func() {
			status, err := registry.Register(ctx, "dev-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(collector.StatusPendingApproval))

			var device collector.Device
			Expect(db.First(&device, "id = ?", "dev-1").Error).To(Succeed())
			Expect(device.Approved).To(BeFalse())
		})

		It("should be idempotent for a pending device", func() {
			_, err := registry.Register(ctx, "dev-1")
			Expect(err).NotTo(HaveOccurred())

			status, err := registry.Register(ctx, "dev-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(collector.StatusPendingApproval))

			var count int64
			Expect(db.Model(&collector.Device{}).Count(&count).Error).To(Succeed())
			Expect(count).To(Equal(int64(1)))
		})

		It("should report already registered for an approved device", func() {
			_, err := registry.Register(ctx, "dev-1")
			Expect(err).NotTo(HaveOccurred())

			_, err = registry.Approve(ctx, "dev-1")
			Expect(err).NotTo(HaveOccurred())

			status, err := registry.Register(ctx, "dev-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(collector.StatusAlreadyRegistered))
		})
	})

	Describe("IsApproved", func() {
		It("should return ErrDeviceNotFound for an unknown device", func() {
			_, err := registry.IsApproved(ctx, "ghost")
			Expect(err).To(MatchError(collector.ErrDeviceNotFound))
		})

		It("should report false for a pending device", func() {
			_, err := registry.Register(ctx, "dev-1")
			Expect(err).NotTo(HaveOccurred())

			approved, err := registry.IsApproved(ctx, "dev-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(approved).To(BeFalse())
		})

		It("should report true for an approved device", func() {
			_, err := registry.Register(ctx, "dev-1")
			Expect(err).NotTo(HaveOccurred())
			_, err = registry.Approve(ctx, "dev-1")
			Expect(err).NotTo(HaveOccurred())

			approved, err := registry.IsApproved(ctx, "dev-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(approved).To(BeTrue())
		})
	})

	Describe("Approve", func() {
		It("should return ErrDeviceNotFound for an unknown device", func() {
			_, err := registry.Approve(ctx, "ghost")
			Expect(err).To(MatchError(collector.ErrDeviceNotFound))
		})

		It("should transition a pending device to approved", func() {
			_, err := registry.Register(ctx, "dev-1")
			Expect(err).NotTo(HaveOccurred())

			device, err := registry.Approve(ctx, "dev-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(device.Approved).To(BeTrue())
		})

		It("should be idempotent", func() {
			_, err := registry.Register(ctx, "dev-1")
			Expect(err).NotTo(HaveOccurred())

			_, err = registry.Approve(ctx, "dev-1")
			Expect(err).NotTo(HaveOccurred())

			device, err := registry.Approve(ctx, "dev-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(device.Approved).To(BeTrue())
		})
	})

	Describe("Delete", func() {
		It("should return ErrDeviceNotFound for an unknown device", func() {
			Expect(registry.Delete(ctx, "ghost")).To(MatchError(collector.ErrDeviceNotFound))
		})

		It("should cascade to sensors and readings", func() {
			_, err := registry.Register(ctx, "dev-1")
			Expect(err).NotTo(HaveOccurred())

			sensor := collector.Sensor{DeviceID: "dev-1", Name: "temp", Kind: "temperature"}
			Expect(db.Create(&sensor).Error).To(Succeed())
			Expect(db.Create(&collector.SensorReading{
				SensorID: sensor.ID,
				RawValue: 5632,
				Shift:    8,
			}).Error).To(Succeed())

			Expect(registry.Delete(ctx, "dev-1")).To(Succeed())

			var devices, sensors, readings int64
			Expect(db.Model(&collector.Device{}).Count(&devices).Error).To(Succeed())
			Expect(db.Model(&collector.Sensor{}).Count(&sensors).Error).To(Succeed())
			Expect(db.Model(&collector.SensorReading{}).Count(&readings).Error).To(Succeed())
			Expect(devices).To(BeZero())
			Expect(sensors).To(BeZero())
			Expect(readings).To(BeZero())
		})

		It("should leave other devices untouched", func() {
			_, err := registry.Register(ctx, "dev-1")
			Expect(err).NotTo(HaveOccurred())
			_, err = registry.Register(ctx, "dev-2")
			Expect(err).NotTo(HaveOccurred())

			other := collector.Sensor{DeviceID: "dev-2", Name: "hum", Kind: "humidity"}
			Expect(db.Create(&other).Error).To(Succeed())

			Expect(registry.Delete(ctx, "dev-1")).To(Succeed())

			var sensors int64
			Expect(db.Model(&collector.Sensor{}).Count(&sensors).Error).To(Succeed())
			Expect(sensors).To(Equal(int64(1)))

			approved, err := registry.IsApproved(ctx, "dev-2")
			Expect(err).NotTo(HaveOccurred())
			Expect(approved).To(BeFalse())
		})
	})
})
