// Package simulator generates realistic device traffic against a collector
// instance: a fleet of device profiles with per-sensor value generators,
// encoded as fixed-point samples the way real field firmware encodes them.
package simulator

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/qkb2/iot-data-collector-server/pkg/fixedpoint"
)

// SensorProfile describes one simulated sensor: its identity and a generator
// producing the physical value at a given wall-clock time.
type SensorProfile struct {
	Name     string
	Kind     string
	Shift    uint
	Generate func(t time.Time) float64
}

// Sample produces the wire form (raw value, shift) of the sensor at time t.
func (p SensorProfile) Sample(t time.Time) (int64, int) {
	value := p.Generate(t)
	return int64(value * fixedpoint.Scale(p.Shift)), int(p.Shift)
}

// DeviceProfile is a simulated device and its sensors.
type DeviceProfile struct {
	ID      string
	Sensors []SensorProfile
}

// Temperature returns a Celsius generator with a daily cycle peaking in the
// early afternoon.
func Temperature(base, variation float64) SensorProfile {
	return SensorProfile{
		Name:  "temperature",
		Kind:  "temperature",
		Shift: 8,
		Generate: func(t time.Time) float64 {
			hour := float64(t.Hour())
			daily := variation * math.Sin((hour-6)*math.Pi/12)
			return base + daily + rand.NormFloat64()*0.5
		},
	}
}

// Humidity returns a relative-humidity generator clamped to a realistic
// range.
func Humidity(base, variation float64) SensorProfile {
	return SensorProfile{
		Name:  "humidity",
		Kind:  "humidity",
		Shift: 8,
		Generate: func(_ time.Time) float64 {
			return clamp(base+rand.NormFloat64()*variation/3, 20, 95)
		},
	}
}

// Pressure returns a slow-moving atmospheric pressure generator in hPa.
func Pressure(base float64) SensorProfile {
	return SensorProfile{
		Name:  "pressure",
		Kind:  "pressure",
		Shift: 4,
		Generate: func(_ time.Time) float64 {
			return base + rand.NormFloat64()*5
		},
	}
}

// Light returns a lux generator following the daylight cycle.
func Light() SensorProfile {
	return SensorProfile{
		Name:  "light",
		Kind:  "light",
		Shift: 4,
		Generate: func(t time.Time) float64 {
			hour := float64(t.Hour())
			base := 10.0
			if hour >= 6 && hour < 20 {
				base = 500 + math.Sin((hour-6)*math.Pi/14)*800
			}
			return math.Max(0, base+rand.NormFloat64()*50)
		},
	}
}

// Motion returns a binary occupancy generator, busier during work hours.
func Motion(probability float64) SensorProfile {
	return SensorProfile{
		Name:  "motion",
		Kind:  "motion",
		Shift: 0,
		Generate: func(t time.Time) float64 {
			prob := probability * 0.5
			if h := t.Hour(); h >= 8 && h < 18 {
				prob = probability * 1.5
			}
			if rand.Float64() < prob {
				return 1
			}
			return 0
		},
	}
}

// CO2 returns a ppm generator that builds up during occupied hours.
func CO2(base float64) SensorProfile {
	return SensorProfile{
		Name:  "co2",
		Kind:  "air_quality",
		Shift: 4,
		Generate: func(t time.Time) float64 {
			if h := t.Hour(); h >= 9 && h < 17 {
				return math.Max(350, base+200+rand.NormFloat64()*50)
			}
			return math.Max(350, base+rand.NormFloat64()*20)
		},
	}
}

// Voltage returns a supply-voltage generator for battery monitoring.
func Voltage(nominal, variation float64) SensorProfile {
	return SensorProfile{
		Name:  "voltage",
		Kind:  "voltage",
		Shift: 10,
		Generate: func(_ time.Time) float64 {
			return clamp(nominal+rand.NormFloat64()*variation, 2.5, 4.2*nominal/3.3)
		},
	}
}

// SoilMoisture returns a percentage generator for greenhouse devices.
func SoilMoisture(base float64) SensorProfile {
	return SensorProfile{
		Name:  "soil_moisture",
		Kind:  "moisture",
		Shift: 8,
		Generate: func(_ time.Time) float64 {
			return clamp(base+rand.NormFloat64()*10-2, 10, 100)
		},
	}
}

// DefaultFleet returns the standard simulated fleet.
func DefaultFleet() []DeviceProfile {
	return []DeviceProfile{
		{
			ID: "weather-station-01",
			Sensors: []SensorProfile{
				Temperature(22, 8), Humidity(55, 15), Pressure(1013), Light(),
			},
		},
		{
			ID: "weather-station-02",
			Sensors: []SensorProfile{
				Temperature(20, 10), Humidity(60, 20), Pressure(1015),
			},
		},
		{
			ID: "smart-home-living-room",
			Sensors: []SensorProfile{
				Temperature(23, 2), Humidity(45, 10), Motion(0.4), Light(), CO2(450),
			},
		},
		{
			ID: "greenhouse-monitor",
			Sensors: []SensorProfile{
				Temperature(25, 5), Humidity(70, 15), SoilMoisture(65), Light(),
			},
		},
		{
			ID: "industrial-sensor-01",
			Sensors: []SensorProfile{
				Temperature(30, 15), Voltage(12.0, 0.5),
			},
		},
	}
}

// sensorPool holds the constructors RandomFleet draws from.
var sensorPool = []func() SensorProfile{
	func() SensorProfile { return Temperature(18+rand.Float64()*12, 2+rand.Float64()*10) },
	func() SensorProfile { return Humidity(40+rand.Float64()*30, 10+rand.Float64()*10) },
	func() SensorProfile { return Pressure(1005 + rand.Float64()*20) },
	func() SensorProfile { return Light() },
	func() SensorProfile { return Motion(0.2 + rand.Float64()*0.4) },
	func() SensorProfile { return CO2(400 + rand.Float64()*150) },
	func() SensorProfile { return Voltage(3.3, 0.1) },
}

// RandomFleet builds n devices with randomized identities and sensor sets,
// for load testing beyond the fixed default fleet.
func RandomFleet(n int) []DeviceProfile {
	fleet := make([]DeviceProfile, 0, n)
	for i := 0; i < n; i++ {
		count := 2 + rand.Intn(4)
		picks := rand.Perm(len(sensorPool))[:count]

		sensors := make([]SensorProfile, 0, count)
		for _, p := range picks {
			sensors = append(sensors, sensorPool[p]())
		}

		fleet = append(fleet, DeviceProfile{
			ID:      fmt.Sprintf("%s-%s-%02d", strings.ToLower(gofakeit.AdjectiveDescriptive()), strings.ToLower(gofakeit.NounConcrete()), i+1),
			Sensors: sensors,
		})
	}
	return fleet
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
