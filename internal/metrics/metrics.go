// Package metrics pushes the outcome of a wake cycle to a Prometheus
// Pushgateway. The device is asleep most of the time, so it cannot be
// scraped.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const job = "plant_monitor"

// Cycle is what one wake cycle measured and how it went.
type Cycle struct {
	Temperature   float64
	Humidity      float64
	Millivolts    int
	SensorPresent bool
	ClockSynced   bool
	PushOK        bool
	Duration      time.Duration
	Epoch         int64
}

type Pusher struct {
	url    string
	device string

	temperature   prometheus.Gauge
	humidity      prometheus.Gauge
	voltage       prometheus.Gauge
	sensorPresent prometheus.Gauge
	clockSynced   prometheus.Gauge
	pushOK        prometheus.Gauge
	duration      prometheus.Gauge
	lastCycle     prometheus.Gauge

	registry *prometheus.Registry
}

func NewPusher(url, device string) *Pusher {
	p := &Pusher{
		url:    url,
		device: device,
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_temperature_celsius",
			Help: "Air temperature read in the last cycle.",
		}),
		humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_humidity_percent",
			Help: "Relative humidity read in the last cycle.",
		}),
		voltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_supply_volts",
			Help: "Supply voltage read in the last cycle.",
		}),
		sensorPresent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_sensor_present",
			Help: "1 when the sensor answered in the last cycle.",
		}),
		clockSynced: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_clock_synced",
			Help: "1 when the clock was synced over NTP in the last cycle.",
		}),
		pushOK: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_push_ok",
			Help: "1 when the record reached the store in the last cycle.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_cycle_duration_seconds",
			Help: "Wall time of the last cycle.",
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "greenhouse_last_cycle_epoch_seconds",
			Help: "Record epoch of the last cycle.",
		}),
		registry: prometheus.NewRegistry(),
	}
	p.registry.MustRegister(
		p.temperature,
		p.humidity,
		p.voltage,
		p.sensorPresent,
		p.clockSynced,
		p.pushOK,
		p.duration,
		p.lastCycle,
	)
	return p
}

// Push replaces the device's metric group on the gateway with c.
func (p *Pusher) Push(ctx context.Context, c Cycle) error {
	p.temperature.Set(c.Temperature)
	p.humidity.Set(c.Humidity)
	p.voltage.Set(float64(c.Millivolts) / 1000)
	p.sensorPresent.Set(boolGauge(c.SensorPresent))
	p.clockSynced.Set(boolGauge(c.ClockSynced))
	p.pushOK.Set(boolGauge(c.PushOK))
	p.duration.Set(c.Duration.Seconds())
	p.lastCycle.Set(float64(c.Epoch))

	return push.New(p.url, job).
		Gatherer(p.registry).
		Grouping("device", p.device).
		PushContext(ctx)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
