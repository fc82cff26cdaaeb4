// Package sensor reads temperature and humidity from an I2C sensor.
//
// Every Read opens the bus and initializes the device from scratch; nothing
// is kept between wake cycles.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/wattcode/plant-monitor/internal/config"
)

var (
	// ErrNotDetected means the device did not answer during initialization.
	ErrNotDetected = errors.New("sensor not detected")
	// ErrReadFailed means the device initialized but a measurement failed.
	ErrReadFailed = errors.New("sensor read failed")
)

type Reading struct {
	Temperature float64
	Humidity    float64
}

// Result is a Reading tagged with its outcome. When Err is non-nil the
// Reading is the zero sentinel (0, 0).
type Result struct {
	Reading
	Err error
}

func (r Result) Detected() bool {
	return r.Err == nil
}

type Device interface {
	Sense() (Reading, error)
	Halt() error
}

type DeviceOpener func(bus i2c.Bus, addr uint16) (Device, error)

type BusOpener func(name string) (i2c.BusCloser, error)

type Sensor struct {
	driver     string
	busName    string
	addr       uint16
	openBus    BusOpener
	openDevice DeviceOpener
	logger     *slog.Logger
}

// InitHost loads the periph host drivers. Safe to call more than once.
func InitHost() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("host init: %w", err)
	}
	return nil
}

func New(cfg config.Config, logger *slog.Logger) (*Sensor, error) {
	var open DeviceOpener
	switch cfg.SensorDriver {
	case "si7021":
		open = func(bus i2c.Bus, addr uint16) (Device, error) { return NewSi7021(bus, addr) }
	case "bme280":
		open = openBME280
	default:
		return nil, fmt.Errorf("unknown sensor driver %q", cfg.SensorDriver)
	}
	return &Sensor{
		driver:     cfg.SensorDriver,
		busName:    cfg.I2CBus,
		addr:       cfg.SensorAddress,
		openBus:    i2creg.Open,
		openDevice: open,
		logger:     logger,
	}, nil
}

// WithBus replaces the bus lookup, mostly for tests.
func (s *Sensor) WithBus(open BusOpener) *Sensor {
	s.openBus = open
	return s
}

// Read never fails outright: a missing or broken sensor yields the (0, 0)
// sentinel with Err set.
func (s *Sensor) Read(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Result{Err: fmt.Errorf("%w: %v", ErrReadFailed, err)}
	}

	bus, err := s.openBus(s.busName)
	if err != nil {
		s.logger.Warn("sensor not detected", "driver", s.driver, "bus", s.busName, "error", err)
		return Result{Err: fmt.Errorf("%w: open bus %q: %v", ErrNotDetected, s.busName, err)}
	}
	defer func() {
		if err := bus.Close(); err != nil {
			s.logger.Debug("close i2c bus", "error", err)
		}
	}()

	dev, err := s.openDevice(bus, s.addr)
	if err != nil {
		s.logger.Warn("sensor not detected",
			"driver", s.driver,
			"addr", fmt.Sprintf("0x%02X", s.addr),
			"error", err,
		)
		return Result{Err: fmt.Errorf("%w: %s at 0x%02X: %v", ErrNotDetected, s.driver, s.addr, err)}
	}
	defer func() {
		if err := dev.Halt(); err != nil {
			s.logger.Debug("halt sensor", "error", err)
		}
	}()

	r, err := dev.Sense()
	if err != nil {
		s.logger.Warn("sensor read failed", "driver", s.driver, "error", err)
		return Result{Err: fmt.Errorf("%w: %v", ErrReadFailed, err)}
	}

	s.logger.Debug("sensor read", "driver", s.driver, "temperature", r.Temperature, "humidity", r.Humidity)
	return Result{Reading: r}
}
