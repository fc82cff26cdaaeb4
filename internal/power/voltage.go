// Package power reads the supply rail voltage in millivolts.
package power

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"

	"github.com/wattcode/plant-monitor/internal/config"
)

type Reader interface {
	ReadMillivolts(ctx context.Context) (int, error)
}

func NewReader(cfg config.Config) (Reader, error) {
	switch cfg.VoltageSource {
	case "sysfs":
		return SysfsReader{Path: cfg.VoltageSysfsPath}, nil
	case "ads1115":
		ch, err := ads1115Channel(cfg.VoltageChannel)
		if err != nil {
			return nil, err
		}
		return &ADS1115Reader{
			BusName: cfg.I2CBus,
			Channel: ch,
			Ratio:   cfg.VoltageDividerRatio,
			openBus: i2creg.Open,
		}, nil
	case "fixed":
		return Fixed(cfg.VoltageFixedMillivolts), nil
	default:
		return nil, fmt.Errorf("unknown voltage source %q", cfg.VoltageSource)
	}
}

// SysfsReader reads a power_supply style attribute holding microvolts.
type SysfsReader struct {
	Path string
}

func (s SysfsReader) ReadMillivolts(context.Context) (int, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", s.Path, err)
	}
	uv, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", s.Path, err)
	}
	return int((uv + 500) / 1000), nil
}

// Fixed reports a constant, for bench setups without a measurable rail.
type Fixed int

func (f Fixed) ReadMillivolts(context.Context) (int, error) {
	return int(f), nil
}

// ADS1115Reader samples one single-ended ADS1115 input behind a resistor
// divider. Ratio is Vsupply / Vpin.
type ADS1115Reader struct {
	BusName string
	Channel ads1x15.Channel
	Ratio   float64

	openBus func(name string) (i2c.BusCloser, error)
}

func (a *ADS1115Reader) ReadMillivolts(context.Context) (int, error) {
	bus, err := a.openBus(a.BusName)
	if err != nil {
		return 0, fmt.Errorf("open i2c bus %q: %w", a.BusName, err)
	}
	defer bus.Close()

	adc, err := ads1x15.NewADS1115(bus, &ads1x15.DefaultOpts)
	if err != nil {
		return 0, fmt.Errorf("ads1115: %w", err)
	}
	defer adc.Halt()

	pin, err := adc.PinForChannel(a.Channel, 5*physic.Volt, 1*physic.Hertz, ads1x15.SaveEnergy)
	if err != nil {
		return 0, fmt.Errorf("ads1115 channel: %w", err)
	}
	defer pin.Halt()

	sample, err := pin.Read()
	if err != nil {
		return 0, fmt.Errorf("ads1115 read: %w", err)
	}
	return scaleMillivolts(sample.V, a.Ratio), nil
}

func scaleMillivolts(v physic.ElectricPotential, ratio float64) int {
	return int(math.Round(float64(v) / float64(physic.MilliVolt) * ratio))
}

func ads1115Channel(n int) (ads1x15.Channel, error) {
	switch n {
	case 0:
		return ads1x15.Channel0, nil
	case 1:
		return ads1x15.Channel1, nil
	case 2:
		return ads1x15.Channel2, nil
	case 3:
		return ads1x15.Channel3, nil
	default:
		return 0, fmt.Errorf("ads1115 channel %d out of range 0-3", n)
	}
}
