package sensor

import (
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
)

type bme280 struct {
	dev *bmxx80.Dev
}

func openBME280(bus i2c.Bus, addr uint16) (Device, error) {
	dev, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		return nil, err
	}
	return &bme280{dev: dev}, nil
}

func (b *bme280) Sense() (Reading, error) {
	var env physic.Env
	if err := b.dev.Sense(&env); err != nil {
		return Reading{}, err
	}
	// env.Humidity is fixed point at 0.00001%rH.
	return Reading{
		Temperature: env.Temperature.Celsius(),
		Humidity:    float64(env.Humidity) / float64(physic.PercentRH),
	}, nil
}

func (b *bme280) Halt() error {
	return b.dev.Halt()
}
