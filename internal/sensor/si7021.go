package sensor

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
)

const (
	si7021CmdMeasureRH   = 0xE5 // hold master
	si7021CmdMeasureTemp = 0xE3 // hold master
	si7021CmdReset       = 0xFE
	si7021CmdReadUserReg = 0xE7

	si7021UserRegDefault = 0x3A
)

// Time the part needs after a soft reset.
var si7021ResetDelay = 50 * time.Millisecond

type Si7021 struct {
	dev i2c.Dev
}

// NewSi7021 resets the part and checks its user register, which reads 0x3A
// after reset. Any other answer means there is no Si7021 at addr.
func NewSi7021(bus i2c.Bus, addr uint16) (*Si7021, error) {
	d := &Si7021{dev: i2c.Dev{Bus: bus, Addr: addr}}

	if err := d.dev.Tx([]byte{si7021CmdReset}, nil); err != nil {
		return nil, fmt.Errorf("si7021 reset: %w", err)
	}
	time.Sleep(si7021ResetDelay)

	var reg [1]byte
	if err := d.dev.Tx([]byte{si7021CmdReadUserReg}, reg[:]); err != nil {
		return nil, fmt.Errorf("si7021 read user register: %w", err)
	}
	if reg[0] != si7021UserRegDefault {
		return nil, fmt.Errorf("si7021 user register = 0x%02X, want 0x%02X", reg[0], si7021UserRegDefault)
	}
	return d, nil
}

func (d *Si7021) Sense() (Reading, error) {
	rh, err := d.measure(si7021CmdMeasureRH)
	if err != nil {
		return Reading{}, fmt.Errorf("si7021 humidity: %w", err)
	}
	t, err := d.measure(si7021CmdMeasureTemp)
	if err != nil {
		return Reading{}, fmt.Errorf("si7021 temperature: %w", err)
	}

	humidity := 125*float64(rh)/65536 - 6
	if humidity < 0 {
		humidity = 0
	} else if humidity > 100 {
		humidity = 100
	}
	return Reading{
		Temperature: 175.72*float64(t)/65536 - 46.85,
		Humidity:    humidity,
	}, nil
}

func (d *Si7021) Halt() error {
	return nil
}

func (d *Si7021) measure(cmd byte) (uint16, error) {
	var buf [3]byte
	if err := d.dev.Tx([]byte{cmd}, buf[:]); err != nil {
		return 0, err
	}
	if got := crc8(buf[:2]); got != buf[2] {
		return 0, fmt.Errorf("crc mismatch: got 0x%02X, want 0x%02X", buf[2], got)
	}
	return uint16(buf[0])<<8 | uint16(buf[1]), nil
}

// crc8 is the Si70xx checksum: polynomial x^8+x^5+x^4+1, init 0.
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
