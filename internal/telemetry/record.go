// Package telemetry holds the record the device uploads once per wake cycle.
package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Decimal is a float that always serializes with a fractional part, so a
// humidity of 44 goes over the wire as 44.0 like the field firmware sends it.
type Decimal float64

func (d Decimal) MarshalJSON() ([]byte, error) {
	f := float64(d)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("telemetry: unsupported value %v", f)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return []byte(s), nil
}

// Record is one reading. Field order is the wire order.
type Record struct {
	// EpochTime goes out as a JSON string so the store never rounds it.
	EpochTime   int64   `json:"epoch_time,string"`
	Temperature Decimal `json:"temperature"`
	Humidity    Decimal `json:"humidity"`
	// Voltage is the supply rail in millivolts.
	Voltage int `json:"voltage"`
}

func New(epoch int64, temperature, humidity float64, millivolts int) Record {
	return Record{
		EpochTime:   epoch,
		Temperature: Decimal(temperature),
		Humidity:    Decimal(humidity),
		Voltage:     millivolts,
	}
}

// Marshal returns the compact body pushed to the store.
func (r Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}
