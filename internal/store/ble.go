// BLE advertising for a gateway in radio range.
// Manufacturer data format: [0:2] magic 0x01 0xD0, [2:6] epoch uint32 LE,
// [6:10] temp float32 LE, [10:14] humidity float32 LE, [14:16] millivolts
// uint16 LE (16 bytes total).

package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/wattcode/plant-monitor/internal/telemetry"
)

const (
	blePayloadMagic0 = 0x01
	blePayloadMagic1 = 0xD0
	blePayloadLen    = 16

	bleCompanyID         = 0xFFFF
	bleAdvertiseInterval = 100 * time.Millisecond
	bleAdvertiseDuration = 2 * time.Second
)

type advertiser interface {
	Configure(options bluetooth.AdvertisementOptions) error
	Start() error
	Stop() error
}

// BLE broadcasts each document as a short burst of non-connectable
// advertisements. Nothing acknowledges receipt.
type BLE struct {
	localName string
	adv       advertiser
	duration  time.Duration
	logger    *slog.Logger
}

func NewBLE(localName string, logger *slog.Logger) (*BLE, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enable bluetooth adapter: %w", err)
	}
	return newBLE(localName, adapter.DefaultAdvertisement(), bleAdvertiseDuration, logger), nil
}

func newBLE(localName string, adv advertiser, duration time.Duration, logger *slog.Logger) *BLE {
	return &BLE{localName: localName, adv: adv, duration: duration, logger: logger}
}

func (b *BLE) Push(ctx context.Context, path string, body []byte) (PushResult, error) {
	var rec telemetry.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return PushResult{}, pushError("decode record: %v", err)
	}
	payload, err := EncodeBLEPayload(rec)
	if err != nil {
		return PushResult{}, pushError("%v", err)
	}
	name, err := newName()
	if err != nil {
		return PushResult{}, pushError("generate name: %v", err)
	}

	err = b.adv.Configure(bluetooth.AdvertisementOptions{
		AdvertisementType: bluetooth.AdvertisingTypeNonConnInd,
		LocalName:         b.localName,
		Interval:          bluetooth.NewDuration(bleAdvertiseInterval),
		ManufacturerData: []bluetooth.ManufacturerDataElement{
			{CompanyID: bleCompanyID, Data: payload},
		},
	})
	if err != nil {
		return PushResult{}, pushError("configure advertisement: %v", err)
	}
	if err := b.adv.Start(); err != nil {
		_ = b.adv.Stop()
		return PushResult{}, pushError("start advertisement: %v", err)
	}

	t := time.NewTimer(b.duration)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
	if err := b.adv.Stop(); err != nil {
		b.logger.Warn("ble advertisement stop", "error", err)
	}
	if err := ctx.Err(); err != nil {
		return PushResult{}, pushError("%v", err)
	}

	b.logger.Debug("ble advertised", "payload", fmt.Sprintf("% X", payload))
	return PushResult{Path: path, Name: name, ETag: etag(payload)}, nil
}

func (b *BLE) Close() error {
	return nil
}

// EncodeBLEPayload packs rec into the manufacturer data layout.
func EncodeBLEPayload(rec telemetry.Record) ([]byte, error) {
	if rec.EpochTime < 0 || rec.EpochTime > math.MaxUint32 {
		return nil, fmt.Errorf("epoch %d does not fit uint32", rec.EpochTime)
	}
	if rec.Voltage < 0 || rec.Voltage > math.MaxUint16 {
		return nil, fmt.Errorf("voltage %d mV does not fit uint16", rec.Voltage)
	}
	buf := make([]byte, blePayloadLen)
	buf[0] = blePayloadMagic0
	buf[1] = blePayloadMagic1
	binary.LittleEndian.PutUint32(buf[2:6], uint32(rec.EpochTime))
	binary.LittleEndian.PutUint32(buf[6:10], math.Float32bits(float32(rec.Temperature)))
	binary.LittleEndian.PutUint32(buf[10:14], math.Float32bits(float32(rec.Humidity)))
	binary.LittleEndian.PutUint16(buf[14:16], uint16(rec.Voltage))
	return buf, nil
}

// DecodeBLEPayload is the gateway side of EncodeBLEPayload.
func DecodeBLEPayload(data []byte) (telemetry.Record, error) {
	if len(data) < blePayloadLen {
		return telemetry.Record{}, fmt.Errorf("payload too short: %d bytes", len(data))
	}
	if data[0] != blePayloadMagic0 || data[1] != blePayloadMagic1 {
		return telemetry.Record{}, fmt.Errorf("bad payload magic % X", data[:2])
	}
	return telemetry.New(
		int64(binary.LittleEndian.Uint32(data[2:6])),
		float64(math.Float32frombits(binary.LittleEndian.Uint32(data[6:10]))),
		float64(math.Float32frombits(binary.LittleEndian.Uint32(data[10:14]))),
		int(binary.LittleEndian.Uint16(data[14:16])),
	), nil
}
