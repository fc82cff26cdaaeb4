package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/wattcode/plant-monitor/internal/clock"
	"github.com/wattcode/plant-monitor/internal/config"
	"github.com/wattcode/plant-monitor/internal/ota"
	"github.com/wattcode/plant-monitor/internal/power"
	"github.com/wattcode/plant-monitor/internal/sensor"
	"github.com/wattcode/plant-monitor/internal/store"
	"github.com/wattcode/plant-monitor/internal/telemetry"
)

type SensorReader interface {
	Read(ctx context.Context) sensor.Result
}

type Clock interface {
	clock.Updater
	Epoch() int64
	Synced() bool
}

type UpdateHandler interface {
	Handle(ctx context.Context) error
	Events() <-chan ota.Event
}

// Report is what one cycle did.
type Report struct {
	Started        time.Time        `json:"started"`
	Duration       time.Duration    `json:"duration_ns"`
	Record         telemetry.Record `json:"record"`
	SensorDetected bool             `json:"sensor_detected"`
	SensorError    string           `json:"sensor_error,omitempty"`
	VoltageError   string           `json:"voltage_error,omitempty"`
	ClockSynced    bool             `json:"clock_synced"`
	ClockAttempts  int              `json:"clock_attempts"`
	Pushed         bool             `json:"pushed"`
	Skipped        bool             `json:"skipped,omitempty"`
	Push           store.PushResult `json:"push"`
	PushError      string           `json:"push_error,omitempty"`
	Updated        bool             `json:"updated,omitempty"`
	UpdateError    string           `json:"update_error,omitempty"`
}

// Cycle is one acquisition-and-report pass: service a pending update, read
// the sensor and the supply, refresh the clock, push one record.
type Cycle struct {
	Sensor  SensorReader
	Voltage power.Reader
	Clock   Clock
	Store   store.Pusher
	// Updates may be nil when remote update is off.
	Updates      UpdateHandler
	Path         string
	AbsentPolicy string
	RetryDelay   time.Duration
	Logger       *slog.Logger

	now func() time.Time
}

// Run never fails; every error ends up in the report and on the console.
func (c *Cycle) Run(ctx context.Context) (rep Report) {
	now := c.now
	if now == nil {
		now = time.Now
	}
	rep.Started = now()
	defer func() { rep.Duration = now().Sub(rep.Started) }()

	if c.Updates != nil {
		err := c.Updates.Handle(ctx)
		c.logUpdateEvents()
		switch {
		case err == nil:
		case errors.Is(err, ota.ErrUpdated):
			rep.Updated = true
		default:
			rep.UpdateError = err.Error()
			c.Logger.Warn("update failed", "error", err)
		}
	}

	res := c.Sensor.Read(ctx)
	rep.SensorDetected = res.Detected()
	if res.Err != nil {
		rep.SensorError = res.Err.Error()
	}

	mv, err := c.Voltage.ReadMillivolts(ctx)
	if err != nil {
		c.Logger.Warn("voltage read failed", "error", err)
		rep.VoltageError = err.Error()
		mv = 0
	}

	attempts, err := clock.RefreshWithRetry(ctx, c.Clock, c.RetryDelay)
	rep.ClockAttempts = attempts
	if err != nil {
		c.Logger.Warn("clock update failed, using held time", "attempts", attempts, "error", err)
	}
	rep.ClockSynced = c.Clock.Synced()

	rep.Record = telemetry.New(c.Clock.Epoch(), res.Temperature, res.Humidity, mv)
	body, err := rep.Record.Marshal()
	if err != nil {
		rep.PushError = err.Error()
		c.Logger.Error("FAILED", "reason", err.Error())
		return rep
	}
	c.Logger.Info("record", "body", string(body))

	if !rep.SensorDetected && c.AbsentPolicy == config.SensorAbsentSkip {
		rep.Skipped = true
		c.Logger.Warn("SKIPPED", "reason", "sensor not detected")
		return rep
	}

	pushed, err := c.Store.Push(ctx, c.Path, body)
	if err != nil {
		rep.PushError = pushReason(err)
		c.Logger.Error("FAILED", "reason", rep.PushError)
		return rep
	}
	rep.Pushed = true
	rep.Push = pushed
	c.Logger.Info("PASSED", "path", pushed.Path, "push_name", pushed.Name, "etag", pushed.ETag)
	return rep
}

func (c *Cycle) logUpdateEvents() {
	for {
		select {
		case e := <-c.Updates.Events():
			switch e.Type {
			case ota.EventStart:
				c.Logger.Info("Start")
			case ota.EventProgress:
				c.Logger.Debug("Progress", "percent", e.Percent())
			case ota.EventEnd:
				c.Logger.Info("End")
			case ota.EventError:
				c.Logger.Error("Error", "kind", e.Kind.String(), "error", e.Err)
			}
		default:
			return
		}
	}
}

func pushReason(err error) string {
	return strings.TrimPrefix(err.Error(), store.ErrPush.Error()+": ")
}
