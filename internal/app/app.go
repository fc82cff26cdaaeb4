package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/wattcode/plant-monitor/internal/clock"
	"github.com/wattcode/plant-monitor/internal/config"
	"github.com/wattcode/plant-monitor/internal/httpapi"
	"github.com/wattcode/plant-monitor/internal/metrics"
	"github.com/wattcode/plant-monitor/internal/mqtt"
	"github.com/wattcode/plant-monitor/internal/network"
	"github.com/wattcode/plant-monitor/internal/ota"
	"github.com/wattcode/plant-monitor/internal/power"
	"github.com/wattcode/plant-monitor/internal/sensor"
	"github.com/wattcode/plant-monitor/internal/store"
)

type Networker interface {
	Connect(ctx context.Context) (net.IP, error)
}

// builder creates the per-wake services. The returned func releases them.
type builder func(ctx context.Context) (*Cycle, func())

type App struct {
	cfg     config.Config
	version string
	logger  *slog.Logger
	status  *Status

	network Networker
	build   builder
	sleep   func(ctx context.Context, d time.Duration) error
	metrics *metrics.Pusher
}

func New(cfg config.Config, version string, logger *slog.Logger) *App {
	a := &App{
		cfg:     cfg,
		version: version,
		logger:  logger,
		status:  &Status{},
		network: network.NewManager(network.Options{
			SSID:         cfg.WiFiSSID,
			Password:     cfg.WiFiPassword,
			Interface:    cfg.NetworkInterface,
			PollInterval: cfg.NetworkPollInterval,
			Timeout:      cfg.NetworkTimeout,
		}, logger),
		sleep: sleepContext,
	}
	a.build = a.buildServices
	if cfg.RunOnce {
		// The process exits instead; a timer starts the next wake.
		a.sleep = func(context.Context, time.Duration) error { return nil }
	}
	if cfg.PushgatewayURL != "" {
		a.metrics = metrics.NewPusher(cfg.PushgatewayURL, cfg.DeviceHostname)
	}
	return a
}

func (a *App) Status() *Status {
	return a.status
}

func Run(ctx context.Context, cfg config.Config, version string) error {
	slog.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"hostname", cfg.DeviceHostname,
		"runOnce", cfg.RunOnce,
		"sleep", cfg.SleepDuration,
		"sensorDriver", cfg.SensorDriver,
		"i2cBus", cfg.I2CBus,
		"sensorAddress", fmt.Sprintf("0x%02x", cfg.SensorAddress),
		"voltageSource", cfg.VoltageSource,
		"storeDriver", cfg.StoreDriver,
		"storePath", cfg.StorePath,
		"firebaseHost", cfg.FirebaseHost,
		"writeSizeLimit", cfg.FirebaseWriteSizeLimit,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"updateEnabled", cfg.UpdateEnabled,
		"statusAddr", cfg.StatusAddr,
	)

	if err := sensor.InitHost(); err != nil {
		// Read reports the sensor as not detected every cycle.
		slog.Error("periph host init", "error", err)
	}

	return New(cfg, version, slog.Default()).Run(ctx)
}

// Run wakes, runs one cycle and sleeps, until ctx ends. With RunOnce it
// returns after the first wake.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.StatusAddr != "" && !a.cfg.RunOnce {
		srv := httpapi.NewServer(a.cfg.StatusAddr, httpapi.NewMux(a.status))
		go func() {
			a.logger.Info("http listening", "addr", a.cfg.StatusAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("status server", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("status server shutdown", "error", err)
			}
		}()
	}

	for {
		if _, err := a.Wake(ctx); err != nil {
			return err
		}
		if a.cfg.RunOnce {
			return nil
		}
	}
}

// Wake is one full wake period: network, services, cycle, sleep. It returns
// ota.ErrUpdated instead of sleeping when a new binary was installed.
func (a *App) Wake(ctx context.Context) (Report, error) {
	a.status.set(StateIdle)

	if _, err := a.network.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return Report{}, ctx.Err()
		}
		a.status.set(StateAssociationFailed)
		a.logger.Error("network unavailable, skipping cycle", "error", err)
		return Report{}, a.enterSleep(ctx)
	}
	a.status.set(StateNetworkUp)

	cycle, release := a.build(ctx)
	a.status.set(StateServicesReady)

	a.status.set(StateCycleRunning)
	rep := cycle.Run(ctx)
	release()
	a.status.setReport(rep)
	a.pushMetrics(ctx, rep)

	if rep.Updated {
		a.logger.Info("update installed, restarting")
		return rep, ota.ErrUpdated
	}
	return rep, a.enterSleep(ctx)
}

func (a *App) enterSleep(ctx context.Context) error {
	a.status.set(StateSleeping)
	a.logger.Info("going to sleep", "duration", a.cfg.SleepDuration)
	return a.sleep(ctx, a.cfg.SleepDuration)
}

func (a *App) pushMetrics(ctx context.Context, rep Report) {
	if a.metrics == nil {
		return
	}
	pushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := a.metrics.Push(pushCtx, metrics.Cycle{
		Temperature:   float64(rep.Record.Temperature),
		Humidity:      float64(rep.Record.Humidity),
		Millivolts:    rep.Record.Voltage,
		SensorPresent: rep.SensorDetected,
		ClockSynced:   rep.ClockSynced,
		PushOK:        rep.Pushed,
		Duration:      rep.Duration,
		Epoch:         rep.Record.EpochTime,
	})
	if err != nil {
		a.logger.Warn("metrics push failed", "error", err)
	}
}

// buildServices creates fresh clients for one wake. A service that cannot
// be built is replaced by one that fails inside the cycle, so the cycle
// still runs and reports.
func (a *App) buildServices(ctx context.Context) (*Cycle, func()) {
	cfg := a.cfg
	var closers []func()
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var broker *mqtt.Client
	if cfg.StoreDriver == "mqtt" || cfg.UpdateEnabled {
		broker = mqtt.NewClient(cfg, a.logger)
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := broker.Connect(connectCtx)
		cancel()
		if err != nil {
			a.logger.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
			broker.Disconnect()
			broker = nil
		} else {
			closers = append(closers, broker.Disconnect)
		}
	}

	var sens SensorReader
	if s, err := sensor.New(cfg, a.logger); err != nil {
		sens = absentSensor{err: err}
	} else {
		sens = s
	}

	volt, err := power.NewReader(cfg)
	if err != nil {
		volt = failedVoltage{err: err}
	}

	var pub store.Publisher
	if broker != nil {
		pub = broker
	}
	var pusher store.Pusher
	if p, err := store.Open(ctx, cfg, a.logger, pub); err != nil {
		a.logger.Error("store unavailable", "driver", cfg.StoreDriver, "error", err)
		pusher = failedStore{err: err}
	} else {
		pusher = p
		closers = append(closers, func() {
			if err := p.Close(); err != nil {
				a.logger.Warn("store close", "error", err)
			}
		})
	}

	var updates UpdateHandler
	if cfg.UpdateEnabled && broker != nil {
		l := ota.NewListener(ota.Options{
			Hostname:       cfg.DeviceHostname,
			Password:       cfg.UpdatePassword,
			Target:         cfg.UpdateTarget,
			Window:         cfg.UpdateWindow,
			CurrentVersion: a.version,
		}, broker, a.logger)
		if err := l.Start(); err != nil {
			a.logger.Warn("update listener unavailable", "error", err)
		} else {
			updates = l
		}
	}

	return &Cycle{
		Sensor:       sens,
		Voltage:      volt,
		Clock:        clock.New(cfg.NTPServer, cfg.NTPTimeout),
		Store:        pusher,
		Updates:      updates,
		Path:         cfg.StorePath,
		AbsentPolicy: cfg.SensorAbsentPolicy,
		RetryDelay:   cfg.NTPRetryDelay,
		Logger:       a.logger,
	}, release
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type absentSensor struct{ err error }

func (s absentSensor) Read(context.Context) sensor.Result {
	return sensor.Result{Err: fmt.Errorf("%w: %v", sensor.ErrNotDetected, s.err)}
}

type failedVoltage struct{ err error }

func (v failedVoltage) ReadMillivolts(context.Context) (int, error) {
	return 0, v.err
}

type failedStore struct{ err error }

func (s failedStore) Push(context.Context, string, []byte) (store.PushResult, error) {
	return store.PushResult{}, fmt.Errorf("%w: %v", store.ErrPush, s.err)
}

func (s failedStore) Close() error { return nil }
