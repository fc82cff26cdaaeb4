package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Deployment values baked into the binary. Set with
// -ldflags "-X github.com/wattcode/plant-monitor/internal/config.firebaseHost=...".
// Environment variables of the same meaning take precedence.
var (
	deviceHostname = "greenhouse"
	wifiSSID       = ""
	wifiPassword   = ""
	firebaseHost   = ""
	firebaseAuth   = ""
	updatePassword = ""
)

const (
	SensorAbsentPush = "push"
	SensorAbsentSkip = "skip"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	DeviceHostname string
	RunOnce        bool
	SleepDuration  time.Duration
	StatusAddr     string

	WiFiSSID            string
	WiFiPassword        string
	NetworkInterface    string
	NetworkPollInterval time.Duration
	NetworkTimeout      time.Duration

	NTPServer     string
	NTPTimeout    time.Duration
	NTPRetryDelay time.Duration

	SensorDriver       string
	I2CBus             string
	SensorAddress      uint16
	SensorAbsentPolicy string

	VoltageSource          string
	VoltageSysfsPath       string
	VoltageChannel         int
	VoltageDividerRatio    float64
	VoltageFixedMillivolts int

	StoreDriver            string
	StorePath              string
	FirebaseHost           string
	FirebaseAuth           string
	FirebaseWriteSizeLimit string
	FirebaseRequestTimeout time.Duration
	// TransportBufferSize is used for both the read and the write buffer.
	TransportBufferSize int
	ResponseSize        int
	SQLitePath          string
	KafkaBrokers        []string

	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string

	UpdateEnabled  bool
	UpdatePassword string
	UpdateWindow   time.Duration
	UpdateTarget   string

	PushgatewayURL string
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:   appEnv,
		LogLevel: level,

		DeviceHostname: envString("DEVICE_HOSTNAME", deviceHostname),
		StatusAddr:     envString("STATUS_ADDR", ""),

		WiFiSSID:         envString("WIFI_SSID", wifiSSID),
		WiFiPassword:     envString("WIFI_PASSWORD", wifiPassword),
		NetworkInterface: envString("NETWORK_INTERFACE", ""),

		NTPServer: envString("NTP_SERVER", "pool.ntp.org"),

		SensorDriver:       strings.ToLower(envString("SENSOR_DRIVER", "si7021")),
		I2CBus:             envString("I2C_BUS", ""),
		SensorAbsentPolicy: strings.ToLower(envString("SENSOR_ABSENT_POLICY", SensorAbsentPush)),

		VoltageSource:    strings.ToLower(envString("VOLTAGE_SOURCE", "sysfs")),
		VoltageSysfsPath: envString("VOLTAGE_SYSFS_PATH", "/sys/class/power_supply/BAT0/voltage_now"),

		StoreDriver:            strings.ToLower(envString("STORE_DRIVER", "firebase")),
		StorePath:              envString("STORE_PATH", "/greenhouse/data_v2"),
		FirebaseHost:           envString("FIREBASE_HOST", firebaseHost),
		FirebaseAuth:           envString("FIREBASE_AUTH", firebaseAuth),
		FirebaseWriteSizeLimit: strings.ToLower(envString("FIREBASE_WRITE_SIZE_LIMIT", "tiny")),
		SQLitePath:             envString("SQLITE_PATH", "data/greenhouse.db"),
		KafkaBrokers:           splitList(envString("KAFKA_BROKERS", "localhost:9092")),

		MQTTBroker:   envString("MQTT_BROKER", "localhost"),
		MQTTClientID: envString("MQTT_CLIENT_ID", ""),

		UpdatePassword: envString("UPDATE_PASSWORD", updatePassword),
		UpdateTarget:   envString("UPDATE_TARGET", ""),

		PushgatewayURL: envString("PUSHGATEWAY_URL", ""),
	}
	if cfg.MQTTClientID == "" {
		cfg.MQTTClientID = "plant-monitor-" + cfg.DeviceHostname
	}

	if cfg.RunOnce, err = envBool("RUN_ONCE", false); err != nil {
		return Config{}, err
	}
	if cfg.UpdateEnabled, err = envBool("UPDATE_ENABLED", true); err != nil {
		return Config{}, err
	}

	durations := []struct {
		key  string
		def  string
		dst  *time.Duration
		zero bool
	}{
		// 3.6e9 microseconds in the field firmware.
		{key: "SLEEP_DURATION", def: "1h", dst: &cfg.SleepDuration},
		{key: "NETWORK_POLL_INTERVAL", def: "300ms", dst: &cfg.NetworkPollInterval},
		{key: "NETWORK_TIMEOUT", def: "2m", dst: &cfg.NetworkTimeout},
		{key: "NTP_TIMEOUT", def: "2s", dst: &cfg.NTPTimeout},
		{key: "NTP_RETRY_DELAY", def: "300ms", dst: &cfg.NTPRetryDelay, zero: true},
		{key: "FIREBASE_REQUEST_TIMEOUT", def: "15s", dst: &cfg.FirebaseRequestTimeout},
		{key: "UPDATE_WINDOW", def: "2s", dst: &cfg.UpdateWindow, zero: true},
	}
	for _, d := range durations {
		v, err := envDuration(d.key, d.def, d.zero)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	ints := []struct {
		key string
		def string
		dst *int
	}{
		{key: "VOLTAGE_CHANNEL", def: "0", dst: &cfg.VoltageChannel},
		{key: "VOLTAGE_FIXED_MV", def: "3300", dst: &cfg.VoltageFixedMillivolts},
		{key: "TRANSPORT_BUFFER_SIZE", def: "1024", dst: &cfg.TransportBufferSize},
		{key: "RESPONSE_SIZE", def: "1024", dst: &cfg.ResponseSize},
		{key: "MQTT_PORT", def: "1883", dst: &cfg.MQTTPort},
	}
	for _, i := range ints {
		s := envString(i.key, i.def)
		v, err := strconv.Atoi(s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", i.key, s, err)
		}
		if v < 0 {
			return Config{}, fmt.Errorf("%s must not be negative, got %d", i.key, v)
		}
		*i.dst = v
	}

	ratioStr := envString("VOLTAGE_DIVIDER_RATIO", "1")
	cfg.VoltageDividerRatio, err = strconv.ParseFloat(ratioStr, 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid VOLTAGE_DIVIDER_RATIO %q: %w", ratioStr, err)
	}
	if cfg.VoltageDividerRatio <= 0 {
		return Config{}, fmt.Errorf("VOLTAGE_DIVIDER_RATIO must be positive, got %v", cfg.VoltageDividerRatio)
	}

	switch cfg.SensorDriver {
	case "si7021", "bme280":
	default:
		return Config{}, fmt.Errorf("invalid SENSOR_DRIVER %q (allowed: si7021, bme280)", cfg.SensorDriver)
	}
	addrStr := envString("SENSOR_ADDRESS", defaultSensorAddress(cfg.SensorDriver))
	addr, err := strconv.ParseUint(addrStr, 0, 16)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SENSOR_ADDRESS %q: %w", addrStr, err)
	}
	cfg.SensorAddress = uint16(addr)

	switch cfg.SensorAbsentPolicy {
	case SensorAbsentPush, SensorAbsentSkip:
	default:
		return Config{}, fmt.Errorf("invalid SENSOR_ABSENT_POLICY %q (allowed: push, skip)", cfg.SensorAbsentPolicy)
	}

	switch cfg.VoltageSource {
	case "sysfs", "ads1115", "fixed":
	default:
		return Config{}, fmt.Errorf("invalid VOLTAGE_SOURCE %q (allowed: sysfs, ads1115, fixed)", cfg.VoltageSource)
	}

	switch cfg.StoreDriver {
	case "firebase":
		if cfg.FirebaseHost == "" {
			return Config{}, fmt.Errorf("FIREBASE_HOST is required for STORE_DRIVER=firebase")
		}
	case "sqlite", "mqtt", "kafka", "ble":
	default:
		return Config{}, fmt.Errorf("invalid STORE_DRIVER %q (allowed: firebase, sqlite, mqtt, kafka, ble)", cfg.StoreDriver)
	}

	switch cfg.FirebaseWriteSizeLimit {
	case "tiny", "small", "medium", "large", "unlimited":
	default:
		return Config{}, fmt.Errorf("invalid FIREBASE_WRITE_SIZE_LIMIT %q (allowed: tiny, small, medium, large, unlimited)", cfg.FirebaseWriteSizeLimit)
	}

	if !strings.HasPrefix(cfg.StorePath, "/") {
		return Config{}, fmt.Errorf("STORE_PATH must start with '/', got %q", cfg.StorePath)
	}

	if cfg.UpdateEnabled && cfg.UpdatePassword == "" {
		return Config{}, fmt.Errorf("UPDATE_PASSWORD is required when UPDATE_ENABLED=true")
	}

	return cfg, nil
}

func defaultSensorAddress(driver string) string {
	if driver == "bme280" {
		return "0x76"
	}
	return "0x40"
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return v, nil
}

func envDuration(key, def string, allowZero bool) (time.Duration, error) {
	s := envString(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
