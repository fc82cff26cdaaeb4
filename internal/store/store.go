// Package store pushes one telemetry document to a remote (or local) store.
// A push always creates a new entry; nothing is deduplicated.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/wattcode/plant-monitor/internal/config"
)

// ErrPush wraps every failed push. The text after the colon is the reason
// shown on the console.
var ErrPush = errors.New("push failed")

// PushResult identifies the entry a push created.
type PushResult struct {
	Path string
	Name string
	ETag string
}

type Pusher interface {
	Push(ctx context.Context, path string, body []byte) (PushResult, error)
	Close() error
}

// Publisher is the MQTT side the mqtt driver needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Open builds the pusher selected by cfg.StoreDriver. pub is only used by the
// mqtt driver and may be nil otherwise.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger, pub Publisher) (Pusher, error) {
	switch cfg.StoreDriver {
	case "firebase":
		return NewFirebase(FirebaseOptions{
			Host:           cfg.FirebaseHost,
			Auth:           cfg.FirebaseAuth,
			WriteSizeLimit: cfg.FirebaseWriteSizeLimit,
			RequestTimeout: cfg.FirebaseRequestTimeout,
			BufferSize:     cfg.TransportBufferSize,
			ResponseSize:   cfg.ResponseSize,
		}, logger)
	case "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath, logger, cfg.LogLevel == slog.LevelDebug)
	case "mqtt":
		if pub == nil {
			return nil, fmt.Errorf("store driver mqtt needs an mqtt publisher")
		}
		return NewMQTT(pub, logger), nil
	case "kafka":
		return NewKafka(cfg.KafkaBrokers, logger)
	case "ble":
		return NewBLE(cfg.DeviceHostname, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func pushError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPush, fmt.Sprintf(format, args...))
}

// newName returns a time-ordered unique key like the ones Firebase hands out.
func newName() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func etag(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
