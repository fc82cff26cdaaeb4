package store

import (
	"context"
	"log/slog"
	"strings"
)

// MQTT publishes each document to a broker topic derived from the path:
// /greenhouse/data_v2 goes to greenhouse/data_v2.
type MQTT struct {
	pub    Publisher
	logger *slog.Logger
}

func NewMQTT(pub Publisher, logger *slog.Logger) *MQTT {
	return &MQTT{pub: pub, logger: logger}
}

func (m *MQTT) Push(ctx context.Context, path string, body []byte) (PushResult, error) {
	if err := ctx.Err(); err != nil {
		return PushResult{}, pushError("%v", err)
	}
	topic := strings.Trim(path, "/")
	if topic == "" {
		return PushResult{}, pushError("empty topic for path %q", path)
	}
	name, err := newName()
	if err != nil {
		return PushResult{}, pushError("generate name: %v", err)
	}
	if err := m.pub.Publish(topic, 1, false, body); err != nil {
		return PushResult{}, pushError("%v", err)
	}
	return PushResult{Path: path, Name: name, ETag: etag(body)}, nil
}

// Close is a no-op; the caller owns the MQTT connection.
func (m *MQTT) Close() error {
	return nil
}
