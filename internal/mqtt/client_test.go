package mqtt

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/wattcode/plant-monitor/internal/config"
)

func testClient() *Client {
	cfg := config.Config{MQTTBroker: "127.0.0.1", MQTTPort: 1, MQTTClientID: "test"}
	return NewClient(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClient_PublishRequiresConnection(t *testing.T) {
	c := testClient()
	if err := c.Publish("greenhouse/data_v2", 1, false, []byte("{}")); err == nil {
		t.Fatal("Publish() error = nil, want non-nil")
	}
	if err := c.Subscribe("greenhouse/gh/update", 1, func(string, []byte) {}); err == nil {
		t.Fatal("Subscribe() error = nil, want non-nil")
	}
}

func TestClient_ConnectAfterDisconnect(t *testing.T) {
	c := testClient()
	c.Disconnect()
	c.Disconnect()

	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("Connect() after Disconnect error = nil, want non-nil")
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}
}

func TestClient_ConnectRefused(t *testing.T) {
	c := testClient()
	defer c.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err == nil {
		t.Fatal("Connect() to closed port error = nil, want non-nil")
	}
}
