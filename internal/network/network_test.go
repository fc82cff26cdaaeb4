package network

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConnect_WaitsForLink(t *testing.T) {
	calls := 0
	m := NewManager(Options{PollInterval: time.Millisecond, Timeout: time.Second}, discardLogger()).
		WithLinkChecker(func(string) (net.IP, error) {
			calls++
			if calls < 4 {
				return nil, errLinkDown
			}
			return net.IPv4(192, 168, 1, 50), nil
		})

	ip, err := m.Connect(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "192.168.1.50", ip.String())
	assert.Equal(t, 4, calls)
}

func TestConnect_TimesOut(t *testing.T) {
	m := NewManager(Options{PollInterval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond}, discardLogger()).
		WithLinkChecker(func(string) (net.IP, error) { return nil, errLinkDown })

	_, err := m.Connect(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAssociationFailed)
}

func TestConnect_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewManager(Options{PollInterval: time.Millisecond}, discardLogger()).
		WithLinkChecker(func(string) (net.IP, error) { return nil, errLinkDown })

	_, err := m.Connect(ctx)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnect_AssociatesWithSSID(t *testing.T) {
	var gotName string
	var gotArgs []string
	m := NewManager(Options{
		SSID:         "greenhouse-ap",
		Password:     "hunter2",
		Interface:    "wlan0",
		PollInterval: time.Millisecond,
		Timeout:      time.Second,
	}, discardLogger()).
		WithRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
			gotName = name
			gotArgs = args
			return nil, errors.New("exit status 10")
		}).
		WithLinkChecker(func(iface string) (net.IP, error) {
			assert.Equal(t, "wlan0", iface)
			return net.IPv4(10, 0, 0, 7), nil
		})

	_, err := m.Connect(context.Background())

	require.NoError(t, err, "a failed nmcli call must not stop the link wait")
	assert.Equal(t, "nmcli", gotName)
	assert.Equal(t, []string{"device", "wifi", "connect", "greenhouse-ap", "password", "hunter2", "ifname", "wlan0"}, gotArgs)
}

func TestConnect_NoSSIDSkipsAssociation(t *testing.T) {
	m := NewManager(Options{PollInterval: time.Millisecond, Timeout: time.Second}, discardLogger()).
		WithRunner(func(context.Context, string, ...string) ([]byte, error) {
			t.Fatal("runner called without SSID")
			return nil, nil
		}).
		WithLinkChecker(func(string) (net.IP, error) { return net.IPv4(10, 0, 0, 7), nil })

	_, err := m.Connect(context.Background())
	require.NoError(t, err)
}

func TestInterfaceAddr_UnknownInterface(t *testing.T) {
	_, err := InterfaceAddr("does-not-exist0")
	assert.ErrorIs(t, err, errLinkDown)
}
