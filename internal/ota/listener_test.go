package ota

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "esp8266"

type publishCall struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeBroker delivers the retained message, if any, on Subscribe.
type fakeBroker struct {
	retained  []byte
	topic     string
	published []publishCall
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler func(string, []byte)) error {
	b.topic = topic
	if b.retained != nil {
		handler(topic, b.retained)
	}
	return nil
}

func (b *fakeBroker) Publish(topic string, _ byte, retained bool, payload []byte) error {
	b.published = append(b.published, publishCall{topic, retained, payload})
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedRequest(t *testing.T, url string, bin []byte) []byte {
	t.Helper()
	sum := sha256.Sum256(bin)
	hexSum := hex.EncodeToString(sum[:])
	b, err := json.Marshal(Request{
		Version: "v2",
		URL:     url,
		Size:    int64(len(bin)),
		SHA256:  hexSum,
		Auth:    Sign(testPassword, url, hexSum),
	})
	require.NoError(t, err)
	return b
}

func newTestListener(t *testing.T, broker *fakeBroker) (*Listener, string) {
	t.Helper()
	target := filepath.Join(t.TempDir(), "plant-monitor")
	require.NoError(t, os.WriteFile(target, []byte("old"), 0o755))
	l := NewListener(Options{
		Hostname:       "greenhouse",
		Password:       testPassword,
		Target:         target,
		Window:         50 * time.Millisecond,
		CurrentVersion: "v1",
	}, broker, discardLogger())
	require.NoError(t, l.Start())
	return l, target
}

func drain(l *Listener) []Event {
	var out []Event
	for {
		select {
		case e := <-l.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestHandle_NoRequest(t *testing.T) {
	broker := &fakeBroker{}
	l, _ := newTestListener(t, broker)

	assert.NoError(t, l.Handle(context.Background()))
	assert.Equal(t, "greenhouse/greenhouse/update", broker.topic)
	assert.Empty(t, drain(l))
	assert.Empty(t, broker.published)
}

func TestHandle_InstallsUpdate(t *testing.T) {
	bin := bytes.Repeat([]byte{0x7f, 'E', 'L', 'F'}, 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(bin)
	}))
	defer srv.Close()

	broker := &fakeBroker{}
	broker.retained = signedRequest(t, srv.URL+"/fw", bin)
	l, target := newTestListener(t, broker)

	err := l.Handle(context.Background())
	require.ErrorIs(t, err, ErrUpdated)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, bin, got)
	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	events := drain(l)
	require.NotEmpty(t, events)
	assert.Equal(t, EventStart, events[0].Type)
	assert.Equal(t, EventEnd, events[len(events)-1].Type)
	last := events[len(events)-2]
	assert.Equal(t, EventProgress, last.Type)
	assert.Equal(t, int64(100), last.Percent())

	require.Len(t, broker.published, 1)
	assert.True(t, broker.published[0].retained)
	assert.Empty(t, broker.published[0].payload)
}

func TestHandle_Failures(t *testing.T) {
	bin := []byte("new binary contents")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(bin)
	}))
	defer srv.Close()

	badAuth := func(t *testing.T) []byte {
		var req Request
		require.NoError(t, json.Unmarshal(signedRequest(t, srv.URL+"/fw", bin), &req))
		req.Auth = Sign("wrong", req.URL, req.SHA256)
		b, _ := json.Marshal(req)
		return b
	}
	badSize := func(t *testing.T) []byte {
		var req Request
		require.NoError(t, json.Unmarshal(signedRequest(t, srv.URL+"/fw", bin), &req))
		req.Size++
		b, _ := json.Marshal(req)
		return b
	}

	tests := []struct {
		name    string
		request func(t *testing.T) []byte
		kind    ErrorKind
		cleared bool
	}{
		{name: "bad signature", request: badAuth, kind: ErrorAuth, cleared: true},
		{name: "download not found", request: func(t *testing.T) []byte { return signedRequest(t, srv.URL+"/missing", bin) }, kind: ErrorConnect, cleared: false},
		{name: "size mismatch", request: badSize, kind: ErrorEnd, cleared: true},
		{name: "garbage request", request: func(*testing.T) []byte { return []byte("{") }, kind: ErrorBegin, cleared: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := &fakeBroker{retained: tt.request(t)}
			l, target := newTestListener(t, broker)

			err := l.Handle(context.Background())
			require.Error(t, err)
			assert.False(t, errors.Is(err, ErrUpdated))

			events := drain(l)
			require.NotEmpty(t, events)
			last := events[len(events)-1]
			assert.Equal(t, EventError, last.Type)
			assert.Equal(t, tt.kind, last.Kind)
			assert.Equal(t, tt.cleared, len(broker.published) == 1)

			var ue *Error
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, tt.kind, ue.Kind)

			old, err := os.ReadFile(target)
			require.NoError(t, err)
			assert.Equal(t, "old", string(old))

			entries, err := os.ReadDir(filepath.Dir(target))
			require.NoError(t, err)
			assert.Len(t, entries, 1, "temp file left behind")
		})
	}
}

func TestHandle_SameVersionIsCleared(t *testing.T) {
	b, err := json.Marshal(Request{Version: "v1", URL: "http://unused"})
	require.NoError(t, err)
	broker := &fakeBroker{retained: b}
	l, _ := newTestListener(t, broker)

	assert.NoError(t, l.Handle(context.Background()))
	require.Len(t, broker.published, 1)
	assert.True(t, broker.published[0].retained)
}

func TestHandle_ContextCancelled(t *testing.T) {
	l, _ := newTestListener(t, &fakeBroker{})
	l.opts.Window = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, l.Handle(ctx), context.Canceled)
}

func TestEvent_Percent(t *testing.T) {
	tests := []struct {
		done, total, want int64
	}{
		{done: 0, total: 1000, want: 0},
		{done: 500, total: 1000, want: 50},
		{done: 1000, total: 1000, want: 100},
		{done: 5, total: 10, want: 50},
		{done: 5, total: 0, want: 0},
	}
	for _, tt := range tests {
		e := Event{Type: EventProgress, Done: tt.done, Total: tt.total}
		assert.Equal(t, tt.want, e.Percent(), "%d/%d", tt.done, tt.total)
	}
}

func TestErrorKind_String(t *testing.T) {
	assert.Equal(t, "auth failed", ErrorAuth.String())
	assert.Equal(t, "begin failed", ErrorBegin.String())
	assert.Equal(t, "connect failed", ErrorConnect.String())
	assert.Equal(t, "receive failed", ErrorReceive.String())
	assert.Equal(t, "end failed", ErrorEnd.String())
}
