// Package ota installs a new binary when an update request is waiting on the
// broker. A request is a retained message, so one published while the device
// sleeps is picked up on the next wake.
package ota

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrUpdated is returned by Handle after a new binary was installed. The
// process should exit so the supervisor starts the new one.
var ErrUpdated = errors.New("update installed")

const eventBuffer = 128

// Request asks the device to install the binary at URL.
type Request struct {
	Version string `json:"version"`
	URL     string `json:"url"`
	Size    int64  `json:"size"`
	SHA256  string `json:"sha256"`
	// Auth is hex HMAC-SHA256 of URL + "\n" + SHA256 keyed with the update
	// password.
	Auth string `json:"auth"`
}

// Sign returns the Auth value for url and sum.
func Sign(password, url, sum string) string {
	mac := hmac.New(sha256.New, []byte(password))
	_, _ = io.WriteString(mac, url+"\n"+sum)
	return hex.EncodeToString(mac.Sum(nil))
}

// Broker is the MQTT side the listener needs.
type Broker interface {
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

type Options struct {
	Hostname string
	Password string
	// Target is the binary to replace. Empty means the running executable.
	Target string
	// Window is how long Handle waits for a request.
	Window         time.Duration
	CurrentVersion string
	HTTPClient     *http.Client
}

func Topic(hostname string) string {
	return "greenhouse/" + hostname + "/update"
}

type Listener struct {
	opts   Options
	topic  string
	broker Broker
	reqCh  chan []byte
	events chan Event
	logger *slog.Logger
}

func NewListener(opts Options, broker Broker, logger *slog.Logger) *Listener {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Listener{
		opts:   opts,
		topic:  Topic(opts.Hostname),
		broker: broker,
		reqCh:  make(chan []byte, 1),
		events: make(chan Event, eventBuffer),
		logger: logger,
	}
}

// Events delivers update progress. Events are dropped when nobody drains
// the channel.
func (l *Listener) Events() <-chan Event {
	return l.events
}

// Start subscribes to the update topic. A retained request arrives right
// after the subscription.
func (l *Listener) Start() error {
	err := l.broker.Subscribe(l.topic, 1, func(_ string, payload []byte) {
		if len(payload) == 0 {
			return
		}
		select {
		case l.reqCh <- payload:
		default:
			l.logger.Warn("update request dropped, one is already pending")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe update topic: %w", err)
	}
	l.logger.Info("OTA ready", "topic", l.topic)
	return nil
}

// Handle waits up to the window for a request and installs it. It returns
// nil when no request came, ErrUpdated after an install, or the failure.
func (l *Listener) Handle(ctx context.Context) error {
	t := time.NewTimer(l.opts.Window)
	defer t.Stop()

	var payload []byte
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	case payload = <-l.reqCh:
	}

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		l.clear()
		return l.fail(ErrorBegin, fmt.Errorf("decode request: %w", err))
	}
	if req.Version != "" && req.Version == l.opts.CurrentVersion {
		l.logger.Info("update already installed", "version", req.Version)
		l.clear()
		return nil
	}

	if err := l.install(ctx, req); err != nil {
		// A network failure is retried on the next wake; anything else would
		// fail the same way again.
		var ue *Error
		if errors.As(err, &ue) && ue.Kind != ErrorConnect && ue.Kind != ErrorReceive {
			l.clear()
		}
		return err
	}
	l.clear()
	return ErrUpdated
}

func (l *Listener) install(ctx context.Context, req Request) error {
	expected := Sign(l.opts.Password, req.URL, req.SHA256)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(req.Auth))) {
		return l.fail(ErrorAuth, errors.New("request signature mismatch"))
	}
	if req.URL == "" || req.Size <= 0 || len(req.SHA256) != sha256.Size*2 {
		return l.fail(ErrorBegin, fmt.Errorf("incomplete request: url=%q size=%d", req.URL, req.Size))
	}

	target := l.opts.Target
	if target == "" {
		exe, err := os.Executable()
		if err != nil {
			return l.fail(ErrorBegin, err)
		}
		target = exe
	}

	l.emit(Event{Type: EventStart})
	l.logger.Info("update start", "version", req.Version, "size", req.Size)

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".update-*")
	if err != nil {
		return l.fail(ErrorBegin, err)
	}
	tmpName := tmp.Name()
	installed := false
	defer func() {
		if !installed {
			_ = os.Remove(tmpName)
		}
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		_ = tmp.Close()
		return l.fail(ErrorConnect, err)
	}
	resp, err := l.opts.HTTPClient.Do(httpReq)
	if err != nil {
		_ = tmp.Close()
		return l.fail(ErrorConnect, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_ = tmp.Close()
		return l.fail(ErrorConnect, fmt.Errorf("download status %d", resp.StatusCode))
	}

	sum := sha256.New()
	pw := &progressWriter{total: req.Size, emit: l.emit, hash: sum}
	// One byte past the size is enough to detect an oversized binary.
	n, err := io.Copy(io.MultiWriter(tmp, pw), io.LimitReader(resp.Body, req.Size+1))
	if err != nil {
		_ = tmp.Close()
		return l.fail(ErrorReceive, err)
	}
	if err := tmp.Close(); err != nil {
		return l.fail(ErrorEnd, err)
	}
	if n != req.Size {
		return l.fail(ErrorEnd, fmt.Errorf("size %d, want %d", n, req.Size))
	}
	if got := hex.EncodeToString(sum.Sum(nil)); !strings.EqualFold(got, req.SHA256) {
		return l.fail(ErrorEnd, fmt.Errorf("sha256 %s, want %s", got, req.SHA256))
	}
	if err := os.Chmod(tmpName, 0o755); err != nil {
		return l.fail(ErrorEnd, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return l.fail(ErrorEnd, err)
	}
	installed = true

	l.emit(Event{Type: EventEnd})
	l.logger.Info("update end", "version", req.Version, "target", target)
	return nil
}

func (l *Listener) fail(kind ErrorKind, err error) error {
	l.emit(Event{Type: EventError, Kind: kind, Err: err})
	return &Error{Kind: kind, Err: err}
}

func (l *Listener) emit(e Event) {
	select {
	case l.events <- e:
	default:
	}
}

// clear removes the retained request so it is not applied again.
func (l *Listener) clear() {
	if err := l.broker.Publish(l.topic, 1, true, nil); err != nil {
		l.logger.Warn("clear update request", "error", err)
	}
}

type progressWriter struct {
	total int64
	done  int64
	last  int64
	emit  func(Event)
	hash  hash.Hash
}

func (p *progressWriter) Write(b []byte) (int, error) {
	_, _ = p.hash.Write(b)
	p.done += int64(len(b))
	e := Event{Type: EventProgress, Done: p.done, Total: p.total}
	if pct := e.Percent(); pct != p.last {
		p.last = pct
		p.emit(e)
	}
	return len(b), nil
}
