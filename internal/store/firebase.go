package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type FirebaseOptions struct {
	// Host is the database host, e.g. my-db.firebaseio.com. A scheme may be
	// given for tests or a local emulator.
	Host string
	// Auth is the database secret or ID token. Empty sends no auth.
	Auth           string
	WriteSizeLimit string
	RequestTimeout time.Duration
	// BufferSize sets the transport read and write buffers.
	BufferSize int
	// ResponseSize caps how much of the response body is read.
	ResponseSize int
}

// Firebase pushes documents through the Realtime Database REST API. A POST to
// a path creates a child under a server-generated push name.
type Firebase struct {
	baseURL      string
	auth         string
	limit        WriteSizeLimit
	responseSize int
	client       *http.Client
	logger       *slog.Logger
}

func NewFirebase(opts FirebaseOptions, logger *slog.Logger) (*Firebase, error) {
	if strings.TrimSpace(opts.Host) == "" {
		return nil, fmt.Errorf("firebase host is empty")
	}
	limit, err := ParseWriteSizeLimit(opts.WriteSizeLimit)
	if err != nil {
		return nil, err
	}

	base := strings.TrimRight(opts.Host, "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.BufferSize > 0 {
		transport.ReadBufferSize = opts.BufferSize
		transport.WriteBufferSize = opts.BufferSize
	}

	// The server may hold the write up to the category timeout.
	timeout := opts.RequestTimeout
	if wt := limit.WriteTimeout(); wt > 0 && timeout > 0 {
		timeout += wt
	} else if wt == 0 {
		timeout = 0
	}

	responseSize := opts.ResponseSize
	if responseSize <= 0 {
		responseSize = 1024
	}

	return &Firebase{
		baseURL:      base,
		auth:         opts.Auth,
		limit:        limit,
		responseSize: responseSize,
		client:       &http.Client{Transport: transport, Timeout: timeout},
		logger:       logger,
	}, nil
}

type firebasePushResponse struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

func (f *Firebase) Push(ctx context.Context, path string, body []byte) (PushResult, error) {
	u, err := f.pushURL(path)
	if err != nil {
		return PushResult{}, pushError("%v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return PushResult{}, pushError("%v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Firebase-ETag", "true")

	resp, err := f.client.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return PushResult{}, pushError("%v", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			f.logger.Debug("close firebase response", "error", err)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.responseSize)))
	if err != nil {
		return PushResult{}, pushError("read response: %v", err)
	}

	var out firebasePushResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && out.Error != "" {
			return PushResult{}, pushError("%s", out.Error)
		}
		return PushResult{}, pushError("http status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return PushResult{}, pushError("decode response: %v", decodeErr)
	}
	if out.Name == "" {
		return PushResult{}, pushError("response has no push name")
	}

	return PushResult{
		Path: path,
		Name: out.Name,
		ETag: resp.Header.Get("ETag"),
	}, nil
}

func (f *Firebase) pushURL(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("path %q must start with '/'", path)
	}
	q := url.Values{}
	if f.auth != "" {
		q.Set("auth", f.auth)
	}
	q.Set("writeSizeLimit", string(f.limit))
	return f.baseURL + strings.TrimRight(path, "/") + ".json?" + q.Encode(), nil
}

func (f *Firebase) Close() error {
	f.client.CloseIdleConnections()
	return nil
}
