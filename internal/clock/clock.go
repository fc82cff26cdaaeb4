// Package clock keeps the network-synchronized wall clock used to stamp
// readings.
package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

// QueryFunc matches ntp.QueryWithOptions.
type QueryFunc func(host string, opt ntp.QueryOptions) (*ntp.Response, error)

// Updater is the part of Client the acquisition cycle depends on.
type Updater interface {
	Update(ctx context.Context) error
}

type Client struct {
	server  string
	timeout time.Duration
	query   QueryFunc
	now     func() time.Time

	started time.Time
	offset  time.Duration
	synced  bool
}

type Option func(*Client)

func WithQuery(q QueryFunc) Option {
	return func(c *Client) { c.query = q }
}

func WithNow(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func New(server string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		server:  server,
		timeout: timeout,
		query:   ntp.QueryWithOptions,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.started = c.now()
	return c
}

// Update queries the server once and, on success, adopts its clock offset.
// A failed update leaves the previous offset in place.
func (c *Client) Update(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resp, err := c.query(c.server, ntp.QueryOptions{Timeout: c.timeout})
	if err != nil {
		return fmt.Errorf("ntp query %s: %w", c.server, err)
	}
	if err := resp.Validate(); err != nil {
		return fmt.Errorf("ntp response from %s: %w", c.server, err)
	}
	c.offset = resp.ClockOffset
	c.synced = true
	return nil
}

func (c *Client) Synced() bool {
	return c.synced
}

// Epoch returns the current time in Unix seconds. Before the first
// successful update it counts seconds since the client was created, so
// unsynced records land in 1970 and are easy to discard downstream.
func (c *Client) Epoch() int64 {
	if !c.synced {
		return int64(c.now().Sub(c.started) / time.Second)
	}
	return c.now().Add(c.offset).Unix()
}

// RefreshWithRetry calls Update and, if it fails, waits delay and calls it
// exactly once more. It returns the number of attempts and the last error.
func RefreshWithRetry(ctx context.Context, u Updater, delay time.Duration) (int, error) {
	if err := u.Update(ctx); err == nil {
		return 1, nil
	}

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return 1, ctx.Err()
	case <-t.C:
	}

	return 2, u.Update(ctx)
}
