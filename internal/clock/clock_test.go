package clock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beevik/ntp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedUpdater struct {
	results []error
	calls   int
}

func (u *scriptedUpdater) Update(context.Context) error {
	u.calls++
	if u.calls > len(u.results) {
		return errors.New("unexpected call")
	}
	return u.results[u.calls-1]
}

func TestRefreshWithRetry(t *testing.T) {
	errNTP := errors.New("i/o timeout")
	tests := []struct {
		name      string
		results   []error
		wantCalls int
		wantErr   bool
	}{
		{name: "first attempt succeeds", results: []error{nil}, wantCalls: 1},
		{name: "retry succeeds", results: []error{errNTP, nil}, wantCalls: 2},
		{name: "both fail", results: []error{errNTP, errNTP, nil}, wantCalls: 2, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &scriptedUpdater{results: tt.results}

			attempts, err := RefreshWithRetry(context.Background(), u, time.Millisecond)

			assert.Equal(t, tt.wantCalls, u.calls)
			assert.Equal(t, tt.wantCalls, attempts)
			if tt.wantErr {
				assert.ErrorIs(t, err, errNTP)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRefreshWithRetry_CanceledDuringDelay(t *testing.T) {
	u := &scriptedUpdater{results: []error{errors.New("down"), nil}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := RefreshWithRetry(ctx, u, time.Hour)

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_EpochBeforeSync(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	now := base
	c := New("pool.ntp.org", time.Second,
		WithNow(func() time.Time { return now }),
		WithQuery(func(string, ntp.QueryOptions) (*ntp.Response, error) {
			return nil, errors.New("no route to host")
		}),
	)

	now = base.Add(42*time.Second + 500*time.Millisecond)

	require.Error(t, c.Update(context.Background()))
	assert.False(t, c.Synced())
	assert.Equal(t, int64(42), c.Epoch())
}

func TestClient_UpdateAppliesOffset(t *testing.T) {
	local := time.Unix(1699999990, 0)
	var gotOpts ntp.QueryOptions
	c := New("time.example.org", 3*time.Second,
		WithNow(func() time.Time { return local }),
		WithQuery(func(host string, opt ntp.QueryOptions) (*ntp.Response, error) {
			assert.Equal(t, "time.example.org", host)
			gotOpts = opt
			return &ntp.Response{
				ClockOffset: 10 * time.Second,
				Stratum:     2,
				Leap:        ntp.LeapNoWarning,
			}, nil
		}),
	)

	require.NoError(t, c.Update(context.Background()))
	assert.True(t, c.Synced())
	assert.Equal(t, 3*time.Second, gotOpts.Timeout)
	assert.Equal(t, int64(1700000000), c.Epoch())
}

func TestClient_RejectsInvalidResponse(t *testing.T) {
	c := New("time.example.org", time.Second,
		WithQuery(func(string, ntp.QueryOptions) (*ntp.Response, error) {
			return &ntp.Response{Stratum: 0, Leap: ntp.LeapNotInSync, KissCode: "RATE"}, nil
		}),
	)

	require.Error(t, c.Update(context.Background()))
	assert.False(t, c.Synced())
}
