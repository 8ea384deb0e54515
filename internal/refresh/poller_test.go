package refresh

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPollerFetchesUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Poller{
			Interval: 5 * time.Millisecond,
			Fetch: func(context.Context) error {
				if calls.Add(1) >= 3 {
					cancel()
				}
				return nil
			},
		}.Run(ctx)
	}()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
	require.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestPollerKeepsGoingAfterErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Poller{
			Interval: time.Millisecond,
			Fetch: func(context.Context) error {
				if calls.Add(1) == 2 {
					cancel()
				}
				return errors.New("offline")
			},
		}.Run(ctx)
	}()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
	require.Equal(t, int32(2), calls.Load())
}
