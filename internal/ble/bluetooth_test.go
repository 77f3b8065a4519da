package ble_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/g1link/internal/ble"
)

func TestAwaitConnectReturnsResult(t *testing.T) {
	got, err := ble.AwaitConnect(context.Background(),
		func() (string, error) { return "dev", nil },
		func(string) { t.Error("abandon called for a connection that was returned") })
	require.NoError(t, err)
	assert.Equal(t, "dev", got)

	boom := errors.New("refused")
	_, err = ble.AwaitConnect(context.Background(),
		func() (string, error) { return "", boom },
		func(string) { t.Error("abandon called for a failed connection") })
	assert.ErrorIs(t, err, boom)
}

func TestAwaitConnectClosesLateConnection(t *testing.T) {
	release := make(chan struct{})
	abandoned := make(chan string, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := ble.AwaitConnect(ctx,
			func() (string, error) {
				<-release
				return "late", nil
			},
			func(d string) { abandoned <- d })
		done <- err
	}()

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(release)
	select {
	case d := <-abandoned:
		assert.Equal(t, "late", d)
	case <-time.After(2 * time.Second):
		t.Fatal("connection completing after cancel was not closed")
	}
}

func TestAwaitConnectLateFailureNotAbandoned(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ble.AwaitConnect(ctx,
		func() (string, error) {
			defer close(finished)
			<-release
			return "", errors.New("timeout")
		},
		func(string) { t.Error("abandon called for a failed connection") })
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	<-finished
}
