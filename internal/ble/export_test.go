package ble

import "context"

var BackoffDelay = backoffDelay

func AwaitConnect[T any](ctx context.Context, connect func() (T, error), abandon func(T)) (T, error) {
	return awaitConnect(ctx, connect, abandon)
}
