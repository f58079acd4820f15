package identifier

import (
	"context"
	"time"
)

// boundedCall runs fn with a deadline and stops waiting once it expires.
// The call itself may keep running; its late result is discarded.
func boundedCall[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := fn(callCtx)
		done <- result{val: val, err: err}
	}()

	select {
	case res := <-done:
		return res.val, res.err
	case <-callCtx.Done():
		var zero T
		return zero, callCtx.Err()
	}
}
