// Package retry is a small bounded-attempt retry helper, adapted from the
// teacher's pkg/retry (same Retry/If shape, generalized to accept a
// context so callers can bail out early on cancellation).
package retry

import (
	"context"
	"errors"
	"time"
)

// Retry calls fn up to attempts times, sleeping between failures, until it
// succeeds, ctx is done, or attempts are exhausted.
func Retry(ctx context.Context, attempts int, sleep time.Duration, fn func() error) error {
	return If(ctx, attempts, sleep, fn, func(err error) bool { return err != nil })
}

// IfErrorIs retries only while the returned error matches target.
func IfErrorIs(ctx context.Context, attempts int, sleep time.Duration, fn func() error, target error) error {
	return If(ctx, attempts, sleep, fn, func(err error) bool { return errors.Is(err, target) })
}

// If retries fn while predicate(err) holds, up to attempts times.
func If(ctx context.Context, attempts int, sleep time.Duration, fn func() error, predicate func(error) bool) (err error) {
	for i := range attempts {
		if err = fn(); err == nil {
			return nil
		}
		if !predicate(err) || i >= attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return err
}
