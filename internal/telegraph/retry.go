package telegraph

import (
	"context"
	"log/slog"
	"time"
)

// Backoff bounds the retries of a rate-limited platform call.
type Backoff struct {
	Retries int
	Base    time.Duration
	Max     time.Duration
	Log     *slog.Logger // nil logs to slog.Default
}

// DefaultBackoff is used by the chat adapters.
var DefaultBackoff = Backoff{Retries: 3, Base: 2 * time.Second, Max: 2 * time.Minute}

// Limited reports whether err is a rate-limit response. A positive wait is
// the delay the platform asked for.
type Limited func(err error) (wait time.Duration, ok bool)

// Do calls fn until it succeeds, fails with an error limited rejects, or the
// retries are spent. The last error is returned unwrapped.
func (b Backoff) Do(ctx context.Context, limited Limited, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		hint, ok := limited(err)
		if !ok || attempt >= b.Retries {
			return err
		}

		wait := hint
		if wait <= 0 {
			wait = b.delay(attempt)
		}
		b.logger().Warn("telegraph: rate limited", "attempt", attempt+1, "max", b.Retries, "retry_in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (b Backoff) logger() *slog.Logger {
	if b.Log != nil {
		return b.Log
	}
	return slog.Default()
}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.Base << attempt
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return d
}
