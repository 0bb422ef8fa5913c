package telegraph

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

// RelayOpts configures a Relay.
type RelayOpts struct {
	Adapters []Adapter
	Command  *CommandNotifier
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Relay fans notices out to chat adapters and the notify command. Delivery
// is best-effort and never blocks the caller.
type Relay struct {
	mu       sync.Mutex
	adapters []Adapter
	command  *CommandNotifier
	timeout  time.Duration
	log      *slog.Logger
	wg       sync.WaitGroup
}

// NewRelay creates a Relay. Adapters are used as given; call Connect before
// the first Dispatch.
func NewRelay(opts RelayOpts) *Relay {
	r := &Relay{
		adapters: opts.Adapters,
		command:  opts.Command,
		timeout:  opts.Timeout,
		log:      opts.Logger,
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// Connect connects every adapter. Adapters that fail are logged and dropped
// so one bad credential does not silence the others. It returns the number
// of adapters left.
func (r *Relay) Connect(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var kept []Adapter
	for _, a := range r.adapters {
		if err := a.Connect(ctx); err != nil {
			r.log.Warn("telegraph: adapter connect failed, disabling", "error", err)
			continue
		}
		kept = append(kept, a)
	}
	r.adapters = kept
	return len(kept)
}

// Enabled reports whether any delivery target is configured.
func (r *Relay) Enabled() bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.adapters) > 0 || (r.command != nil && r.command.Command != "")
}

// Dispatch delivers n to every target in the background. Failures are logged.
func (r *Relay) Dispatch(n Notification) {
	if r == nil {
		return
	}
	r.mu.Lock()
	adapters := append([]Adapter(nil), r.adapters...)
	r.mu.Unlock()

	msg := OutboundMessage{
		Text:   FallbackText(n),
		Events: []FormattedEvent{FormatNotice(n)},

		ThreadKey: n.ThreadKey(),
	}
	for _, a := range adapters {
		r.wg.Add(1)
		go func(a Adapter) {
			defer r.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			defer cancel()
			if err := a.Send(ctx, msg); err != nil {
				r.log.Warn("telegraph: relay failed", "notice", n.NoticeID, "recipient", n.Recipient, "error", err)
			}
		}(a)
	}

	if r.command != nil && r.command.Command != "" {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			defer cancel()
			if err := r.command.Notify(ctx, n); err != nil {
				r.log.Warn("telegraph: notify command failed", "notice", n.NoticeID, "error", err)
			}
		}()
	}
}

// Wait blocks until in-flight deliveries finish.
func (r *Relay) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

// Close waits for in-flight deliveries, then closes every adapter.
func (r *Relay) Close() error {
	if r == nil {
		return nil
	}
	r.wg.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, a := range r.adapters {
		if err := a.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
