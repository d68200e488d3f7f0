package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy is an explicit sleep/retry policy injected per call site.
// Polling stops when the probe reports done, the attempt budget is
// spent, the timeout elapses, or the context is cancelled.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

// DefaultDeviceWait returns the policy used for device visibility polls
func DefaultDeviceWait() Policy {
	return Policy{
		Interval:    2 * time.Second,
		MaxAttempts: 0, // bounded by timeout only
		Timeout:     30 * time.Second,
	}
}

// ErrExhausted is returned when the probe never reported done
var ErrExhausted = fmt.Errorf("retry budget exhausted")

// Probe checks current state; done=true stops polling. A non-nil error
// aborts immediately (a probe failure is not a retryable condition).
type Probe func(ctx context.Context) (done bool, err error)

// Do runs the probe under the policy. The clock argument allows
// deterministic fast-clock testing; pass nil for real time.
func (p Policy) Do(ctx context.Context, probe Probe) error {
	return p.do(ctx, probe, time.After)
}

func (p Policy) do(ctx context.Context, probe Probe, after func(time.Duration) <-chan time.Time) error {
	var deadline <-chan time.Time
	if p.Timeout > 0 {
		deadline = after(p.Timeout)
	}

	for attempt := 1; ; attempt++ {
		done, err := probe(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return fmt.Errorf("%w after %d attempts", ErrExhausted, attempt)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("%w after %s", ErrExhausted, p.Timeout)
		case <-after(p.Interval):
		}
	}
}
