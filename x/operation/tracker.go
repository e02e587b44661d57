package operation

import (
	"context"
	"time"

	"github.com/iov-one/gkel"
	"github.com/iov-one/gkel/errors"
)

// DefaultInterval is used by trackers created with a zero interval.
const DefaultInterval = 250 * time.Millisecond

// Tracker polls operations until they complete.
type Tracker struct {
	interval time.Duration
	logger   gkel.Logger
}

// NewTracker returns a tracker polling at given interval.
func NewTracker(interval time.Duration, logger gkel.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{
		interval: interval,
		logger:   gkel.LoggerOrDefault(logger).With("module", "operation"),
	}
}

// Interval returns the polling interval.
func (t *Tracker) Interval() time.Duration {
	return t.interval
}

// Track polls given operation until it completes and returns its result.
//
// If the operation does not complete within the timeout, ErrTimeout is
// returned and the operation is left outstanding. A zero timeout waits
// until the context is done. When the context is cancelled the context
// error is returned.
func (t *Tracker) Track(ctx context.Context, op Operation, timeout time.Duration) (interface{}, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	var last error
	for polls := 1; ; polls++ {
		done, result, err := op.Poll(ctx)
		switch {
		case err != nil && shouldStop(err):
			t.logger.Error("operation failed", "operation", op.Name(), "err", err)
			return nil, err
		case err != nil:
			if last == nil || last.Error() != err.Error() {
				t.logger.Debug("operation waiting", "operation", op.Name(), "reason", err)
			}
			last = err
		case done:
			t.logger.Debug("operation done", "operation", op.Name(), "polls", polls)
			return result, nil
		}

		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return nil, timeoutError(op, last, "context deadline")
			}
			return nil, errors.Wrapf(ctx.Err(), "operation %s", op.Name())
		case <-deadline:
			t.logger.Info("operation timed out", "operation", op.Name(), "timeout", timeout)
			return nil, timeoutError(op, last, timeout.String())
		case <-ticker.C:
		}
	}
}

func timeoutError(op Operation, last error, after string) error {
	if last != nil {
		return errors.Wrapf(errors.ErrTimeout, "operation %s after %s, last: %s", op.Name(), after, last)
	}
	return errors.Wrapf(errors.ErrTimeout, "operation %s after %s", op.Name(), after)
}
