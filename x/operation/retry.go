package operation

import (
	"context"
	"time"

	"github.com/iov-one/gkel/errors"
)

// Backoff describes delays between consecutive attempts. The delay starts at
// Initial and is multiplied by Factor after every attempt, never exceeding
// Max.
type Backoff struct {
	Initial time.Duration `json:"initial"`
	Max     time.Duration `json:"max"`
	Factor  float64       `json:"factor"`
}

// DefaultBackoff is used when no backoff was configured.
var DefaultBackoff = Backoff{
	Initial: 50 * time.Millisecond,
	Max:     2 * time.Second,
	Factor:  2,
}

// Validate returns an error if the backoff is not usable.
func (b Backoff) Validate() error {
	var errs error
	if b.Initial <= 0 {
		errs = errors.AppendField(errs, "initial", errors.ErrInput, "must be positive")
	}
	if b.Max < b.Initial {
		errs = errors.AppendField(errs, "max", errors.ErrInput, "must not be less than initial")
	}
	if b.Factor < 1 {
		errs = errors.AppendField(errs, "factor", errors.ErrInput, "must be at least 1")
	}
	return errs
}

// Delay returns the delay before given attempt. The first retry is attempt 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		d *= b.Factor
		if d >= float64(b.Max) {
			return b.Max
		}
	}
	if time.Duration(d) > b.Max {
		return b.Max
	}
	return time.Duration(d)
}

// Retry calls fn until it succeeds, fails with an error that is not
// recoverable, or the budget of attempts is used. The error of the last
// attempt is returned when the budget is exhausted. A budget below one
// allows a single attempt.
func Retry(ctx context.Context, b Backoff, budget int, fn func(context.Context) error) error {
	if budget < 1 {
		budget = 1
	}
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || shouldStop(err) {
			return err
		}
		if attempt >= budget {
			return errors.Wrapf(err, "gave up after %d attempts", attempt)
		}

		timer := time.NewTimer(b.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrapf(err, "interrupted: %s", ctx.Err())
		case <-timer.C:
		}
	}
}
