package retry

import (
	"context"
	"errors"
	"time"
)

// ErrPollTimeout and ErrPollExhausted are the two ordinary terminal outcomes
// of an unsuccessful poll.
var (
	ErrPollTimeout   = errors.New("timed out")
	ErrPollExhausted = errors.New("attempts exhausted")
)

// PollOptions configures Poll. A zero MaxAttempts polls until Timeout; a zero
// Timeout polls until MaxAttempts. At least one should be set.
type PollOptions struct {
	Interval    time.Duration
	Timeout     time.Duration
	MaxAttempts int
}

// PollResult reports how a poll ended.
type PollResult struct {
	Done     bool
	Attempts int
	Elapsed  time.Duration
	// Err is nil when Done, otherwise ErrPollTimeout, ErrPollExhausted or
	// the parent context error.
	Err error
	// LastErr is the last error returned by the check function, if any.
	LastErr error
}

// CheckFunc is one poll attempt. Returning an error counts as "not yet" and
// polling continues; errors are kept in PollResult.LastErr.
type CheckFunc func(ctx context.Context, attempt int) (bool, error)

// Poll calls check with a fixed delay between attempts. The wall-clock
// timeout runs independently of the interval: it can expire mid-interval and
// no further attempt is made once it has.
func Poll(ctx context.Context, opts PollOptions, check CheckFunc) PollResult {
	start := time.Now()
	var deadline <-chan time.Time
	if opts.Timeout > 0 {
		timer := time.NewTimer(opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	pollCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	result := PollResult{}
	finish := func(err error) PollResult {
		result.Err = err
		result.Elapsed = time.Since(start)
		return result
	}

	for {
		if opts.MaxAttempts > 0 && result.Attempts >= opts.MaxAttempts {
			return finish(ErrPollExhausted)
		}

		result.Attempts++
		done, err := check(pollCtx, result.Attempts)
		if done && err == nil {
			result.Done = true
			return finish(nil)
		}
		if err != nil {
			result.LastErr = err
		}
		if ctx.Err() != nil {
			return finish(ctx.Err())
		}
		if pollCtx.Err() != nil {
			return finish(ErrPollTimeout)
		}
		if opts.MaxAttempts > 0 && result.Attempts >= opts.MaxAttempts {
			return finish(ErrPollExhausted)
		}

		wait := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			wait.Stop()
			return finish(ctx.Err())
		case <-deadline:
			wait.Stop()
			return finish(ErrPollTimeout)
		case <-wait.C:
		}
	}
}
