package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy is an exponential backoff policy for transient failures.
type Policy struct {
	MaxAttempts int
	InitDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		InitDelay:   2 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
	}
}

// Execute calls fn until it succeeds, returns a NonRetriable error, the
// attempts are used up, or ctx is done.
func (p Policy) Execute(ctx context.Context, fn func(ctx context.Context) (ErrorKind, error)) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		kind, err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if kind == NonRetriable {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		case <-time.After(p.delay(i)):
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.InitDelay)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}
