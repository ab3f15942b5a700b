package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDeadline(t *testing.T) {
	assert.Equal(t, Retriable, Classify(context.DeadlineExceeded, 0, ""))
}

func TestClassifyCanceled(t *testing.T) {
	assert.Equal(t, NonRetriable, Classify(context.Canceled, 0, ""))
}

func TestClassifyConnectionError(t *testing.T) {
	kind := Classify(errors.New("fail"), 128, "fatal: unable to access: Could not resolve host: github.com")
	assert.Equal(t, Retriable, kind)
}

func TestClassifyAuthFailure(t *testing.T) {
	kind := Classify(errors.New("fail"), 128, "remote: Permission denied to bot")
	assert.Equal(t, NonRetriable, kind)
}

func TestClassifyLeaseRejected(t *testing.T) {
	kind := Classify(errors.New("fail"), 1, "! [rejected] main -> main (stale info)")
	assert.Equal(t, NonRetriable, kind)
}

func TestClassifyFatalExitCode(t *testing.T) {
	assert.Equal(t, NonRetriable, Classify(errors.New("fail"), 128, "something broke"))
}

func TestClassifyUnknown(t *testing.T) {
	assert.Equal(t, Unknown, Classify(errors.New("fail"), 1, "some weird error"))
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, Retriable, ClassifyStatus(429))
	assert.Equal(t, Retriable, ClassifyStatus(502))
	assert.Equal(t, NonRetriable, ClassifyStatus(404))
	assert.Equal(t, NonRetriable, ClassifyStatus(422))
	assert.Equal(t, Unknown, ClassifyStatus(200))
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "RETRIABLE", Retriable.String())
	assert.Equal(t, "NON_RETRIABLE", NonRetriable.String())
	assert.Equal(t, "UNKNOWN", Unknown.String())
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.InitDelay)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
}

func TestPolicyExecuteSuccessFirstAttempt(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitDelay: time.Millisecond, Multiplier: 2.0, MaxDelay: time.Second}
	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) (ErrorKind, error) {
		calls++
		return Retriable, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicyExecuteRetriableSucceedsOnThird(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitDelay: time.Millisecond, Multiplier: 1.0, MaxDelay: time.Second}
	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) (ErrorKind, error) {
		calls++
		if calls < 3 {
			return Retriable, errors.New("transient")
		}
		return Retriable, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicyExecuteNonRetriableStopsImmediately(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitDelay: time.Millisecond, Multiplier: 2.0, MaxDelay: time.Second}
	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) (ErrorKind, error) {
		calls++
		return NonRetriable, errors.New("permanent")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "permanent")
}

func TestPolicyExecuteUnknownRetriesLikeRetriable(t *testing.T) {
	p := Policy{MaxAttempts: 2, InitDelay: time.Millisecond, Multiplier: 1.0, MaxDelay: time.Second}
	calls := 0
	err := p.Execute(context.Background(), func(ctx context.Context) (ErrorKind, error) {
		calls++
		return Unknown, errors.New("mystery")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func TestPolicyExecuteRespectsContext(t *testing.T) {
	p := Policy{MaxAttempts: 10, InitDelay: time.Second, Multiplier: 2.0, MaxDelay: time.Minute}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Execute(ctx, func(ctx context.Context) (ErrorKind, error) {
		return Retriable, errors.New("fail")
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPolicyDelayCalculation(t *testing.T) {
	p := Policy{MaxAttempts: 5, InitDelay: 100 * time.Millisecond, Multiplier: 2.0, MaxDelay: 500 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.delay(0))
	assert.Equal(t, 200*time.Millisecond, p.delay(1))
	assert.Equal(t, 400*time.Millisecond, p.delay(2))
	assert.Equal(t, 500*time.Millisecond, p.delay(3))
}
