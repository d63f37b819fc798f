package agent

import (
	"context"
	"time"

	"github.com/zen-systems/careerflow/pkg/adapter"
)

// RetryPolicy controls retries of transient adapter failures.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy retries twice, starting at 200ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseBackoff: 200 * time.Millisecond, MaxBackoff: 2 * time.Second}
}

// generate calls the adapter, retrying transient errors with exponential
// backoff. It returns the reply and the number of retries used.
func (e *Executor) generate(ctx context.Context, req adapter.Request) (*adapter.Response, int, error) {
	var lastErr error
	retries := 0
	for attempt := 0; attempt <= e.retry.MaxRetries; attempt++ {
		retries = attempt
		resp, err := e.adapter.Generate(ctx, req)
		if err == nil {
			return resp, attempt, nil
		}

		lastErr = err
		if !adapter.IsTransient(err) || attempt == e.retry.MaxRetries {
			break
		}

		backoff := computeBackoff(e.retry.BaseBackoff, e.retry.MaxBackoff, attempt)
		e.logf("[agent] %s transient error, retry %d in %s: %v", e.adapter.Name(), attempt+1, backoff, err)
		if err := e.sleep(ctx, backoff); err != nil {
			return nil, attempt, err
		}
	}
	return nil, retries, lastErr
}

func computeBackoff(base, max time.Duration, attempt int) time.Duration {
	backoff := base
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if backoff >= max {
			return max
		}
	}
	if backoff > max {
		return max
	}
	return backoff
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
