package inference

import (
	"context"
	"math"
	"time"
)

// RetryPolicy re-runs a full credential rotation after short-term exhaustion.
// MaxAttempts counts rotations, so 1 means no retry. Daily quota exhaustion is
// never retried.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     float64
}

// NoRetry runs a single rotation.
var NoRetry = RetryPolicy{MaxAttempts: 1}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// wait returns the pause before rotation attempt+1. A longer server hint wins.
func (p RetryPolicy) wait(attempt int, hint time.Duration) time.Duration {
	backoff := p.Backoff
	if backoff < 1 {
		backoff = 1
	}
	d := time.Duration(float64(p.Delay) * math.Pow(backoff, float64(attempt-1)))
	if hint > d {
		d = hint
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
