package client

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"newsfeed/internal/logger"
)

const (
	defaultRetryAttempts = 3
	defaultRetryMinWait  = time.Second
	defaultRetryMaxWait  = 2 * time.Second
)

// retryPolicy is a fixed number of retries with a jittered pause in
// [minWait, maxWait] before each.
type retryPolicy struct {
	attempts int
	minWait  time.Duration
	maxWait  time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{attempts: defaultRetryAttempts, minWait: defaultRetryMinWait, maxWait: defaultRetryMaxWait}
}

func newRetryPolicy(attempts int, minWait, maxWait time.Duration) retryPolicy {
	p := defaultRetryPolicy()
	if attempts >= 0 {
		p.attempts = attempts
	}
	if minWait > 0 {
		p.minWait = minWait
	}
	if maxWait > 0 {
		p.maxWait = maxWait
	}
	if p.maxWait < p.minWait {
		p.maxWait = p.minWait
	}
	return p
}

// backOff centres the interval between the bounds and jitters it to reach
// both, without growth.
func (p retryPolicy) backOff() backoff.BackOff {
	mid := (p.minWait + p.maxWait) / 2
	factor := 0.0
	if mid > 0 {
		factor = float64(p.maxWait-p.minWait) / float64(p.minWait+p.maxWait)
	}
	return &backoff.ExponentialBackOff{
		InitialInterval:     mid,
		RandomizationFactor: factor,
		Multiplier:          1,
		MaxInterval:         p.maxWait,
	}
}

// errFeedPending marks an attempt whose feed is not ready yet
var errFeedPending = errors.New("feed not ready")

// FeedAfterWrite fetches the feed right after a preference write, carrying
// the write's consistency token. While the feed is unavailable or empty it
// retries per the client's retry policy; when the budget runs out it returns
// ErrDeferred. Non-retryable failures and cancellation end it immediately.
func (c *Client) FeedAfterWrite(ctx context.Context, consistencyToken string) (*FeedResult, error) {
	req := FeedRequest{ForceRefresh: true, ConsistencyToken: consistencyToken}
	attempt := 0

	operation := func() (*FeedResult, error) {
		attempt++
		result, err := c.Feed(ctx, req)
		if err != nil {
			if IsRetryable(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		if result.RateLimited || !result.Empty() {
			return result, nil
		}
		return result, errFeedPending
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.retry.backOff()),
		backoff.WithMaxTries(uint(c.retry.attempts+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug("Feed not ready after preference write, retrying", "attempt", attempt, "wait", next, "error", err)
		}),
	)
	if err == nil {
		return result, nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if errors.Is(err, errFeedPending) || IsRetryable(err) {
		logger.Info("Feed deferred after preference write", "attempts", attempt, "error", err)
		return result, ErrDeferred
	}
	return nil, err
}
