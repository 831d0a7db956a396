package intake

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/blnkfinance/intake/config"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// RetryPolicy bounds how often and how patiently an operation is retried.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy is 3 retries starting at one second, doubling each time.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    config.DEFAULT_MAX_RETRIES,
		InitialDelay:  config.DEFAULT_INITIAL_DELAY_MS * time.Millisecond,
		BackoffFactor: config.DEFAULT_BACKOFF_FACTOR,
	}
}

// RetryPolicyFromConfig builds a policy from the retry section of the configuration.
func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    cfg.MaxRetries,
		InitialDelay:  cfg.InitialDelay(),
		BackoffFactor: cfg.BackoffFactor,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retrier re-invokes failing operations with exponential backoff. It is
// the boundary through which the pipeline reaches the store and remote
// calls. Retries of one operation run one after another.
type Retrier struct {
	policy RetryPolicy
	sleep  SleepFunc
}

func NewRetrier(policy RetryPolicy) *Retrier {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = 1
	}
	return &Retrier{policy: policy, sleep: sleepContext}
}

// WithSleep replaces the wait between attempts.
func (r *Retrier) WithSleep(sleep SleepFunc) *Retrier {
	c := *r
	c.sleep = sleep
	return &c
}

// Policy returns the retrier's policy.
func (r *Retrier) Policy() RetryPolicy {
	return r.policy
}

// Do calls op until it succeeds, fails permanently or the retries are used
// up. Errors wrapped with backoff.Permanent are returned unwrapped without
// a retry. After the last retry the last error is returned unchanged.
//
// The delay doubles (by BackoffFactor) after each attempt. When the first
// failure is network-class the schedule starts at twice InitialDelay.
func (r *Retrier) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var schedule *backoff.ExponentialBackOff

	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		if attempt >= r.policy.MaxRetries || ctx.Err() != nil {
			return err
		}

		if schedule == nil {
			schedule = r.newSchedule(isNetworkError(err))
		}
		delay := schedule.NextBackOff()

		logrus.WithFields(logrus.Fields{
			"operation": name,
			"attempt":   attempt + 1,
			"delay":     delay.String(),
		}).WithError(err).Warn("operation failed, retrying")

		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}
}

func (r *Retrier) newSchedule(network bool) *backoff.ExponentialBackOff {
	initial := r.policy.InitialDelay
	if network {
		initial *= 2
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.Multiplier = r.policy.BackoffFactor
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// RetryValue is Do for operations that return a value.
func RetryValue[T any](ctx context.Context, r *Retrier, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, name, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
