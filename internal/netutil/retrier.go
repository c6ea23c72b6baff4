// Package netutil provides helpers for establishing connections.
package netutil

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/skycoin/skycoin/src/util/logging"
)

// RetryFunc is a function used as argument of (*Retrier).Do(), which will retry on error unless it is whitelisted
type RetryFunc func() error

// Retrier holds a configuration for how retries should be performed
type Retrier struct {
	Logger *logging.Logger

	exponentialBackoff time.Duration
	exponentialFactor  uint32
	threshold          time.Duration
	errWhitelist       map[error]struct{}
	retryIf            func(error) bool
}

// NewRetrier returns a retrier that waits backoff after the first failure,
// multiplies the wait by factor after every further failure and gives up
// once threshold has passed since the first failure.
func NewRetrier(backoff, threshold time.Duration, factor uint32) *Retrier {
	return &Retrier{
		Logger:             logging.MustGetLogger("retrier"),
		exponentialBackoff: backoff,
		threshold:          threshold,
		exponentialFactor:  factor,
		errWhitelist:       make(map[error]struct{}),
	}
}

// WithErrWhitelist sets a list of errors that are returned without retrying.
func (r *Retrier) WithErrWhitelist(errs ...error) *Retrier {
	m := make(map[error]struct{})
	for _, err := range errs {
		m[err] = struct{}{}
	}

	r.errWhitelist = m
	return r
}

// WithRetryIf restricts retries to the errors f reports true for.
func (r *Retrier) WithRetryIf(f func(error) bool) *Retrier {
	r.retryIf = f
	return r
}

// Do calls f until it succeeds. The last error is returned once it is not
// retryable, the threshold passed or ctx is done.
func (r *Retrier) Do(ctx context.Context, f RetryFunc) error {
	backoff := r.exponentialBackoff
	var deadline time.Time

	for {
		err := f()
		if err == nil || !r.retryable(err) {
			return err
		}

		now := time.Now()
		if deadline.IsZero() {
			deadline = now.Add(r.threshold)
		}
		if !now.Add(backoff).Before(deadline) {
			return err
		}
		r.Logger.WithError(err).Warnf("Retrying in %s", backoff)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		backoff *= time.Duration(r.exponentialFactor)
	}
}

func (r *Retrier) retryable(err error) bool {
	if _, ok := r.errWhitelist[errors.Cause(err)]; ok {
		return false
	}
	return r.retryIf == nil || r.retryIf(err)
}
