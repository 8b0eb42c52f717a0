package lms

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Retrier is the batch-side wrapper: a 401 is retried with a fresh token up to
// attempts times with a fixed delay. Other HTTP errors are handed back as a
// normal response so the caller can classify the body.
type Retrier struct {
	client   *Client
	attempts int
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewRetrier(c *Client, attempts int, delay time.Duration) *Retrier {
	if attempts <= 0 {
		attempts = 5
	}
	return &Retrier{client: c, attempts: attempts, delay: delay, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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

func (r *Retrier) run(ctx context.Context, op string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsUnauthorized(err) {
			var he *HTTPError
			if errors.As(err, &he) {
				return nil
			}
			return err
		}
		if attempt >= r.attempts {
			return fmt.Errorf("Could not get valid LMS access token for %s api: %w", op, err)
		}
		if serr := r.sleep(ctx, r.delay); serr != nil {
			return serr
		}
	}
}

func (r *Retrier) Earn(ctx context.Context, txs []EarnTransaction) (*EarnResult, error) {
	var res *EarnResult
	err := r.run(ctx, "earn", func() error {
		var err error
		res, err = r.client.Earn(ctx, txs)
		return err
	})
	return res, err
}

func (r *Retrier) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	var res *RefundResult
	err := r.run(ctx, "refund", func() error {
		var err error
		res, err = r.client.Refund(ctx, req)
		return err
	})
	return res, err
}

func (r *Retrier) RegisterUser(ctx context.Context, e Enrollment) (map[string]any, error) {
	var profile map[string]any
	err := r.run(ctx, "enrolling user", func() error {
		var err error
		profile, err = r.client.RegisterUser(ctx, e)
		if err != nil && !IsUnauthorized(err) {
			var he *HTTPError
			if errors.As(err, &he) {
				return fmt.Errorf("enrollment: %w", errUnretryable{err})
			}
		}
		return err
	})
	return profile, err
}

// errUnretryable hides an HTTPError from run so it propagates as an error.
type errUnretryable struct{ err error }

func (e errUnretryable) Error() string { return e.err.Error() }
