package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// retryStale runs op again while it fails with ErrStaleWrite. Any other
// error stops immediately.
func (m *Manager) retryStale(ctx context.Context, op func() error) error {
	attempt := func() error {
		err := op()
		if err == nil || errors.Is(err, ErrStaleWrite) {
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = m.opts.OperationTimeout

	return backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(bo, m.opts.MaxStaleRetries), ctx))
}
