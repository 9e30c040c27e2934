package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"
)

var (
	DefaultRetry    = Retry{Base: 250 * time.Millisecond, Cap: 4 * time.Second, Tries: 3}
	ErrOutOfRetries = errors.New("tried too many times")
)

type Retry struct {
	Base  time.Duration // Min amount of time to sleep per iteration
	Cap   time.Duration // Max amount of time to sleep per iteration
	Tries int           // Number of times to try
}

// Delay returns a random duration in [0, min(Cap, Base*2^i)).
func (r Retry) Delay(i int) time.Duration {
	d := r.Base << uint(i)
	if d > r.Cap || d <= 0 {
		d = r.Cap
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d)))
}

// Sleep waits for the i-th backoff delay or until ctx is done.
func (r Retry) Sleep(ctx context.Context, i int) error {
	t := time.NewTimer(r.Delay(i))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryRequestWithRetry sends req and backs off while the server answers 429. Requests
// with a body must be replayable through req.GetBody (http.NewRequest sets it for
// in-memory bodies). Any other status or a transport error is returned immediately.
func RetryRequestWithRetry(c *http.Client, req *http.Request, r Retry) (*http.Response, error) {
	ctx := req.Context()
	for i := 0; i < r.Tries; i++ {
		if i > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to rewind request body: %w", err)
			}
			req.Body = body
		}

		resp, err := c.Do(req)
		if err != nil {
			return resp, err
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		if i == r.Tries-1 {
			return resp, nil
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if err := r.Sleep(ctx, i); err != nil {
			return nil, err
		}
	}
	return nil, ErrOutOfRetries
}

func RetryFunc(ctx context.Context, f func(ctx context.Context) error, shouldRetry func(error) bool, r Retry) error {
	var err error
	for i := 0; i < r.Tries; i++ {
		err = f(ctx)
		if err == nil {
			return nil
		}

		if !shouldRetry(err) {
			return err
		}

		if i < r.Tries-1 {
			if sleepErr := r.Sleep(ctx, i); sleepErr != nil {
				return sleepErr
			}
		}
	}
	return fmt.Errorf("%w: %w", ErrOutOfRetries, err)
}
