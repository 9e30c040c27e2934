package poll

import (
	"context"
	"errors"
	"time"

	"github.com/mikeydub/go-collab/service/gql"
	"github.com/mikeydub/go-collab/service/logger"
	sentryutil "github.com/mikeydub/go-collab/service/sentry"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

// Task is something to check on a fixed interval.
type Task struct {
	Name     string
	Interval time.Duration
	Poll     func(ctx context.Context) error
}

// Run polls every task until ctx is done. Each task polls once immediately and then on
// its interval. Failed polls are logged and retried on the next tick, except an expired
// session, which stops every task and is returned.
func Run(ctx context.Context, tasks ...Task) error {
	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError()
	for _, task := range tasks {
		task := task
		p.Go(func(ctx context.Context) error {
			return runTask(ctx, task)
		})
	}
	err := p.Wait()
	if errors.Is(err, gql.ErrSessionExpired) {
		return gql.ErrSessionExpired
	}
	return err
}

func runTask(ctx context.Context, task Task) error {
	log := logger.For(ctx).WithFields(logrus.Fields{
		"task":     task.Name,
		"interval": task.Interval,
	})
	log.Debug("polling started")

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		if err := task.Poll(ctx); err != nil {
			if errors.Is(err, gql.ErrSessionExpired) {
				log.Info("session expired, polling stopped")
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("poll failed")
			sentryutil.ReportError(ctx, err)
		}

		select {
		case <-ctx.Done():
			log.Debug("polling stopped")
			return nil
		case <-ticker.C:
		}
	}
}
