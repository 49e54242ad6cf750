package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel is the Postgres channel the API notifies after enqueueing
// a job. Listening on it lets the worker pick up new work immediately
// instead of waiting out a poll interval.
const NotifyChannel = "jobs"

// ListenForJobs holds a dedicated connection on the notify channel and
// nudges signalCh whenever a notification arrives. Reconnects forever;
// polling covers the gaps.
func ListenForJobs(ctx context.Context, dsn string, signalCh chan<- struct{}) {
	for {
		if ctx.Err() != nil {
			return
		}

		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect for LISTEN", "channel", NotifyChannel, "error", err)
			time.Sleep(5 * time.Second)
			continue
		}

		c, err := pool.Acquire(ctx)
		if err != nil {
			slog.Error("failed to acquire connection for LISTEN", "channel", NotifyChannel, "error", err)
			pool.Close()
			time.Sleep(5 * time.Second)
			continue
		}

		_, err = c.Exec(ctx, "LISTEN "+NotifyChannel)
		if err != nil {
			slog.Error("failed to LISTEN", "channel", NotifyChannel, "error", err)
			c.Release()
			pool.Close()
			time.Sleep(5 * time.Second)
			continue
		}

		slog.Info("Listening for job notifications", "channel", NotifyChannel)

		for {
			if ctx.Err() != nil {
				c.Release()
				pool.Close()
				return
			}

			_, err := c.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("wait for notification failed", "channel", NotifyChannel, "error", err)
				}
				c.Release()
				pool.Close()
				break
			}

			select {
			case signalCh <- struct{}{}:
			default:
			}
		}
	}
}
