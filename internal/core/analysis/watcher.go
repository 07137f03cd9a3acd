package analysis

import (
	"context"

	"arcscan/internal/core/jobkey"
	"arcscan/internal/core/progress"
	"arcscan/internal/logger"
	rds "arcscan/internal/platform/redis"
)

// Watcher is the push channel: a pub/sub subscription on the job-key channel.
// Each notification re-reads the progress record and delivers the normalized
// state to the session. The record is read fresh rather than trusting the
// notification payload, so a dropped message costs one update, not
// correctness.
type Watcher struct {
	log    *logger.Logger
	cancel context.CancelFunc
}

func NewWatcher(redis *rds.Service, source ProgressSource, key jobkey.Key, sess *Session) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		log:    logger.New("ProgressWatcher"),
		cancel: cancel,
	}
	sub := redis.Subscribe(ctx, ProgressChannel(key))
	gen := sess.Generation()

	go func() {
		defer sub.Close()

		deliver := func() {
			rec, err := source.ProgressRecord(ctx, key)
			if err != nil {
				w.log.LogWarnf("progress record read %s: %v", key, err)
				return
			}
			if rec == nil {
				w.log.LogDebugf("no progress record for %s yet", key)
				return
			}
			sess.Deliver(gen, progress.FromRecord(*rec))
		}

		// Snapshot-listener semantics: report the current record immediately,
		// then on every notification.
		deliver()
		ch := sub.Channel()
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
				deliver()
			case <-ctx.Done():
				return
			}
		}
	}()
	return w
}

// Close unsubscribes. Must be called on reset, completion and session
// replacement; a dangling subscription is a correctness bug. It does not wait
// for the subscription goroutine: the session discards anything it still
// delivers via the generation check.
func (w *Watcher) Close() error {
	w.cancel()
	return nil
}
