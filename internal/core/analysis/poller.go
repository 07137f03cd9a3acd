package analysis

import (
	"context"
	"errors"
	"net/http"
	"time"

	"arcscan/internal/core/progress"
	"arcscan/internal/logger"
	"arcscan/internal/platform/backend"
)

// Poller is the pull channel: a fixed-interval loop against the backend's
// progress-by-locator endpoint. Redundant with the watcher on purpose; both
// converge to the same terminal status. The loop cancels itself once it
// observes one.
type Poller struct {
	log    *logger.Logger
	cancel context.CancelFunc
}

func NewPoller(b Backend, locator string, interval time.Duration, sess *Session) *Poller {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		log:    logger.New("ProgressPoller"),
		cancel: cancel,
	}
	gen := sess.Generation()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				resp, err := b.Progress(ctx, locator)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					var apiErr *backend.APIError
					if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
						// No progress yet. Keep polling.
						continue
					}
					sess.Deliver(gen, progress.Errorf(err.Error()))
					return
				}
				st := progress.FromPoll(progress.PollResponse{
					Status:   resp.Status,
					Progress: resp.Progress,
					Message:  resp.Message,
				})
				sess.Deliver(gen, st)
				if st.Status.Terminal() {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return p
}

func (p *Poller) Close() error {
	p.cancel()
	return nil
}
