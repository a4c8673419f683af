package agent

import (
	"context"
	"time"
)

// Run drives SyncOnce on a fixed interval until ctx ends. A send on kicks
// schedules an immediate extra pass, used by the realtime subscriber.
// Failed passes back off exponentially up to maxBackoff instead of hammering
// a broken backend at the poll interval.
func (s *Syncer) Run(ctx context.Context, interval time.Duration, kicks <-chan struct{}) {
	const maxBackoff = 2 * time.Minute

	backoff := interval
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-kicks:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if err := s.SyncOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("sync pass failed", "error", err, "retry_in", backoff)
			timer.Reset(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = interval
		timer.Reset(interval)
	}
}
