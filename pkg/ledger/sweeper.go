package ledger

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/dotsetgreg/budgetsim/pkg/logger"
)

// Sweeper evicts idle sessions on a cron schedule. Sessions live only in
// memory, so without a sweep an abandoned client would hold its slot until
// process exit.
type Sweeper struct {
	store    *Store
	schedule string
	ttl      time.Duration
	gron     *gronx.Gronx
}

func NewSweeper(store *Store, schedule string, ttl time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		schedule: schedule,
		ttl:      ttl,
		gron:     gronx.New(),
	}
}

// Run blocks until ctx is cancelled, checking the cron expression once a
// minute and sweeping when it is due.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := sw.gron.IsDue(sw.schedule, now)
			if err != nil {
				logger.ErrorCF("sweeper", "invalid sweep schedule", map[string]interface{}{
					"schedule": sw.schedule,
					"error":    err.Error(),
				})
				return
			}
			if due {
				sw.sweep(now)
			}
		}
	}
}

func (sw *Sweeper) sweep(now time.Time) {
	evicted := sw.store.EvictIdle(sw.ttl, now)
	if len(evicted) > 0 {
		logger.InfoCF("sweeper", "evicted idle sessions", map[string]interface{}{
			"count":     len(evicted),
			"remaining": sw.store.Len(),
		})
	}
}
