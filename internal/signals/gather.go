package signals

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
)

// Gather runs every collector concurrently and merges their updates. A
// collector that errors or panics is recorded in Snapshot.Failed and the
// pass continues with the remaining signals.
func Gather(ctx context.Context, logger *logrus.Entry, scope Scope, now time.Time, collectors ...Collector) *Snapshot {
	snap := NewSnapshot(now)

	var (
		mu        sync.Mutex
		updates   []Update
		succeeded = make(map[string]bool, len(collectors))
		wg        conc.WaitGroup
	)

	for _, c := range collectors {
		col := c
		wg.Go(func() {
			log := logger.WithField("collector", col.Name())
			u, err := col.Collect(ctx, scope)
			if err != nil {
				log.WithError(err).Warn("Collector failed, continuing without its signal")
				return
			}
			if u.Source == "" {
				u.Source = col.Name()
			}
			log.WithField("scanned", u.Scanned).Debug("Collector finished")

			mu.Lock()
			updates = append(updates, u)
			succeeded[col.Name()] = true
			mu.Unlock()
		})
	}

	if recovered := wg.WaitAndRecover(); recovered != nil {
		logger.WithField("panic", fmt.Sprint(recovered.Value)).Error("Collector panicked")
	}

	// Apply in collector-name order so overlapping keys resolve the same way every run.
	sort.Slice(updates, func(i, j int) bool { return updates[i].Source < updates[j].Source })
	for _, u := range updates {
		snap.ApplyUpdate(u)
		if u.Truncated {
			snap.Truncated = append(snap.Truncated, u.Source)
		}
	}

	for _, c := range collectors {
		if !succeeded[c.Name()] {
			snap.Failed = append(snap.Failed, c.Name())
		}
	}
	sort.Strings(snap.Failed)
	return snap
}
