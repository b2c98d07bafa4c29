package supervisor

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// watchdogInterval matches spec's "poll ~1s" parent-liveness cadence.
const watchdogInterval = time.Second

// WatchParent polls ppid's liveness every watchdogInterval and calls
// onParentGone (expected to trigger a clean shutdown) the first time
// it observes the parent has exited. It runs until ctx is cancelled or
// the parent is found gone.
func WatchParent(ctx context.Context, ppid int32, onParentGone func()) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			alive, err := process.PidExistsWithContext(ctx, ppid)
			if err == nil && !alive {
				onParentGone()
				return
			}
		}
	}
}
