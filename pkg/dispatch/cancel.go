package dispatch

import (
	"context"
	"time"
)

// mergeContext derives a context that is cancelled as soon as either
// parent is done, carrying the error of whichever fired first. Values and
// deadlines are taken from primary. A finished worker's result is never
// discarded by the merge; cancellation only stops in-flight work.
func mergeContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancelCause(primary)

	go func() {
		select {
		case <-secondary.Done():
			cancel(context.Cause(secondary))
		case <-merged.Done():
		}
	}()

	return merged, func() { cancel(context.Canceled) }
}

// workerContext builds the per-worker cancellation scope: the batch
// context merged with an independent worker deadline.
func workerContext(batch context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(batch)
	}
	deadline, deadlineCancel := context.WithTimeout(context.Background(), timeout)
	merged, mergedCancel := mergeContext(batch, deadline)
	return merged, func() {
		mergedCancel()
		deadlineCancel()
	}
}
