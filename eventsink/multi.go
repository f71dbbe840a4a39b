package eventsink

import (
	"context"
	"sync"
)

// Multi fans every event out to its member sinks concurrently, the
// way the teacher's mergedNotifier fans a notification out to every
// registered Notifier. Unlike mergedNotifier this dispatches through
// the Sink interface directly rather than reflection, since Sink's
// method set is small and fixed.
type Multi struct {
	Sinks []Sink
}

var _ Sink = Multi{}

func (m Multi) fanout(fn func(Sink)) {
	var wg sync.WaitGroup
	for _, s := range m.Sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			fn(s)
		}(s)
	}
	wg.Wait()
}

func (m Multi) MigrationEnqueued(ctx context.Context, jobID, formID, fieldID string) {
	m.fanout(func(s Sink) { s.MigrationEnqueued(ctx, jobID, formID, fieldID) })
}

func (m Multi) MigrationStarted(ctx context.Context, jobID, formID, fieldID string) {
	m.fanout(func(s Sink) { s.MigrationStarted(ctx, jobID, formID, fieldID) })
}

func (m Multi) MigrationCompleted(ctx context.Context, jobID, formID, fieldID, recordID string) {
	m.fanout(func(s Sink) { s.MigrationCompleted(ctx, jobID, formID, fieldID, recordID) })
}

func (m Multi) MigrationFailed(ctx context.Context, jobID, formID, fieldID string, err error) {
	m.fanout(func(s Sink) { s.MigrationFailed(ctx, jobID, formID, fieldID, err) })
}

func (m Multi) QueueDepthChanged(ctx context.Context, formID string, depth int) {
	m.fanout(func(s Sink) { s.QueueDepthChanged(ctx, formID, depth) })
}
