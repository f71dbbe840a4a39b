// Package eventsink fans observable migration and queue lifecycle
// events out to one or more listeners (logging, metrics, whatever a
// deployment wires in), mirroring the way the teacher's notify package
// lets appview handlers stay ignorant of who's listening.
package eventsink

import "context"

// Sink receives migration and queue lifecycle events. Implementations
// must not block the caller for long; use Multi with a slow sink
// wrapped in its own goroutine if fan-out latency matters.
type Sink interface {
	MigrationEnqueued(ctx context.Context, jobID, formID, fieldID string)
	MigrationStarted(ctx context.Context, jobID, formID, fieldID string)
	MigrationCompleted(ctx context.Context, jobID, formID, fieldID string, recordID string)
	MigrationFailed(ctx context.Context, jobID, formID, fieldID string, err error)
	QueueDepthChanged(ctx context.Context, formID string, depth int)
}

// BaseSink is a listener that does nothing; embed it to implement only
// the events a particular sink cares about.
type BaseSink struct{}

var _ Sink = BaseSink{}

func (BaseSink) MigrationEnqueued(ctx context.Context, jobID, formID, fieldID string) {}
func (BaseSink) MigrationStarted(ctx context.Context, jobID, formID, fieldID string)   {}
func (BaseSink) MigrationCompleted(ctx context.Context, jobID, formID, fieldID, recordID string) {
}
func (BaseSink) MigrationFailed(ctx context.Context, jobID, formID, fieldID string, err error) {}
func (BaseSink) QueueDepthChanged(ctx context.Context, formID string, depth int)               {}
