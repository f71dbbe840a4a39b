package eventsink

import (
	"context"
	"log/slog"
)

// Slog logs every event at a level appropriate to its severity. It is
// the sink cmd/fieldmigrate wires in.
type Slog struct {
	Logger *slog.Logger
}

var _ Sink = Slog{}

func (s Slog) MigrationEnqueued(ctx context.Context, jobID, formID, fieldID string) {
	s.Logger.InfoContext(ctx, "migration enqueued", "job_id", jobID, "form_id", formID, "field_id", fieldID)
}

func (s Slog) MigrationStarted(ctx context.Context, jobID, formID, fieldID string) {
	s.Logger.InfoContext(ctx, "migration started", "job_id", jobID, "form_id", formID, "field_id", fieldID)
}

func (s Slog) MigrationCompleted(ctx context.Context, jobID, formID, fieldID, recordID string) {
	s.Logger.InfoContext(ctx, "migration completed", "job_id", jobID, "form_id", formID, "field_id", fieldID, "record_id", recordID)
}

func (s Slog) MigrationFailed(ctx context.Context, jobID, formID, fieldID string, err error) {
	s.Logger.ErrorContext(ctx, "migration failed", "job_id", jobID, "form_id", formID, "field_id", fieldID, "error", err)
}

func (s Slog) QueueDepthChanged(ctx context.Context, formID string, depth int) {
	s.Logger.DebugContext(ctx, "queue depth changed", "form_id", formID, "depth", depth)
}
