package amqp

import (
	"context"
	"log/slog"

	applog "sheetsync/internal/log"
	"sheetsync/internal/services"
)

// Publisher is the subset of Client used by PublishHook.
type Publisher interface {
	PublishSnapshotChanged(ctx context.Context, event *SnapshotChangedEvent) error
}

// PublishHook announces acknowledged writes. Publishing happens off the
// request path; failures are logged and otherwise ignored.
func PublishHook(p Publisher, origin string) services.AckHook {
	return func(ctx context.Context, result services.WriteResult) {
		event := NewSnapshotChangedEvent(origin, applog.RequestID(ctx), result.Counts)
		go func(ctx context.Context) {
			if err := p.PublishSnapshotChanged(ctx, event); err != nil {
				slog.WarnContext(ctx, "Failed to publish snapshot event",
					applog.FieldComponent, applog.ComponentAMQP,
					applog.FieldError, err)
			}
		}(context.WithoutCancel(ctx))
	}
}

// InvalidateHandler drops the local snapshot when another instance writes.
// Events published by this instance are ignored; its own write hook has
// already done the work.
func InvalidateHandler(origin string, invalidate func()) func(*SnapshotChangedEvent) error {
	return func(event *SnapshotChangedEvent) error {
		if event.Origin == origin {
			return nil
		}
		invalidate()
		slog.Info("Snapshot invalidated by remote write",
			applog.FieldComponent, applog.ComponentAMQP,
			"origin", event.Origin,
			applog.FieldRequestID, event.RequestID)
		return nil
	}
}
