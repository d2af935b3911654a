// Package sentryhook reports relay failures to Sentry.
package sentryhook

import (
	"context"
	"strconv"

	"github.com/getsentry/sentry-go"

	"github.com/velmie/stagedpush"
)

// Handler returns a stagedpush.ErrorHandler that captures every failed
// iteration on hub. identity tags events with the worker that produced them.
// A nil hub uses the current hub.
func Handler(hub *sentry.Hub, identity string) stagedpush.ErrorHandler {
	return func(ctx context.Context, records []stagedpush.Record, err error) {
		h := hub
		if h == nil {
			h = sentry.GetHubFromContext(ctx)
		}
		if h == nil {
			h = sentry.CurrentHub()
		}

		h.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("component", "stagedpush")
			if identity != "" {
				scope.SetTag("identity", identity)
			}
			scope.SetTag("batch_size", strconv.Itoa(len(records)))
			if len(records) > 0 {
				scope.SetExtra("first_id", records[0].ID)
				scope.SetExtra("last_id", records[len(records)-1].ID)
			}
			h.CaptureException(err)
		})
	}
}
