package scheduling

import (
	"context"

	"github.com/drfirst/go-medsched/internal/domain/schedule"
)

type correlationKey struct{}

// WithCorrelationID tags events committed under ctx with id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id set by WithCorrelationID.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

func correlate(ctx context.Context, s *schedule.Schedule) *schedule.Schedule {
	if id := CorrelationID(ctx); id != "" {
		for _, ev := range s.Changes() {
			if ev.CorrelationID == "" {
				ev.WithCorrelation(id)
			}
		}
	}
	return s
}
