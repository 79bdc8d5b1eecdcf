package port

import (
	"context"
	"time"
)

// EventWindowStore counts security events per identifier inside trailing
// time windows. Backed by Redis sorted sets keyed on event timestamps.
type EventWindowStore interface {
	RecordEvent(ctx context.Context, identifier string, at time.Time) error
	CountEvents(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error)
	TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error
}
