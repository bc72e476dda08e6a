package harnessports

import "context"

// Tracer emits spans and events for a turn. Operations within one step run in
// parallel, so implementations must be safe for concurrent use.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error))
	Event(ctx context.Context, name string, attrs map[string]any)
}
