package stream

import "context"

// Publisher is the event streaming boundary. Routing progress events are
// mirrored here for external audit tooling.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	HealthCheck(ctx context.Context) error
	Close() error
}
