package journal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"necto/internal/stream"
)

const routingSubject = "necto.routing.events"

// StreamListener mirrors journal events onto the event stream for external
// audit tooling. Publish failures are logged and dropped so a broker outage
// never fails a routing attempt.
type StreamListener struct {
	pub    stream.Publisher
	logger *logrus.Logger
}

// NewStreamListener wraps a publisher as a journal listener.
func NewStreamListener(pub stream.Publisher, logger *logrus.Logger) *StreamListener {
	return &StreamListener{pub: pub, logger: logger}
}

// OnEvent publishes the event as JSON.
func (l *StreamListener) OnEvent(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		l.logger.Warnf("failed to marshal journal event: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.pub.Publish(ctx, routingSubject, data); err != nil {
		l.logger.Warnf("failed to publish journal event: %v", err)
	}
}
