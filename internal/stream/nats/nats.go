package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Stream publishes events to NATS JetStream.
type Stream struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New connects to NATS and ensures the events stream exists.
func New(url string) (*Stream, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	s := &Stream{
		conn: conn,
		js:   js,
	}

	if err := s.initStreams(); err != nil {
		return nil, fmt.Errorf("failed to initialize streams: %w", err)
	}

	return s, nil
}

// initStreams creates the necessary JetStream streams.
func (s *Stream) initStreams() error {
	streams := []nats.StreamConfig{
		{
			Name:     "NECTO_EVENTS",
			Subjects: []string{"necto.routing.*", "necto.payments.*"},
			Storage:  nats.FileStorage,
			MaxAge:   24 * time.Hour,
		},
	}

	for _, streamConfig := range streams {
		_, err := s.js.StreamInfo(streamConfig.Name)
		if err != nil {
			// Stream doesn't exist, create it
			_, err = s.js.AddStream(&streamConfig)
			if err != nil {
				return fmt.Errorf("failed to create stream %s: %w", streamConfig.Name, err)
			}
		}
	}

	return nil
}

// Publish publishes a message to a subject.
func (s *Stream) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := s.js.Publish(subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// HealthCheck verifies the NATS connection and JetStream availability.
func (s *Stream) HealthCheck(ctx context.Context) error {
	if s.conn.Status() != nats.CONNECTED {
		return fmt.Errorf("NATS connection not healthy")
	}

	_, err := s.js.AccountInfo()
	if err != nil {
		return fmt.Errorf("JetStream not available: %w", err)
	}

	return nil
}

// Close closes the NATS connection.
func (s *Stream) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
