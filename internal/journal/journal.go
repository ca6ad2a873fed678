// Package journal collects the human-readable progress events a routing
// attempt emits at every state transition. The event log is the primary
// mechanism and is returned with the outcome; live listeners are optional
// secondaries.
package journal

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Level is the severity of a progress event.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one progress entry in a routing attempt's log.
type Event struct {
	Time    time.Time      `json:"time"`
	Level   Level          `json:"level"`
	State   string         `json:"state"`
	Message string         `json:"message"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// Listener receives events as they are recorded. Listener failures must not
// affect the attempt, so implementations handle their own errors.
type Listener interface {
	OnEvent(e Event)
}

// Recorder is the append-only event log for one routing attempt. Safe for
// concurrent use.
type Recorder struct {
	mu        sync.Mutex
	events    []Event
	listeners []Listener
	logger    *logrus.Logger
}

// NewRecorder creates an empty recorder. logger may be nil.
func NewRecorder(logger *logrus.Logger, listeners ...Listener) *Recorder {
	return &Recorder{logger: logger, listeners: listeners}
}

// Record appends one event and fans it out to listeners.
func (r *Recorder) Record(level Level, state, message string, detail map[string]any) {
	e := Event{
		Time:    time.Now().UTC(),
		Level:   level,
		State:   state,
		Message: message,
		Detail:  detail,
	}

	r.mu.Lock()
	r.events = append(r.events, e)
	listeners := r.listeners
	r.mu.Unlock()

	if r.logger != nil {
		entry := r.logger.WithField("state", state)
		for k, v := range detail {
			entry = entry.WithField(k, v)
		}
		switch level {
		case LevelWarn:
			entry.Warn(message)
		case LevelError:
			entry.Error(message)
		default:
			entry.Info(message)
		}
	}

	for _, l := range listeners {
		l.OnEvent(e)
	}
}

// Info records an informational event.
func (r *Recorder) Info(state, message string, detail map[string]any) {
	r.Record(LevelInfo, state, message, detail)
}

// Warn records a warning event.
func (r *Recorder) Warn(state, message string, detail map[string]any) {
	r.Record(LevelWarn, state, message, detail)
}

// Error records an error event.
func (r *Recorder) Error(state, message string, detail map[string]any) {
	r.Record(LevelError, state, message, detail)
}

// Events returns a copy of the log in recording order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
