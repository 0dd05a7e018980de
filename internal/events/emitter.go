package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

var buffer = NewRingBuffer(256)

// Appender persists events. The Postgres client satisfies this; tests
// swap in a recorder.
type Appender interface {
	Append(ts time.Time, level, name, msg string, fields map[string]interface{}, source string) error
}

var (
	appender        Appender
	appenderMu      sync.RWMutex
	appendErrLogged bool
)

// SetAppender sets the persistence sink for emitted events.
func SetAppender(a Appender) {
	appenderMu.Lock()
	appender = a
	appendErrLogged = false
	appenderMu.Unlock()
}

type Event struct {
	Timestamp string                 `json:"ts"`
	Level     string                 `json:"level"`
	Name      string                 `json:"event"`
	Message   string                 `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func Emit(level, name, msg string, fields map[string]interface{}) ([]byte, error) {
	if err := Validate(name); err != nil {
		return nil, err
	}

	ts := time.Now().UTC()
	e := Event{
		Timestamp: ts.Format(time.RFC3339Nano),
		Level:     level,
		Name:      name,
		Message:   msg,
		Fields:    fields,
	}

	buffer.Add(e)
	broadcast(e)

	appenderMu.RLock()
	sink := appender
	errLogged := appendErrLogged
	appenderMu.RUnlock()

	if sink != nil {
		if err := sink.Append(ts, level, name, msg, fields, ""); err != nil {
			// Log the failure once to avoid spam. Add straight to the ring
			// buffer, NOT via Emit, so a persistently failing sink cannot
			// recurse.
			if !errLogged {
				appenderMu.Lock()
				if !appendErrLogged {
					appendErrLogged = true
					appenderMu.Unlock()
					buffer.Add(Event{
						Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
						Level:     "error",
						Name:      "system.error",
						Message:   "event append failed",
						Fields: map[string]interface{}{
							"error": err.Error(),
						},
					})
				} else {
					appenderMu.Unlock()
				}
			}
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return b, nil
}

func Snapshot() []Event {
	return buffer.Snapshot()
}

// Clear resets the event buffer. Used for testing.
func Clear() {
	buffer.Clear()
}
