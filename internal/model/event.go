package model

import (
	"encoding/json"
	"time"
)

// Level is the severity of a log event. Only the five enumerated values
// are accepted by the contract validator; anything else is rejected.
type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Levels lists the recognized severities in ascending order.
func Levels() []Level {
	return []Level{LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical}
}

// Valid reports whether l is one of the five recognized severities.
func (l Level) Valid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical:
		return true
	}
	return false
}

// LogEvent is one validated log record submitted by a client service.
// Core fields are typed; everything else the client sent (logger_name,
// thread_name, context, tags, exception details, request metadata, ...)
// is preserved verbatim in Attrs for forward compatibility.
//
// Events are immutable once accepted by the gateway.
type LogEvent struct {
	ID                string         `json:"log_id,omitempty" validate:"-"`
	ServiceName       string         `json:"service_name" validate:"required"`
	ServiceType       string         `json:"service_type"`
	ServiceVersion    string         `json:"service_version"`
	ServiceInstanceID string         `json:"service_instance_id"`
	Level             Level          `json:"level" validate:"required"`
	Message           string         `json:"message" validate:"required"`
	Environment       string         `json:"environment"`
	Timestamp         time.Time      `json:"timestamp"`
	Attrs             map[string]any `json:"-"`

	// SizeBytes is the encoded size of the event as received, set by the
	// contract validator and used by the metrics engine for byte counters.
	SizeBytes int `json:"-"`
}

// coreEventFields are the top-level JSON keys mapped onto typed LogEvent
// fields; every other key lands in Attrs.
var coreEventFields = map[string]struct{}{
	"log_id":              {},
	"service_name":        {},
	"service_type":        {},
	"service_version":     {},
	"service_instance_id": {},
	"level":               {},
	"message":             {},
	"environment":         {},
	"timestamp":           {},
}

type logEventAlias LogEvent

// MarshalJSON emits the core fields plus every preserved attribute at the
// top level, so an accepted event round-trips without loss.
func (e LogEvent) MarshalJSON() ([]byte, error) {
	core, err := json.Marshal(logEventAlias(e))
	if err != nil {
		return nil, err
	}
	if len(e.Attrs) == 0 {
		return core, nil
	}
	merged := make(map[string]json.RawMessage, len(e.Attrs)+len(coreEventFields))
	if err := json.Unmarshal(core, &merged); err != nil {
		return nil, err
	}
	for k, v := range e.Attrs {
		if _, reserved := coreEventFields[k]; reserved {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		merged[k] = raw
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the core fields and collects unknown top-level
// keys into Attrs.
func (e *LogEvent) UnmarshalJSON(data []byte) error {
	var alias logEventAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k := range coreEventFields {
		delete(all, k)
	}
	*e = LogEvent(alias)
	if len(all) > 0 {
		e.Attrs = all
	}
	return nil
}

// EncodedSize returns the wire size recorded at validation time, falling
// back to re-encoding for events constructed in code.
func (e *LogEvent) EncodedSize() int {
	if e.SizeBytes > 0 {
		return e.SizeBytes
	}
	b, err := json.Marshal(e)
	if err != nil {
		return len(e.Message)
	}
	return len(b)
}

// Summary is a one-line rendering used in worker logs.
func (e *LogEvent) Summary() string {
	return "[" + string(e.Level) + "] " + e.ServiceName + ": " + e.Message
}
