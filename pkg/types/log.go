package types

import (
	"fmt"
	"strings"
	"time"
)

// Level is the severity of a mirrored log event.
type Level string

// The four levels accepted by the manager.
const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Levels lists the accepted levels in increasing severity.
var Levels = []Level{LevelInfo, LevelWarning, LevelError, LevelCritical}

// Valid reports whether l is one of the four accepted levels.
func (l Level) Valid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelError, LevelCritical:
		return true
	}
	return false
}

// LogEntry is a stored log event.
type LogEntry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	AppName   string    `json:"app_name"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// LogRequest is the body of an append log call. The timestamp is assigned
// by the manager at insertion.
type LogRequest struct {
	SessionID string `json:"session_id"`
	AppName   string `json:"app_name"`
	Level     Level  `json:"level"`
	Message   string `json:"message"`
}

// Validate checks required fields and the level enum.
func (r *LogRequest) Validate() error {
	if r.SessionID == "" {
		return missingField("session_id")
	}
	if r.AppName == "" {
		return missingField("app_name")
	}
	if r.Level == "" {
		return missingField("level")
	}
	if !r.Level.Valid() {
		levels := make([]string, len(Levels))
		for i, l := range Levels {
			levels[i] = string(l)
		}
		return &ValidationError{
			Field:  "level",
			Code:   CodeInvalidLevel,
			Reason: fmt.Sprintf("level %q must be one of %s", r.Level, strings.Join(levels, ", ")),
		}
	}
	return nil
}
