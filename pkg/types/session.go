// Package types provides the data types shared by the manager service and
// its extractor clients.
package types

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// Well-known session statuses. Callers may close a session with any other
// label; the manager stores status strings verbatim.
const (
	StatusStarted            = "STARTED"
	StatusCompleted          = "COMPLETED"
	StatusFinishedWithErrors = "FINISHED_WITH_ERRORS"
)

// sessionTimeLayout is the timestamp component of a session id.
const sessionTimeLayout = "20060102150405"

// sessionSuffixSpace bounds the random suffix to seven decimal digits.
const sessionSuffixSpace = 10_000_000

// Session is one logical run of an extractor.
type Session struct {
	SessionID string     `json:"session_id"`
	AppName   string     `json:"app_name"`
	Status    string     `json:"status"`
	Start     time.Time  `json:"start"`
	End       *time.Time `json:"end"`
}

// Finished reports whether the session has an end time.
func (s *Session) Finished() bool {
	return s.End != nil
}

// OpenSessionResponse is returned by the open session endpoint.
type OpenSessionResponse struct {
	SessionID string `json:"session_id"`
}

// StatusUpdate is the body of a status update. Start and End are only
// applied when present.
type StatusUpdate struct {
	SessionID string     `json:"session_id"`
	Status    string     `json:"status"`
	Start     *time.Time `json:"start,omitempty"`
	End       *time.Time `json:"end,omitempty"`
}

// Validate checks required fields.
func (u *StatusUpdate) Validate() error {
	if u.SessionID == "" {
		return missingField("session_id")
	}
	if u.Status == "" {
		return missingField("status")
	}
	return nil
}

// timestampLayouts are accepted for start and end. Naive timestamps, as
// sent by older extractors, are read in the local zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON accepts RFC 3339 and naive ISO 8601 timestamps for start
// and end.
func (u *StatusUpdate) UnmarshalJSON(data []byte) error {
	var raw struct {
		SessionID string  `json:"session_id"`
		Status    string  `json:"status"`
		Start     *string `json:"start"`
		End       *string `json:"end"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	start, err := parseTimestamp("start", raw.Start)
	if err != nil {
		return err
	}
	end, err := parseTimestamp("end", raw.End)
	if err != nil {
		return err
	}

	*u = StatusUpdate{
		SessionID: raw.SessionID,
		Status:    raw.Status,
		Start:     start,
		End:       end,
	}
	return nil
}

func parseTimestamp(field string, value *string) (*time.Time, error) {
	if value == nil || *value == "" {
		return nil, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, *value, time.Local); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%s: invalid timestamp %q", field, *value)
}

// SessionIDGenerator builds ids of the form {app_name}-{YYYYMMDDhhmmss}-{7 digits}.
// Ids are unique only with high probability; the store enforces uniqueness.
type SessionIDGenerator struct {
	suffix func() int
}

// NewSessionIDGenerator creates a generator backed by math/rand.
func NewSessionIDGenerator() *SessionIDGenerator {
	return &SessionIDGenerator{
		suffix: func() int { return rand.Intn(sessionSuffixSpace) },
	}
}

// Generate returns a new session id for appName at time t.
func (g *SessionIDGenerator) Generate(appName string, t time.Time) string {
	return fmt.Sprintf("%s-%s-%07d", appName, t.Format(sessionTimeLayout), g.suffix())
}

// ParseSessionID splits a session id into its app name, timestamp and
// random suffix. App names may themselves contain dashes.
func ParseSessionID(id string) (appName string, ts time.Time, suffix int, err error) {
	last := strings.LastIndexByte(id, '-')
	if last < 0 {
		return "", time.Time{}, 0, fmt.Errorf("session id %q: missing suffix", id)
	}
	mid := strings.LastIndexByte(id[:last], '-')
	if mid < 0 {
		return "", time.Time{}, 0, fmt.Errorf("session id %q: missing timestamp", id)
	}

	suffixPart := id[last+1:]
	if len(suffixPart) != 7 {
		return "", time.Time{}, 0, fmt.Errorf("session id %q: suffix must have 7 digits", id)
	}
	suffix, err = strconv.Atoi(suffixPart)
	if err != nil {
		return "", time.Time{}, 0, fmt.Errorf("session id %q: invalid suffix: %w", id, err)
	}

	ts, err = time.ParseInLocation(sessionTimeLayout, id[mid+1:last], time.Local)
	if err != nil {
		return "", time.Time{}, 0, fmt.Errorf("session id %q: invalid timestamp: %w", id, err)
	}

	return id[:mid], ts, suffix, nil
}
