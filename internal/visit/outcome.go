package visit

import (
	"time"

	"url-time/internal/settings"
)

// Level classifies a visit outcome.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Outcome records a single visit attempt. Status and Elapsed are absent when
// the request failed before a response arrived.
type Outcome struct {
	Level       Level         `json:"level"`
	Message     string        `json:"message"`
	URL         string        `json:"url"`
	Status      int           `json:"status,omitempty"`
	Elapsed     *float64      `json:"elapsed,omitempty"`
	AccessCount int           `json:"access_count"`
	Mode        settings.Mode `json:"mode,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}
