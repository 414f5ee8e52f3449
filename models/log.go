package models

import (
	"time"

	"github.com/google/uuid"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ScanLog is a run-scoped event read by the progress dashboard.
type ScanLog struct {
	ID        int64      `json:"id" db:"id"`
	RunID     *uuid.UUID `json:"run_id" db:"run_id"`
	Timestamp time.Time  `json:"timestamp" db:"timestamp"`
	Level     LogLevel   `json:"level" db:"level"`
	Message   string     `json:"message" db:"message"`
	StudyID   string     `json:"study_id" db:"study_id"`
}
