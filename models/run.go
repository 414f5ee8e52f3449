package models

import (
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// StudyRun is one batch execution over a set of studies.
type StudyRun struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at" db:"finished_at"`
	Status        RunStatus  `json:"status" db:"status"`
	StudiesTotal  int        `json:"studies_total" db:"studies_total"`
	Opportunities int        `json:"opportunities" db:"opportunities"`
	Nulls         int        `json:"nulls" db:"nulls"`
	Blocked       int        `json:"blocked" db:"blocked"`
	ErrorMessage  string     `json:"error_message" db:"error_message"`
}
