package models

import (
	"time"

	"github.com/google/uuid"
)

type ResultStatus string

const (
	ResultStatusNull          ResultStatus = "NULL"
	ResultStatusOpportunities ResultStatus = "OPPORTUNITIES"
	ResultStatusTargetBlocked ResultStatus = "TARGET_BLOCKED"
	ResultStatusSourceBlocked ResultStatus = "SOURCE_BLOCKED"
)

// Reasons persisted in target_error_reason.
const (
	ReasonScraperFailed         = "scraper failed"
	ReasonScraperFailedOnSource = "scraper failed on source"
	ReasonNoValidTarget         = "no valid target listings"
	ReasonNoValidSource         = "no valid source listings"
)

// StudyRunResult is the immutable outcome row written once per (run, study).
type StudyRunResult struct {
	ID                int64        `json:"id" db:"id"`
	RunID             uuid.UUID    `json:"run_id" db:"run_id"`
	StudyID           string       `json:"study_id" db:"study_id"`
	Status            ResultStatus `json:"status" db:"status"`
	TargetMarketPrice *float64     `json:"target_market_price" db:"target_market_price"`
	BestSourcePrice   *float64     `json:"best_source_price" db:"best_source_price"`
	PriceDifference   *float64     `json:"price_difference" db:"price_difference"`
	TargetStats       *TargetStats `json:"target_stats" db:"target_stats"`
	TargetErrorReason *string      `json:"target_error_reason" db:"target_error_reason"`
	CreatedAt         time.Time    `json:"created_at" db:"created_at"`
}

func (r *StudyRunResult) Reason() string {
	if r.TargetErrorReason == nil {
		return ""
	}
	return *r.TargetErrorReason
}
