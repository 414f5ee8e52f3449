package models

import "strings"

type ScanMode string

const (
	ScanModeFast ScanMode = "fast"
	ScanModeFull ScanMode = "full"
)

// Study is a vehicle profile compared between a target (resale) market
// and a source (acquisition) market. It is read-only for the duration of a run.
type Study struct {
	ID            string   `json:"id" yaml:"id" db:"id"`
	Brand         string   `json:"brand" yaml:"brand" db:"brand"`
	Model         string   `json:"model" yaml:"model" db:"model"`
	Year          int      `json:"year" yaml:"year" db:"year"`
	MaxMileage    int      `json:"max_mileage" yaml:"max_mileage" db:"max_mileage"`
	TargetCountry string   `json:"target_country" yaml:"target_country" db:"target_country"`
	SourceCountry string   `json:"source_country" yaml:"source_country" db:"source_country"`
	TargetURL     string   `json:"target_url" yaml:"target_url" db:"target_url"`
	SourceURL     string   `json:"source_url" yaml:"source_url" db:"source_url"`
	Trim          string   `json:"trim,omitempty" yaml:"trim" db:"trim"`
	TargetTrim    string   `json:"target_trim,omitempty" yaml:"target_trim" db:"target_trim"`
	SourceTrim    string   `json:"source_trim,omitempty" yaml:"source_trim" db:"source_trim"`
	Threshold     float64  `json:"threshold" yaml:"threshold" db:"threshold"`
	Mode          ScanMode `json:"mode" yaml:"mode" db:"mode"`
}

// EffectiveTargetTrim returns the per-market override, else the shared trim.
func (s *Study) EffectiveTargetTrim() string {
	return effectiveTrim(s.TargetTrim, s.Trim)
}

// EffectiveSourceTrim returns the per-market override, else the shared trim.
func (s *Study) EffectiveSourceTrim() string {
	return effectiveTrim(s.SourceTrim, s.Trim)
}

func effectiveTrim(override, shared string) string {
	if t := strings.TrimSpace(override); t != "" {
		return t
	}
	return strings.TrimSpace(shared)
}

func (s *Study) Label() string {
	return strings.TrimSpace(s.Brand + " " + s.Model)
}
