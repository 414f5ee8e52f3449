package models

// MarketStats summarises a set of reference-currency prices. Every field is
// zero for an empty set so the persisted shape never changes.
type MarketStats struct {
	Median float64 `json:"median"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Count  int     `json:"count"`
	P25    float64 `json:"p25"`
	P75    float64 `json:"p75"`
}

// TargetStats is the persisted target_stats object. The URL fields and
// MarketMedian are only filled on the opportunity path.
type TargetStats struct {
	MarketStats
	TargetURL    string   `json:"target_url,omitempty"`
	SourceURL    string   `json:"source_url,omitempty"`
	MarketMedian *float64 `json:"market_median,omitempty"`
}
