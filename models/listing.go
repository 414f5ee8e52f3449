package models

type PriceType string

const (
	PriceTypeOneOff    PriceType = "one_off"
	PriceTypeRecurring PriceType = "recurring"
	PriceTypeUnknown   PriceType = "unknown"
)

// ScrapedListing is one offer extracted from a marketplace search page.
// Price is in the market's local currency; Currency is an ISO code and
// empty when it could not be determined.
type ScrapedListing struct {
	Title       string    `json:"title"`
	Price       float64   `json:"price"`
	Currency    string    `json:"currency"`
	Mileage     *int      `json:"mileage,omitempty"`
	Year        *int      `json:"year,omitempty"`
	Trim        string    `json:"trim,omitempty"`
	ListingURL  string    `json:"listing_url"`
	Description string    `json:"description"`
	PriceType   PriceType `json:"price_type"`
}
