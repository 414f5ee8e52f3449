package services

import (
	"testing"

	"carbitrage/models"
)

func intPtr(v int) *int { return &v }

func testStudy() *models.Study {
	return &models.Study{
		ID:         "golf-gti",
		Brand:      "Volkswagen",
		Model:      "Golf GTI",
		Year:       2019,
		MaxMileage: 80000,
	}
}

func TestEligible(t *testing.T) {
	study := testStudy()

	tests := []struct {
		name    string
		listing models.ScrapedListing
		want    bool
	}{
		{
			name:    "complete and valid",
			listing: models.ScrapedListing{Price: 21000, Year: intPtr(2019), Mileage: intPtr(60000), PriceType: models.PriceTypeOneOff},
			want:    true,
		},
		{
			name:    "recurring price",
			listing: models.ScrapedListing{Price: 21000, Year: intPtr(2019), Mileage: intPtr(60000), PriceType: models.PriceTypeRecurring},
			want:    false,
		},
		{
			name:    "unknown price type",
			listing: models.ScrapedListing{Price: 21000, PriceType: models.PriceTypeUnknown},
			want:    false,
		},
		{
			name:    "zero price",
			listing: models.ScrapedListing{Price: 0, PriceType: models.PriceTypeOneOff},
			want:    false,
		},
		{
			name:    "negative price",
			listing: models.ScrapedListing{Price: -1, PriceType: models.PriceTypeOneOff},
			want:    false,
		},
		{
			name:    "year one below",
			listing: models.ScrapedListing{Price: 1, Year: intPtr(2018), PriceType: models.PriceTypeOneOff},
			want:    true,
		},
		{
			name:    "year one above",
			listing: models.ScrapedListing{Price: 1, Year: intPtr(2020), PriceType: models.PriceTypeOneOff},
			want:    true,
		},
		{
			name:    "year two below",
			listing: models.ScrapedListing{Price: 1, Year: intPtr(2017), PriceType: models.PriceTypeOneOff},
			want:    false,
		},
		{
			name:    "year two above",
			listing: models.ScrapedListing{Price: 1, Year: intPtr(2021), PriceType: models.PriceTypeOneOff},
			want:    false,
		},
		{
			name:    "mileage at cap",
			listing: models.ScrapedListing{Price: 1, Mileage: intPtr(80000), PriceType: models.PriceTypeOneOff},
			want:    true,
		},
		{
			name:    "mileage over cap",
			listing: models.ScrapedListing{Price: 1, Mileage: intPtr(80001), PriceType: models.PriceTypeOneOff},
			want:    false,
		},
		{
			name:    "missing year and mileage",
			listing: models.ScrapedListing{Price: 1, PriceType: models.PriceTypeOneOff},
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Eligible(&tt.listing, study); got != tt.want {
				t.Errorf("Eligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEligibleNoMileageCap(t *testing.T) {
	study := testStudy()
	study.MaxMileage = 0

	l := models.ScrapedListing{Price: 1, Mileage: intPtr(500000), PriceType: models.PriceTypeOneOff}
	if !Eligible(&l, study) {
		t.Fatal("mileage should be ignored when the study has no cap")
	}
}

func TestFilterListingsKeepsOrder(t *testing.T) {
	study := testStudy()
	listings := []models.ScrapedListing{
		{Title: "a", Price: 10000, PriceType: models.PriceTypeOneOff},
		{Title: "b", Price: 10000, PriceType: models.PriceTypeRecurring},
		{Title: "c", Price: 11000, Mileage: intPtr(120000), PriceType: models.PriceTypeOneOff},
		{Title: "d", Price: 12000, Year: intPtr(2019), PriceType: models.PriceTypeOneOff},
	}

	got := FilterListings(listings, study)
	if len(got) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(got))
	}
	if got[0].Title != "a" || got[1].Title != "d" {
		t.Fatalf("unexpected listings %q, %q", got[0].Title, got[1].Title)
	}
}

func TestFilterListingsEmpty(t *testing.T) {
	if got := FilterListings(nil, testStudy()); len(got) != 0 {
		t.Fatalf("expected no listings, got %d", len(got))
	}
}
