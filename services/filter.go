package services

import "carbitrage/models"

// yearTolerance is how far a listing's model year may drift from the study year.
const yearTolerance = 1

// FilterListings keeps the listings a study can price against. A listing
// without a year or mileage is never excluded for that absence alone, and
// a study without a year does not filter on it.
func FilterListings(listings []models.ScrapedListing, study *models.Study) []models.ScrapedListing {
	var kept []models.ScrapedListing
	for _, l := range listings {
		if Eligible(&l, study) {
			kept = append(kept, l)
		}
	}
	return kept
}

func Eligible(l *models.ScrapedListing, study *models.Study) bool {
	if l.PriceType != models.PriceTypeOneOff {
		return false
	}
	if l.Price <= 0 {
		return false
	}
	if l.Year != nil && study.Year > 0 && abs(*l.Year-study.Year) > yearTolerance {
		return false
	}
	if l.Mileage != nil && study.MaxMileage > 0 && *l.Mileage > study.MaxMileage {
		return false
	}
	return true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
