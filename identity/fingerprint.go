package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"carbitrage/models"
)

var (
	multiSpaceRegex = regexp.MustCompile(`\s+`)
	nonAlnumRegex   = regexp.MustCompile(`[^\p{L}\p{N}\s]`)
)

// Fingerprint identifies a listing within one scan. Sites repeat promoted
// offers on a results page; the permalink is the strongest key, otherwise
// the normalized title with price, year and mileage.
func Fingerprint(l *models.ScrapedListing) string {
	var input string
	if key := NormalizeListingURL(l.ListingURL); key != "" {
		input = "url|" + key
	} else {
		input = fmt.Sprintf("%s|%.2f|%s|%d|%d",
			NormalizeTitle(l.Title),
			l.Price,
			strings.ToUpper(l.Currency),
			deref(l.Year),
			deref(l.Mileage),
		)
	}
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:16])
}

// NormalizeListingURL drops scheme, www, query and fragment; tracking
// params differ between repeated placements of the same offer.
func NormalizeListingURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	return host + strings.TrimRight(u.EscapedPath(), "/")
}

func NormalizeTitle(title string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	title = nonAlnumRegex.ReplaceAllString(title, " ")
	title = multiSpaceRegex.ReplaceAllString(title, " ")
	return strings.TrimSpace(title)
}

func deref(p *int) int {
	if p == nil {
		return -1
	}
	return *p
}
