package scraper

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	yearRegex    = regexp.MustCompile(`\b(19[5-9]\d|20[0-4]\d)\b`)
	mileageRegex = regexp.MustCompile(`\b(\d{1,3}(?:[ .\x{00a0}\x{202f}]\d{3})+|\d+)\s*km\b`)
	digitsRegex  = regexp.MustCompile(`\d+`)
	numberRegex  = regexp.MustCompile(`\d[\d\s.,'\x{00a0}\x{202f}]*`)
	multiSpace   = regexp.MustCompile(`\s+`)

	currencySigns = []struct {
		sign string
		code string
	}{
		{"€", "EUR"},
		{"EUR", "EUR"},
		{"zł", "PLN"},
		{"PLN", "PLN"},
		{"£", "GBP"},
		{"GBP", "GBP"},
		{"CHF", "CHF"},
		{"Kč", "CZK"},
		{"CZK", "CZK"},
		{"SEK", "SEK"},
		{"US$", "USD"},
		{"$", "USD"},
	}
)

// parseLocaleNumber reads a formatted amount. In decimal-comma markets
// "18.990,50" is 18990.5 and "18.990" is 18990; elsewhere "18,990.50" is
// 18990.5. Whitespace, apostrophes and narrow spaces are always grouping.
func parseLocaleNumber(s string, decimalComma bool) (float64, bool) {
	m := numberRegex.FindString(s)
	if m == "" {
		return 0, false
	}

	var b strings.Builder
	for _, r := range m {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ',' && decimalComma, r == '.' && !decimalComma:
			b.WriteRune('.')
		}
	}

	clean := strings.TrimRight(b.String(), ".")
	if strings.Count(clean, ".") > 1 {
		return 0, false
	}
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseInteger keeps only the digits of the first number in s.
func parseInteger(s string) (int, bool) {
	m := numberRegex.FindString(s)
	if m == "" {
		return 0, false
	}
	digits := strings.Join(digitsRegex.FindAllString(m, -1), "")
	v, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return v, true
}

func findYear(s string) *int {
	m := yearRegex.FindString(s)
	if m == "" {
		return nil
	}
	y, _ := strconv.Atoi(m)
	return &y
}

// findMileage reads a "120 000 km" style odometer value. Only lowercase km
// counts, as Polish listings use "KM" for horsepower.
func findMileage(s string) *int {
	m := mileageRegex.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	km, ok := parseInteger(m[1])
	if !ok {
		return nil
	}
	return &km
}

func detectCurrency(s string) string {
	for _, c := range currencySigns {
		if strings.Contains(s, c.sign) {
			return c.code
		}
	}
	return ""
}

func currencyOr(detected, fallback string) string {
	if detected != "" {
		return detected
	}
	return fallback
}

func cleanText(s string) string {
	return strings.TrimSpace(multiSpace.ReplaceAllString(s, " "))
}

// resolveURL makes a listing link absolute against the page it came from.
func resolveURL(baseURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return href
	}
	return base.ResolveReference(ref).String()
}

func intPtr(v int) *int {
	return &v
}
