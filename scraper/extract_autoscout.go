package scraper

import (
	"encoding/json"
	"log"
	"strconv"
	"strings"

	"carbitrage/models"
)

type autoScoutNextData struct {
	Props struct {
		PageProps struct {
			Listings []autoScoutListing `json:"listings"`
		} `json:"pageProps"`
	} `json:"props"`
}

type autoScoutListing struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Price struct {
		PriceFormatted string `json:"priceFormatted"`
	} `json:"price"`
	Vehicle struct {
		Make              string `json:"make"`
		Model             string `json:"model"`
		ModelVersionInput string `json:"modelVersionInput"`
		MileageInKm       string `json:"mileageInKm"`
		Subtitle          string `json:"subtitle"`
	} `json:"vehicle"`
	Tracking struct {
		Price             string `json:"price"`
		FirstRegistration string `json:"firstRegistration"`
		Mileage           string `json:"mileage"`
	} `json:"tracking"`
}

type AutoScoutExtractor struct {
	defaults extractDefaults
}

func NewAutoScoutExtractor(defaults extractDefaults) *AutoScoutExtractor {
	return &AutoScoutExtractor{defaults: defaults}
}

func (e *AutoScoutExtractor) Extract(content, baseURL string) Extraction {
	payload, err := nextData(content)
	if err != nil {
		log.Printf("AutoScout24: %s: %v", baseURL, err)
		return Extraction{}
	}

	var data autoScoutNextData
	if err := json.Unmarshal(payload, &data); err != nil {
		log.Printf("AutoScout24: %s: malformed __NEXT_DATA__: %v", baseURL, err)
		return Extraction{}
	}

	var out Extraction
	for _, item := range data.Props.PageProps.Listings {
		listing, ok := e.toListing(item, baseURL)
		if !ok {
			out.Skipped++
			continue
		}
		out.Listings = append(out.Listings, listing)
	}
	return out
}

func (e *AutoScoutExtractor) toListing(item autoScoutListing, baseURL string) (models.ScrapedListing, bool) {
	v := item.Vehicle
	title := cleanText(strings.Join([]string{v.Make, v.Model, v.ModelVersionInput}, " "))

	// tracking.price is a bare integer; the formatted price follows the site locale.
	var price float64
	var ok bool
	if p, err := strconv.ParseFloat(strings.TrimSpace(item.Tracking.Price), 64); err == nil {
		price, ok = p, true
	} else {
		price, ok = parseLocaleNumber(item.Price.PriceFormatted, e.defaults.decimalComma)
	}
	if title == "" || !ok {
		return models.ScrapedListing{}, false
	}

	listing := models.ScrapedListing{
		Title:       title,
		Price:       price,
		Currency:    currencyOr(detectCurrency(item.Price.PriceFormatted), e.defaults.currency),
		Trim:        cleanText(v.ModelVersionInput),
		ListingURL:  resolveURL(baseURL, item.URL),
		Description: cleanText(v.Subtitle),
		PriceType:   models.PriceTypeOneOff,
	}

	if km, ok := parseInteger(item.Tracking.Mileage); ok {
		listing.Mileage = intPtr(km)
	} else if km, ok := parseInteger(v.MileageInKm); ok {
		listing.Mileage = intPtr(km)
	}
	listing.Year = findYear(item.Tracking.FirstRegistration)

	return listing, true
}
