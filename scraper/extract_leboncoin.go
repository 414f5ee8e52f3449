package scraper

import (
	"encoding/json"
	"log"

	"carbitrage/models"
)

type leboncoinNextData struct {
	Props struct {
		PageProps struct {
			SearchData struct {
				Ads []leboncoinAd `json:"ads"`
			} `json:"searchData"`
		} `json:"pageProps"`
	} `json:"props"`
}

type leboncoinAd struct {
	ListID     int64                `json:"list_id"`
	Subject    string               `json:"subject"`
	Body       string               `json:"body"`
	URL        string               `json:"url"`
	Price      []float64            `json:"price"`
	Attributes []leboncoinAttribute `json:"attributes"`
}

type leboncoinAttribute struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	ValueLabel string `json:"value_label"`
}

func (ad *leboncoinAd) attr(key string) string {
	for _, a := range ad.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

type LeboncoinExtractor struct {
	defaults extractDefaults
}

func NewLeboncoinExtractor(defaults extractDefaults) *LeboncoinExtractor {
	return &LeboncoinExtractor{defaults: defaults}
}

func (e *LeboncoinExtractor) Extract(content, baseURL string) Extraction {
	payload, err := nextData(content)
	if err != nil {
		log.Printf("Leboncoin: %s: %v", baseURL, err)
		return Extraction{}
	}

	var data leboncoinNextData
	if err := json.Unmarshal(payload, &data); err != nil {
		log.Printf("Leboncoin: %s: malformed __NEXT_DATA__: %v", baseURL, err)
		return Extraction{}
	}

	var out Extraction
	for _, ad := range data.Props.PageProps.SearchData.Ads {
		title := cleanText(ad.Subject)
		if title == "" || len(ad.Price) == 0 {
			out.Skipped++
			continue
		}

		listing := models.ScrapedListing{
			Title:       title,
			Price:       ad.Price[0],
			Currency:    e.defaults.currency,
			Trim:        cleanText(ad.attr("u_car_version")),
			ListingURL:  resolveURL(baseURL, ad.URL),
			Description: cleanText(ad.Body),
			PriceType:   models.PriceTypeOneOff,
		}
		if km, ok := parseInteger(ad.attr("mileage")); ok {
			listing.Mileage = intPtr(km)
		}
		listing.Year = findYear(ad.attr("regdate"))

		out.Listings = append(out.Listings, listing)
	}
	return out
}
