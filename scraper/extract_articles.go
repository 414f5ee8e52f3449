package scraper

import (
	"log"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"carbitrage/models"
)

const (
	articleTitleSelector   = "h1, h2, h3, h4"
	articlePriceSelector   = `[data-testid="ad-price"], [data-testid*="price"], [class*="price"]`
	articleMileageSelector = `[data-parameter="mileage"]`
	articleYearSelector    = `[data-parameter="year"]`
)

var inlinePriceRegex = regexp.MustCompile(`\d[\d\s.,\x{00a0}\x{202f}]*\s*(€|zł|PLN|EUR|£)`)

// ArticleExtractor reads search pages that render each offer as an
// <article> block, as otomoto and standvirtual do.
type ArticleExtractor struct {
	defaults extractDefaults
}

func NewArticleExtractor(defaults extractDefaults) *ArticleExtractor {
	return &ArticleExtractor{defaults: defaults}
}

func (e *ArticleExtractor) Extract(content, baseURL string) Extraction {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		log.Printf("Articles: parse %s: %v", baseURL, err)
		return Extraction{}
	}

	var out Extraction
	doc.Find("article").Each(func(_ int, block *goquery.Selection) {
		listing, ok := e.parseBlock(block, baseURL)
		if !ok {
			out.Skipped++
			return
		}
		out.Listings = append(out.Listings, listing)
	})

	return out
}

func (e *ArticleExtractor) parseBlock(block *goquery.Selection, baseURL string) (models.ScrapedListing, bool) {
	title := cleanText(block.Find(articleTitleSelector).First().Text())
	if title == "" {
		title, _ = block.Find("a[title]").First().Attr("title")
		title = cleanText(title)
	}

	priceText := cleanText(block.Find(articlePriceSelector).First().Text())
	if priceText == "" {
		priceText = cleanText(inlinePriceRegex.FindString(spacedText(block)))
	}
	price, ok := parseLocaleNumber(priceText, e.defaults.decimalComma)
	if title == "" || !ok {
		return models.ScrapedListing{}, false
	}

	// Price digits must not be mistaken for a year or a mileage.
	rest := strings.Replace(spacedText(block), priceText, " ", 1)

	listing := models.ScrapedListing{
		Title:       title,
		Price:       price,
		Currency:    currencyOr(detectCurrency(priceText), e.defaults.currency),
		Description: cleanText(block.Find("p").First().Text()),
		PriceType:   models.PriceTypeOneOff,
	}

	if y, ok := parseInteger(block.Find(articleYearSelector).First().Text()); ok {
		listing.Year = intPtr(y)
	} else {
		listing.Year = findYear(rest)
	}
	if listing.Year != nil {
		rest = strings.Replace(rest, strconv.Itoa(*listing.Year), " ", 1)
	}

	if km, ok := parseInteger(block.Find(articleMileageSelector).First().Text()); ok {
		listing.Mileage = intPtr(km)
	} else {
		listing.Mileage = findMileage(rest)
	}

	if href, ok := block.Find("a[href]").First().Attr("href"); ok {
		listing.ListingURL = resolveURL(baseURL, href)
	}

	return listing, true
}

// spacedText joins the text nodes under sel with spaces. Selection.Text
// glues adjacent elements together, so "KM</p><div>2019" would read as
// one word.
func spacedText(sel *goquery.Selection) string {
	var parts []string
	var walk func(*goquery.Selection)
	walk = func(s *goquery.Selection) {
		s.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				parts = append(parts, c.Text())
				return
			}
			walk(c)
		})
	}
	walk(sel)
	return cleanText(strings.Join(parts, " "))
}
