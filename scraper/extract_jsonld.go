package scraper

import (
	"bytes"
	"encoding/json"
	"log"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"carbitrage/models"
)

// flexNumber accepts both 18990 and "18990" as schema.org sites emit either.
type flexNumber struct {
	Value float64
	Set   bool
}

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		n.Value, n.Set = v, true
		return nil
	}
	if err := json.Unmarshal(b, &n.Value); err != nil {
		return err
	}
	n.Set = true
	return nil
}

type ldNode struct {
	Type             ldTypes           `json:"@type"`
	Name             string            `json:"name"`
	URL              string            `json:"url"`
	Description      string            `json:"description"`
	VehicleModelDate string            `json:"vehicleModelDate"`
	ProductionDate   string            `json:"productionDate"`
	Offers           ldOffers          `json:"offers"`
	Price            flexNumber        `json:"price"`
	PriceCurrency    string            `json:"priceCurrency"`
	ItemOffered      *ldNode           `json:"itemOffered"`
	Mileage          *ldQuantity       `json:"mileageFromOdometer"`
	Configuration    string            `json:"vehicleConfiguration"`
	ItemList         []json.RawMessage `json:"itemListElement"`
	Item             json.RawMessage   `json:"item"`
}

// ldTypes holds @type, which may be a single name or a list of names.
type ldTypes []string

func (t *ldTypes) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var names []string
		if err := json.Unmarshal(b, &names); err != nil {
			return err
		}
		*t = names
		return nil
	}
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	*t = ldTypes{name}
	return nil
}

func (t ldTypes) is(names ...string) bool {
	for _, have := range t {
		for _, want := range names {
			if have == want {
				return true
			}
		}
	}
	return false
}

type ldOffer struct {
	Price         flexNumber `json:"price"`
	LowPrice      flexNumber `json:"lowPrice"`
	PriceCurrency string     `json:"priceCurrency"`
}

// ldOffers holds offers, given either as one object or as a list.
type ldOffers []ldOffer

func (o *ldOffers) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '[' {
		var list []ldOffer
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*o = list
		return nil
	}
	var one ldOffer
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*o = ldOffers{one}
	return nil
}

// first returns the first offer carrying a price.
func (o ldOffers) first() (float64, string, bool) {
	for _, offer := range o {
		if offer.Price.Set {
			return offer.Price.Value, offer.PriceCurrency, true
		}
		if offer.LowPrice.Set {
			return offer.LowPrice.Value, offer.PriceCurrency, true
		}
	}
	return 0, "", false
}

type ldQuantity struct {
	Value flexNumber `json:"value"`
}

// JSONLDExtractor reads schema.org ItemList or Car/Product blocks from
// application/ld+json scripts.
type JSONLDExtractor struct {
	defaults extractDefaults
}

func NewJSONLDExtractor(defaults extractDefaults) *JSONLDExtractor {
	return &JSONLDExtractor{defaults: defaults}
}

func (e *JSONLDExtractor) Extract(content, baseURL string) Extraction {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		log.Printf("JSON-LD: parse %s: %v", baseURL, err)
		return Extraction{}
	}

	var out Extraction
	scripts := doc.Find(`script[type="application/ld+json"]`)
	if scripts.Length() == 0 {
		log.Printf("JSON-LD: %s: no ld+json blocks", baseURL)
		return out
	}

	scripts.Each(func(_ int, s *goquery.Selection) {
		for _, node := range decodeLDNodes([]byte(s.Text()), baseURL) {
			e.collect(node, baseURL, &out)
		}
	})
	return out
}

func decodeLDNodes(payload []byte, baseURL string) []*ldNode {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil
	}

	raws := []json.RawMessage{payload}
	if payload[0] == '[' {
		if err := json.Unmarshal(payload, &raws); err != nil {
			log.Printf("JSON-LD: %s: malformed block: %v", baseURL, err)
			return nil
		}
	}

	nodes := make([]*ldNode, 0, len(raws))
	for _, raw := range raws {
		node, err := decodeLDNode(raw)
		if err != nil {
			log.Printf("JSON-LD: %s: malformed node: %v", baseURL, err)
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes
}

func decodeLDNode(raw json.RawMessage) (*ldNode, error) {
	var node ldNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

func (e *JSONLDExtractor) collect(node *ldNode, baseURL string, out *Extraction) {
	if node == nil {
		return
	}

	if node.Type.is("ItemList") {
		for _, raw := range node.ItemList {
			e.collectElement(raw, baseURL, out)
		}
		return
	}

	if !node.Type.is("Car", "Vehicle", "Product", "Offer") {
		return
	}

	// A bare Offer carries its own price and may describe the car in itemOffered.
	price, currency, ok := node.Offers.first()
	if !ok && node.Type.is("Offer") && node.Price.Set {
		price, currency, ok = node.Price.Value, node.PriceCurrency, true
	}
	if node.Type.is("Offer") && node.ItemOffered != nil {
		merged := *node.ItemOffered
		if merged.URL == "" {
			merged.URL = node.URL
		}
		node = &merged
	}

	title := cleanText(node.Name)
	if title == "" || !ok {
		out.Skipped++
		return
	}

	listing := models.ScrapedListing{
		Title:       title,
		Price:       price,
		Currency:    currencyOr(strings.ToUpper(currency), e.defaults.currency),
		Trim:        cleanText(node.Configuration),
		ListingURL:  resolveURL(baseURL, node.URL),
		Description: cleanText(node.Description),
		PriceType:   models.PriceTypeOneOff,
	}
	if node.Mileage != nil && node.Mileage.Value.Set {
		listing.Mileage = intPtr(int(node.Mileage.Value.Value))
	}
	if y := findYear(node.VehicleModelDate); y != nil {
		listing.Year = y
	} else {
		listing.Year = findYear(node.ProductionDate)
	}

	out.Listings = append(out.Listings, listing)
}

// collectElement decodes one itemListElement entry on its own so a bad
// entry is skipped without losing its siblings.
func (e *JSONLDExtractor) collectElement(raw json.RawMessage, baseURL string, out *Extraction) {
	el, err := decodeLDNode(raw)
	if err != nil {
		log.Printf("JSON-LD: %s: skipping list item: %v", baseURL, err)
		out.Skipped++
		return
	}

	if len(el.Item) == 0 || string(el.Item) == "null" {
		if el.Type.is("ListItem") || len(el.Type) == 0 {
			out.Skipped++
			return
		}
		e.collect(el, baseURL, out)
		return
	}

	item, err := decodeLDNode(el.Item)
	if err != nil {
		log.Printf("JSON-LD: %s: skipping list item: %v", baseURL, err)
		out.Skipped++
		return
	}
	e.collect(item, baseURL, out)
}
