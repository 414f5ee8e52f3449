package pricing

import (
	"strings"

	"carbitrage/models"
)

// Normalizer converts market-local prices into the reference currency
// using a rate table fixed at startup.
type Normalizer struct {
	reference string
	rates     map[string]float64
}

func NewNormalizer(reference string, rates map[string]float64) *Normalizer {
	table := make(map[string]float64, len(rates))
	for code, rate := range rates {
		table[strings.ToUpper(code)] = rate
	}
	return &Normalizer{
		reference: strings.ToUpper(reference),
		rates:     table,
	}
}

func (n *Normalizer) Reference() string {
	return n.reference
}

// ToReference never fails: an unknown or empty currency is treated as
// already being in the reference currency.
func (n *Normalizer) ToReference(price float64, currency string) float64 {
	return price * n.rate(currency)
}

func (n *Normalizer) rate(currency string) float64 {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" || code == n.reference {
		return 1
	}
	if rate, ok := n.rates[code]; ok && rate > 0 {
		return rate
	}
	return 1
}

// ReferencePrices maps listings to their prices in the reference currency,
// preserving order.
func (n *Normalizer) ReferencePrices(listings []models.ScrapedListing) []float64 {
	prices := make([]float64, 0, len(listings))
	for _, l := range listings {
		prices = append(prices, n.ToReference(l.Price, l.Currency))
	}
	return prices
}
