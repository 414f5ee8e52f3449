package scraper

import (
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"

	"carbitrage/config"
	"carbitrage/models"
)

// Extraction is what an extractor recovered from one page. Skipped counts
// listing blocks that were found but lacked a title or price.
type Extraction struct {
	Listings []models.ScrapedListing
	Skipped  int
}

type Extractor interface {
	Extract(content, baseURL string) Extraction
}

// Market binds a marketplace's hosts to its extractor and trim convention.
type Market struct {
	ID        string
	Name      string
	Hosts     []string
	Countries []string
	Currency  string
	Extractor Extractor
	Trim      TrimMutator
}

func (m *Market) MatchesHost(host string) bool {
	host = strings.ToLower(host)
	for _, h := range m.Hosts {
		if h != "" && strings.Contains(host, strings.ToLower(h)) {
			return true
		}
	}
	return false
}

func (m *Market) ServesCountry(country string) bool {
	for _, c := range m.Countries {
		if strings.EqualFold(c, country) {
			return true
		}
	}
	return false
}

// extractDefaults carries the market conventions every extractor needs.
type extractDefaults struct {
	currency     string
	decimalComma bool
}

func NewExtractor(cfg *config.MarketConfig) (Extractor, error) {
	defaults := extractDefaults{
		currency:     strings.ToUpper(cfg.Currency),
		decimalComma: cfg.DecimalComma,
	}

	switch cfg.Extractor {
	case "articles":
		return NewArticleExtractor(defaults), nil
	case "autoscout24":
		return NewAutoScoutExtractor(defaults), nil
	case "leboncoin":
		return NewLeboncoinExtractor(defaults), nil
	case "jsonld":
		return NewJSONLDExtractor(defaults), nil
	default:
		return nil, fmt.Errorf("unknown extractor %q for market %s", cfg.Extractor, cfg.ID)
	}
}

type Registry struct {
	markets []*Market
}

func NewRegistry(cfgs map[string]*config.MarketConfig) (*Registry, error) {
	r := &Registry{}

	ids := make([]string, 0, len(cfgs))
	for id := range cfgs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cfg := cfgs[id]
		extractor, err := NewExtractor(cfg)
		if err != nil {
			return nil, err
		}
		trim, err := NewTrimMutator(cfg.Trim)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", id, err)
		}
		r.Register(&Market{
			ID:        cfg.ID,
			Name:      cfg.Name,
			Hosts:     cfg.Hosts,
			Countries: cfg.Countries,
			Currency:  strings.ToUpper(cfg.Currency),
			Extractor: extractor,
			Trim:      trim,
		})
	}

	return r, nil
}

func (r *Registry) Register(m *Market) {
	r.markets = append(r.markets, m)
}

func (r *Registry) Markets() []*Market {
	return r.markets
}

// ForURL returns the market whose host pattern occurs in the URL's host,
// or nil when no market claims it.
func (r *Registry) ForURL(rawURL string) *Market {
	host := hostOf(rawURL)
	if host == "" {
		return nil
	}
	for _, m := range r.markets {
		if m.MatchesHost(host) {
			return m
		}
	}
	return nil
}

// TrimFor picks the trim convention for a study leg. Markets are selected
// by country code; when several serve the country, the one matching the
// URL host wins. A URL-only match is the last resort.
func (r *Registry) TrimFor(country, rawURL string) TrimMutator {
	host := hostOf(rawURL)

	var first *Market
	for _, m := range r.markets {
		if !m.ServesCountry(country) {
			continue
		}
		if host != "" && m.MatchesHost(host) {
			return m.Trim
		}
		if first == nil {
			first = m
		}
	}
	if first != nil {
		return first.Trim
	}

	if m := r.ForURL(rawURL); m != nil {
		return m.Trim
	}
	log.Printf("No trim convention for country %q, url %s", country, rawURL)
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
