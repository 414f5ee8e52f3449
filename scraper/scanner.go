package scraper

import (
	"context"
	"log"

	"carbitrage/identity"
	"carbitrage/models"
)

type ScanStatus int

const (
	ScanOK ScanStatus = iota
	ScanBlocked
	ScanFailed
)

func (s ScanStatus) String() string {
	switch s {
	case ScanOK:
		return "ok"
	case ScanBlocked:
		return "blocked"
	default:
		return "failed"
	}
}

// SearchResult is the outcome of scanning one search URL. Blocked and
// Failed carry a Reason and no listings.
type SearchResult struct {
	Status   ScanStatus
	Listings []models.ScrapedListing
	Reason   string
	Skipped  int
	Market   string
}

type Searcher interface {
	Scan(ctx context.Context, pageURL string, mode models.ScanMode) SearchResult
}

// Archiver stores raw pages for later inspection.
type Archiver interface {
	Store(ctx context.Context, market, pageURL, html string) (string, error)
}

type Scanner struct {
	fetcher  Fetcher
	registry *Registry
	archive  Archiver
}

func NewScanner(fetcher Fetcher, registry *Registry) *Scanner {
	return &Scanner{
		fetcher:  fetcher,
		registry: registry,
	}
}

// SetArchive enables uploading pages that yielded nothing or had skipped blocks.
func (s *Scanner) SetArchive(a Archiver) {
	s.archive = a
}

// Scan fetches a search page and extracts its listings. A URL no market
// claims yields an empty OK result. Mode is logged only; extraction is the
// same for fast and full scans.
func (s *Scanner) Scan(ctx context.Context, pageURL string, mode models.ScanMode) SearchResult {
	fetched := s.fetcher.Fetch(ctx, pageURL)
	switch fetched.Status {
	case FetchFailed:
		return SearchResult{Status: ScanFailed, Reason: fetched.Reason}
	case FetchBlocked:
		return SearchResult{Status: ScanBlocked, Reason: fetched.Reason}
	}

	market := s.registry.ForURL(pageURL)
	if market == nil {
		log.Printf("Scan: no extractor for %s", pageURL)
		s.archivePage(ctx, "", pageURL, fetched.HTML)
		return SearchResult{Status: ScanOK}
	}

	extraction := market.Extractor.Extract(fetched.HTML, pageURL)
	listings := dedupe(extraction.Listings)

	log.Printf("Scan [%s/%s]: %d listings (%d duplicates, %d skipped blocks) from %s",
		market.ID, modeOrDefault(mode), len(listings), len(extraction.Listings)-len(listings),
		extraction.Skipped, pageURL)

	if len(listings) == 0 || extraction.Skipped > 0 {
		s.archivePage(ctx, market.ID, pageURL, fetched.HTML)
	}

	return SearchResult{
		Status:   ScanOK,
		Listings: listings,
		Skipped:  extraction.Skipped,
		Market:   market.ID,
	}
}

func (s *Scanner) archivePage(ctx context.Context, market, pageURL, html string) {
	if s.archive == nil {
		return
	}
	key, err := s.archive.Store(context.WithoutCancel(ctx), market, pageURL, html)
	if err != nil {
		log.Printf("Scan: archive %s: %v", pageURL, err)
		return
	}
	log.Printf("Scan: archived %s as %s", pageURL, key)
}

func dedupe(listings []models.ScrapedListing) []models.ScrapedListing {
	if len(listings) < 2 {
		return listings
	}
	seen := make(map[string]struct{}, len(listings))
	out := make([]models.ScrapedListing, 0, len(listings))
	for i := range listings {
		key := identity.Fingerprint(&listings[i])
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, listings[i])
	}
	return out
}

func modeOrDefault(mode models.ScanMode) models.ScanMode {
	if mode == "" {
		return models.ScanModeFast
	}
	return mode
}
