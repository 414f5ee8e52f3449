package scraper

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// nextData returns the JSON payload a Next.js page embeds for hydration.
func nextData(content string) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	script := doc.Find("script#__NEXT_DATA__").First()
	if script.Length() == 0 {
		return nil, fmt.Errorf("__NEXT_DATA__ not found")
	}

	payload := strings.TrimSpace(script.Text())
	if payload == "" {
		return nil, fmt.Errorf("__NEXT_DATA__ is empty")
	}
	return []byte(payload), nil
}
