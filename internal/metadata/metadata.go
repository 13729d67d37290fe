// Package metadata turns a fetched game page into a structured record.
package metadata

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// isoFormat matches the wire format metadata consumers already expect.
const isoFormat = "2006-01-02T15:04:05.000Z07:00"

// Rating is the aggregate page rating.
type Rating struct {
	Average float64 `json:"average"`
	Votes   int64   `json:"votes"`
}

// GameMetadata is the durable record persisted per game.
type GameMetadata struct {
	GameID      int64    `json:"game_id"`
	Title       string   `json:"title,omitempty"`
	URL         string   `json:"url"`
	Author      string   `json:"author,omitempty"`
	AuthorURL   string   `json:"author_url,omitempty"`
	CoverURL    string   `json:"cover_url,omitempty"`
	Screenshots []string `json:"screenshots"`
	Description string   `json:"description,omitempty"`
	Rating      *Rating  `json:"rating,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
	ReleasedAt  string   `json:"released_at,omitempty"`
	PublishedAt string   `json:"published_at,omitempty"`
	Extra       Infobox  `json:"extra,omitempty"`
}

// productJSON is the ld+json structured-data block of interest.
type productJSON struct {
	Type            string `json:"@type"`
	Name            string `json:"name"`
	AggregateRating *struct {
		RatingValue string          `json:"ratingValue"`
		RatingCount json.RawMessage `json:"ratingCount"`
	} `json:"aggregateRating"`
}

// findProductJSON returns the first ld+json script describing a Product.
func findProductJSON(doc *goquery.Document) *productJSON {
	var found *productJSON
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var p productJSON
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &p); err != nil {
			return true
		}
		if p.Type == "Product" {
			found = &p
			return false
		}
		return true
	})
	return found
}

// metaContent returns the content attribute of the first matching meta tag.
func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find("meta[" + selector + "]").Attr("content")
	return v
}

// MetaContent exposes meta tag lookup for callers that resolve game ids
// from the page before extraction.
func MetaContent(doc *goquery.Document, selector string) string {
	return metaContent(doc, selector)
}

// Extract builds the GameMetadata record from a fetched game page.
func Extract(gameID int64, gameURL string, doc *goquery.Document) (*GameMetadata, error) {
	product := findProductJSON(doc)

	title := ""
	if product != nil {
		title = product.Name
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1.game_title").Text())
	}

	description := metaContent(doc, `property="og:description"`)
	if description == "" {
		description = metaContent(doc, `name="description"`)
	}

	screenshots := []string{}
	doc.Find("div.screenshot_list a").Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok {
			screenshots = append(screenshots, href)
		}
	})

	meta := &GameMetadata{
		GameID:      gameID,
		Title:       title,
		URL:         gameURL,
		CoverURL:    metaContent(doc, `property="og:image"`),
		Screenshots: screenshots,
		Description: description,
	}

	panel := doc.Find("div.game_info_panel_widget")
	if panel.Length() > 0 {
		box, err := ParseInfobox(panel)
		if err != nil {
			return nil, fmt.Errorf("parse info panel: %w", err)
		}
		promoteDates(meta, box)
		if a, ok := box["author"].(Author); ok {
			meta.Author = a.Author
			meta.AuthorURL = a.AuthorURL
			delete(box, "author")
		}
		if _, ok := box["authors"]; ok && meta.Author == "" {
			meta.Author = "Multiple authors"
			if u, err := url.Parse(gameURL); err == nil {
				meta.AuthorURL = "https://" + u.Hostname()
			}
		}
		meta.Extra = box
	}

	if product != nil && product.AggregateRating != nil {
		if avg, err := strconv.ParseFloat(product.AggregateRating.RatingValue, 64); err == nil {
			var votes int64
			json.Unmarshal(product.AggregateRating.RatingCount, &votes) //nolint:errcheck
			meta.Rating = &Rating{Average: avg, Votes: votes}
		}
	}

	return meta, nil
}

// promoteDates lifts the well-known dated fields out of the open attribute
// bag into the top-level record.
func promoteDates(meta *GameMetadata, box Infobox) {
	assign := map[string]*string{
		"created_at":   &meta.CreatedAt,
		"updated_at":   &meta.UpdatedAt,
		"released_at":  &meta.ReleasedAt,
		"published_at": &meta.PublishedAt,
	}
	for key, dst := range assign {
		if ts, ok := box[key].(time.Time); ok {
			*dst = ts.UTC().Format(isoFormat)
			delete(box, key)
		}
	}
}
