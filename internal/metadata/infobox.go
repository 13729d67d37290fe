package metadata

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Author is the singular-author entry of the info panel.
type Author struct {
	Author    string `json:"author"`
	AuthorURL string `json:"author_url"`
}

// Infobox holds the parsed info-panel rows. Values are one of time.Time,
// string, []string, map[string]string or Author, keyed by the canonical
// field names below.
type Infobox map[string]any

var infoboxTimeRegex = regexp.MustCompile(`(\d{2}):(\d{2})`)

// parseDateBlock reads the abbr title of a dated cell, e.g.
// "01 January 2024 @ 15:00 UTC", into a UTC timestamp.
func parseDateBlock(cell *goquery.Selection) (time.Time, error) {
	title, ok := cell.Find("abbr").Attr("title")
	if !ok {
		return time.Time{}, fmt.Errorf("dated cell has no abbr title")
	}
	datePart, timePart, _ := strings.Cut(title, "@")
	ts, err := time.ParseInLocation("02 January 2006", strings.TrimSpace(datePart), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", datePart, err)
	}
	if m := infoboxTimeRegex.FindStringSubmatch(timePart); m != nil {
		var hh, mm int
		fmt.Sscanf(m[1], "%d", &hh) //nolint:errcheck
		fmt.Sscanf(m[2], "%d", &mm) //nolint:errcheck
		ts = ts.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
	}
	return ts, nil
}

// parseLinks maps anchor text to href for every anchor in the cell.
func parseLinks(cell *goquery.Selection) map[string]string {
	links := make(map[string]string)
	cell.Find("a").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		links[strings.TrimSpace(a.Text())] = href
	})
	return links
}

// parseTextFromLinks returns the anchor texts of the cell, in DOM order.
func parseTextFromLinks(cell *goquery.Selection) []string {
	var texts []string
	cell.Find("a").Each(func(_ int, a *goquery.Selection) {
		texts = append(texts, strings.TrimSpace(a.Text()))
	})
	return texts
}

func firstLinkText(cell *goquery.Selection) string {
	texts := parseTextFromLinks(cell)
	if len(texts) == 0 {
		return ""
	}
	return texts[0]
}

// parseInfoboxRow maps one info-panel row label to its canonical key and
// parsed value. A nil key with nil error means the row is deliberately
// ignored. Unrecognized labels are a hard error: silently dropping a new
// panel field would lose data without notice.
func parseInfoboxRow(name string, cell *goquery.Selection) (string, any, error) {
	switch name {
	case "Updated":
		ts, err := parseDateBlock(cell)
		return "updated_at", ts, err
	case "Release date":
		ts, err := parseDateBlock(cell)
		return "released_at", ts, err
	case "Published":
		ts, err := parseDateBlock(cell)
		return "published_at", ts, err
	case "Status":
		return "status", firstLinkText(cell), nil
	case "Platforms":
		return "platforms", parseTextFromLinks(cell), nil
	case "Publisher":
		return "publisher", strings.TrimSpace(cell.Text()), nil
	case "Rating":
		// The structured-data block is the authoritative rating source.
		return "", nil, nil
	case "Author":
		a := cell.Find("a").First()
		href, _ := a.Attr("href")
		return "author", Author{Author: strings.TrimSpace(a.Text()), AuthorURL: href}, nil
	case "Authors":
		return "authors", parseLinks(cell), nil
	case "Genre":
		return "genre", parseLinks(cell), nil
	case "Made with":
		return "tools", parseLinks(cell), nil
	case "License":
		return "license", parseLinks(cell), nil
	case "Code license":
		return "code_license", parseLinks(cell), nil
	case "Asset license":
		return "asset_license", parseLinks(cell), nil
	case "Tags":
		return "tags", parseLinks(cell), nil
	case "Average session":
		return "length", firstLinkText(cell), nil
	case "Languages":
		return "languages", parseLinks(cell), nil
	case "Multiplayer":
		return "multiplayer", parseLinks(cell), nil
	case "Player count":
		return "player_count", strings.TrimSpace(cell.Text()), nil
	case "Accessibility":
		return "accessibility", parseLinks(cell), nil
	case "Inputs":
		return "inputs", parseLinks(cell), nil
	case "Links":
		return "links", parseLinks(cell), nil
	case "Mentions":
		return "mentions", parseLinks(cell), nil
	case "Category":
		return "category", parseLinks(cell), nil
	default:
		return "", nil, fmt.Errorf("unknown infobox block name %q", name)
	}
}

// ParseInfobox parses the game_info_panel_widget table row by row.
func ParseInfobox(panel *goquery.Selection) (Infobox, error) {
	box := make(Infobox)
	var parseErr error
	panel.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		cells := tr.Find("td")
		if cells.Length() < 2 {
			return true
		}
		name := strings.TrimSpace(cells.Eq(0).Text())
		key, value, err := parseInfoboxRow(name, cells.Eq(1))
		if err != nil {
			parseErr = err
			return false
		}
		if key != "" {
			box[key] = value
		}
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return box, nil
}
