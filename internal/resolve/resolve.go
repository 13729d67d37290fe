// Package resolve classifies input URLs and expands them into job lists.
package resolve

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/itchgrab/itchgrab/internal/itchio"
	"github.com/itchgrab/itchgrab/internal/keys"
	"github.com/itchgrab/itchgrab/internal/scan"
)

// Browsable category feeds under the itch.io root.
var browserTypes = map[string]struct{}{
	"games":          {},
	"tools":          {},
	"game-assets":    {},
	"comics":         {},
	"books":          {},
	"physical-games": {},
	"soundtracks":    {},
	"game-mods":      {},
	"misc":           {},
}

// errNoURLs is returned by every expansion that walks to completion
// without finding a single game URL.
var errNoURLs = fmt.Errorf("no game URLs found to download")

// Resolver expands a URL or local path into a list of game URLs.
type Resolver struct {
	client  *itchio.Client
	keys    *keys.Store
	fs      afero.Fs
	logger  *zap.Logger
	siteURL string
}

// New builds a Resolver.
func New(client *itchio.Client, keyStore *keys.Store, fs afero.Fs, logger *zap.Logger) *Resolver {
	return &Resolver{
		client:  client,
		keys:    keyStore,
		fs:      fs,
		logger:  logger,
		siteURL: itchio.BaseURL,
	}
}

// Resolve turns a URL or a local file path into a non-empty job list.
func (r *Resolver) Resolve(ctx context.Context, urlOrPath string) ([]string, error) {
	urlOrPath = strings.TrimSpace(urlOrPath)
	if strings.HasPrefix(urlOrPath, "http://") {
		urlOrPath = "https://" + strings.TrimPrefix(urlOrPath, "http://")
	}
	if strings.HasPrefix(urlOrPath, "https://") {
		return r.resolveURL(ctx, urlOrPath)
	}
	if ok, err := afero.Exists(r.fs, urlOrPath); err == nil && ok {
		return r.jobsFromPath(urlOrPath)
	}
	return nil, fmt.Errorf("cannot handle path or URL: %s", urlOrPath)
}

func (r *Resolver) resolveURL(ctx context.Context, rawURL string) ([]string, error) {
	if strings.HasPrefix(rawURL, "https://www."+itchio.BaseHost+"/") {
		rawURL = itchio.BaseURL + strings.TrimPrefix(rawURL, "https://www."+itchio.BaseHost)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" {
			parts = append(parts, p)
		}
	}

	switch {
	case u.Hostname() == itchio.BaseHost:
		return r.resolveSiteURL(ctx, rawURL, parts)
	case strings.HasSuffix(u.Hostname(), "."+itchio.BaseHost):
		if len(parts) == 0 {
			creator, _, _ := strings.Cut(u.Hostname(), ".")
			return r.creatorJobs(ctx, creator)
		}
		return []string{"https://" + u.Hostname() + "/" + parts[0]}, nil
	default:
		return nil, fmt.Errorf("unknown domain: %s", u.Hostname())
	}
}

func (r *Resolver) resolveSiteURL(ctx context.Context, rawURL string, parts []string) ([]string, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("cannot download the entirety of itch.io")
	}
	site := parts[0]
	switch {
	case site == "jam":
		if len(parts) < 2 {
			return nil, fmt.Errorf("incomplete game jam URL: %s", rawURL)
		}
		return r.jamJobs(ctx, r.siteURL+"/jam/"+parts[1])
	case isBrowserType(site):
		return r.browseJobs(ctx, r.siteURL+"/"+strings.Join(parts, "/"))
	case site == "b" || site == "bundle":
		return nil, fmt.Errorf("bundles cannot be downloaded yet")
	case site == "j" || site == "jobs":
		return nil, fmt.Errorf("job listings cannot be downloaded")
	case site == "t" || site == "board" || site == "community":
		return nil, fmt.Errorf("forums cannot be downloaded")
	case site == "profile":
		if len(parts) < 2 {
			return nil, fmt.Errorf("profile URLs must include a username: %s", rawURL)
		}
		return r.creatorJobs(ctx, parts[1])
	case site == "my-purchases":
		return r.purchaseJobs(ctx)
	case site == "c":
		if len(parts) < 2 {
			return nil, fmt.Errorf("incomplete collection URL: %s", rawURL)
		}
		return r.collectionJobs(ctx, parts[1])
	default:
		return nil, fmt.Errorf("cannot understand %q URLs", site)
	}
}

func isBrowserType(site string) bool {
	_, ok := browserTypes[site]
	return ok
}

// jamEntries is the /jam/<id>/entries.json shape.
type jamEntries struct {
	JamGames []struct {
		Game struct {
			URL string `json:"url"`
		} `json:"game"`
	} `json:"jam_games"`
}

func jobsFromJamEntries(entries jamEntries) ([]string, error) {
	if entries.JamGames == nil {
		return nil, fmt.Errorf("provided JSON is not a valid itch.io jam JSON")
	}
	urls := make([]string, 0, len(entries.JamGames))
	for _, g := range entries.JamGames {
		urls = append(urls, g.Game.URL)
	}
	if len(urls) == 0 {
		return nil, errNoURLs
	}
	return urls, nil
}

// jamJobs fetches the jam landing page, digs its numeric id out of the
// embedded view-model script, then maps the entries feed.
func (r *Resolver) jamJobs(ctx context.Context, jamURL string) ([]string, error) {
	resp, err := r.client.Get(ctx, jamURL, false, nil)
	if err != nil {
		return nil, fmt.Errorf("download the game jam site: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download the game jam site: %s", resp.Status)
	}
	jamID, ok := scan.IntAfterMarker(string(resp.Body), "I.ViewJam", "id")
	if !ok {
		return nil, fmt.Errorf("jam site did not contain the jam ID; provide the path to the entries JSON file instead")
	}
	r.logger.Debug("resolved jam id", zap.Int64("jam_id", jamID))

	var entries jamEntries
	feed := fmt.Sprintf("%s/jam/%d/entries.json", r.siteURL, jamID)
	if err := r.client.GetJSON(ctx, feed, false, nil, &entries); err != nil {
		return nil, fmt.Errorf("download the game jam entries list: %w", err)
	}
	return jobsFromJamEntries(entries)
}

// browseFeed is the category XML feed shape; only item links matter.
type browseFeed struct {
	Items []struct {
		Link string `xml:"link"`
	} `xml:"channel>item"`
}

// browseJobs paginates <category>.xml?page=N until a page comes back
// empty or failing.
func (r *Resolver) browseJobs(ctx context.Context, baseURL string) ([]string, error) {
	found := newOrderedSet()
	for page := 1; ; page++ {
		resp, err := r.client.Get(ctx, fmt.Sprintf("%s.xml?page=%d", baseURL, page), false, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch browse page %d: %w", page, err)
		}
		if resp.StatusCode != http.StatusOK {
			break
		}
		var feed browseFeed
		if err := xml.Unmarshal(resp.Body, &feed); err != nil {
			return nil, fmt.Errorf("decode browse feed page %d: %w", page, err)
		}
		if len(feed.Items) < 1 {
			break
		}
		for _, item := range feed.Items {
			if link := strings.TrimSpace(item.Link); link != "" {
				found.add(link)
			}
		}
		r.logger.Debug("walked browse page", zap.Int("page", page), zap.Int("total", found.len()))
	}
	if found.len() == 0 {
		return nil, errNoURLs
	}
	return found.values(), nil
}

// collectionPage is one page of the collection-games API resource.
type collectionPage struct {
	CollectionGames []struct {
		Game struct {
			URL string `json:"url"`
		} `json:"game"`
	} `json:"collection_games"`
	PerPage int `json:"per_page"`
}

// collectionJobs paginates the collection-games resource, terminating on
// the first short page.
func (r *Resolver) collectionJobs(ctx context.Context, collectionID string) ([]string, error) {
	found := newOrderedSet()
	endpoint := "/collections/" + collectionID + "/collection-games"
	for page := 1; ; page++ {
		var data collectionPage
		params := url.Values{"page": {strconv.Itoa(page)}}
		if err := r.client.GetJSON(ctx, endpoint, true, params, &data); err != nil {
			return nil, fmt.Errorf("fetch collection page %d: %w", page, err)
		}
		if len(data.CollectionGames) < 1 {
			break
		}
		for _, item := range data.CollectionGames {
			found.add(item.Game.URL)
		}
		if len(data.CollectionGames) != data.PerPage {
			break
		}
	}
	if found.len() == 0 {
		return nil, errNoURLs
	}
	return found.values(), nil
}

// creatorJobs scrapes a profile page for game links under the creator's
// subdomain, returning them sorted and deduplicated.
func (r *Resolver) creatorJobs(ctx context.Context, creator string) ([]string, error) {
	resp, err := r.client.Get(ctx, r.siteURL+"/profile/"+creator, false, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch the creator page: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch the creator page: HTTP %s", resp.Status)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(resp.Body)))
	if err != nil {
		return nil, fmt.Errorf("parse the creator page: %w", err)
	}
	prefix := "https://" + creator + "." + itchio.BaseHost + "/"
	seen := make(map[string]struct{})
	doc.Find("a.game_link").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if ok && strings.HasPrefix(href, prefix) {
			seen[href] = struct{}{}
		}
	})
	if len(seen) == 0 {
		return nil, errNoURLs
	}
	links := make([]string, 0, len(seen))
	for href := range seen {
		links = append(links, href)
	}
	sort.Strings(links)
	return links, nil
}

// purchaseJobs returns every owned game URL, triggering the lazy
// owned-keys load.
func (r *Resolver) purchaseJobs(ctx context.Context) ([]string, error) {
	idx, err := r.keys.Owned(ctx)
	if err != nil {
		return nil, fmt.Errorf("load owned games: %w", err)
	}
	if len(idx.GameURLs) == 0 {
		return nil, errNoURLs
	}
	return idx.GameURLs, nil
}

// jobsFromPath loads jobs from a local file: either a jam entries JSON
// dump or a plain list of URLs, one per line.
func (r *Resolver) jobsFromPath(path string) ([]string, error) {
	data, err := afero.ReadFile(r.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var entries jamEntries
	if err := json.Unmarshal(data, &entries); err == nil && entries.JamGames != nil {
		r.logger.Debug("loading jam entries file", zap.String("path", path))
		return jobsFromJamEntries(entries)
	}
	var urls []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "https://") || strings.HasPrefix(line, "http://") {
			urls = append(urls, line)
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("file format is unknown, cannot read URLs to download: %s", path)
	}
	return urls, nil
}

// orderedSet is a string set that remembers insertion order.
type orderedSet struct {
	seen  map[string]struct{}
	order []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(v string) {
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.order = append(s.order, v)
}

func (s *orderedSet) len() int { return len(s.order) }

func (s *orderedSet) values() []string { return s.order }
