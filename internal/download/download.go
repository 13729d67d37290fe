// Package download implements the per-game download pipeline.
package download

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/itchgrab/itchgrab/internal/filter"
	"github.com/itchgrab/itchgrab/internal/itchio"
	"github.com/itchgrab/itchgrab/internal/metadata"
	"github.com/itchgrab/itchgrab/internal/scan"
)

// Fixed names inside each game's target directory.
const (
	siteFile        = "site.html"
	metadataFile    = "metadata.json"
	coverBase       = "cover"
	filesDir        = "files"
	screenshotsDir  = "screenshots"
	defaultFileType = "default"
)

// gameURLRegex extracts https://author.itch.io/slug into its parts.
var gameURLRegex = regexp.MustCompile(`^https://([\w-]+)\.itch\.io/([\w-]+)$`)

// Settings holds the pipeline's slice of the merged configuration.
type Settings struct {
	OutputDir           string
	MirrorWeb           bool
	SkipExisting        bool
	FilterFilesType     []string
	FilterFilesPlatform []string
	FileCriteria        *filter.Criteria
}

// Result is the per-job outcome. Success means the error list is empty;
// notes such as "already downloaded" ride along on successful results.
type Result struct {
	URL          string   `json:"url"`
	Success      bool     `json:"success"`
	Errors       []string `json:"errors"`
	ExternalURLs []string `json:"external_urls"`
}

// Downloader runs the download pipeline for one game URL at a time. It is
// safe for concurrent use; per-job state lives on the stack.
type Downloader struct {
	client   *itchio.Client
	keys     map[int64]string
	settings Settings
	fs       afero.Fs
	logger   *zap.Logger
}

// New builds a Downloader. keys maps game ids to owned download key ids
// and is read-only.
func New(client *itchio.Client, keys map[int64]string, settings Settings, fs afero.Fs, logger *zap.Logger) *Downloader {
	return &Downloader{
		client:   client,
		keys:     keys,
		settings: settings,
		fs:       fs,
		logger:   logger,
	}
}

// Download runs the whole pipeline for one game URL.
func (d *Downloader) Download(ctx context.Context, gameURL string) Result {
	match := gameURLRegex.FindStringSubmatch(gameURL)
	if match == nil {
		return failed(gameURL, fmt.Sprintf("game URL is invalid: %s", gameURL))
	}
	author, slug := match[1], match[2]
	targetDir := filepath.Join(d.settings.OutputDir, author, slug)
	if err := d.fs.MkdirAll(targetDir, 0o750); err != nil {
		return failed(gameURL, fmt.Sprintf("create download directory: %v", err))
	}
	metadataPath := filepath.Join(targetDir, metadataFile)

	if d.settings.SkipExisting {
		if ok, _ := afero.Exists(d.fs, metadataPath); ok {
			d.logger.Info("skipping already-downloaded game", zap.String("url", gameURL))
			return Result{URL: gameURL, Success: true, Errors: []string{"Game already downloaded."}}
		}
	}

	resp, err := d.client.Get(ctx, gameURL, false, nil)
	if err != nil {
		return failed(gameURL, fmt.Sprintf("could not download the game site for %s: %v", gameURL, err))
	}
	if resp.StatusCode != http.StatusOK {
		return failed(gameURL, fmt.Sprintf("could not download the game site for %s: %s", gameURL, resp.Status))
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(resp.Body)))
	if err != nil {
		return failed(gameURL, fmt.Sprintf("could not parse the game site for %s: %v", gameURL, err))
	}

	gameID, err := d.resolveGameID(ctx, gameURL, doc)
	if err != nil {
		return failed(gameURL, err.Error())
	}
	meta, err := metadata.Extract(gameID, gameURL, doc)
	if err != nil {
		return failed(gameURL, err.Error())
	}
	title := meta.Title
	if title == "" {
		title = slug
	}

	creds := d.credentials(title, gameID)

	uploads, err := d.fetchUploads(ctx, gameID, creds)
	if err != nil {
		return failed(gameURL, fmt.Sprintf("could not fetch game uploads for %s: %v", title, err))
	}

	var errs, externalURLs []string
	if err := d.fs.MkdirAll(filepath.Join(targetDir, filesDir), 0o750); err != nil {
		return failed(gameURL, fmt.Sprintf("create files directory: %v", err))
	}
	for _, upload := range uploads {
		d.handleUpload(ctx, upload, targetDir, creds, &errs, &externalURLs)
	}

	if d.settings.MirrorWeb {
		d.mirrorScreenshots(ctx, meta, targetDir, &errs)
	}
	if meta.CoverURL != "" {
		if err := d.fetchCover(ctx, meta.CoverURL, targetDir); err != nil {
			errs = append(errs, fmt.Sprintf("cover art download failed: %v", err))
		}
	}

	if html, err := doc.Html(); err == nil {
		if err := afero.WriteFile(d.fs, filepath.Join(targetDir, siteFile), []byte(html), 0o600); err != nil {
			errs = append(errs, fmt.Sprintf("write %s: %v", siteFile, err))
		}
	}
	payload, err := json.MarshalIndent(meta, "", "    ")
	if err != nil {
		errs = append(errs, fmt.Sprintf("marshal metadata: %v", err))
	} else if err := afero.WriteFile(d.fs, metadataPath, payload, 0o600); err != nil {
		errs = append(errs, fmt.Sprintf("write %s: %v", metadataFile, err))
	}

	return Result{
		URL:          gameURL,
		Success:      len(errs) == 0,
		Errors:       errs,
		ExternalURLs: externalURLs,
	}
}

// resolveGameID tries, in order: the itch:path meta attribute, the
// embedded view-model script, and finally the game's data endpoint.
func (d *Downloader) resolveGameID(ctx context.Context, gameURL string, doc *goquery.Document) (int64, error) {
	if itchPath := metadata.MetaContent(doc, `name="itch:path"`); itchPath != "" {
		parts := strings.Split(itchPath, "/")
		var id int64
		if _, err := fmt.Sscanf(parts[len(parts)-1], "%d", &id); err == nil && id > 0 {
			return id, nil
		}
	}

	var fromScript int64
	doc.Find(`script[type="text/javascript"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		if !strings.Contains(text, "I.ViewGame") {
			return true
		}
		if id, ok := scan.IntAfterMarker(text, "I.ViewGame", "id"); ok {
			fromScript = id
			return false
		}
		return true
	})
	if fromScript > 0 {
		return fromScript, nil
	}

	dataURL := strings.TrimRight(gameURL, "/") + "/data.json"
	resp, err := d.client.Get(ctx, dataURL, false, nil)
	if err == nil && resp.StatusCode == http.StatusOK {
		var data struct {
			Errors []string    `json:"errors"`
			ID     json.Number `json:"id"`
		}
		if err := json.Unmarshal(resp.Body, &data); err == nil {
			if len(data.Errors) > 0 {
				return 0, fmt.Errorf("game data fetching failed for %s: %s", gameURL, strings.Join(data.Errors, "; "))
			}
			if id, err := data.ID.Int64(); err == nil && id > 0 {
				return id, nil
			}
		}
	}
	return 0, fmt.Errorf("could not get the game ID for URL: %s", gameURL)
}

// credentials returns the query parameters proving ownership, when a
// download key for this game exists.
func (d *Downloader) credentials(title string, gameID int64) url.Values {
	creds := url.Values{}
	if key, ok := d.keys[gameID]; ok {
		creds.Set("download_key_id", key)
		d.logger.Debug("found download key", zap.String("title", title), zap.Int64("game_id", gameID))
	}
	return creds
}

// upload is one distributable file entry. Pointer fields distinguish
// absent keys from zero values for the completeness check.
type upload struct {
	ID       *int64    `json:"id"`
	Filename *string   `json:"filename"`
	Type     *string   `json:"type"`
	Traits   *[]string `json:"traits"`
	Storage  *string   `json:"storage"`
	Size     *int64    `json:"size"`
}

func (u upload) complete() bool {
	return u.ID != nil && u.Filename != nil && u.Type != nil && u.Traits != nil && u.Storage != nil
}

func (d *Downloader) fetchUploads(ctx context.Context, gameID int64, creds url.Values) ([]upload, error) {
	var data struct {
		Uploads []upload `json:"uploads"`
	}
	endpoint := fmt.Sprintf("/games/%d/uploads", gameID)
	if err := d.client.GetJSON(ctx, endpoint, true, creds, &data); err != nil {
		return nil, err
	}
	return data.Uploads, nil
}

// handleUpload filters, downloads and size-checks one upload, appending
// to the job's error and external-URL lists.
func (d *Downloader) handleUpload(ctx context.Context, up upload, targetDir string, creds url.Values, errs, externalURLs *[]string) {
	if !up.complete() {
		*errs = append(*errs, fmt.Sprintf("upload metadata incomplete: %s", describeUpload(up)))
		return
	}
	fileName := *up.Filename
	fileType := *up.Type
	isExternal := *up.Storage == "external"

	if len(d.settings.FilterFilesType) > 0 && !contains(d.settings.FilterFilesType, fileType) {
		d.logger.Info("skipping file with ignored type",
			zap.String("file", fileName), zap.String("type", fileType))
		return
	}
	// Platform traits only constrain the native executable type.
	if len(d.settings.FilterFilesPlatform) > 0 && fileType == defaultFileType && !intersects(*up.Traits, d.settings.FilterFilesPlatform) {
		d.logger.Info("skipping file not for requested platforms", zap.String("file", fileName))
		return
	}
	if ok, reason := d.settings.FileCriteria.Match(fileName); !ok {
		d.logger.Info("skipping file", zap.String("file", fileName), zap.String("reason", reason))
		return
	}

	endpoint := fmt.Sprintf("/uploads/%d/download", *up.ID)
	if isExternal {
		finalURL, err := d.fetchRedirectTarget(ctx, endpoint, creds)
		if err != nil {
			*errs = append(*errs, fmt.Sprintf("download failed for upload %s: %v", describeUpload(up), err))
			return
		}
		*externalURLs = append(*externalURLs, finalURL)
		return
	}

	targetPath := filepath.Join(targetDir, filesDir, fileName)
	written, err := d.fetchToFile(ctx, endpoint, targetPath, true, creds)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("download failed for upload %s: %v", describeUpload(up), err))
		return
	}
	d.logger.Debug("downloaded file", zap.String("file", fileName), zap.Int64("bytes", written))

	if up.Size != nil && written != *up.Size {
		contentSize, recognized := decompressedSize(d.fs, targetPath)
		if !recognized || contentSize != *up.Size {
			*errs = append(*errs, fmt.Sprintf(
				"downloaded file size is %d (content %d), expected %d for upload %s",
				written, contentSize, *up.Size, describeUpload(up)))
		}
	}
}

func (d *Downloader) mirrorScreenshots(ctx context.Context, meta *metadata.GameMetadata, targetDir string, errs *[]string) {
	dir := filepath.Join(targetDir, screenshotsDir)
	if err := d.fs.MkdirAll(dir, 0o750); err != nil {
		*errs = append(*errs, fmt.Sprintf("create screenshots directory: %v", err))
		return
	}
	for _, shot := range meta.Screenshots {
		if shot == "" {
			continue
		}
		target := filepath.Join(dir, path.Base(shot))
		if _, err := d.fetchToFile(ctx, shot, target, false, nil); err != nil {
			*errs = append(*errs, fmt.Sprintf("screenshot download failed: %v", err))
		}
	}
}

func (d *Downloader) fetchCover(ctx context.Context, coverURL, targetDir string) error {
	target := filepath.Join(targetDir, coverBase+path.Ext(coverURL))
	_, err := d.fetchToFile(ctx, coverURL, target, false, nil)
	return err
}

// fetchToFile streams a response body to disk and returns the byte count.
func (d *Downloader) fetchToFile(ctx context.Context, endpoint, target string, attachKey bool, creds url.Values) (int64, error) {
	resp, err := d.client.Stream(ctx, endpoint, attachKey, creds)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("GET %s: %s", endpoint, resp.Status)
	}
	f, err := d.fs.Create(target)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", target, err)
	}
	written, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("write %s: %w", target, err)
	}
	return written, nil
}

// fetchRedirectTarget resolves an external upload's final URL without
// persisting the body.
func (d *Downloader) fetchRedirectTarget(ctx context.Context, endpoint string, creds url.Values) (string, error) {
	resp, err := d.client.Stream(ctx, endpoint, true, creds)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck
	return resp.Request.URL.String(), nil
}

func failed(gameURL string, msg string) Result {
	return Result{URL: gameURL, Errors: []string{msg}}
}

func describeUpload(up upload) string {
	payload, err := json.Marshal(up)
	if err != nil {
		return "<unencodable>"
	}
	return string(payload)
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, v := range a {
		if contains(b, v) {
			return true
		}
	}
	return false
}
